package agents

import (
	"fmt"
	"sort"
	"strings"
)

var presets = map[string]CommandConfig{
	"claude": {ID: "claude", Name: "Claude CLI", Exec: "claude", Args: []string{"-p", "{prompt}", "--output-format", "text"}},
	"codex":  {ID: "codex", Name: "Codex CLI", Exec: "codex", Args: []string{"exec", "{prompt}"}},
	"gemini": {ID: "gemini", Name: "Gemini CLI", Exec: "gemini", Args: []string{"{prompt}", "-o", "text"}},
	"vibe":   {ID: "vibe", Name: "Vibe CLI", Exec: "vibe", Args: []string{"--prompt", "{prompt}", "--output", "text"}},
}

// PresetNames lists the known command presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPreset builds a Command assistant from a named preset; exec overrides the binary.
func NewPreset(name, exec string) (*Command, error) {
	cfg, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown assistant preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
	}
	if exec = strings.TrimSpace(exec); exec != "" {
		cfg.Exec = exec
	}
	cfg.Args = append([]string(nil), cfg.Args...)
	return NewCommand(cfg), nil
}
