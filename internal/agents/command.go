package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"
)

// Args may contain "{prompt}"; otherwise the prompt is appended.
type CommandConfig struct {
	ID   string
	Name string
	Exec string
	Args []string
}

// Command runs a local assistant CLI under a pty and relays its output as deltas.
type Command struct {
	config CommandConfig
}

func NewCommand(cfg CommandConfig) *Command {
	cfg.Exec = resolveExec(cfg.Exec)
	if cfg.ID == "" {
		cfg.ID = "command"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Exec
	}
	return &Command{config: cfg}
}

func (c *Command) ID() string          { return c.config.ID }
func (c *Command) Name() string        { return c.config.Name }
func (c *Command) Description() string { return "Local command: " + c.config.Exec }
func (c *Command) Close() error        { return nil }

func (c *Command) Reply(ctx context.Context, turn Turn, emit func(string) error) error {
	prompt := strings.TrimSpace(turn.Content)
	if prompt == "" {
		return errors.New("empty prompt")
	}
	cmd := exec.CommandContext(ctx, c.config.Exec, expandArgs(c.config.Args, prompt)...)
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "TERM=dumb")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start %s: %w", c.config.Exec, err)
	}
	defer ptmx.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 {
			if delta := cleanOutput(buf[:n]); delta != "" {
				if err := emit(delta); err != nil {
					_ = cmd.Process.Kill()
					_ = cmd.Wait()
					return err
				}
			}
		}
		if rerr != nil {
			// the pty reports EIO once the child has exited
			break
		}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				return fmt.Errorf("%s killed by %s", c.config.Exec, status.Signal())
			}
		}
		return fmt.Errorf("%s: %w", c.config.Exec, err)
	}
	return nil
}

// cleanOutput drops terminal escape sequences and carriage returns from pty output.
func cleanOutput(b []byte) string {
	text := ansi.Strip(string(b))
	return strings.ReplaceAll(text, "\r", "")
}

// resolveExec returns the absolute path of name when it is on PATH.
func resolveExec(defaultExec string) string {
	if path, err := exec.LookPath(defaultExec); err == nil {
		return path
	}
	return defaultExec
}
