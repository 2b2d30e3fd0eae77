package agents

import (
	"context"
	"strings"
	"unicode"

	"sitechat/internal/types"
)

// Assistant produces the reply to one chat turn as a stream of text deltas.
type Assistant interface {
	ID() string
	Name() string
	Description() string
	// Reply calls emit once per delta, in order. It stops early when emit fails or ctx is done.
	Reply(ctx context.Context, turn Turn, emit func(delta string) error) error
	Close() error
}

// Turn is everything an assistant gets to see for one user message.
type Turn struct {
	SessionID string
	SiteID    string
	PageID    string
	Content   string
	// Intent is the advisor's classification of Content.
	Intent  string
	History []types.Message
	// Edit is set when the user message asked for a section edit.
	Edit *types.SectionEditRequest
}

// SplitWords cuts text into word-sized deltas that concatenate back to text.
func SplitWords(text string) []string {
	var out []string
	start := 0
	inSpace, seenWord := false, false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			out = append(out, text[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// emitAll streams text word by word.
func emitAll(ctx context.Context, text string, emit func(string) error) error {
	for _, delta := range SplitWords(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(delta); err != nil {
			return err
		}
	}
	return nil
}

func expandArgs(args []string, prompt string) []string {
	out := make([]string, 0, len(args)+1)
	substituted := false
	for _, arg := range args {
		if strings.Contains(arg, "{prompt}") {
			out = append(out, strings.ReplaceAll(arg, "{prompt}", prompt))
			substituted = true
			continue
		}
		out = append(out, arg)
	}
	if !substituted {
		out = append(out, prompt)
	}
	return out
}
