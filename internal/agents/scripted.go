package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sitechat/internal/advisor"
	"sitechat/internal/types"
)

var cannedReplies = map[string]string{
	advisor.IntentChatter:    "Happy to help. Tell me which section you want to change and how it should feel.",
	advisor.IntentTypography: "Sure, I'll give the headline a heavier weight and tighten the line height so it reads as the focal point.",
	advisor.IntentColor:      "Got it. I'll adjust the palette and keep text contrast at AA or better.",
	advisor.IntentTone:       "I'll rework the copy in that voice and keep the headings short.",
	advisor.IntentLayout:     "I'll rearrange the section and keep spacing consistent with the rest of the page.",
	advisor.IntentPublish:    "Before publishing, please review the pending changes. Publishing replaces the live page.",
	advisor.IntentRemoval:    "I can remove that, but it cannot be undone from chat. Confirm and I'll go ahead.",
}

// Scripted answers with canned replies chosen by intent.
type Scripted struct {
	delay time.Duration
}

func NewScripted(delay time.Duration) *Scripted {
	return &Scripted{delay: delay}
}

func (s *Scripted) ID() string          { return "scripted" }
func (s *Scripted) Name() string        { return "Scripted assistant" }
func (s *Scripted) Description() string { return "Canned replies chosen by the classified intent" }
func (s *Scripted) Close() error        { return nil }

func (s *Scripted) Reply(ctx context.Context, turn Turn, emit func(string) error) error {
	text, err := s.compose(turn)
	if err != nil {
		return err
	}
	paced := func(delta string) error {
		if s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		return emit(delta)
	}
	return emitAll(ctx, text, paced)
}

func (s *Scripted) compose(turn Turn) (string, error) {
	if turn.Edit != nil {
		data, err := json.Marshal(types.UpdatedSection{
			SectionInstanceID: turn.Edit.SectionInstanceID,
			PageID:            turn.Edit.PageID,
			SectionID:         turn.Edit.SectionID,
			Summary:           "Applied: " + strings.TrimSpace(turn.Edit.Instruction),
			Props:             map[string]any{"instruction": turn.Edit.Instruction, "intent": turn.Intent},
		})
		if err != nil {
			return "", fmt.Errorf("encode updated section: %w", err)
		}
		return string(data), nil
	}
	if reply, ok := cannedReplies[turn.Intent]; ok {
		return reply, nil
	}
	return cannedReplies[advisor.IntentChatter], nil
}
