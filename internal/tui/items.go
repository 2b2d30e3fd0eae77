package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"sitechat/internal/session"
	"sitechat/internal/types"
)

// markdownRenderer is satisfied by *glamour.TermRenderer.
type markdownRenderer interface {
	Render(in string) (string, error)
}

var kindColors = map[types.Kind]lipgloss.Color{
	types.KindChatter:        lipgloss.Color("250"),
	types.KindInsight:        lipgloss.Color("39"),
	types.KindRecommendation: lipgloss.Color("78"),
	types.KindWarning:        lipgloss.Color("214"),
	types.KindBlocker:        lipgloss.Color("160"),
	types.KindQuestion:       lipgloss.Color("141"),
	types.KindAction:         lipgloss.Color("45"),
}

func roleLabel(msg types.Message) string {
	switch msg.Role {
	case types.RoleUser:
		return "You"
	case types.RoleSystem:
		return "System"
	case types.RolePrescription:
		return "Advice"
	default:
		if msg.Title != "" {
			return msg.Title
		}
		return "Assistant"
	}
}

func messageHeader(msg types.Message) string {
	if msg.Role == types.RoleUser {
		return userStyle.Render(roleLabel(msg))
	}
	label := headerStyle.Render(roleLabel(msg))
	if msg.Kind != "" && msg.Kind != types.KindChatter {
		color, ok := kindColors[msg.Kind]
		if !ok {
			color = lipgloss.Color("250")
		}
		label += " " + lipgloss.NewStyle().Foreground(color).Render("["+string(msg.Kind)+"]")
	}
	return label
}

// streaming messages stay plain so the cursor sits at the end
func renderMessage(msg types.Message, width int, md markdownRenderer) []string {
	lines := []string{messageHeader(msg)}
	body := msg.Display()
	if md != nil && msg.Role == types.RoleAssistant && !msg.Streaming && strings.TrimSpace(msg.Content) != "" {
		if out, err := md.Render(msg.Content); err == nil {
			return append(lines, strings.Split(strings.Trim(out, "\n"), "\n")...)
		}
	}
	wrapWidth := width - 2
	if wrapWidth < 1 {
		wrapWidth = 1
	}
	for _, line := range strings.Split(ansi.Wrap(body, wrapWidth, ""), "\n") {
		lines = append(lines, "  "+line)
	}
	return lines
}

func renderTranscript(messages []types.Message, width int, md markdownRenderer) string {
	if len(messages) == 0 {
		return dimStyle.Render("No messages yet. Ask about this page.")
	}
	lines := make([]string, 0, len(messages)*3)
	for i, msg := range messages {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, renderMessage(msg, width, md)...)
	}
	return strings.Join(lines, "\n")
}

// renderInspector shows the latest advisory and the running kind counts.
func renderInspector(state session.State, now time.Time) string {
	lines := []string{headerStyle.Render("Inspector"), ""}
	if state.Advisory == nil {
		lines = append(lines, dimStyle.Render("No guidance yet."))
	} else {
		adv := state.Advisory
		lines = append(lines,
			fmt.Sprintf("Intent: %s", adv.Intent),
			fmt.Sprintf("Confidence: %.0f%%", adv.Confidence*100),
			fmt.Sprintf("Blocking: %t", adv.Blocking),
		)
		switch {
		case adv.ExpiresAt.IsZero():
			lines = append(lines, "Expires: never")
		case adv.Expired(now):
			lines = append(lines, warnStyle.Render("Expired"))
		default:
			lines = append(lines, fmt.Sprintf("Expires in: %s", adv.ExpiresAt.Sub(now).Round(time.Second)))
		}
		if len(adv.RelatedContext) > 0 {
			lines = append(lines, "Context: "+strings.Join(adv.RelatedContext, ", "))
		}
	}

	lines = append(lines, "", headerStyle.Render("Kinds"))
	counts := session.CountKinds(state.Messages)
	kinds := make([]types.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	if len(kinds) == 0 {
		lines = append(lines, dimStyle.Render("none"))
	}
	for _, k := range kinds {
		name := string(k)
		if name == "" {
			name = "unset"
		}
		lines = append(lines, fmt.Sprintf("%-15s %d", name, counts[k]))
	}
	return strings.Join(lines, "\n")
}

func connBadge(state session.State) string {
	switch state.Conn {
	case session.Connected:
		return okStyle.Render("● connected")
	case session.Connecting:
		return warnStyle.Render("◌ connecting")
	default:
		return errStyle.Render("○ offline")
	}
}

func previewText(text string, limit int) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
