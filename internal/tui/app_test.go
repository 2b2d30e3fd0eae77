package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitechat/internal/session"
	"sitechat/internal/transport"
	"sitechat/internal/types"
	"sitechat/internal/utils"
)

func newTestModel(t *testing.T) (model, *session.Controller) {
	t.Helper()
	tr := transport.NewSimulated(transport.Params{SiteID: "site", PageID: "home", SessionID: "s"},
		utils.NewNopLogger(), transport.WithDelay(time.Millisecond))
	ctrl := session.New(tr)
	ctrl.Start()
	t.Cleanup(ctrl.Close)
	return newModel(ctrl, utils.NewNopLogger()), ctrl
}

func press(t *testing.T, m model, msg tea.KeyMsg) model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(model)
	require.True(t, ok)
	return out
}

func refresh(m model) model {
	next, _ := m.Update(updateMsg{})
	return next.(model)
}

func TestToggleAndExpandGoThroughController(t *testing.T) {
	m, ctrl := newTestModel(t)

	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO}))
	assert.True(t, ctrl.Snapshot().UI.Open)
	assert.True(t, m.state.UI.Open)

	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyCtrlE}))
	assert.True(t, ctrl.Snapshot().UI.Expanded)

	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO}))
	assert.False(t, ctrl.Snapshot().UI.Open)
	assert.Contains(t, m.View(), "Chat closed")
}

func TestEnterOpensThenSends(t *testing.T) {
	m, ctrl := newTestModel(t)

	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyEnter}))
	require.True(t, ctrl.Snapshot().UI.Open)

	m.input.SetValue("Is this headline too long?")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.input.Value())

	state := ctrl.Snapshot()
	require.NotEmpty(t, state.Messages)
	assert.Equal(t, types.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "Is this headline too long?", state.Messages[0].Content)

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Turn == session.Idle && len(ctrl.Snapshot().Messages) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBlankInputIsKept(t *testing.T) {
	m, ctrl := newTestModel(t)
	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO}))

	m.input.SetValue("   ")
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "   ", m.input.Value())
	assert.Empty(t, ctrl.Snapshot().Messages)
}

func TestInspectorToggle(t *testing.T) {
	m, _ := newTestModel(t)
	m = refresh(press(t, m, tea.KeyMsg{Type: tea.KeyCtrlO}))
	assert.NotContains(t, m.View(), "Inspector")

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.True(t, m.showInspector)
	assert.Contains(t, m.View(), "Inspector")
}

func TestClosedUpdatesQuit(t *testing.T) {
	m, ctrl := newTestModel(t)
	ctrl.Close()

	next, cmd := m.Update(closedMsg{})
	require.NotNil(t, cmd)
	assert.True(t, next.(model).closed)
	assert.Empty(t, next.(model).View())
}

func TestRenderMessageShowsCursorWhileStreaming(t *testing.T) {
	msg := types.Message{ID: "m1", Role: types.RoleAssistant, Kind: types.KindChatter, Content: "Hello", Streaming: true}
	out := strings.Join(renderMessage(msg, 40, nil), "\n")
	assert.Contains(t, out, "Hello"+types.CursorMarker)

	msg.Streaming = false
	out = strings.Join(renderMessage(msg, 40, nil), "\n")
	assert.NotContains(t, out, types.CursorMarker)
}

type upperRenderer struct{}

func (upperRenderer) Render(in string) (string, error) { return strings.ToUpper(in), nil }

func TestRenderMessageUsesMarkdownOnlyWhenFinished(t *testing.T) {
	msg := types.Message{ID: "m1", Role: types.RoleAssistant, Content: "bold move", Streaming: true}
	assert.Contains(t, strings.Join(renderMessage(msg, 40, upperRenderer{}), "\n"), "bold move")

	msg.Streaming = false
	assert.Contains(t, strings.Join(renderMessage(msg, 40, upperRenderer{}), "\n"), "BOLD MOVE")

	user := types.Message{ID: "u1", Role: types.RoleUser, Content: "plain text"}
	assert.Contains(t, strings.Join(renderMessage(user, 40, upperRenderer{}), "\n"), "plain text")
}

func TestRenderInspector(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	state := session.State{
		Messages: []types.Message{
			{Kind: types.KindWarning},
			{Kind: types.KindWarning},
			{Kind: types.KindInsight},
		},
	}
	out := renderInspector(state, now)
	assert.Contains(t, out, "No guidance yet.")
	assert.Contains(t, out, "warning")

	state.Advisory = &types.AdvisoryMeta{
		Intent:     "typography",
		Confidence: 0.8,
		Blocking:   true,
		ExpiresAt:  now.Add(30 * time.Second),
	}
	out = renderInspector(state, now)
	assert.Contains(t, out, "Intent: typography")
	assert.Contains(t, out, "Confidence: 80%")
	assert.Contains(t, out, "Blocking: true")
	assert.Contains(t, out, "Expires in: 30s")

	out = renderInspector(state, now.Add(time.Minute))
	assert.Contains(t, out, "Expired")
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "a b", previewText(" a\nb ", 10))
	assert.Equal(t, "abc...", previewText("abcdef", 3))
}
