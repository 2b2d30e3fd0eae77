package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"sitechat/internal/session"
	"sitechat/internal/utils"
)

const (
	compactWidth   = 72
	inspectorWidth = 32
	inputHeight    = 3
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	inputBackground = lipgloss.AdaptiveColor{Light: "252", Dark: "236"}
	panelStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type updateMsg struct{}

type closedMsg struct{}

type tickMsg time.Time

type model struct {
	ctrl   *session.Controller
	logger *utils.Logger
	state  session.State

	width  int
	height int

	input         textarea.Model
	viewport      viewport.Model
	spinner       spinner.Model
	help          help.Model
	keys          keyMap
	renderer      markdownRenderer
	rendererWidth int
	showInspector bool
	showHelp      bool
	closed        bool
}

func newModel(ctrl *session.Controller, logger *utils.Logger) model {
	input := textarea.New()
	input.Placeholder = "Ask about this page..."
	input.Prompt = ""
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.KeyMap.InsertNewline.SetKeys("alt+enter")
	input.FocusedStyle.Base = input.FocusedStyle.Base.Background(inputBackground)
	input.BlurredStyle.Base = input.BlurredStyle.Base.Background(inputBackground)
	input.FocusedStyle.CursorLine = input.FocusedStyle.CursorLine.Background(inputBackground)
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = dimStyle

	return model{
		ctrl:     ctrl,
		logger:   logger,
		state:    ctrl.Snapshot(),
		input:    input,
		viewport: viewport.New(compactWidth, 10),
		spinner:  spin,
		help:     help.New(),
		keys:     defaultKeyMap,
	}
}

// Run shows the chat window until the user quits. The caller owns ctrl and has already started it.
func Run(ctrl *session.Controller, logger *utils.Logger) error {
	p := tea.NewProgram(newModel(ctrl, logger), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return closedMsg{}
		}
		return updateMsg{}
	}
}

// tickCmd refreshes the advisory countdown in the inspector.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.ctrl.Updates()), m.spinner.Tick, textarea.Blink, tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
	case updateMsg:
		m.state = m.ctrl.Snapshot()
		m.layout()
		cmds = append(cmds, waitForUpdate(m.ctrl.Updates()))
	case closedMsg:
		m.closed = true
		return m, tea.Quit
	case tickMsg:
		cmds = append(cmds, tickCmd())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		if m.state.UI.Open {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true
	case key.Matches(msg, m.keys.Toggle):
		if m.state.UI.Open {
			m.ctrl.CloseChat()
		} else {
			m.ctrl.OpenChat()
		}
		return nil, true
	case key.Matches(msg, m.keys.Expand):
		m.ctrl.ToggleExpanded()
		return nil, true
	case key.Matches(msg, m.keys.Inspector):
		m.showInspector = !m.showInspector
		m.layout()
		return nil, true
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.layout()
		return nil, true
	case key.Matches(msg, m.keys.Abort):
		m.ctrl.Abort()
		return nil, true
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd, true
	case key.Matches(msg, m.keys.Send):
		if !m.state.UI.Open {
			m.ctrl.OpenChat()
			return nil, true
		}
		if m.ctrl.Send(m.input.Value()) {
			m.input.Reset()
		}
		return nil, true
	}
	return nil, false
}

// chatWidth is the transcript width: compact unless expanded or the terminal is narrow.
func (m model) chatWidth() int {
	width := m.width
	if width <= 0 {
		width = compactWidth
	}
	if !m.state.UI.Expanded && width > compactWidth {
		width = compactWidth
	}
	if m.showInspector && width+inspectorWidth > m.width && m.width > inspectorWidth*2 {
		width = m.width - inspectorWidth - 1
	}
	return width
}

func (m *model) layout() {
	width := m.chatWidth()
	chrome := 4 + inputHeight + 2
	if m.showHelp {
		chrome += 3
	}
	height := m.height - chrome
	if height < 3 {
		height = 3
	}
	m.input.SetWidth(width - 2)
	m.viewport.Width = width
	m.viewport.Height = height
	m.ensureRenderer(width)

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.state.Messages, width, m.renderer))
	if atBottom || m.state.Turn != session.Idle {
		m.viewport.GotoBottom()
	}
}

func (m *model) ensureRenderer(width int) {
	if m.width == 0 || width == m.rendererWidth {
		return
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width-4))
	if err != nil {
		if m.logger != nil {
			m.logger.Debugf("markdown renderer unavailable: %v", err)
		}
		m.renderer = nil
		return
	}
	m.renderer = r
	m.rendererWidth = width
}

func (m model) View() string {
	if m.closed {
		return ""
	}
	sections := []string{m.renderHeader()}
	if !m.state.UI.Open {
		sections = append(sections, "", m.renderLauncher())
	} else {
		body := m.viewport.View()
		if m.showInspector {
			inspector := panelStyle.Width(inspectorWidth - 2).Render(renderInspector(m.state, time.Now()))
			body = lipgloss.JoinHorizontal(lipgloss.Top, body, " ", inspector)
		}
		sections = append(sections, "", body, "", m.input.View())
	}
	footer := footerStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp()))
	if m.showHelp {
		footer = m.help.FullHelpView(m.keys.FullHelp())
	}
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	title := headerStyle.Render("sitechat")
	parts := []string{title, dimStyle.Render(string(m.state.Transport)), connBadge(m.state)}
	switch m.state.Turn {
	case session.AwaitingReply:
		parts = append(parts, m.spinner.View()+" waiting")
	case session.Streaming:
		parts = append(parts, m.spinner.View()+" replying")
	}
	if adv := m.state.Advisory; adv != nil && adv.Blocking && !adv.Expired(time.Now()) {
		parts = append(parts, errStyle.Render("blocked: "+adv.Intent))
	}
	return strings.Join(parts, "  ")
}

// renderLauncher is the collapsed window: a one-line preview of the latest message.
func (m model) renderLauncher() string {
	label := "Chat closed. Press ctrl+o or enter to open."
	if n := len(m.state.Messages); n > 0 {
		last := m.state.Messages[n-1]
		label = fmt.Sprintf("%s: %s", roleLabel(last), previewText(last.Display(), compactWidth-12))
	}
	return panelStyle.Width(compactWidth - 2).Render(label)
}
