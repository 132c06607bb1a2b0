// Package tui provides the Bubble Tea interactive chat interface over the
// streaming engine.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/engine"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	toolOutputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 1)

	focusedInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("205")).
				Padding(0, 1)
)

// ChatModel is the TUI model for one conversation.
type ChatModel struct {
	ctrl           *engine.Controller
	conversationID string
	title          string

	snap     engine.Snapshot
	hasTurn  bool
	history  []*domain.Message
	snaps    <-chan engine.Snapshot
	unwatch  func()
	ready    bool
	quitting bool
	err      error

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	width    int
	height   int
}

// Messages
type (
	snapshotMsg    engine.Snapshot
	watchClosedMsg struct{}
	historyMsg     []*domain.Message
	actionErrMsg   struct{ err error }
)

// NewChatModel creates the chat TUI over an already-open controller.
func NewChatModel(ctrl *engine.Controller, conversationID, title string) ChatModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textarea.New()
	ti.Placeholder = "Enter your prompt... (Enter to send)"
	ti.CharLimit = 4000
	ti.SetWidth(80)
	ti.SetHeight(3)
	ti.Focus()

	snaps, unwatch := ctrl.Watch(conversationID)

	return ChatModel{
		ctrl:           ctrl,
		conversationID: conversationID,
		title:          title,
		snaps:          snaps,
		unwatch:        unwatch,
		spinner:        s,
		input:          ti,
	}
}

// Init starts the spinner and snapshot/history pumps.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitSnapshot(), m.loadHistory())
}

// waitSnapshot blocks on the watcher channel and reposts itself after each
// delivery, so the model always sees the newest turn state.
func (m ChatModel) waitSnapshot() tea.Cmd {
	ch := m.snaps
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return watchClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m ChatModel) loadHistory() tea.Cmd {
	ctrl, id := m.ctrl, m.conversationID
	return func() tea.Msg {
		msgs, err := ctrl.History(context.Background(), id)
		if err != nil {
			return actionErrMsg{err}
		}
		return historyMsg(msgs)
	}
}

// Update handles messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case snapshotMsg:
		m.snap = engine.Snapshot(msg)
		m.hasTurn = true
		m.viewport.SetContent(m.renderOutput())
		m.viewport.GotoBottom()
		cmds = append(cmds, m.waitSnapshot())
		if !m.snap.Streaming() {
			// Fold the finished turn into rendered history.
			cmds = append(cmds, m.loadHistory())
		}
		return m, tea.Batch(cmds...)

	case historyMsg:
		m.history = msg
		m.viewport.SetContent(m.renderOutput())
		m.viewport.GotoBottom()
		return m, nil

	case watchClosedMsg:
		return m, nil

	case actionErrMsg:
		m.err = msg.err
		m.viewport.SetContent(m.renderOutput())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if !m.streaming() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m ChatModel) streaming() bool {
	return m.hasTurn && m.snap.Streaming()
}

func (m ChatModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		m.unwatch()
		return m, tea.Quit

	case "esc":
		if m.streaming() {
			return m, m.stopTurn()
		}
		m.quitting = true
		m.unwatch()
		return m, tea.Quit

	case "enter":
		return m.handleEnterKey()

	case "alt+enter", "ctrl+j":
		if !m.streaming() {
			m.input.SetValue(m.input.Value() + "\n")
			return m, nil
		}

	case "ctrl+r":
		if !m.streaming() {
			return m, m.regenerate()
		}

	case "y", "Y":
		if cmd := m.respondApproval(domain.DecisionAllow); cmd != nil {
			return m, cmd
		}

	case "n", "N":
		if cmd := m.respondApproval(domain.DecisionDeny); cmd != nil {
			return m, cmd
		}

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if cmd := m.respondAskUser(int(msg.String()[0] - '1')); cmd != nil {
			return m, cmd
		}

	case "up", "down", "pgup", "pgdown":
		if m.streaming() {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	if !m.streaming() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ChatModel) handleEnterKey() (tea.Model, tea.Cmd) {
	if m.streaming() || strings.TrimSpace(m.input.Value()) == "" {
		return m, nil
	}
	prompt := m.input.Value()
	m.input.SetValue("")
	m.err = nil

	ctrl, id := m.ctrl, m.conversationID
	return m, func() tea.Msg {
		if _, err := ctrl.Start(context.Background(), id, prompt); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func (m ChatModel) stopTurn() tea.Cmd {
	ctrl, id := m.ctrl, m.conversationID
	return func() tea.Msg {
		if err := ctrl.Stop(context.Background(), id); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func (m ChatModel) regenerate() tea.Cmd {
	ctrl, id := m.ctrl, m.conversationID
	return func() tea.Msg {
		if _, err := ctrl.Regenerate(context.Background(), id); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

// respondApproval answers the oldest pending approval, if any.
func (m ChatModel) respondApproval(decision domain.ApprovalDecision) tea.Cmd {
	if !m.hasTurn || len(m.snap.PendingApprovals) == 0 {
		return nil
	}
	requestID := m.snap.PendingApprovals[0].ID
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.RespondApproval(context.Background(), requestID, decision, ""); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

// respondAskUser answers the oldest pending clarification by option index.
func (m ChatModel) respondAskUser(option int) tea.Cmd {
	if !m.hasTurn || len(m.snap.PendingAskUser) == 0 {
		return nil
	}
	req := m.snap.PendingAskUser[0]
	answers := make(map[string]string)
	for _, q := range req.Questions {
		if option < 0 || option >= len(q.Options) {
			return nil
		}
		answers[q.Prompt] = q.Options[option]
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.RespondAskUser(context.Background(), req.ID, answers); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func (m ChatModel) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 2
	statusHeight := 1
	inputHeight := 5
	vpWidth := msg.Width
	vpHeight := msg.Height - headerHeight - statusHeight - inputHeight

	if !m.ready {
		m.viewport = viewport.New(vpWidth, vpHeight)
		m.viewport.SetContent(m.renderOutput())
		m.ready = true
	} else {
		m.viewport.Width = vpWidth
		m.viewport.Height = vpHeight
		m.viewport.SetContent(m.renderOutput())
	}

	m.input.SetWidth(msg.Width - 4)
	return m, nil
}

// View renders the TUI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Loading...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("⚡ "+m.title) + "\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus() + "\n")

	if m.streaming() {
		b.WriteString(fmt.Sprintf("  %s Streaming... (Esc to stop)", m.spinner.View()))
	} else if m.input.Focused() {
		b.WriteString(focusedInputStyle.Width(m.width - 4).Render(m.input.View()))
	} else {
		b.WriteString(inputBorderStyle.Width(m.width - 4).Render(m.input.View()))
	}
	return b.String()
}

func (m ChatModel) renderStatus() string {
	var parts []string

	if m.hasTurn {
		parts = append(parts, fmt.Sprintf("turn %d (%s)", m.snap.Generation, m.snap.Status))
	}
	if m.hasTurn && len(m.snap.PendingApprovals) > 0 {
		parts = append(parts, pendingStyle.Render("approval pending: y/n"))
	}
	if m.hasTurn && len(m.snap.PendingAskUser) > 0 {
		parts = append(parts, pendingStyle.Render("question pending: 1-9"))
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	}
	if m.streaming() {
		parts = append(parts, "Esc: stop")
	} else {
		parts = append(parts, "Enter: send │ Ctrl+R: retry │ Esc: quit")
	}

	return statusStyle.Width(m.width).Render(strings.Join(parts, " │ "))
}

func (m ChatModel) renderOutput() string {
	var b strings.Builder

	for _, msg := range m.history {
		b.WriteString(renderMessage(msg))
		b.WriteString("\n")
	}

	// The live turn renders after history; once it finishes, loadHistory
	// replaces this section with the persisted message.
	if m.hasTurn && m.snap.Streaming() {
		b.WriteString(renderParts(m.snap.Parts))
	}
	if m.hasTurn && m.snap.Err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s: %s", m.snap.Err.Kind, m.snap.Err.Message)) + "\n")
	}
	return b.String()
}
