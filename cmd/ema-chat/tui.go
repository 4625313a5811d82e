package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/koscakluka/ema-chat/core/llms"
	"github.com/muesli/reflow/wordwrap"
)

const inputHeight = 3

var (
	userNameStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle        = lipgloss.NewStyle().Faint(true)
)

type (
	transcriptChangedMsg struct{}
	replyDoneMsg         struct{ err error }
)

// chatModel renders the transcript of a chat session. The orchestrator
// reports changes on updates, the model then redraws from a fresh snapshot.
type chatModel struct {
	ctx     context.Context
	session *chatSession
	updates <-chan struct{}

	viewport viewport.Model
	input    textarea.Model
	renderer *glamour.TermRenderer
	rendered map[string]string

	cancelReply context.CancelFunc
	status      string
	width       int
	ready       bool
}

func newChatModel(ctx context.Context, session *chatSession, updates <-chan struct{}) *chatModel {
	input := textarea.New()
	input.Placeholder = "Ask a question..."
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.FocusedStyle.CursorLine = lipgloss.NewStyle()
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	return &chatModel{
		ctx:      ctx,
		session:  session,
		updates:  updates,
		viewport: viewport.New(80, 20),
		input:    input,
		rendered: map[string]string{},
		status:   "enter to send, esc to cancel the reply, ctrl+c to quit",
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForTranscript(m.updates))
}

func waitForTranscript(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return transcriptChangedMsg{}
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.abortReply()
			return m, tea.Quit
		case tea.KeyEsc:
			m.abortReply()
			return m, nil
		case tea.KeyEnter:
			return m, m.send()
		}

	case transcriptChangedMsg:
		m.refresh()
		return m, waitForTranscript(m.updates)

	case replyDoneMsg:
		m.cancelReply = nil
		m.status = replyStatus(msg.err)
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *chatModel) View() string {
	if !m.ready {
		return "Connecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), statusStyle.Render(m.status), m.input.View())
}

func (m *chatModel) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.session.Busy() {
		return nil
	}
	m.input.Reset()
	m.status = "waiting for the reply..."

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelReply = cancel
	return func() tea.Msg {
		defer cancel()
		return replyDoneMsg{err: m.session.Send(ctx, text)}
	}
}

func (m *chatModel) abortReply() {
	if m.cancelReply != nil {
		m.cancelReply()
	}
}

func (m *chatModel) resize(width, height int) {
	m.width = width
	m.viewport.Width = width
	m.viewport.Height = max(height-inputHeight-2, 1)
	m.input.SetWidth(width)

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		renderer = nil
	}
	m.renderer = renderer
	clear(m.rendered)

	m.ready = true
	m.refresh()
}

func (m *chatModel) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript(m.session.Snapshot()))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderTranscript(snapshot orchestration.Snapshot) string {
	var b strings.Builder
	for _, message := range snapshot.Messages {
		b.WriteString(m.renderMessage(message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *chatModel) renderMessage(message llms.Message) string {
	header := assistantNameStyle.Render(message.DisplayName)
	if message.Role == llms.MessageRoleUser {
		header = userNameStyle.Render(message.DisplayName)
	}

	var body string
	switch message.Stage {
	case llms.MessageStageErrorFinalized:
		body = errorStyle.Render(wrap(message.Content, m.width))
	case llms.MessageStageFinalized:
		body = m.renderMarkdown(message)
	default:
		body = wrap(message.Content, m.width)
	}
	return header + "\n" + body
}

// renderMarkdown renders finalized messages once, they don't change anymore.
func (m *chatModel) renderMarkdown(message llms.Message) string {
	if cached, ok := m.rendered[message.ID]; ok {
		return cached
	}
	if m.renderer == nil {
		return wrap(message.Content, m.width)
	}

	rendered, err := m.renderer.Render(message.Content)
	if err != nil {
		return wrap(message.Content, m.width)
	}
	rendered = strings.Trim(rendered, "\n")
	m.rendered[message.ID] = rendered
	return rendered
}

func wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}

func replyStatus(err error) string {
	switch {
	case err == nil:
		return "reply finished"
	case errors.Is(err, llms.ErrAborted):
		return "reply cancelled"
	case errors.Is(err, llms.ErrTimeout):
		return "reply timed out"
	default:
		return "reply failed: " + err.Error()
	}
}

func runTUI(ctx context.Context, session *chatSession, updates <-chan struct{}) error {
	program := tea.NewProgram(newChatModel(ctx, session, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
