// Package tui implements the interactive terminal chat started by
// `docrag chat`. One session talks to one collection; every answer is
// followed by the sources it drew on with the matching passages highlighted.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// Answerer is the TUI-facing subset of agent.Responder.
type Answerer interface {
	Generate(ctx context.Context, req agent.Request) (*agent.Answer, error)
}

// entry is one block of the transcript.
type entry struct {
	role    store.Role
	text    string
	sources []rag.RetrievedSource
	failed  bool
}

// answerMsg carries a finished answer back into the update loop.
type answerMsg struct {
	ans *agent.Answer
	err error
}

// Model is the Bubble Tea model for the chat session.
type Model struct {
	ctx        context.Context
	answerer   Answerer
	collection string
	k          int

	input    textinput.Model
	viewport viewport.Model

	entries []entry
	status  string
	busy    bool
	ready   bool
}

// New creates a chat model for collection. prior is the stored conversation,
// rendered above the first new question.
func New(ctx context.Context, a Answerer, collection string, k int, prior []store.Message) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	m := Model{
		ctx:        ctx,
		answerer:   a,
		collection: collection,
		k:          k,
		input:      ti,
		viewport:   viewport.New(0, 0),
		status:     "Esc or Ctrl+C to quit, PgUp/PgDn to scroll.",
	}
	for _, msg := range prior {
		m.entries = append(m.entries, entry{role: msg.Role, text: msg.Content, sources: msg.Sources})
	}
	return m
}

// Init starts the text input cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, resize and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, qh := inputStyle.GetFrameSize()
		// header + status + input line
		reserved := 3 + fh + qh
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.status = "Thinking..."
			m.entries = append(m.entries, entry{role: store.RoleUser, text: q})
			m.refresh()
			return m, m.ask(q)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.entries = append(m.entries, entry{role: store.RoleAssistant, text: msg.err.Error(), failed: true})
		} else {
			m.status = fmt.Sprintf("Answered in %s.", msg.ans.Duration.Round(time.Millisecond))
			m.entries = append(m.entries, entry{role: store.RoleAssistant, text: msg.ans.Text, sources: msg.ans.Sources})
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs one question off the update loop.
func (m Model) ask(question string) tea.Cmd {
	req := agent.Request{Question: question, Collection: m.collection, K: m.k}
	return func() tea.Msg {
		ans, err := m.answerer.Generate(m.ctx, req)
		return answerMsg{ans: ans, err: err}
	}
}

// refresh re-renders the transcript and scrolls to the newest entry.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("docrag") + " " + dimStyle.Render(m.collection)
	status := statusStyle.Render(m.status)
	if strings.HasPrefix(m.status, "Error:") {
		status = errorStyle.Render(m.status)
	}
	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("No questions yet.")
	}
	width := m.viewport.Width
	var sb strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderEntry(e, width))
	}
	return sb.String()
}

func renderEntry(e entry, width int) string {
	wrap := lipgloss.NewStyle().Width(width)
	if e.role == store.RoleUser {
		return userStyle.Render("You: ") + wrap.Render(e.text) + "\n"
	}
	if e.failed {
		return errorStyle.Render(wrap.Render(e.text)) + "\n"
	}

	var sb strings.Builder
	sb.WriteString(wrap.Render(e.text))
	sb.WriteString("\n")
	for _, src := range e.sources {
		if !src.Used {
			continue
		}
		sb.WriteString(sourceStyle.Render(fmt.Sprintf("[%d] %s", src.Rank, agent.Describe(src.Unit))))
		sb.WriteString("\n")
		body := agent.MarkFunc(src.Unit.Content, src.Highlights, func(s string) string { return highlightStyle.Render(s) })
		sb.WriteString(wrap.PaddingLeft(2).Render(body))
		sb.WriteString("\n")
	}
	return sb.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)
