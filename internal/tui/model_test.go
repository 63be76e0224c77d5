package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

type fakeAnswerer struct {
	ans *agent.Answer
	err error
	got agent.Request
}

func (f *fakeAnswerer) Generate(_ context.Context, req agent.Request) (*agent.Answer, error) {
	f.got = req
	return f.ans, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// submit types question, presses Enter and feeds the answer back.
func submit(t *testing.T, m Model, question string) Model {
	t.Helper()
	m.input.SetValue(question)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if !m.busy {
		t.Fatal("model not busy after Enter")
	}
	if cmd == nil {
		t.Fatal("Enter returned no command")
	}
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestModel_AnswerWithSources(t *testing.T) {
	t.Parallel()
	fa := &fakeAnswerer{ans: &agent.Answer{
		Text: "Revenue grew 12 percent.",
		Sources: []rag.RetrievedSource{
			{
				Unit: rag.ContentUnit{Content: "revenue grew 12 percent. costs were flat.", Metadata: map[string]string{
					rag.MetaContentType: rag.ContentText, rag.MetaPageNumber: "2",
				}},
				Rank: 1, Used: true, Highlights: []rag.Span{{Start: 0, End: 24}},
			},
			{
				Unit: rag.ContentUnit{Content: "| a | b |", Metadata: map[string]string{
					rag.MetaContentType: rag.ContentTable, rag.MetaPageNumber: "5",
				}},
				Rank: 2,
			},
		},
	}}

	m := sized(t, New(context.Background(), fa, "report", 3, nil))
	if !strings.Contains(m.View(), "No questions yet.") {
		t.Errorf("empty transcript not shown:\n%s", m.View())
	}

	m = submit(t, m, "  how did revenue change?  ")
	if m.busy {
		t.Error("model still busy after answer")
	}
	if fa.got.Question != "how did revenue change?" || fa.got.Collection != "report" || fa.got.K != 3 {
		t.Errorf("request = %+v", fa.got)
	}

	transcript := m.renderTranscript()
	for _, want := range []string{"You:", "how did revenue change?", "Revenue grew 12 percent.", "[1] page 2, text", "revenue grew 12 percent."} {
		if !strings.Contains(transcript, want) {
			t.Errorf("transcript missing %q:\n%s", want, transcript)
		}
	}
	if strings.Contains(transcript, "page 5") {
		t.Errorf("unused source rendered:\n%s", transcript)
	}
	if !strings.HasPrefix(m.status, "Answered in") {
		t.Errorf("status = %q", m.status)
	}
}

func TestModel_Error(t *testing.T) {
	t.Parallel()
	fa := &fakeAnswerer{err: errors.New("language model error: connection refused")}

	m := submit(t, sized(t, New(context.Background(), fa, "report", 0, nil)), "hi")
	if !strings.HasPrefix(m.status, "Error:") {
		t.Errorf("status = %q", m.status)
	}
	if !strings.Contains(m.renderTranscript(), "connection refused") {
		t.Errorf("error not in transcript:\n%s", m.renderTranscript())
	}
}

func TestModel_IgnoresBlankAndBusyInput(t *testing.T) {
	t.Parallel()
	m := sized(t, New(context.Background(), &fakeAnswerer{}, "report", 0, nil))

	m.input.SetValue("   ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || next.(Model).busy {
		t.Error("blank question submitted")
	}

	m.busy = true
	m.input.SetValue("second question")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("question submitted while busy")
	}
}

func TestModel_PriorHistoryAndQuit(t *testing.T) {
	t.Parallel()
	prior := []store.Message{
		{Role: store.RoleUser, Content: "what grew?"},
		{Role: store.RoleAssistant, Content: "revenue"},
	}
	m := sized(t, New(context.Background(), &fakeAnswerer{}, "report", 0, prior))
	if tr := m.renderTranscript(); !strings.Contains(tr, "what grew?") || !strings.Contains(tr, "revenue") {
		t.Errorf("prior history not rendered:\n%s", tr)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("Esc returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Esc did not quit")
	}
}

func TestModel_ViewBeforeResize(t *testing.T) {
	t.Parallel()
	m := New(context.Background(), &fakeAnswerer{}, "report", 0, nil)
	if m.View() != "Loading..." {
		t.Errorf("View() = %q", m.View())
	}
}
