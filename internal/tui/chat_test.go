package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sistemas-dev/sistemas/internal/catalog"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/interview"
	"github.com/sistemas-dev/sistemas/internal/scene"
	"github.com/sistemas-dev/sistemas/internal/session"
)

type scriptedTurner struct {
	reply interview.Reply
	err   error
	got   []domain.Entry
}

func (s *scriptedTurner) Send(_ context.Context, entries []domain.Entry) (interview.Reply, error) {
	s.got = entries
	return s.reply, s.err
}

func newChat(t *testing.T, turner session.Turner) ChatModel {
	t.Helper()
	s, err := session.NewManager(catalog.Default(), nil).Create(context.Background(), "url-shortener")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m := NewChat(s, turner)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(ChatModel)
}

func typeText(m ChatModel, text string) ChatModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(ChatModel)
}

// runTurn presses enter and feeds the reply produced by the send command
// back into the model.
func runTurn(t *testing.T, m ChatModel) ChatModel {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(ChatModel)
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	if !m.waiting {
		t.Fatal("model should be waiting for a reply")
	}

	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatal("expected a batch of commands")
	}
	for _, c := range batch {
		if c == nil {
			continue
		}
		if reply, ok := c().(replyMsg); ok {
			next, _ = m.Update(reply)
			return next.(ChatModel)
		}
	}
	t.Fatal("no reply message in batch")
	return m
}

func TestChatTurn(t *testing.T) {
	turner := &scriptedTurner{reply: interview.Reply{
		Text: "How will you generate short codes?",
		Architecture: &domain.ArchitectureGraph{Nodes: []domain.ComponentNode{
			{ID: "api", Label: "API Server", Type: domain.NodeAPI},
		}},
	}}
	m := newChat(t, turner)

	m = typeText(m, "I'd start with an API and a KV store")
	m = runTurn(t, m)

	if m.waiting || m.err != nil {
		t.Fatalf("waiting=%v err=%v after reply", m.waiting, m.err)
	}
	if len(turner.got) != 2 {
		t.Fatalf("turner saw %d entries, want 2", len(turner.got))
	}
	if !strings.Contains(turner.got[1].Content, scene.NotReady) {
		t.Fatalf("user entry lacks whiteboard state: %q", turner.got[1].Content)
	}

	view := m.View()
	for _, want := range []string{"URL Shortener", "I'd start with an API", "How will you generate short codes?", "API Server"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "[User Message]") {
		t.Error("view shows the whiteboard envelope")
	}
}

func TestChatShowsError(t *testing.T) {
	m := newChat(t, &scriptedTurner{err: errors.New("quota exceeded")})
	m = typeText(m, "hello")
	m = runTurn(t, m)

	if !strings.Contains(m.View(), "quota exceeded") {
		t.Fatal("view does not show the error")
	}
}

func TestChatIgnoresEmptyInput(t *testing.T) {
	m := newChat(t, &scriptedTurner{})
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || next.(ChatModel).waiting {
		t.Fatal("empty input should not start a turn")
	}
}

func TestChatQuit(t *testing.T) {
	m := newChat(t, &scriptedTurner{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("esc should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("esc should return tea.Quit")
	}
}

func TestRenderProblems(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderProblems(&buf, catalog.Default(), 80); err != nil {
		t.Fatalf("RenderProblems failed: %v", err)
	}
	out := buf.String()
	for _, p := range catalog.Default().List() {
		if !strings.Contains(out, p.Title) || !strings.Contains(out, "id: "+p.ID) {
			t.Errorf("output missing problem %s", p.ID)
		}
	}
}
