package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/interview"
	"github.com/sistemas-dev/sistemas/internal/session"
)

const turnTimeout = 90 * time.Second

type replyMsg struct {
	reply interview.Reply
	err   error
}

type keyMap struct {
	Send key.Binding
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Send: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Quit: key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
		Up:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup/pgdn", "scroll")),
		Down: key.NewBinding(key.WithKeys("pgdown")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Up, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Send, k.Up, k.Down, k.Quit}}
}

// ChatModel is a terminal text interview over one session.
type ChatModel struct {
	sess   *session.Session
	turner session.Turner

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	waiting bool
	err     error
	width   int
	height  int
}

// NewChat creates the chat model for s.
func NewChat(s *session.Session, turner session.Turner) ChatModel {
	ti := textinput.New()
	ti.Placeholder = "Describe your design…"
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	m := ChatModel{
		sess:     s,
		turner:   turner,
		viewport: viewport.New(80, 20),
		input:    ti,
		spinner:  sp,
		help:     help.New(),
		keys:     defaultKeys(),
	}
	m.refresh()
	return m
}

func (m ChatModel) Init() tea.Cmd { return textinput.Blink }

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.resize()
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			if cmd := m.submit(); cmd != nil {
				return m, cmd
			}
			return m, nil
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case replyMsg:
		m.waiting = false
		m.err = msg.err
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit starts a turn. The terminal has no whiteboard, so every turn
// carries the not-ready summary.
func (m *ChatModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if m.waiting || text == "" {
		return nil
	}
	m.input.SetValue("")
	m.waiting = true
	m.err = nil

	sess, turner := m.sess, m.turner
	send := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		reply, err := sess.SendText(ctx, turner, text)
		return replyMsg{reply: reply, err: err}
	}
	return tea.Batch(send, m.spinner.Tick)
}

func (m *ChatModel) resize() {
	inputH := 1
	helpH := 1
	headerH := 2
	statusH := 1
	h := m.height - inputH - helpH - headerH - statusH - 1
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.input.Width = max(10, m.width-4)
}

func (m *ChatModel) refresh() {
	m.viewport.SetContent(renderTranscript(m.sess.Transcript.All(), m.sess.Graph(), m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m ChatModel) View() string {
	header := Title.Render(m.sess.Problem.Title) + "  " +
		DifficultyStyle(m.sess.Problem.Difficulty).Render(string(m.sess.Problem.Difficulty))

	status := Muted.Render(" ")
	switch {
	case m.waiting:
		status = m.spinner.View() + Muted.Render(" Interviewer is thinking…")
	case m.err != nil:
		status = Error.Render("Error: " + m.err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		m.viewport.View(),
		status,
		m.input.View(),
		m.help.View(m.keys),
	)
}

func renderTranscript(entries []domain.Entry, graph *domain.ArchitectureGraph, width int) string {
	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}

	var b strings.Builder
	for _, e := range entries {
		switch e.Role {
		case domain.RoleUser:
			b.WriteString(UserLabel.Render("You") + "\n")
		case domain.RoleAssistant:
			b.WriteString(AssistantLabel.Render("Interviewer") + "\n")
		default:
			continue
		}
		b.WriteString(wrap.Render(e.Display()))
		b.WriteString("\n\n")
	}

	if graph != nil && len(graph.Nodes) > 0 {
		b.WriteString(Muted.Render(fmt.Sprintf("Architecture: %d components, %d connections", len(graph.Nodes), len(graph.Links))))
		b.WriteString("\n")
		for _, n := range graph.Nodes {
			b.WriteString(Muted.Render(fmt.Sprintf("  • %s (%s)", n.Label, n.Type)) + "\n")
		}
	}
	return b.String()
}
