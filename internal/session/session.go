// Package session owns the state of every open interview: its problem,
// transcript, drawing board, latest diagram and optional voice session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/interview"
	"github.com/sistemas-dev/sistemas/internal/scene"
	"github.com/sistemas-dev/sistemas/internal/transcript"
	"github.com/sistemas-dev/sistemas/internal/voice"
)

var (
	// ErrEmptyMessage is returned when a text turn has no content.
	ErrEmptyMessage = fmt.Errorf("message is empty: %w", errdefs.ErrInvalidArgument)
	// ErrComposing is returned when a text turn is already in flight.
	ErrComposing = fmt.Errorf("a reply is already being composed: %w", errdefs.ErrFailedPrecondition)
	// ErrVoiceAttached is returned when a second voice session is attached.
	ErrVoiceAttached = fmt.Errorf("voice session already attached: %w", errdefs.ErrFailedPrecondition)
	// ErrClosed is returned for operations on an exited session.
	ErrClosed = fmt.Errorf("session has ended: %w", errdefs.ErrNotFound)
)

// Turner sends a transcript and returns the interviewer's reply.
type Turner interface {
	Send(ctx context.Context, entries []domain.Entry) (interview.Reply, error)
}

// GraphSaver persists the latest architecture graph.
type GraphSaver interface {
	SaveGraph(ctx context.Context, sessionID string, graph *domain.ArchitectureGraph) error
}

// Session is one open interview.
type Session struct {
	ID         string
	Problem    domain.Problem
	CreatedAt  time.Time
	Transcript *transcript.Store
	Board      *scene.Board

	graphs GraphSaver

	mu        sync.Mutex
	graph     *domain.ArchitectureGraph
	composing bool
	lastSeen  time.Time
	voice     *voice.Controller
	closed    bool
}

// View is a point-in-time copy of a session for presentation.
type View struct {
	ID         string                    `json:"id"`
	Problem    domain.Problem            `json:"problem"`
	CreatedAt  time.Time                 `json:"created_at"`
	Entries    []domain.Entry            `json:"entries"`
	Graph      *domain.ArchitectureGraph `json:"graph,omitempty"`
	Composing  bool                      `json:"composing"`
	Board      string                    `json:"board_state"`
	VoiceState string                    `json:"voice_state"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	graph, composing, ctrl := s.graph, s.composing, s.voice
	s.mu.Unlock()

	vs := voice.Idle
	if ctrl != nil {
		vs = ctrl.State()
	}
	return View{
		ID:         s.ID,
		Problem:    s.Problem,
		CreatedAt:  s.CreatedAt,
		Entries:    s.Transcript.All(),
		Graph:      graph,
		Composing:  composing,
		Board:      scene.Classify(s.Board.Canvas()).String(),
		VoiceState: vs.String(),
	}
}

// Graph returns the latest architecture graph, or nil.
func (s *Session) Graph() *domain.ArchitectureGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// Composing reports whether a text turn is in flight.
func (s *Session) Composing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composing
}

// LastSeen is the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastSeen = at
	s.mu.Unlock()
}

// SendText runs one text turn: the message is wrapped with the current board
// summary, appended as a user entry, and the full transcript is sent. The
// reply is appended as an assistant entry and a returned graph replaces the
// current one. On failure no assistant entry is added and the composing flag
// is cleared.
func (s *Session) SendText(ctx context.Context, client Turner, input string) (interview.Reply, error) {
	if strings.TrimSpace(input) == "" {
		return interview.Reply{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return interview.Reply{}, ErrClosed
	}
	if s.composing {
		s.mu.Unlock()
		return interview.Reply{}, ErrComposing
	}
	s.composing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.composing = false
		s.mu.Unlock()
	}()

	content := scene.Enrich(s.Board.Summary(), input)
	s.Transcript.Append(domain.NewEntry(domain.RoleUser, content))

	reply, err := client.Send(ctx, s.Transcript.All())
	if err != nil {
		slog.Warn("Text turn failed", "session_id", s.ID, "error", err)
		return interview.Reply{}, err
	}

	s.Transcript.Append(domain.NewEntry(domain.RoleAssistant, reply.Text))
	if reply.Architecture != nil {
		s.setGraph(ctx, reply.Architecture)
	}
	return reply, nil
}

func (s *Session) setGraph(ctx context.Context, g *domain.ArchitectureGraph) {
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()

	if s.graphs == nil {
		return
	}
	if err := s.graphs.SaveGraph(ctx, s.ID, g); err != nil {
		slog.Warn("Failed to persist architecture graph", "session_id", s.ID, "error", err)
	}
}

// AttachVoice binds a voice controller to the session. Only one may be
// attached at a time.
func (s *Session) AttachVoice(ctrl *voice.Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.voice != nil {
		return ErrVoiceAttached
	}
	s.voice = ctrl
	return nil
}

// DetachVoice stops and unbinds ctrl if it is the attached controller.
func (s *Session) DetachVoice(ctrl *voice.Controller) {
	s.mu.Lock()
	if s.voice != ctrl {
		s.mu.Unlock()
		return
	}
	s.voice = nil
	s.mu.Unlock()
	ctrl.Stop()
}

// Voice returns the attached controller, or nil.
func (s *Session) Voice() *voice.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// close stops voice and marks the session ended. Further turns fail.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	ctrl := s.voice
	s.voice = nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
}
