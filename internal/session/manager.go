package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/sistemas-dev/sistemas/internal/catalog"
	"github.com/sistemas-dev/sistemas/internal/domain"
	"github.com/sistemas-dev/sistemas/internal/scene"
	"github.com/sistemas-dev/sistemas/internal/store"
	"github.com/sistemas-dev/sistemas/internal/transcript"
)

// Manager creates, finds and ends sessions. A nil repository keeps
// everything in memory.
type Manager struct {
	catalog *catalog.Catalog
	repo    store.Repository
	sinks   []transcript.Sink
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Extra sinks receive every
// transcript entry in addition to the repository.
func NewManager(cat *catalog.Catalog, repo store.Repository, sinks ...transcript.Sink) *Manager {
	all := make([]transcript.Sink, 0, len(sinks)+1)
	if repo != nil {
		all = append(all, repo)
	}
	all = append(all, sinks...)
	return &Manager{
		catalog:  cat,
		repo:     repo,
		sinks:    all,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Catalog returns the problem catalog the manager selects from.
func (m *Manager) Catalog() *catalog.Catalog { return m.catalog }

// Create starts a session for the problem. The transcript opens with the
// problem's initial prompt as an assistant entry.
func (m *Manager) Create(ctx context.Context, problemID string) (*Session, error) {
	p, err := m.catalog.Get(problemID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	id := uuid.NewString()
	s := m.newSession(id, p, now, transcript.New(id, m.sinks...))

	if m.repo != nil {
		rec := &domain.SessionRecord{ID: id, ProblemID: p.ID, CreatedAt: now, LastSeenAt: now}
		if err := m.repo.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	s.Transcript.Append(domain.Entry{Role: domain.RoleAssistant, Content: p.InitialPrompt, Timestamp: now})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	slog.Info("Session created", "session_id", id, "problem_id", p.ID)
	return s, nil
}

func (m *Manager) newSession(id string, p domain.Problem, created time.Time, t *transcript.Store) *Session {
	s := &Session{
		ID:         id,
		Problem:    p,
		CreatedAt:  created,
		Transcript: t,
		Board:      &scene.Board{},
		lastSeen:   created,
	}
	if m.repo != nil {
		s.graphs = m.repo
	}
	return s
}

// Get returns an open session and records activity on it. Sessions that
// exist only in the repository, for example after a restart, are reloaded.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		var err error
		if s, err = m.load(ctx, id); err != nil {
			return nil, err
		}
	}

	now := m.now()
	s.touch(now)
	if m.repo != nil {
		if err := m.repo.TouchSession(ctx, id, now); err != nil {
			slog.Warn("Failed to record session activity", "session_id", id, "error", err)
		}
	}
	return s, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	if m.repo == nil {
		return nil, fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
	}
	rec, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if rec == nil || rec.Ended() {
		return nil, fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
	}
	p, err := m.catalog.Get(rec.ProblemID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	entries, err := m.repo.ListEntries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	graph, err := m.repo.GetGraph(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	s := m.newSession(id, p, rec.CreatedAt, transcript.Restore(id, entries, m.sinks...))
	s.graph = graph

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	slog.Info("Session restored", "session_id", id, "entries", len(entries))
	return s, nil
}

// Exit stops any voice session and destroys the session's in-memory state.
func (m *Manager) Exit(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.close()
	}

	if m.repo != nil {
		rec, err := m.repo.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if rec == nil && !ok {
			return fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
		}
		if err := m.repo.EndSession(ctx, id, m.now()); err != nil {
			return err
		}
	} else if !ok {
		return fmt.Errorf("session %s: %w", id, errdefs.ErrNotFound)
	}

	slog.Info("Session ended", "session_id", id)
	return nil
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown exits every in-memory session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.mu.Lock()
		s, ok := m.sessions[id]
		delete(m.sessions, id)
		m.mu.Unlock()
		if ok {
			s.close()
		}
	}
	slog.Info("Sessions shut down", "count", len(ids))
}
