// Package transcript holds the ordered, append-only log of interview turns.
package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

const sinkTimeout = 5 * time.Second

// Sink receives every appended entry, e.g. for persistence or logging.
// seq is the zero-based position of the entry in the transcript.
type Sink interface {
	AppendEntry(ctx context.Context, sessionID string, seq int, entry domain.Entry) error
}

// Store is the transcript of one session. Entries are never mutated or removed.
type Store struct {
	mu        sync.RWMutex
	sessionID string
	entries   []domain.Entry
	sinks     []Sink
}

// New creates an empty transcript for sessionID.
func New(sessionID string, sinks ...Sink) *Store {
	return &Store{sessionID: sessionID, sinks: sinks}
}

// Restore rebuilds a transcript from previously persisted entries. The
// restored entries are not replayed to the sinks.
func Restore(sessionID string, entries []domain.Entry, sinks ...Sink) *Store {
	s := New(sessionID, sinks...)
	s.entries = append(s.entries, entries...)
	return s
}

// SessionID returns the owning session's ID.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Append adds entry at the end of the transcript and returns its position.
// Order is the order in which Append calls are issued.
func (s *Store) Append(entry domain.Entry) int {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.Lock()
	seq := len(s.entries)
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.AppendEntry(ctx, s.sessionID, seq, entry); err != nil {
			slog.Warn("Transcript sink failed", "session_id", s.sessionID, "seq", seq, "error", err)
		}
		cancel()
	}
	return seq
}

// All returns a copy of the transcript in append order.
func (s *Store) All() []domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
