// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// Repository persists sessions, their transcripts and their latest diagram.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error

	// GetSession retrieves a session record, or nil if it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// TouchSession updates last_seen_at for an open session.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// EndSession marks a session as ended. Ending twice is a no-op.
	EndSession(ctx context.Context, sessionID string, at time.Time) error

	// AppendEntry stores one transcript entry at the given sequence number.
	AppendEntry(ctx context.Context, sessionID string, seq int, entry domain.Entry) error

	// ListEntries returns a session's transcript in sequence order.
	ListEntries(ctx context.Context, sessionID string) ([]domain.Entry, error)

	// SaveGraph replaces the session's architecture graph.
	SaveGraph(ctx context.Context, sessionID string, graph *domain.ArchitectureGraph) error

	// GetGraph returns the session's architecture graph, or nil if none was produced.
	GetGraph(ctx context.Context, sessionID string) (*domain.ArchitectureGraph, error)

	// GetExpiredSessions returns open sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error)

	// PurgeEndedSessions deletes sessions that ended more than retention ago.
	PurgeEndedSessions(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
