package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/sistemas-dev/sistemas/internal/store"
)

// DefaultSweepInterval is how often the TTL worker looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// endedRetention is how long ended sessions stay in the database.
const endedRetention = 7 * 24 * time.Hour

// CleanupCallback runs after an expired session is ended.
type CleanupCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically ends sessions
// idle longer than ttl and purges old ended sessions. onCleanup may be nil.
func StartTTLWorker(ctx context.Context, repo store.Repository, mgr *Manager, ttl, interval time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSessions(ctx, repo, mgr, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSessions(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration, onCleanup CleanupCallback) {
	expired, err := repo.GetExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return
	}

	if len(expired) > 0 {
		slog.Info("TTL worker found expired sessions", "count", len(expired))
	}

	for _, rec := range expired {
		slog.Info("TTL worker ending session",
			"session_id", rec.ID,
			"problem_id", rec.ProblemID,
			"last_seen_at", rec.LastSeenAt)

		if err := mgr.Exit(ctx, rec.ID); err != nil {
			slog.Error("TTL worker failed to end session", "error", err, "session_id", rec.ID)
			continue
		}
		if onCleanup != nil {
			onCleanup(rec.ID)
		}
	}

	if deleted, err := repo.PurgeEndedSessions(ctx, endedRetention); err != nil {
		slog.Error("TTL worker failed to purge ended sessions", "error", err)
	} else if deleted > 0 {
		slog.Info("TTL worker purged ended sessions", "count", deleted)
	}
}
