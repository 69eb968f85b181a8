package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"

	"github.com/sistemas-dev/sistemas/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes transcript writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		problem_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(last_seen_at) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS transcript_entries (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS session_graphs (
		session_id TEXT PRIMARY KEY,
		graph_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *domain.SessionRecord) error {
	query := `
	INSERT INTO sessions (session_id, problem_id, created_at, last_seen_at)
	VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.ProblemID, rec.CreatedAt.UnixMilli(), rec.LastSeenAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("session %s: %w", rec.ID, errdefs.ErrAlreadyExists)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session record by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT session_id, problem_id, created_at, last_seen_at, ended_at
		FROM sessions WHERE session_id = ?`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var createdAt, lastSeen int64
	var endedAt sql.NullInt64

	if err := row.Scan(&rec.ID, &rec.ProblemID, &createdAt, &lastSeen, &endedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.LastSeenAt = time.UnixMilli(lastSeen)
	if endedAt.Valid {
		ts := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &ts
	}
	return &rec, nil
}

// TouchSession updates the last_seen_at timestamp for an open session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_seen_at = ? WHERE session_id = ? AND ended_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// EndSession stamps ended_at if the session is still open.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, at.UnixMilli(), sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// AppendEntry stores one transcript entry. Retries with exponential backoff
// on SQLITE_BUSY.
func (s *SQLiteStore) AppendEntry(ctx context.Context, sessionID string, seq int, entry domain.Entry) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.appendEntryOnce(ctx, sessionID, seq, entry)
		if err == nil {
			return nil
		}
		if !isConflictError(err) || i == maxRetries-1 {
			return fmt.Errorf("append entry %d for %s after %d attempts: %w", seq, sessionID, i+1, err)
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("AppendEntry failed with SQLITE_BUSY, retrying",
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

func (s *SQLiteStore) appendEntryOnce(ctx context.Context, sessionID string, seq int, entry domain.Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO transcript_entries (session_id, seq, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, sessionID, seq, string(entry.Role), entry.Content, entry.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// ListEntries returns the transcript in sequence order.
func (s *SQLiteStore) ListEntries(ctx context.Context, sessionID string) ([]domain.Entry, error) {
	query := `
		SELECT role, content, created_at
		FROM transcript_entries WHERE session_id = ? ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close entry rows", "error", closeErr)
		}
	}()

	var entries []domain.Entry
	for rows.Next() {
		var e domain.Entry
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e.Role = domain.Role(role)
		e.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// SaveGraph replaces the session's architecture graph.
func (s *SQLiteStore) SaveGraph(ctx context.Context, sessionID string, graph *domain.ArchitectureGraph) error {
	data, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}

	query := `
	INSERT INTO session_graphs (session_id, graph_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		graph_json = excluded.graph_json,
		updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert graph: %w", err)
	}
	return nil
}

// GetGraph returns the session's architecture graph.
func (s *SQLiteStore) GetGraph(ctx context.Context, sessionID string) (*domain.ArchitectureGraph, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT graph_json FROM session_graphs WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan graph row: %w", err)
	}

	var g domain.ArchitectureGraph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &g, nil
}

// GetExpiredSessions retrieves open sessions idle longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	query := `
		SELECT session_id, problem_id, created_at, last_seen_at, ended_at
		FROM sessions WHERE ended_at IS NULL AND last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var out []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return out, nil
}

// PurgeEndedSessions removes sessions, entries and graphs for sessions that
// ended before the retention window.
func (s *SQLiteStore) PurgeEndedSessions(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ended := `SELECT session_id FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id IN (`+ended+`)`, threshold); err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_graphs WHERE session_id IN (`+ended+`)`, threshold); err != nil {
		return 0, fmt.Errorf("purge graphs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return n, nil
}

// isConflictError reports SQLITE_BUSY or "database is locked" errors, both of
// which are worth retrying.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
