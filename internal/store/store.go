// Package store persists session records so threads can be resumed after a
// restart: which thread maps to which assistant conversation, who started
// it, and where it was working.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/threadrelay/threadrelay/internal/common/sqlite"
)

const busyTimeout = 5 * time.Second

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("session record not found")

// Record is one persisted session.
type Record struct {
	SessionID          string    `db:"session_id"`
	PlatformID         string    `db:"platform_id"`
	ThreadID           string    `db:"thread_id"`
	StartedBy          string    `db:"started_by"`
	AssistantSessionID string    `db:"assistant_session_id"`
	WorkingDir         string    `db:"working_dir"`
	CreatedAt          time.Time `db:"created_at"`
	LastActivityAt     time.Time `db:"last_activity_at"`
}

// Store is a sqlite-backed session repository.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and initializes the
// schema. WAL mode with a single writer connection avoids SQLITE_BUSY.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to prepare database dir: %w", err)
	}
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path,
		int(busyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		platform_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		started_by TEXT NOT NULL,
		assistant_session_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_thread
		ON sessions(platform_id, thread_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	// working_dir arrived after the first release; migrate old databases.
	return sqlite.EnsureColumn(s.db.DB, "sessions", "working_dir", "TEXT NOT NULL DEFAULT ''")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts a record keyed by session id.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.LastActivityAt.IsZero() {
		rec.LastActivityAt = rec.CreatedAt
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (session_id, platform_id, thread_id, started_by,
			assistant_session_id, working_dir, created_at, last_activity_at)
		VALUES (:session_id, :platform_id, :thread_id, :started_by,
			:assistant_session_id, :working_dir, :created_at, :last_activity_at)
		ON CONFLICT(session_id) DO UPDATE SET
			assistant_session_id = excluded.assistant_session_id,
			working_dir = excluded.working_dir,
			last_activity_at = excluded.last_activity_at`,
		rec)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Get returns the record for a session id.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM sessions WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session record: %w", err)
	}
	return rec, nil
}

// GetByThread returns the record bound to a platform thread.
func (s *Store) GetByThread(ctx context.Context, platformID, threadID string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM sessions WHERE platform_id = ? AND thread_id = ?`,
		platformID, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load session record: %w", err)
	}
	return rec, nil
}

// List returns all records, most recently active first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM sessions ORDER BY last_activity_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	return recs, nil
}

// Touch updates the last-activity timestamp.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session record: %w", err)
	}
	return nil
}

// SetAssistantSession stores the assistant's conversation id for resume.
func (s *Store) SetAssistantSession(ctx context.Context, sessionID, assistantSessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET assistant_session_id = ? WHERE session_id = ?`,
		assistantSessionID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update assistant session id: %w", err)
	}
	return nil
}

// Delete removes a record. Missing rows are a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// DeleteStale removes records idle for longer than the retention period and
// returns how many were dropped.
func (s *Store) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity_at < ?`,
		time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale session records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
