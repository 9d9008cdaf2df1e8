// Package activity persists an append-only audit trail of job and library
// events in SQLite.
package activity

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; the database is disposable audit data and may be deleted.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by a different
// schema version.
var ErrSchemaMismatch = errors.New("activity schema version mismatch")

// Event types recorded by the daemon.
const (
	EventJobSubmitted    = "job_submitted"
	EventJobCompleted    = "job_completed"
	EventJobFailed       = "job_failed"
	EventJobCancelled    = "job_cancelled"
	EventJobDeleted      = "job_deleted"
	EventDedupHit        = "dedup_hit"
	EventContentArchived = "content_archived"
	EventContentRestored = "content_restored"
	EventContentDeleted  = "content_deleted"
)

// Event is one audit record.
type Event struct {
	ID         int64
	OccurredAt time.Time
	Type       string
	Actor      string
	JobID      string
	ContentID  string
	Detail     string
}

// Store is the SQLite-backed event log.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the activity database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure activity directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Record appends one event. OccurredAt defaults to now when unset.
func (s *Store) Record(ctx context.Context, event Event) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO activity_events (occurred_at, event_type, actor, job_id, content_id, detail)
         VALUES (?, ?, ?, ?, ?, ?)`,
		occurred.Format(time.RFC3339Nano),
		event.Type,
		event.Actor,
		event.JobID,
		event.ContentID,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.query(ctx,
		`SELECT id, occurred_at, event_type, actor, job_id, content_id, detail
         FROM activity_events ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// RecentFor returns the newest events for one actor, most recent first.
func (s *Store) RecentFor(ctx context.Context, actor string, limit int) ([]Event, error) {
	return s.query(ctx,
		`SELECT id, occurred_at, event_type, actor, job_id, content_id, detail
         FROM activity_events WHERE actor = ? ORDER BY id DESC LIMIT ?`, actor, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// CountSince counts one actor's events of a given type at or after the cutoff.
// It backs the monthly entitlement quota.
func (s *Store) CountSince(ctx context.Context, actor, eventType string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM activity_events
         WHERE actor = ? AND event_type = ? AND occurred_at >= ?`,
		actor, eventType, since.UTC().Format(time.RFC3339Nano),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count activity events: %w", err)
	}
	return count, nil
}

func (s *Store) query(ctx context.Context, stmt string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var occurred string
		if err := rows.Scan(&event.ID, &occurred, &event.Type, &event.Actor, &event.JobID, &event.ContentID, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		if parsed, parseErr := time.Parse(time.RFC3339Nano, occurred); parseErr == nil {
			event.OccurredAt = parsed
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}
	return events, nil
}
