package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink is a SQLite-backed Sink.
//
// It stores one row per completed workflow execution in a single file
// database. Designed for:
//   - Development and single-process deployments
//   - Local inspection of recent execution outcomes
//
// Unlike the teacher's SQLiteStore, SQLiteSink keeps one row per
// execution ID (recording the same ID again overwrites that row), and
// nothing written here is ever read back to resume a live execution.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// NewSQLiteSink opens (and migrates) a SQLite-backed Sink at path.
// ":memory:" is accepted for tests.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	sink := &SQLiteSink{db: db, path: path}
	if err := sink.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return sink, nil
}

func (s *SQLiteSink) createTable(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS execution_summaries (
			execution_id         TEXT PRIMARY KEY,
			workflow_id          TEXT NOT NULL,
			status               TEXT NOT NULL,
			initiated_by         TEXT NOT NULL,
			started_at           DATETIME NOT NULL,
			completed_at         DATETIME NOT NULL,
			duration_seconds     REAL NOT NULL,
			completed_node_count INTEGER NOT NULL,
			failed_node_count    INTEGER NOT NULL,
			error                TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_execution_summaries_completed_at
			ON execution_summaries(completed_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordCompletion inserts s, replacing any prior row for the same
// ExecutionID (a retried RecordCompletion call is idempotent).
func (s *SQLiteSink) RecordCompletion(ctx context.Context, summary Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_summaries
			(execution_id, workflow_id, status, initiated_by, started_at,
			 completed_at, duration_seconds, completed_node_count, failed_node_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			workflow_id=excluded.workflow_id, status=excluded.status,
			initiated_by=excluded.initiated_by, started_at=excluded.started_at,
			completed_at=excluded.completed_at, duration_seconds=excluded.duration_seconds,
			completed_node_count=excluded.completed_node_count,
			failed_node_count=excluded.failed_node_count, error=excluded.error
	`,
		summary.ExecutionID, summary.WorkflowID, summary.Status, summary.InitiatedBy,
		summary.StartedAt, summary.CompletedAt, summary.DurationSeconds,
		summary.CompletedNodeCount, summary.FailedNodeCount, summary.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// RecentSummaries returns up to limit summaries, most recently completed first.
func (s *SQLiteSink) RecentSummaries(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, workflow_id, status, initiated_by, started_at,
		       completed_at, duration_seconds, completed_node_count, failed_node_count, error
		FROM execution_summaries
		ORDER BY completed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SummaryByExecutionID looks up a single execution's summary.
func (s *SQLiteSink) SummaryByExecutionID(ctx context.Context, executionID string) (Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, status, initiated_by, started_at,
		       completed_at, duration_seconds, completed_node_count, failed_node_count, error
		FROM execution_summaries
		WHERE execution_id = ?
	`, executionID)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("failed to query summary: %w", err)
	}
	return sum, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Path returns the file path (or ":memory:") the sink was opened with.
func (s *SQLiteSink) Path() string { return s.path }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (Summary, error) {
	var s Summary
	var started, completed time.Time
	err := row.Scan(
		&s.ExecutionID, &s.WorkflowID, &s.Status, &s.InitiatedBy, &started,
		&completed, &s.DurationSeconds, &s.CompletedNodeCount, &s.FailedNodeCount, &s.Error,
	)
	s.StartedAt, s.CompletedAt = started, completed
	return s, err
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
