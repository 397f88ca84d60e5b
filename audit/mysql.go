package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLSink is a MySQL/MariaDB-backed Sink, for deployments that want
// completed-execution history centralized across multiple engine
// processes rather than kept per-host in SQLite.
//
// The DSN format is the go-sql-driver/mysql convention:
//
//	user:password@tcp(127.0.0.1:3306)/dbname?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink opens (and migrates) a MySQL-backed Sink.
func NewMySQLSink(dsn string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	sink := &MySQLSink{db: db}
	if err := sink.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return sink, nil
}

func (s *MySQLSink) createTable(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS execution_summaries (
			execution_id         VARCHAR(64) PRIMARY KEY,
			workflow_id          VARCHAR(128) NOT NULL,
			status               VARCHAR(32) NOT NULL,
			initiated_by         VARCHAR(128) NOT NULL,
			started_at           DATETIME(6) NOT NULL,
			completed_at         DATETIME(6) NOT NULL,
			duration_seconds     DOUBLE NOT NULL,
			completed_node_count INT NOT NULL,
			failed_node_count    INT NOT NULL,
			error                TEXT NOT NULL,
			INDEX idx_execution_summaries_completed_at (completed_at DESC)
		) ENGINE=InnoDB
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// RecordCompletion inserts s, replacing any prior row for the same
// ExecutionID (a retried RecordCompletion call is idempotent).
func (s *MySQLSink) RecordCompletion(ctx context.Context, summary Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_summaries
			(execution_id, workflow_id, status, initiated_by, started_at,
			 completed_at, duration_seconds, completed_node_count, failed_node_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id=VALUES(workflow_id), status=VALUES(status),
			initiated_by=VALUES(initiated_by), started_at=VALUES(started_at),
			completed_at=VALUES(completed_at), duration_seconds=VALUES(duration_seconds),
			completed_node_count=VALUES(completed_node_count),
			failed_node_count=VALUES(failed_node_count), error=VALUES(error)
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
func (s *MySQLSink) RecentSummaries(ctx context.Context, limit int) ([]Summary, error) {
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
func (s *MySQLSink) SummaryByExecutionID(ctx context.Context, executionID string) (Summary, error) {
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

// Close closes the underlying connection pool.
func (s *MySQLSink) Close() error {
	return s.db.Close()
}
