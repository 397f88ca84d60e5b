// Package audit records completed workflow executions for inspection
// and reporting. It is write-only history for operators, distinct from
// the engine's own in-memory execution tracking: nothing recorded here
// is ever loaded back to resume a live execution.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching summary.
var ErrNotFound = errors.New("audit: summary not found")

// Summary is the durable record of one finished workflow execution
// (spec §3's WorkflowExecution, narrowed to its terminal shape).
type Summary struct {
	ExecutionID        string
	WorkflowID         string
	Status             string
	InitiatedBy        string
	StartedAt          time.Time
	CompletedAt        time.Time
	DurationSeconds    float64
	CompletedNodeCount int
	FailedNodeCount    int
	Error              string
}

// Sink persists completed-execution summaries and answers basic
// historical queries. Implementations must be safe for concurrent use.
type Sink interface {
	RecordCompletion(ctx context.Context, s Summary) error
	RecentSummaries(ctx context.Context, limit int) ([]Summary, error)
	SummaryByExecutionID(ctx context.Context, executionID string) (Summary, error)
	Close() error
}
