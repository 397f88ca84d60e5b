package engine

import (
	"context"

	"github.com/dshills/orchflow/audit"
	"github.com/dshills/orchflow/engine/emit"
)

// completeExecution implements spec §4.4.8's complete_execution: move a
// terminal execution from the active map to history, update running
// aggregate stats, and trim history to MaxExecutionHistory (oldest
// first).
func (eng *Engine) completeExecution(exec *WorkflowExecution) {
	exec.mu.Lock()
	if exec.CompletedAt == nil {
		now := eng.clock.Now()
		exec.CompletedAt = &now
	}
	elapsed := exec.CompletedAt.Sub(exec.StartedAt).Seconds()
	status := exec.Status
	summary := audit.Summary{
		ExecutionID:        exec.ExecutionID,
		WorkflowID:         exec.WorkflowID,
		Status:             string(status),
		InitiatedBy:        exec.InitiatedBy,
		StartedAt:          exec.StartedAt,
		CompletedAt:        *exec.CompletedAt,
		DurationSeconds:    elapsed,
		CompletedNodeCount: len(exec.CompletedNodes),
		FailedNodeCount:    len(exec.FailedNodes),
		Error:              exec.Error,
	}
	exec.mu.Unlock()

	eng.execMu.Lock()
	delete(eng.active, exec.ExecutionID)
	eng.history = append(eng.history, exec)
	if len(eng.history) > eng.opts.MaxExecutionHistory {
		overflow := len(eng.history) - eng.opts.MaxExecutionHistory
		eng.history = eng.history[overflow:]
	}
	activeCount := len(eng.active)
	eng.execMu.Unlock()

	eng.metrics.setActiveExecutions(activeCount)
	eng.metrics.incExecution(status)

	eng.stats.mu.Lock()
	eng.stats.totalWorkflows++
	if status == StatusCompleted {
		eng.stats.successfulExecutions++
	} else {
		eng.stats.failedExecutions++
	}
	// Average execution time kept with the (avg+elapsed)/2 formula, an
	// EMA-like running average rather than a true mean.
	if eng.stats.totalWorkflows == 1 {
		eng.stats.totalExecutionSeconds = elapsed
	} else {
		eng.stats.totalExecutionSeconds = (eng.stats.totalExecutionSeconds + elapsed) / 2
	}
	eng.stats.mu.Unlock()

	if eng.opts.AuditSink != nil {
		if err := eng.opts.AuditSink.RecordCompletion(context.Background(), summary); err != nil {
			eng.emit.Emit(emit.Event{
				ExecutionID: exec.ExecutionID,
				Msg:         "audit_record_failed",
				Meta:        map[string]interface{}{"error": err.Error()},
			})
		}
	}
}

// findHistorical looks up a completed execution by ID.
func (eng *Engine) findHistorical(executionID string) (*WorkflowExecution, bool) {
	eng.execMu.Lock()
	defer eng.execMu.Unlock()
	for i := len(eng.history) - 1; i >= 0; i-- {
		if eng.history[i].ExecutionID == executionID {
			return eng.history[i], true
		}
	}
	return nil, false
}
