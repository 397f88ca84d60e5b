package engine

import (
	"fmt"
	"time"

	"github.com/dshills/orchflow/engine/emit"
)

// timeoutMonitorLoop implements spec §4.4.6: every TimeoutMonitorInterval
// (default 30s), scan active executions for any RUNNING node that has
// exceeded its explicit node timeout and hand it to the failure policy
// (failTask), then time out any execution past its workflow timeout.
func (eng *Engine) timeoutMonitorLoop() {
	defer eng.wg.Done()
	ticker := time.NewTicker(eng.opts.TimeoutMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.stopCh:
			return
		case <-ticker.C:
			eng.sweepTimeouts()
		}
	}
}

func (eng *Engine) sweepTimeouts() {
	eng.execMu.Lock()
	execs := make([]*WorkflowExecution, 0, len(eng.active))
	for _, exec := range eng.active {
		execs = append(execs, exec)
	}
	eng.execMu.Unlock()

	now := eng.clock.Now()
	for _, exec := range execs {
		def, ok := eng.lookupDef(exec.WorkflowID)
		if !ok {
			continue
		}
		exec.mu.Lock()
		var timedOutNodes []string
		for id := range exec.CurrentNodes {
			st := exec.nodeState(id)
			node := def.Nodes[id]
			// Spec §4.4.6: the monitor only backstops nodes with an
			// explicit node.timeout_seconds; transport-default deadlines
			// are already enforced inline by runTaskNode's own ctx.
			if st.Status != NodeRunning || st.StartedAt == nil || node.Timeout == nil {
				continue
			}
			if now.Sub(*st.StartedAt) >= *node.Timeout {
				timedOutNodes = append(timedOutNodes, id)
			}
		}
		for _, id := range timedOutNodes {
			node := def.Nodes[id]
			st := exec.nodeState(id)
			errMsg := fmt.Sprintf("Node timeout after %s", *node.Timeout)
			outcome := eng.failTask(exec, node, st, errMsg, true)
			eng.finalizeOutcome(exec, def, outcome)
			eng.emit.Emit(emit.Event{ExecutionID: exec.ExecutionID, NodeID: id, Msg: "node_timeout"})
		}
		if len(timedOutNodes) > 0 && exec.Status == StatusRunning {
			exec.mu.Unlock()
			eng.queue.Push(exec.Priority, exec.ExecutionID)
			continue
		}
		exec.mu.Unlock()
	}

	// Workflow-level timeout: whole execution past its own deadline.
	for _, exec := range execs {
		def, ok := eng.lookupDef(exec.WorkflowID)
		if !ok || def.Timeout == nil {
			continue
		}
		exec.mu.Lock()
		expired := !exec.Status.terminal() && now.Sub(exec.StartedAt) >= *def.Timeout
		if expired {
			exec.Status = StatusTimeout
			exec.Error = "Workflow timeout"
			exec.Cancel()
		}
		exec.mu.Unlock()
		if expired {
			eng.completeExecution(exec)
		}
	}
}

// cleanupLoop implements spec §4.4.7: every CleanupInterval (default
// 1h), any non-terminal execution that started at least StuckThreshold
// (default 4h) ago is force-failed and completed, whatever its progress.
func (eng *Engine) cleanupLoop() {
	defer eng.wg.Done()
	ticker := time.NewTicker(eng.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-eng.stopCh:
			return
		case <-ticker.C:
			eng.sweepStuck()
		}
	}
}

func (eng *Engine) sweepStuck() {
	eng.execMu.Lock()
	execs := make([]*WorkflowExecution, 0, len(eng.active))
	for _, exec := range eng.active {
		execs = append(execs, exec)
	}
	eng.execMu.Unlock()

	now := eng.clock.Now()
	for _, exec := range execs {
		exec.mu.Lock()
		stuck := !exec.Status.terminal() && now.Sub(exec.StartedAt) >= eng.opts.StuckThreshold
		if stuck {
			exec.Status = StatusFailed
			exec.Error = "Execution appears stuck"
			exec.Cancel()
		}
		exec.mu.Unlock()
		if stuck {
			eng.completeExecution(exec)
		}
	}
}
