package engine

import (
	"sync"
	"time"
)

// ExecutionStatus is the closed set of states a WorkflowExecution
// passes through.
type ExecutionStatus string

const (
	StatusCreated   ExecutionStatus = "CREATED"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusPaused    ExecutionStatus = "PAUSED"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusCancelled ExecutionStatus = "CANCELLED"
	StatusTimeout   ExecutionStatus = "TIMEOUT"
)

func (s ExecutionStatus) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// NodeStatus is per-node mutable state within one execution.
type NodeStatus string

const (
	NodePending NodeStatus = "PENDING"
	NodeReady   NodeStatus = "READY"
	NodeRunning NodeStatus = "RUNNING"
	NodeDone    NodeStatus = "COMPLETED"
	NodeFailedS NodeStatus = "FAILED"
)

// NodeState is the per-node mutable record tracked in
// WorkflowExecution.NodeStates.
type NodeState struct {
	Status      NodeStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	LastError   string
}

// WorkflowExecution is one live or historical run of a
// WorkflowDefinition. It is mutated exclusively by the execution loop
// between dispatch and completion (spec §5); task-node goroutines write
// only their own slot of NodeResults/NodeStates, never shared fields.
type WorkflowExecution struct {
	mu sync.Mutex

	ExecutionID string
	WorkflowID  string
	Status      ExecutionStatus

	CurrentNodes   map[string]bool
	CompletedNodes map[string]bool
	FailedNodes    map[string]bool

	// TraversedInto records, for each node, the set of incoming edge IDs
	// that were actually traversed to reach it — the fixed answer to the
	// MERGE-predecessor open question (§9): only these edges create a
	// wait obligation for a MERGE target.
	TraversedInto map[string]map[string]bool

	NodeResults map[string]NodeResult
	NodeStates  map[string]*NodeState

	ExecutionContext map[string]any

	StartedAt   time.Time
	CompletedAt *time.Time
	InitiatedBy string
	Priority    int // 1..5, lower = more urgent

	Error string

	cancelCh chan struct{}
	cancelOnce sync.Once

	enqueueSeq uint64 // not read or written; ExecutionQueue keeps its own FIFO tie-break sequence
}

// NewWorkflowExecution builds a fresh execution in CREATED state.
func NewWorkflowExecution(executionID, workflowID string, execContext map[string]any, initiatedBy string, priority int, now time.Time) *WorkflowExecution {
	if execContext == nil {
		execContext = map[string]any{}
	}
	return &WorkflowExecution{
		ExecutionID:      executionID,
		WorkflowID:       workflowID,
		Status:           StatusCreated,
		CurrentNodes:     map[string]bool{},
		CompletedNodes:   map[string]bool{},
		FailedNodes:      map[string]bool{},
		TraversedInto:    map[string]map[string]bool{},
		NodeResults:      map[string]NodeResult{},
		NodeStates:       map[string]*NodeState{},
		ExecutionContext: execContext,
		StartedAt:        now,
		InitiatedBy:      initiatedBy,
		Priority:         priority,
		cancelCh:         make(chan struct{}),
	}
}

// Cancel triggers the execution's cancellation signal exactly once; the
// channel returned by Done is closed when it fires. Safe to call concurrently
// and more than once (idempotent, spec invariant I11).
func (e *WorkflowExecution) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelCh) })
}

// Done returns the channel that closes when Cancel has been called.
func (e *WorkflowExecution) Done() <-chan struct{} {
	return e.cancelCh
}

func (e *WorkflowExecution) nodeState(id string) *NodeState {
	st, ok := e.NodeStates[id]
	if !ok {
		st = &NodeState{Status: NodePending}
		e.NodeStates[id] = st
	}
	return st
}

// completionPercentage reports 0..100 over the node set supplied by the
// caller (normally len(def.Nodes)).
func (e *WorkflowExecution) completionPercentage(totalNodes int) float64 {
	if totalNodes == 0 {
		return 0
	}
	return 100 * float64(len(e.CompletedNodes)) / float64(totalNodes)
}
