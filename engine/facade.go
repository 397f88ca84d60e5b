package engine

import (
	"sort"
	"time"
)

// RegisterWorkflow validates and registers a WorkflowDefinition under
// def.WorkflowID, replacing any prior definition of the same ID (spec
// §6 item 2). It returns non-fatal warnings (e.g. unreachable nodes)
// alongside any validation error; per SPEC_FULL.md §12 this mirrors the
// original's richer return shape rather than swallowing warnings.
func (eng *Engine) RegisterWorkflow(def *WorkflowDefinition) (warnings []string, err error) {
	warnings, err = def.Validate()
	if err != nil {
		return nil, err
	}

	eng.defsMu.Lock()
	defer eng.defsMu.Unlock()
	if err := eng.checkCyclicSubprocess(def); err != nil {
		return nil, err
	}
	eng.defs[def.WorkflowID] = def
	return warnings, nil
}

// checkCyclicSubprocess walks the static SUBPROCESS reference graph
// across def plus every already-registered definition, rejecting
// registration if it would introduce a cycle (spec §9: "reject
// definitions that would cause cyclic subprocess invocation at
// registration time"). Callers must hold defsMu.
func (eng *Engine) checkCyclicSubprocess(def *WorkflowDefinition) error {
	refs := func(workflowID string) []string {
		if workflowID == def.WorkflowID {
			return def.referencedSubWorkflows()
		}
		if d, ok := eng.defs[workflowID]; ok {
			return d.referencedSubWorkflows()
		}
		return nil
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range refs(id) {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				return &Error{Kind: KindValidation, Message: ErrCyclicSubprocess.Error()}
			}
		}
		color[id] = black
		return nil
	}
	return visit(def.WorkflowID)
}

// ExecuteWorkflow starts a new execution of a registered workflow and
// returns its execution_id immediately; the execution itself proceeds
// asynchronously on the execution loop (spec §6 item 3).
func (eng *Engine) ExecuteWorkflow(workflowID string, execContext map[string]any, initiatedBy string, priority int) (string, error) {
	def, ok := eng.lookupDef(workflowID)
	if !ok {
		return "", &Error{Kind: KindNotFound, Message: ErrUnknownWorkflow.Error() + ": " + workflowID}
	}
	if priority < 1 || priority > 5 {
		priority = 3
	}

	now := eng.clock.Now()
	execID := eng.clock.NewID()
	exec := NewWorkflowExecution(execID, workflowID, execContext, initiatedBy, priority, now)

	startID := def.StartNodeID()
	st := exec.nodeState(startID)
	st.Status = NodeReady
	exec.CurrentNodes[startID] = true

	eng.execMu.Lock()
	if len(eng.active) >= eng.opts.MaxConcurrentExecutions {
		eng.execMu.Unlock()
		return "", &Error{Kind: KindValidation, ExecutionID: execID, Message: "max concurrent executions reached"}
	}
	eng.active[execID] = exec
	activeCount := len(eng.active)
	eng.execMu.Unlock()

	eng.metrics.setActiveExecutions(activeCount)
	eng.queue.Push(priority, execID)
	eng.metrics.setQueueDepth(eng.queue.Len())

	return execID, nil
}

// Progress summarizes frontier advancement against the workflow's
// static node count (spec §6 item 5's progress.total_nodes).
type Progress struct {
	TotalNodes        int
	CompletedNodes    int
	FailedNodes       int
	CompletionPercent float64
}

// ExecutionSnapshot is a read-only view of a WorkflowExecution's state,
// returned by GetWorkflowStatus so callers never touch the live mutex.
type ExecutionSnapshot struct {
	ExecutionID          string
	WorkflowID           string
	WorkflowName         string
	Status               ExecutionStatus
	CompletionPercent    float64
	Progress             Progress
	CurrentNodes         []string
	CompletedNodeCount   int
	FailedNodeCount      int
	NodeResults          map[string]NodeResult
	InitiatedBy          string
	Error                string
	StartedAt            time.Time
	CompletedAt          *time.Time
	ExecutionTimeSeconds float64
}

// GetWorkflowStatus returns a point-in-time snapshot of an execution,
// active or historical (spec §6 item 5).
func (eng *Engine) GetWorkflowStatus(executionID string) (ExecutionSnapshot, error) {
	eng.execMu.Lock()
	exec, ok := eng.active[executionID]
	eng.execMu.Unlock()
	if !ok {
		exec, ok = eng.findHistorical(executionID)
		if !ok {
			return ExecutionSnapshot{}, &Error{Kind: KindNotFound, ExecutionID: executionID, Message: ErrUnknownExecution.Error()}
		}
	}

	def, _ := eng.lookupDef(exec.WorkflowID)
	totalNodes := 0
	workflowName := ""
	if def != nil {
		totalNodes = len(def.Nodes)
		workflowName = def.Name
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	current := make([]string, 0, len(exec.CurrentNodes))
	for id := range exec.CurrentNodes {
		current = append(current, id)
	}
	results := make(map[string]NodeResult, len(exec.NodeResults))
	for id, res := range exec.NodeResults {
		results[id] = res
	}

	end := eng.clock.Now()
	if exec.CompletedAt != nil {
		end = *exec.CompletedAt
	}
	completion := exec.completionPercentage(totalNodes)

	return ExecutionSnapshot{
		ExecutionID:       exec.ExecutionID,
		WorkflowID:        exec.WorkflowID,
		WorkflowName:      workflowName,
		Status:            exec.Status,
		CompletionPercent: completion,
		Progress: Progress{
			TotalNodes:        totalNodes,
			CompletedNodes:    len(exec.CompletedNodes),
			FailedNodes:       len(exec.FailedNodes),
			CompletionPercent: completion,
		},
		CurrentNodes:         current,
		CompletedNodeCount:   len(exec.CompletedNodes),
		FailedNodeCount:      len(exec.FailedNodes),
		NodeResults:          results,
		InitiatedBy:          exec.InitiatedBy,
		Error:                exec.Error,
		StartedAt:            exec.StartedAt,
		CompletedAt:          exec.CompletedAt,
		ExecutionTimeSeconds: end.Sub(exec.StartedAt).Seconds(),
	}, nil
}

// CancelExecution transitions a running execution to CANCELLED and
// wakes anything blocked on its Done channel (spec §6: cancel_execution
// (execution_id, reason), path referenced by §4.4 and invariant I11).
// reason, when non-empty, becomes the execution's recorded Error so
// GetWorkflowStatus callers can see why it stopped. Cancelling an
// already terminal execution is a no-op, not an error.
func (eng *Engine) CancelExecution(executionID, reason string) error {
	eng.execMu.Lock()
	exec, ok := eng.active[executionID]
	eng.execMu.Unlock()
	if !ok {
		if _, found := eng.findHistorical(executionID); found {
			return nil
		}
		return &Error{Kind: KindNotFound, ExecutionID: executionID, Message: ErrUnknownExecution.Error()}
	}

	exec.mu.Lock()
	if exec.Status.terminal() {
		exec.mu.Unlock()
		return nil
	}
	exec.Status = StatusCancelled
	if reason != "" {
		exec.Error = reason
	}
	exec.mu.Unlock()
	exec.Cancel()

	eng.queue.Push(exec.Priority, exec.ExecutionID)
	return nil
}

// NodeTypeStat is the aggregated latency/success view for one NodeType,
// read out of the write side Engine.recordNodeTypeStat maintains on
// every node completion (spec §12 supplemented per-node-type metrics).
type NodeTypeStat struct {
	Count        int
	TotalSeconds float64
	Successes    int
}

// Configuration is a read-only view of the options an Engine was built
// with (spec §6 item 1's configuration field).
type Configuration struct {
	MaxConcurrentExecutions int
	MaxExecutionHistory     int
	DefaultNodeTimeout      time.Duration
	TimeoutMonitorInterval  time.Duration
	CleanupInterval         time.Duration
	StuckThreshold          time.Duration
}

// Status is the engine-wide health and aggregate-metrics snapshot (spec
// §6 item 1).
type Status struct {
	ActiveExecutions     int
	QueueDepth           int
	RegisteredWorkflows  int
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int
	AvgExecutionSeconds  float64
	ExecutionHistorySize int
	PerNodeType          map[NodeType]NodeTypeStat
	Configuration        Configuration
	Workflows            []string
}

// EngineStatus reports the engine's current load and running totals.
func (eng *Engine) EngineStatus() Status {
	eng.execMu.Lock()
	active := len(eng.active)
	historySize := len(eng.history)
	eng.execMu.Unlock()

	eng.defsMu.RLock()
	registered := len(eng.defs)
	workflows := make([]string, 0, len(eng.defs))
	for id := range eng.defs {
		workflows = append(workflows, id)
	}
	eng.defsMu.RUnlock()
	sort.Strings(workflows)

	eng.stats.mu.Lock()
	defer eng.stats.mu.Unlock()
	perNodeType := make(map[NodeType]NodeTypeStat, len(eng.stats.perNodeType))
	for t, s := range eng.stats.perNodeType {
		perNodeType[t] = NodeTypeStat{Count: s.count, TotalSeconds: s.totalSeconds, Successes: s.successes}
	}
	return Status{
		ActiveExecutions:     active,
		QueueDepth:           eng.queue.Len(),
		RegisteredWorkflows:  registered,
		TotalExecutions:      eng.stats.totalWorkflows,
		SuccessfulExecutions: eng.stats.successfulExecutions,
		FailedExecutions:     eng.stats.failedExecutions,
		AvgExecutionSeconds:  eng.stats.totalExecutionSeconds,
		ExecutionHistorySize: historySize,
		PerNodeType:          perNodeType,
		Configuration: Configuration{
			MaxConcurrentExecutions: eng.opts.MaxConcurrentExecutions,
			MaxExecutionHistory:     eng.opts.MaxExecutionHistory,
			DefaultNodeTimeout:      eng.opts.DefaultNodeTimeout,
			TimeoutMonitorInterval:  eng.opts.TimeoutMonitorInterval,
			CleanupInterval:         eng.opts.CleanupInterval,
			StuckThreshold:          eng.opts.StuckThreshold,
		},
		Workflows: workflows,
	}
}

// ResetStats clears all running aggregate metrics: the execution
// counters, the average execution time and the per-node-type
// aggregates.
func (eng *Engine) ResetStats() {
	eng.stats.mu.Lock()
	defer eng.stats.mu.Unlock()
	eng.stats.totalWorkflows = 0
	eng.stats.successfulExecutions = 0
	eng.stats.failedExecutions = 0
	eng.stats.totalExecutionSeconds = 0
	eng.stats.perNodeType = map[NodeType]*nodeTypeStats{}
}
