package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/orchflow/audit"
	"github.com/dshills/orchflow/engine/agent"
	"github.com/dshills/orchflow/engine/emit"
)

// Option configures an Engine at construction time, in the teacher's
// functional-options idiom (graph/options.go): each Option validates
// eagerly and New fails fast on the first invalid one.
type Option func(*engineOptions) error

type engineOptions struct {
	MaxConcurrentExecutions int
	MaxExecutionHistory     int
	DefaultNodeTimeout      time.Duration
	TimeoutMonitorInterval  time.Duration
	CleanupInterval         time.Duration
	StuckThreshold          time.Duration
	Emitter                 emit.Emitter
	Metrics                 *Metrics
	Clock                   Clock
	AuditSink               audit.Sink
}

func defaultOptions() engineOptions {
	return engineOptions{
		MaxConcurrentExecutions: 100,
		MaxExecutionHistory:     1000,
		DefaultNodeTimeout:      30 * time.Second,
		TimeoutMonitorInterval:  30 * time.Second,
		CleanupInterval:         time.Hour,
		StuckThreshold:          4 * time.Hour,
		Emitter:                 emit.NewNullEmitter(),
		Clock:                   NewSystemClock(),
	}
}

func WithMaxConcurrentExecutions(n int) Option {
	return func(o *engineOptions) error {
		if n <= 0 {
			return fmt.Errorf("max concurrent executions must be positive, got %d", n)
		}
		o.MaxConcurrentExecutions = n
		return nil
	}
}

func WithMaxExecutionHistory(n int) Option {
	return func(o *engineOptions) error {
		if n <= 0 {
			return fmt.Errorf("max execution history must be positive, got %d", n)
		}
		o.MaxExecutionHistory = n
		return nil
	}
}

func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d <= 0 {
			return fmt.Errorf("default node timeout must be positive, got %s", d)
		}
		o.DefaultNodeTimeout = d
		return nil
	}
}

func WithTimeoutMonitorInterval(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d <= 0 {
			return fmt.Errorf("timeout monitor interval must be positive, got %s", d)
		}
		o.TimeoutMonitorInterval = d
		return nil
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d <= 0 {
			return fmt.Errorf("cleanup interval must be positive, got %s", d)
		}
		o.CleanupInterval = d
		return nil
	}
}

func WithStuckThreshold(d time.Duration) Option {
	return func(o *engineOptions) error {
		if d <= 0 {
			return fmt.Errorf("stuck threshold must be positive, got %s", d)
		}
		o.StuckThreshold = d
		return nil
	}
}

func WithEmitter(e emit.Emitter) Option {
	return func(o *engineOptions) error {
		if e == nil {
			return fmt.Errorf("emitter must not be nil")
		}
		o.Emitter = e
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *engineOptions) error {
		o.Metrics = m
		return nil
	}
}

// WithClock overrides the Clock, primarily for tests that need to
// advance simulated time for the timeout monitor and cleanup loop.
func WithClock(c Clock) Option {
	return func(o *engineOptions) error {
		if c == nil {
			return fmt.Errorf("clock must not be nil")
		}
		o.Clock = c
		return nil
	}
}

// WithAuditSink records a completed-execution summary to sink for every
// terminal WorkflowExecution. A nil sink (the default) disables
// recording entirely; this is reporting history, never loaded back to
// resume a live execution.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *engineOptions) error {
		o.AuditSink = sink
		return nil
	}
}

// Engine is the Workflow Engine scheduler (component J) plus the public
// façade (component K). One Engine owns the definitions map, the active
// executions map, the priority queue, and the background loops.
type Engine struct {
	opts   engineOptions
	clock  Clock
	emit   emit.Emitter
	agents *agent.Registry
	metrics *Metrics

	defsMu sync.RWMutex
	defs   map[string]*WorkflowDefinition

	execMu  sync.Mutex
	active  map[string]*WorkflowExecution
	history []*WorkflowExecution
	stats   engineStats

	queue *ExecutionQueue

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// engineStats backs EngineStatus's aggregate metrics (spec §6 item 1).
type engineStats struct {
	mu                    sync.Mutex
	totalWorkflows        int
	successfulExecutions  int
	failedExecutions      int
	totalExecutionSeconds float64
	perNodeType           map[NodeType]*nodeTypeStats
}

type nodeTypeStats struct {
	count       int
	totalSeconds float64
	successes   int
}

// New creates an Engine with the given agent registry and options.
func New(agents *agent.Registry, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if agents == nil {
		agents = agent.NewRegistry()
	}
	metrics := o.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Engine{
		opts:    o,
		clock:   o.Clock,
		emit:    o.Emitter,
		agents:  agents,
		metrics: metrics,
		defs:    map[string]*WorkflowDefinition{},
		active:  map[string]*WorkflowExecution{},
		queue:   NewExecutionQueue(),
		stopCh:  make(chan struct{}),
		stats:   engineStats{perNodeType: map[NodeType]*nodeTypeStats{}},
	}, nil
}

// Start launches the execution loop and the timeout-monitor and
// cleanup background loops (spec §5: "one execution loop, one timeout
// monitor, one performance monitor, one cleanup loop, all running
// concurrently").
func (eng *Engine) Start() {
	if eng.running {
		return
	}
	eng.running = true
	eng.wg.Add(3)
	go eng.executionLoop()
	go eng.timeoutMonitorLoop()
	go eng.cleanupLoop()
}

// Stop drains active work and terminates background loops within a
// bounded grace period (spec §4.5, §6 item 4: default 30s).
func (eng *Engine) Stop() {
	eng.stopOnce.Do(func() {
		eng.execMu.Lock()
		for _, exec := range eng.active {
			exec.Status = StatusCancelled
			exec.Error = "Engine shutdown"
			exec.Cancel()
		}
		eng.execMu.Unlock()
		close(eng.stopCh)
	})

	done := make(chan struct{})
	go func() { eng.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
	}
}

// executionLoop implements spec §4.4.1.
func (eng *Engine) executionLoop() {
	defer eng.wg.Done()
	for {
		execID, ok := eng.queue.Pop(eng.stopCh)
		if !ok {
			return
		}
		eng.execMu.Lock()
		exec, live := eng.active[execID]
		eng.execMu.Unlock()
		if !live {
			continue
		}

		if exec.Status == StatusCreated {
			exec.Status = StatusRunning
		}

		def, ok := eng.lookupDef(exec.WorkflowID)
		if !ok {
			continue
		}

		eng.processReadyFrontier(exec, def)

		if exec.Status.terminal() {
			eng.completeExecution(exec)
			continue
		}
		if exec.Status == StatusRunning {
			eng.queue.Push(exec.Priority, exec.ExecutionID)
		}
	}
}

// processReadyFrontier finds every node in CurrentNodes with status
// READY, dispatches task-like nodes concurrently, awaits them as a
// group, then advances the frontier — preserving the "one writer per
// node slot" discipline from spec §9's design note.
func (eng *Engine) processReadyFrontier(exec *WorkflowExecution, def *WorkflowDefinition) {
	// nodeState(id) is called here, under the lock, for every node about
	// to be dispatched so its *NodeState already exists in the map before
	// any goroutine touches it — the goroutines below then only mutate
	// the pointed-to struct, never the map itself, so no lock is needed
	// during dispatch.
	exec.mu.Lock()
	var ready []string
	for id := range exec.CurrentNodes {
		if st := exec.nodeState(id); st.Status == NodeReady {
			ready = append(ready, id)
		}
	}
	exec.mu.Unlock()

	if len(ready) == 0 {
		return
	}

	outcomes := make([]nodeOutcome, len(ready))
	var wg sync.WaitGroup
	for i, id := range ready {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			node := def.Nodes[id]
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-exec.Done():
					cancel()
				case <-ctx.Done():
				}
			}()
			defer cancel()
			outcomes[i] = eng.runNode(ctx, exec, def, node)
		}(i, id)
	}
	wg.Wait()

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, o := range outcomes {
		eng.finalizeOutcome(exec, def, o)
	}
}

// finalizeOutcome applies one node's nodeOutcome to the execution:
// either it stays READY for another retry attempt, or it is recorded as
// COMPLETED/FAILED and the frontier is advanced. Callers must hold
// exec.mu. Shared between processReadyFrontier (normal dispatch) and
// sweepTimeouts (the timeout monitor's out-of-band failure routing).
func (eng *Engine) finalizeOutcome(exec *WorkflowExecution, def *WorkflowDefinition, o nodeOutcome) {
	if !o.completed {
		// Retry path: failTask already flipped status back to READY.
		return
	}

	now := eng.clock.Now()
	st := exec.nodeState(o.nodeID)
	st.CompletedAt = &now
	exec.NodeResults[o.nodeID] = o.result
	delete(exec.CurrentNodes, o.nodeID)

	eng.recordNodeTypeStat(def.Nodes[o.nodeID].Type, st, o.result.succeeded())
	eng.observeNodeCompletion(def.Nodes[o.nodeID].Type, st, o.result.succeeded())

	if !o.result.succeeded() && o.failedTerminal {
		hasHandler := false
		for _, e := range def.OutgoingEdges(o.nodeID) {
			if e.Type == EdgeErrorHandler {
				hasHandler = true
			}
		}
		if hasHandler {
			st.Status = NodeDone // treated as completed for frontier purposes
			exec.CompletedNodes[o.nodeID] = true
			updateFrontier(exec, def, o.nodeID, o.timedOut, true)
		} else {
			exec.FailedNodes[o.nodeID] = true
			st.Status = NodeFailedS
			exec.Status = StatusFailed
			exec.Error = fmt.Sprintf("Node %s failed: %s", o.nodeID, o.result.errorMessage())
		}
		return
	}

	st.Status = NodeDone
	exec.CompletedNodes[o.nodeID] = true
	if def.Nodes[o.nodeID].Type == NodeEnd {
		exec.Status = StatusCompleted
	}
	updateFrontier(exec, def, o.nodeID, false, false)
}

func (eng *Engine) recordNodeTypeStat(t NodeType, st *NodeState, success bool) {
	if st.StartedAt == nil || st.CompletedAt == nil {
		return
	}
	eng.stats.mu.Lock()
	defer eng.stats.mu.Unlock()
	s, ok := eng.stats.perNodeType[t]
	if !ok {
		s = &nodeTypeStats{}
		eng.stats.perNodeType[t] = s
	}
	s.count++
	s.totalSeconds += st.CompletedAt.Sub(*st.StartedAt).Seconds()
	if success {
		s.successes++
	}
}

func (eng *Engine) observeNodeCompletion(t NodeType, st *NodeState, success bool) {
	if st.StartedAt == nil || st.CompletedAt == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	eng.metrics.observeNodeLatency(t, status, st.CompletedAt.Sub(*st.StartedAt))
}

func (eng *Engine) lookupDef(workflowID string) (*WorkflowDefinition, bool) {
	eng.defsMu.RLock()
	defer eng.defsMu.RUnlock()
	d, ok := eng.defs[workflowID]
	return d, ok
}

// awaitSubprocess polls GetWorkflowStatus for the nested execution until
// it reaches a terminal status or ctx expires.
func (eng *Engine) awaitSubprocess(ctx context.Context, execID string) (ExecutionStatus, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, err := eng.GetWorkflowStatus(execID)
		if err == nil && snap.Status.terminal() {
			return snap.Status, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
