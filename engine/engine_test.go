package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/orchflow/engine/agent"
)

func newTestEngine(t *testing.T) (*Engine, *agent.Registry) {
	t.Helper()
	agents := agent.NewRegistry()
	eng, err := New(agents)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng, agents
}

func awaitTerminal(t *testing.T, eng *Engine, execID string, timeout time.Duration) ExecutionSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap, err := eng.GetWorkflowStatus(execID)
		if err != nil {
			t.Fatalf("GetWorkflowStatus: %v", err)
		}
		if snap.Status.terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal status within %s", execID, timeout)
	return ExecutionSnapshot{}
}

func ptr(d time.Duration) *time.Duration { return &d }
func f64(v float64) *float64             { return &v }

// S1. Sequential happy path.
func TestSequentialHappyPath(t *testing.T) {
	eng, agents := newTestEngine(t)
	agents.Register("agent-x", agent.Func(func(_ context.Context, task agent.Task) (agent.Result, error) {
		return agent.Result{Success: true, Confidence: f64(0.9)}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "seq",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "agent-x"},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	execID, err := eng.ExecuteWorkflow("seq", map[string]any{}, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	snap := awaitTerminal(t, eng, execID, time.Second)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error=%s)", snap.Status, snap.Error)
	}
	if snap.CompletionPercent != 100 {
		t.Fatalf("completion = %v, want 100", snap.CompletionPercent)
	}
	if snap.WorkflowName != "" {
		t.Fatalf("expected empty workflow name (definition didn't set one), got %q", snap.WorkflowName)
	}
	if snap.InitiatedBy != "tester" {
		t.Fatalf("initiated_by = %q, want tester", snap.InitiatedBy)
	}
	if snap.Progress.TotalNodes != len(def.Nodes) {
		t.Fatalf("progress.total_nodes = %d, want %d", snap.Progress.TotalNodes, len(def.Nodes))
	}
	if got := snap.NodeResults["A"].Confidence(); got != 0.9 {
		t.Fatalf("node_results[A].confidence = %v, want 0.9", got)
	}
	if snap.ExecutionTimeSeconds < 0 {
		t.Fatalf("execution_time_seconds = %v, want >= 0", snap.ExecutionTimeSeconds)
	}
}

// Engine-wide status surfaces aggregate metrics, registered workflow
// names, and the per-node-type stats recordNodeTypeStat accumulates.
func TestEngineStatusSurfacesAggregates(t *testing.T) {
	eng, agents := newTestEngine(t)
	agents.Register("agent-x", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		return agent.Result{Success: true, Confidence: f64(0.9)}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "status-check",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "agent-x"},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	execID, err := eng.ExecuteWorkflow("status-check", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	awaitTerminal(t, eng, execID, time.Second)

	status := eng.EngineStatus()
	if status.RegisteredWorkflows != 1 || len(status.Workflows) != 1 || status.Workflows[0] != "status-check" {
		t.Fatalf("expected status-check as the only registered workflow, got %+v", status.Workflows)
	}
	if status.ExecutionHistorySize != 1 {
		t.Fatalf("execution_history_size = %d, want 1", status.ExecutionHistorySize)
	}
	if status.Configuration.MaxConcurrentExecutions != 100 {
		t.Fatalf("configuration.max_concurrent_executions = %d, want default 100", status.Configuration.MaxConcurrentExecutions)
	}
	taskStats, ok := status.PerNodeType[NodeTask]
	if !ok || taskStats.Count < 1 {
		t.Fatalf("expected per_node_type[TASK] to record at least 1 completion, got %+v", status.PerNodeType)
	}
}

// S2. Parallel fan-out with merge.
func TestParallelFanOutWithMerge(t *testing.T) {
	eng, agents := newTestEngine(t)
	sleeps := map[string]time.Duration{"A": 100 * time.Millisecond, "B": 200 * time.Millisecond, "C": 300 * time.Millisecond}
	for id, d := range sleeps {
		d := d
		agents.Register("agent-"+id, agent.Func(func(ctx context.Context, task agent.Task) (agent.Result, error) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return agent.Result{}, ctx.Err()
			}
			return agent.Result{Success: true}, nil
		}))
	}

	def := &WorkflowDefinition{
		WorkflowID: "fanout",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"P":     {ID: "P", Type: NodeParallel},
			"A":     {ID: "A", Type: NodeTask, AgentType: "agent-A"},
			"B":     {ID: "B", Type: NodeTask, AgentType: "agent-B"},
			"C":     {ID: "C", Type: NodeTask, AgentType: "agent-C"},
			"M":     {ID: "M", Type: NodeMerge},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "P", Type: EdgeSequential},
			{ID: "e2", From: "P", To: "A", Type: EdgeParallel},
			{ID: "e3", From: "P", To: "B", Type: EdgeParallel},
			{ID: "e4", From: "P", To: "C", Type: EdgeParallel},
			{ID: "e5", From: "A", To: "M", Type: EdgeSequential},
			{ID: "e6", From: "B", To: "M", Type: EdgeSequential},
			{ID: "e7", From: "C", To: "M", Type: EdgeSequential},
			{ID: "e8", From: "M", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	start := time.Now()
	execID, err := eng.ExecuteWorkflow("fanout", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	snap := awaitTerminal(t, eng, execID, 2*time.Second)
	elapsed := time.Since(start)

	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error=%s)", snap.Status, snap.Error)
	}
	if elapsed < 300*time.Millisecond || elapsed > 700*time.Millisecond {
		t.Fatalf("elapsed = %s, want roughly [300ms, 700ms) to prove parallelism", elapsed)
	}
}

// S3. Conditional branching on quality.
func TestConditionalBranchingOnQuality(t *testing.T) {
	eng, agents := newTestEngine(t)
	agents.Register("agent-x", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		return agent.Result{Success: true, Confidence: f64(0.9), Completeness: f64(0.9)}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "branch",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "agent-x"},
			"Q":     {ID: "Q", Type: NodeDecision},
			"end1":  {ID: "end1", Type: NodeEnd},
			"end2":  {ID: "end2", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "Q", Type: EdgeSequential},
			{ID: "e3", From: "Q", To: "end1", Type: EdgeConditional, Condition: "quality_sufficient"},
			{ID: "e4", From: "Q", To: "end2", Type: EdgeConditional, Condition: "quality_insufficient"},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	execID, err := eng.ExecuteWorkflow("branch", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	snap := awaitTerminal(t, eng, execID, time.Second)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error=%s)", snap.Status, snap.Error)
	}
	// end1 should have completed (quality_sufficient); end2 should never
	// have entered the frontier, so it never appears in node_results.
	full, ok := eng.findHistorical(execID)
	if !ok {
		t.Fatalf("execution %s missing from history", execID)
	}
	if _, ok := full.NodeResults["end1"]; !ok {
		t.Fatalf("end1 should have completed")
	}
	if _, ok := full.NodeResults["end2"]; ok {
		t.Fatalf("end2 should never have entered READY")
	}
}

// S4. Retry exhaustion with error handler.
func TestRetryExhaustionWithErrorHandler(t *testing.T) {
	eng, agents := newTestEngine(t)
	var calls int
	agents.Register("always-fail", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		calls++
		return agent.Result{Success: false, Error: "x"}, nil
	}))
	agents.Register("handler", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		return agent.Result{Success: true}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "retry",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "always-fail", MaxRetries: 2},
			"H":     {ID: "H", Type: NodeTask, AgentType: "handler"},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "H", Type: EdgeErrorHandler},
			{ID: "e3", From: "H", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	execID, err := eng.ExecuteWorkflow("retry", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	snap := awaitTerminal(t, eng, execID, time.Second)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED (error=%s)", snap.Status, snap.Error)
	}
	if calls != 3 {
		t.Fatalf("agent invoked %d times, want 3 (max_retries=2 => 1 + 2 retries)", calls)
	}
}

// I11: cancel idempotence.
func TestCancelIdempotent(t *testing.T) {
	eng, agents := newTestEngine(t)
	block := make(chan struct{})
	agents.Register("blocker", agent.Func(func(ctx context.Context, _ agent.Task) (agent.Result, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return agent.Result{Success: true}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "cancel",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "blocker"},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	execID, err := eng.ExecuteWorkflow("cancel", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := eng.CancelExecution(execID, "user requested cancellation"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := eng.CancelExecution(execID, "user requested cancellation"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	close(block)
}

// I12: execution history never exceeds max_execution_history.
func TestHistoryTrim(t *testing.T) {
	agents := agent.NewRegistry()
	agents.Register("agent-x", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		return agent.Result{Success: true}, nil
	}))
	eng, err := New(agents, WithMaxExecutionHistory(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start()
	t.Cleanup(eng.Stop)

	def := &WorkflowDefinition{
		WorkflowID: "trim",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "agent-x"},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	for i := 0; i < 5; i++ {
		execID, err := eng.ExecuteWorkflow("trim", nil, "tester", 3)
		if err != nil {
			t.Fatalf("ExecuteWorkflow: %v", err)
		}
		awaitTerminal(t, eng, execID, time.Second)
	}

	eng.execMu.Lock()
	size := len(eng.history)
	eng.execMu.Unlock()
	if size > 2 {
		t.Fatalf("history size = %d, want <= 2", size)
	}
}

// Cyclic subprocess references must be rejected at registration.
func TestRejectsCyclicSubprocess(t *testing.T) {
	eng, _ := newTestEngine(t)

	a := &WorkflowDefinition{
		WorkflowID: "wf-a",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"sub":   {ID: "sub", Type: NodeSubprocess, Parameters: map[string]any{"workflow_id": "wf-b"}},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "sub", Type: EdgeSequential},
			{ID: "e2", From: "sub", To: "end", Type: EdgeSequential},
		},
	}
	b := &WorkflowDefinition{
		WorkflowID: "wf-b",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"sub":   {ID: "sub", Type: NodeSubprocess, Parameters: map[string]any{"workflow_id": "wf-a"}},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "sub", Type: EdgeSequential},
			{ID: "e2", From: "sub", To: "end", Type: EdgeSequential},
		},
	}

	if _, err := eng.RegisterWorkflow(a); err != nil {
		t.Fatalf("RegisterWorkflow(a): %v", err)
	}
	if _, err := eng.RegisterWorkflow(b); err == nil {
		t.Fatal("RegisterWorkflow(b) should fail: cyclic subprocess reference")
	}
}

// Node-level retry budget: the agent is invoked at most max_retries+1 times.
func TestRetryBudgetRespected(t *testing.T) {
	eng, agents := newTestEngine(t)
	var calls int
	agents.Register("flaky", agent.Func(func(_ context.Context, _ agent.Task) (agent.Result, error) {
		calls++
		return agent.Result{Success: false, Error: "transient"}, nil
	}))

	def := &WorkflowDefinition{
		WorkflowID: "flaky-wf",
		Nodes: map[string]Node{
			"start": {ID: "start", Type: NodeStart},
			"A":     {ID: "A", Type: NodeTask, AgentType: "flaky", MaxRetries: 1},
			"end":   {ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "A", Type: EdgeSequential},
			{ID: "e2", From: "A", To: "end", Type: EdgeSequential},
		},
	}
	if _, err := eng.RegisterWorkflow(def); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}
	execID, err := eng.ExecuteWorkflow("flaky-wf", nil, "tester", 3)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	snap := awaitTerminal(t, eng, execID, time.Second)
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", snap.Status)
	}
	if calls != 2 {
		t.Fatalf("agent invoked %d times, want 2 (max_retries=1 => 1 + 1 retry)", calls)
	}
}

func TestUnknownWorkflowExecuteFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.ExecuteWorkflow("nope", nil, "tester", 3); err == nil {
		t.Fatal("expected error for unregistered workflow_id")
	}
}

func TestEffectiveTimeoutPicksMinimum(t *testing.T) {
	node := Node{Timeout: ptr(5 * time.Second)}
	got := effectiveTimeout(node, 2*time.Second, 30*time.Second)
	if got != 2*time.Second {
		t.Fatalf("effectiveTimeout = %s, want 2s (workflow_remaining is tightest)", got)
	}
	got = effectiveTimeout(Node{}, 0, 30*time.Second)
	if got != 30*time.Second {
		t.Fatalf("effectiveTimeout = %s, want transport default 30s", got)
	}
}
