package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/orchflow/audit"
	"github.com/dshills/orchflow/engine/agent"
)

// S-audit. A completed execution is recorded to the configured audit sink.
func TestCompleteExecutionRecordsAuditSummary(t *testing.T) {
	agents := agent.NewRegistry()
	agents.Register("agent-x", agent.Func(func(_ context.Context, task agent.Task) (agent.Result, error) {
		return agent.Result{Success: true, Confidence: f64(0.9)}, nil
	}))

	sink := audit.NewMemorySink()
	eng, err := New(agents, WithAuditSink(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.Start()
	t.Cleanup(eng.Stop)

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
	awaitTerminal(t, eng, execID, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := sink.SummaryByExecutionID(context.Background(), execID); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected audit summary for execution %s to be recorded", execID)
}
