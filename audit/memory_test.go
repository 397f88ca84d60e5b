package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySink_RecordAndLookup(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	s := sampleSummary("exec-001", time.Now())
	if err := sink.RecordCompletion(ctx, s); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}

	got, err := sink.SummaryByExecutionID(ctx, "exec-001")
	if err != nil {
		t.Fatalf("SummaryByExecutionID failed: %v", err)
	}
	if got.WorkflowID != "wf-1" {
		t.Errorf("unexpected summary: %+v", got)
	}
}

func TestMemorySink_SummaryByExecutionIDNotFound(t *testing.T) {
	sink := NewMemorySink()
	_, err := sink.SummaryByExecutionID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySink_RecentSummariesOrderedAndLimited(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	base := time.Now()
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		s := sampleSummary(id, base.Add(time.Duration(i)*time.Minute))
		if err := sink.RecordCompletion(ctx, s); err != nil {
			t.Fatalf("RecordCompletion(%s) failed: %v", id, err)
		}
	}

	got, err := sink.RecentSummaries(ctx, 2)
	if err != nil {
		t.Fatalf("RecentSummaries failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[0].ExecutionID != "exec-3" || got[1].ExecutionID != "exec-2" {
		t.Errorf("expected most recent first, got %s, %s", got[0].ExecutionID, got[1].ExecutionID)
	}
}

func TestMemorySink_InterfaceCompliance(t *testing.T) {
	var _ Sink = (*MemorySink)(nil)
}
