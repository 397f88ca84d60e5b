package engine

import "fmt"

// NodeResult is the sum type stored in WorkflowExecution.NodeResults.
// At most one of the embedded variant fields is non-nil, matching which
// node type produced it; START, END and PARALLEL nodes store a
// NodeResult with every field nil (spec §9: model node results as a strongly
// typed sum rather than a free-form map). Accessors provide the
// defaults the edge evaluator (§4.4.4) depends on.
type NodeResult struct {
	Task       *TaskResult
	Decision   *DecisionResult
	Merge      *MergeResult
	Delay      *DelayResult
	Subprocess *SubprocessResult
}

// ResultAccessor exposes the fields the edge evaluator's built-in
// conditions read, with spec-mandated defaults when a variant doesn't
// carry the field (0.5 for confidence/completeness).
type ResultAccessor interface {
	Confidence() float64
	Completeness() float64
	Sources() []string
	Evidence() []string
	EvidenceQuality() float64
}

// TaskResult is what a TASK node stores after an agent call, mirroring
// the Agent.ProcessTask contract (spec §4.2).
type TaskResult struct {
	Success         bool
	Confidence      *float64
	Sources         []string
	Evidence        []string
	EvidenceQuality *float64
	Completeness    *float64
	Error           string
	Payload         map[string]any
}

// DecisionResult is what a DECISION/CONDITION node stores.
type DecisionResult struct {
	Success      bool
	Decision     bool
	ConditionsMet bool
}

// MergeResult is what a MERGE node stores: per-predecessor results plus
// the count of predecessors that actually contributed (spec's fixed
// answer: only traversed edges count).
type MergeResult struct {
	Success     bool
	ByPredecessor map[string]NodeResult
	MergeCount  int
}

// DelayResult is what a DELAY node stores.
type DelayResult struct {
	Success      bool
	DelaySeconds float64
}

// SubprocessResult is what a SUBPROCESS node stores: the embedded
// result of the nested execution.
type SubprocessResult struct {
	Success     bool
	ExecutionID string
	Status      ExecutionStatus
	Error       string
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Confidence implements ResultAccessor: a TASK result's confidence, or
// the spec default 0.5 when the task carries none. Every non-TASK
// result (including a merge) reports 0.5.
func (r NodeResult) Confidence() float64 {
	if r.Task != nil {
		return orDefault(r.Task.Confidence, 0.5)
	}
	return 0.5
}

func (r NodeResult) Completeness() float64 {
	if r.Task != nil {
		return orDefault(r.Task.Completeness, 0.5)
	}
	return 0.5
}

func (r NodeResult) Sources() []string {
	if r.Task != nil {
		return r.Task.Sources
	}
	return nil
}

func (r NodeResult) Evidence() []string {
	if r.Task != nil {
		return r.Task.Evidence
	}
	return nil
}

func (r NodeResult) EvidenceQuality() float64 {
	if r.Task != nil {
		return orDefault(r.Task.EvidenceQuality, 0)
	}
	return 0
}

// succeeded reports whether the producing node should be treated as
// COMPLETED (true) or routed to the failure policy (false). Only TASK
// and SUBPROCESS results can fail; every other node type always
// "succeeds" by construction once it runs.
func (r NodeResult) succeeded() bool {
	if r.Task != nil {
		return r.Task.Success
	}
	if r.Subprocess != nil {
		return r.Subprocess.Success
	}
	return true
}

func (r NodeResult) errorMessage() string {
	if r.Task != nil {
		return r.Task.Error
	}
	if r.Subprocess != nil {
		if r.Subprocess.Error != "" {
			return r.Subprocess.Error
		}
		return fmt.Sprintf("subprocess %s ended with status %s", r.Subprocess.ExecutionID, r.Subprocess.Status)
	}
	return ""
}
