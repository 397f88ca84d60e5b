// Package agent defines the Agent contract the workflow engine dispatches
// TASK nodes to, and an in-memory registry keyed by capability
// ("agent_type"). Agent implementations themselves (OSINT, forensics,
// reporting, etc.) are out of scope — this package only models the
// boundary.
package agent

import (
	"context"
	"fmt"
	"sync"
)

// WorkflowContext identifies where a Task originates.
type WorkflowContext struct {
	ExecutionID string
	NodeID      string
	WorkflowID  string
}

// Task is the unit of work handed to an Agent.
type Task struct {
	ID          string
	Type        string
	Description string
	Parameters  map[string]any // read-only by contract
	Context     WorkflowContext
}

// Result is what an Agent reports back for one Task.
type Result struct {
	Success         bool
	Confidence      *float64
	Sources         []string
	Evidence        []string
	EvidenceQuality *float64
	Completeness    *float64
	Error           string
	Payload         map[string]any
}

// Agent processes one Task and returns a Result. ProcessTask may block;
// the engine enforces timeouts externally via ctx. Implementations must
// be reentrant: the engine may invoke the same Agent concurrently for
// different nodes, and must treat Task.Parameters as read-only.
type Agent interface {
	ProcessTask(ctx context.Context, task Task) (Result, error)
}

// Func adapts a plain function to the Agent interface.
type Func func(ctx context.Context, task Task) (Result, error)

func (f Func) ProcessTask(ctx context.Context, task Task) (Result, error) {
	return f(ctx, task)
}

// Registry maps a capability key ("agent_type") to the Agent that
// handles it.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register binds agentType to handler, replacing any existing binding.
func (r *Registry) Register(agentType string, handler Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentType] = handler
}

// Lookup returns the Agent bound to agentType.
func (r *Registry) Lookup(agentType string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentType]
	return a, ok
}

// ErrNoSuitableAgent is returned by Dispatch when agentType has no
// registered handler.
var ErrNoSuitableAgent = fmt.Errorf("no suitable agent")

// Dispatch looks up agentType and runs the task, or fails fast with
// ErrNoSuitableAgent.
func (r *Registry) Dispatch(ctx context.Context, agentType string, task Task) (Result, error) {
	a, ok := r.Lookup(agentType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSuitableAgent, agentType)
	}
	return a.ProcessTask(ctx, task)
}
