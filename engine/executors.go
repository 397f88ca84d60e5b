package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/orchflow/engine/agent"
)

// nodeOutcome is what running one node produces: either it completed
// (possibly as a failure recorded in its own result, e.g. a TASK that
// exhausted retries into an ERROR_HANDLER) or it needs a retry.
type nodeOutcome struct {
	nodeID       string
	result       NodeResult
	completed    bool // false => send back through the retry path
	timedOut     bool
	failedTerminal bool
}

// runNode executes one READY node per its type (spec §4.4.2). It is
// called once per node per attempt; the caller (execution loop) decides
// whether to re-invoke on retry.
func (eng *Engine) runNode(ctx context.Context, exec *WorkflowExecution, def *WorkflowDefinition, node Node) nodeOutcome {
	st := exec.nodeState(node.ID)
	now := eng.clock.Now()
	st.Status = NodeRunning
	st.StartedAt = &now

	switch node.Type {
	case NodeStart:
		return nodeOutcome{nodeID: node.ID, result: NodeResult{}, completed: true}

	case NodeEnd:
		return nodeOutcome{nodeID: node.ID, result: NodeResult{}, completed: true}

	case NodeParallel:
		return nodeOutcome{nodeID: node.ID, result: NodeResult{}, completed: true}

	case NodeTask:
		return eng.runTaskNode(ctx, exec, def, node, st)

	case NodeDecision, NodeCondition:
		met := evaluateDecisionConditions(exec.NodeResults, node.Conditions)
		res := NodeResult{Decision: &DecisionResult{Success: true, Decision: met, ConditionsMet: met}}
		return nodeOutcome{nodeID: node.ID, result: res, completed: true}

	case NodeMerge:
		return eng.runMergeNode(exec, def, node)

	case NodeDelay:
		return eng.runDelayNode(ctx, exec, node)

	case NodeSubprocess:
		return eng.runSubprocessNode(ctx, exec, node)

	default:
		res := NodeResult{Task: &TaskResult{Success: false, Error: fmt.Sprintf("%v: %s", ErrUnknownNodeType, node.Type)}}
		return nodeOutcome{nodeID: node.ID, result: res, completed: true, failedTerminal: true}
	}
}

// runTaskNode looks up the agent by agent_type, builds the Task per
// spec §4.2, and calls ProcessTask under the effective deadline.
func (eng *Engine) runTaskNode(ctx context.Context, exec *WorkflowExecution, def *WorkflowDefinition, node Node, st *NodeState) nodeOutcome {
	if node.AgentType == "" {
		return eng.failTask(exec, node, st, ErrNoSuitableAgent.Error(), false)
	}
	a, ok := eng.agents.Lookup(node.AgentType)
	if !ok {
		return eng.failTask(exec, node, st, fmt.Sprintf("%s: %s", ErrNoSuitableAgent, node.AgentType), false)
	}

	remaining := eng.workflowRemaining(def, exec)
	timeout := effectiveTimeout(node, remaining, eng.opts.DefaultNodeTimeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task := agent.Task{
		ID:          eng.clock.NewID(),
		Type:        node.Action,
		Description: node.Desc,
		Parameters:  node.Parameters,
		Context: agent.WorkflowContext{
			ExecutionID: exec.ExecutionID,
			NodeID:      node.ID,
			WorkflowID:  def.WorkflowID,
		},
	}

	result, err := a.ProcessTask(callCtx, task)
	if callCtx.Err() != nil {
		return eng.failTask(exec, node, st, fmt.Sprintf("timeout after %s", timeout), true)
	}
	if err != nil {
		return eng.failTask(exec, node, st, err.Error(), false)
	}
	if !result.Success {
		return eng.failTask(exec, node, st, result.Error, false)
	}

	tr := &TaskResult{
		Success: true, Confidence: result.Confidence, Sources: result.Sources,
		Evidence: result.Evidence, EvidenceQuality: result.EvidenceQuality,
		Completeness: result.Completeness, Payload: result.Payload,
	}
	return nodeOutcome{nodeID: node.ID, result: NodeResult{Task: tr}, completed: true}
}

// failTask applies spec §4.4.5's failure policy: retry if budget
// remains, else ERROR_HANDLER routing is left to the execution loop
// (it inspects failedTerminal), else terminal failure.
func (eng *Engine) failTask(exec *WorkflowExecution, node Node, st *NodeState, errMsg string, timedOut bool) nodeOutcome {
	st.LastError = errMsg
	maxRetries := node.effectiveMaxRetries()
	if st.RetryCount < maxRetries {
		st.RetryCount++
		st.Status = NodeReady
		eng.metrics.incRetry(node.Type)
		return nodeOutcome{nodeID: node.ID, completed: false, timedOut: timedOut}
	}
	tr := &TaskResult{Success: false, Error: errMsg}
	return nodeOutcome{nodeID: node.ID, result: NodeResult{Task: tr}, completed: true, timedOut: timedOut, failedTerminal: true}
}

// runMergeNode implements spec §4.4.2's MERGE: it is only ever invoked
// once isReady has confirmed every traversed-into predecessor is
// COMPLETED, so this just assembles the result.
func (eng *Engine) runMergeNode(exec *WorkflowExecution, def *WorkflowDefinition, node Node) nodeOutcome {
	byPred := map[string]NodeResult{}
	for _, e := range def.IncomingEdges(node.ID) {
		if !exec.TraversedInto[node.ID][e.ID] {
			continue
		}
		if res, ok := exec.NodeResults[e.From]; ok {
			byPred[e.From] = res
		}
	}
	res := NodeResult{Merge: &MergeResult{Success: true, ByPredecessor: byPred, MergeCount: len(byPred)}}
	return nodeOutcome{nodeID: node.ID, result: res, completed: true}
}

// runDelayNode sleeps parameters.delay_seconds, cancellable via ctx.
func (eng *Engine) runDelayNode(ctx context.Context, exec *WorkflowExecution, node Node) nodeOutcome {
	seconds, _ := node.Parameters["delay_seconds"].(float64)
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-exec.Done():
	case <-ctx.Done():
	}
	res := NodeResult{Delay: &DelayResult{Success: true, DelaySeconds: seconds}}
	return nodeOutcome{nodeID: node.ID, result: res, completed: true}
}

// runSubprocessNode re-enters the engine on the nested workflow_id, per
// spec §4.4.2 and §9 ("the natural implementation re-enters the engine
// on the same instance").
func (eng *Engine) runSubprocessNode(ctx context.Context, exec *WorkflowExecution, node Node) nodeOutcome {
	workflowID, _ := node.Parameters["workflow_id"].(string)
	subCtx, cancel := context.WithTimeout(ctx, defaultSubprocessTimeout)
	defer cancel()

	subID, err := eng.ExecuteWorkflow(workflowID, exec.ExecutionContext, exec.InitiatedBy, exec.Priority)
	if err != nil {
		res := NodeResult{Subprocess: &SubprocessResult{Success: false, Error: err.Error()}}
		return nodeOutcome{nodeID: node.ID, result: res, completed: true, failedTerminal: true}
	}

	status, err := eng.awaitSubprocess(subCtx, subID)
	if err != nil {
		res := NodeResult{Subprocess: &SubprocessResult{Success: false, ExecutionID: subID, Error: err.Error()}}
		return nodeOutcome{nodeID: node.ID, result: res, completed: true, failedTerminal: true}
	}
	res := NodeResult{Subprocess: &SubprocessResult{Success: status == StatusCompleted, ExecutionID: subID, Status: status}}
	return nodeOutcome{nodeID: node.ID, result: res, completed: true, failedTerminal: status != StatusCompleted}
}

const defaultSubprocessTimeout = 3600 * time.Second

// workflowRemaining returns how much of the workflow-wide timeout
// budget is left, or 0 if the definition has none.
func (eng *Engine) workflowRemaining(def *WorkflowDefinition, exec *WorkflowExecution) time.Duration {
	if def.Timeout == nil {
		return 0
	}
	deadline := exec.StartedAt.Add(*def.Timeout)
	remaining := deadline.Sub(eng.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
