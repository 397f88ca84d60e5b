package engine

// shouldTraverse implements spec §4.4.4's should_traverse(exec, e)
// table.
func shouldTraverse(exec *WorkflowExecution, def *WorkflowDefinition, e Edge, nodeTimedOut bool, nodeFailedTerminal bool) bool {
	switch e.Type {
	case EdgeSequential, EdgeParallel:
		return true
	case EdgeLoopBack:
		ok, _ := evaluateCondition(exec.NodeResults, e.Condition)
		return ok
	case EdgeErrorHandler:
		return nodeFailedTerminal
	case EdgeTimeout:
		return nodeTimedOut
	case EdgeConditional:
		if decisionResultsTrue(exec, def, e) {
			return true
		}
		ok, _ := evaluateCondition(exec.NodeResults, e.Condition)
		return ok
	default:
		return false
	}
}

// decisionResultsTrue lets a CONDITIONAL edge leaving a DECISION/
// CONDITION node consult that node's own recorded Decision bool instead
// of a named condition, when the edge's Condition string is empty.
func decisionResultsTrue(exec *WorkflowExecution, def *WorkflowDefinition, e Edge) bool {
	if e.Condition != "" {
		return false
	}
	src, ok := def.Nodes[e.From]
	if !ok || (src.Type != NodeDecision && src.Type != NodeCondition) {
		return false
	}
	res, ok := exec.NodeResults[e.From]
	if !ok || res.Decision == nil {
		return false
	}
	return res.Decision.Decision
}

// isReady implements spec §4.4.3's is_ready(T): whether target T may
// move to READY given the edges that were actually traversed into it.
func isReady(exec *WorkflowExecution, def *WorkflowDefinition, target Node) bool {
	if target.Type == NodeStart {
		return true
	}
	incoming := def.IncomingEdges(target.ID)
	for _, e := range incoming {
		if e.Type == EdgeParallel {
			return true // PARALLEL target: immediately, no predecessor check
		}
	}
	if target.Type == NodeMerge {
		for _, e := range incoming {
			if e.Type == EdgeConditional {
				if !exec.CompletedNodes[e.From] {
					return false // not yet decided whether this edge fires
				}
				if !exec.TraversedInto[target.ID][e.ID] {
					continue // condition evaluated false: no wait obligation
				}
				continue // evaluated true and already completed: satisfied
			}
			if !exec.CompletedNodes[e.From] {
				return false
			}
		}
		return true
	}
	for _, e := range incoming {
		if e.Type != EdgeSequential && e.Type != EdgeConditional {
			continue
		}
		if !exec.CompletedNodes[e.From] {
			return false
		}
		if e.Type == EdgeConditional && !exec.TraversedInto[target.ID][e.ID] {
			return false
		}
	}
	return true
}

// markTraversed records that edge e was selected for traversal into
// e.To, which is how MERGE's predecessor wait-set is computed (only
// traversed edges create an obligation — the spec's fixed answer to
// the open question in §9).
func markTraversed(exec *WorkflowExecution, e Edge) {
	set, ok := exec.TraversedInto[e.To]
	if !ok {
		set = map[string]bool{}
		exec.TraversedInto[e.To] = set
	}
	set[e.ID] = true
}

// updateFrontier implements spec §4.4.3's update_state: for a
// freshly-completed node, advance every edge that should be traversed
// and that makes its target ready.
func updateFrontier(exec *WorkflowExecution, def *WorkflowDefinition, completedNodeID string, timedOut, failedTerminal bool) {
	for _, e := range def.OutgoingEdges(completedNodeID) {
		if !shouldTraverse(exec, def, e, timedOut, failedTerminal) {
			continue
		}
		markTraversed(exec, e)
		target := def.Nodes[e.To]
		if isReady(exec, def, target) {
			st := exec.nodeState(target.ID)
			if st.Status == NodePending || st.Status == NodeFailedS {
				st.Status = NodeReady
				exec.CurrentNodes[target.ID] = true
			}
		}
	}
}
