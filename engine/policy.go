package engine

import "time"

// NodePolicy holds a TASK node's timeout and retry budget. The engine
// does not use it: effectiveTimeout and Node.effectiveMaxRetries supply
// those values.
// Unlike the teacher's graph/policy.go, there is no backoff/jitter here:
// spec §4.4.5 mandates no delay between node-level retries.
type NodePolicy struct {
	MaxRetries int
	Timeout    time.Duration
}

// effectiveTimeout returns the minimum of the node's own timeout, the
// remaining workflow-wide budget, and a transport default, per spec
// §4.4.2's "deadline = min(node.timeout, workflow_remaining_time,
// transport_default)".
func effectiveTimeout(node Node, workflowRemaining time.Duration, transportDefault time.Duration) time.Duration {
	d := transportDefault
	if node.Timeout != nil && *node.Timeout < d {
		d = *node.Timeout
	}
	if workflowRemaining > 0 && workflowRemaining < d {
		d = workflowRemaining
	}
	return d
}
