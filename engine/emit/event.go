// Package emit provides event emission and observability for the workflow engine.
package emit

// Event is an observability event emitted during workflow execution.
//
// The engine emits "node_timeout" when the timeout monitor fails a node
// and "audit_record_failed" when an audit sink rejects a completed
// execution's summary. It emits no node start/end, edge routing or retry
// events.
type Event struct {
	// ExecutionID identifies the workflow execution that produced this event.
	ExecutionID string

	// Step is a monotonically increasing counter within one execution.
	// Zero for execution-level events (e.g. "audit_record_failed").
	Step int

	// NodeID identifies which node emitted the event. Empty for
	// execution-level events.
	NodeID string

	// Msg is a short event name, e.g. "node_timeout",
	// "audit_record_failed".
	Msg string

	// Meta carries event-specific structured data, e.g. "error" on
	// audit_record_failed events.
	Meta map[string]interface{}
}
