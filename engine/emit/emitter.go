package emit

import "context"

// Emitter receives observability events produced by the engine (the
// provider manager emits none). Implementations must be non-blocking and
// safe for concurrent use: the engine calls Emit from its timeout-monitor
// goroutine and from whichever goroutine completes an execution.
type Emitter interface {
	// Emit sends a single event. Must not panic or block meaningfully.
	Emit(event Event)

	// EmitBatch sends events in order. Returns an error only for
	// catastrophic backend failures; individual event drops should be
	// absorbed internally.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until buffered events have been delivered or ctx
	// expires. Safe to call more than once.
	Flush(ctx context.Context) error
}
