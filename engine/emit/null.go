package emit

import "context"

// NullEmitter discards every event. Use it when observability overhead is
// unwanted or in tests that don't assert on events.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (n *NullEmitter) Emit(event Event) {}

func (n *NullEmitter) EmitBatch(_ context.Context, events []Event) error {
	return nil
}

func (n *NullEmitter) Flush(_ context.Context) error {
	return nil
}
