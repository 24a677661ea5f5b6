package events

import "context"

// Sink consumes events. Implementations must honor ctx deadlines and may
// be invoked concurrently with Close.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// dispatcher stays agnostic about how events are buffered or delivered.
type Emitter interface {
	Emit(evt Event)
}
