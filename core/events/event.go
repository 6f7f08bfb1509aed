package events

import (
	"sync"

	"finerp/core/types"
)

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves in the
// canonical types.Event form stored in receipts and the audit log.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Wrap adapts a plain types.Event to the Payload interface.
type Wrap struct {
	Evt *types.Event
}

func (w Wrap) EventType() string {
	if w.Evt == nil {
		return ""
	}
	return w.Evt.Type
}

func (w Wrap) Event() *types.Event { return w.Evt }

// Buffer collects events emitted while a transaction executes. Marks let a
// nested call drop its own events when it reverts without disturbing events
// already emitted by the outer call.
type Buffer struct {
	mu     sync.Mutex
	events []*types.Event
}

func (b *Buffer) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, rendered)
	b.mu.Unlock()
}

// Mark returns the current length for a later Truncate.
func (b *Buffer) Mark() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Truncate drops every event recorded after mark.
func (b *Buffer) Truncate(mark int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mark >= 0 && mark < len(b.events) {
		b.events = b.events[:mark]
	}
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Fanout forwards each event to every configured emitter.
type Fanout []Emitter

func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
