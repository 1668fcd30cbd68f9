package events

import "stablevault/core/types"

// Event represents a structured state change emitted by a module.
type Event interface {
	EventType() string
}

// Typed is implemented by events that can render their canonical payload.
type Typed interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Payload renders evt into its canonical form. Events without a payload
// render with their type only.
func Payload(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if typed, ok := evt.(Typed); ok {
		if payload := typed.Event(); payload != nil {
			return payload
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
