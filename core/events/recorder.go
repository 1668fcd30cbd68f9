package events

import "sync"

// Recorder is an Emitter that retains the most recent events in memory. A
// non-positive capacity keeps every event.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
}

// NewRecorder constructs a recorder bounded to capacity events.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{capacity: capacity}
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if r.capacity > 0 && len(r.events) > r.capacity {
		r.events = append([]Event(nil), r.events[len(r.events)-r.capacity:]...)
	}
}

// Events returns a copy of the retained events, oldest first.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// Reset drops every retained event.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
