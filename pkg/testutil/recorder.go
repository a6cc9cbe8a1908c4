package testutil

import (
	"sync"

	"courseframework/pkg/eventbus"
)

// Recorder records every event emitted on a bus for later assertions.
type Recorder struct {
	mu      sync.Mutex
	events  []eventbus.Event
	bus     *eventbus.Bus
	handler *eventbus.FuncHandler
}

// NewRecorder subscribes a recorder to all events on bus.
func NewRecorder(bus *eventbus.Bus) (*Recorder, error) {
	r := &Recorder{bus: bus}
	r.handler = eventbus.Func(func(e eventbus.Event) error {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		return nil
	})
	if err := bus.On(eventbus.AllEvents, r.handler); err != nil {
		return nil, err
	}
	return r, nil
}

// Events returns a copy of every recorded event in emission order.
func (r *Recorder) Events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of each recorded event in emission order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// Count returns how many events of eventType were recorded.
func (r *Recorder) Count(eventType string) int {
	return len(FilterEvents(r.Events(), eventType))
}

// Clear forgets recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	r.bus.Off(eventbus.AllEvents, r.handler)
}

// FilterEvents filters events by type
func FilterEvents(events []eventbus.Event, eventType string) []eventbus.Event {
	var filtered []eventbus.Event
	for _, e := range events {
		if e.Type == eventType {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// FindEventWithPayload finds the latest event of eventType whose map payload
// has key set to value
func FindEventWithPayload(events []eventbus.Event, eventType, key string, value any) *eventbus.Event {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Type != eventType {
			continue
		}
		if payload, ok := e.Payload.(map[string]any); ok && payload[key] == value {
			return &e
		}
	}
	return nil
}
