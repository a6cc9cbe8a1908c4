// Package eventbus provides synchronous fan-out pub/sub so plugins can
// observe each other's lifecycle and domain events without importing
// each other.
//
// Delivery is at-most-once per registered handler per Emit. Handlers for
// the same event type run in registration order; there is no ordering
// across types and no queueing or retry.
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"courseframework/pkg/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AllEvents is a wildcard type. Handlers registered under it receive every
// event after the type-specific handlers have run.
const AllEvents = "*"

var (
	// ErrNilHandler is returned when On is called without a handler.
	ErrNilHandler = errors.New("eventbus: handler cannot be nil")

	// ErrHandlerNotComparable is returned for handler values that have no
	// identity (e.g. a struct holding a func), since Off could never find them.
	ErrHandlerNotComparable = errors.New("eventbus: handler must be comparable; wrap functions with Func")
)

// Event is a transient notification. It is never persisted.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. A returned error is logged by the bus and
// never reaches the emitter.
type Handler interface {
	HandleEvent(Event) error
}

// FuncHandler adapts a function to Handler. Always use it through a
// pointer (see Func) so each registration has a stable identity.
type FuncHandler struct {
	fn func(Event) error
}

// Func wraps fn. Each call returns a distinct handler; keep the returned
// value to pass to Off later.
func Func(fn func(Event) error) *FuncHandler {
	return &FuncHandler{fn: fn}
}

// HandleEvent implements Handler
func (h *FuncHandler) HandleEvent(e Event) error {
	if h == nil || h.fn == nil {
		return nil
	}
	return h.fn(e)
}

// Subscription is returned by Subscribe and removes its handler when
// Unsubscribe is called.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus       *Bus
	eventType string
	handler   Handler
	once      sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.Off(s.eventType, s.handler)
	})
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock sets the clock used to stamp events that arrive without a timestamp.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) {
		if c != nil {
			b.clock = c
		}
	}
}

// Bus is a synchronous event bus. It is safe for concurrent use; handlers
// run outside the lock and may call On or Off themselves.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
	clock    clock.Clock
}

// New creates an empty bus.
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.Named("eventbus"),
		clock:    clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers h under eventType. Registering the same handler twice for
// the same type has no additional effect.
func (b *Bus) On(eventType string, h Handler) error {
	if err := checkHandler(h); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.handlers[eventType] {
		if existing == h {
			return nil
		}
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
	return nil
}

// Off removes h from eventType. Removing an unknown handler is a no-op.
// A type left with no handlers is dropped entirely.
func (b *Bus) Off(eventType string, h Handler) {
	if checkHandler(h) != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.handlers[eventType]
	if !ok {
		return
	}

	for i, existing := range handlers {
		if existing != h {
			continue
		}
		remaining := make([]Handler, 0, len(handlers)-1)
		remaining = append(remaining, handlers[:i]...)
		remaining = append(remaining, handlers[i+1:]...)
		if len(remaining) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = remaining
		}
		return
	}
}

// Subscribe is a convenience around On for plain functions.
func (b *Bus) Subscribe(eventType string, fn func(Event) error) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	h := Func(fn)
	if err := b.On(eventType, h); err != nil {
		return nil, err
	}
	return &subscription{bus: b, eventType: eventType, handler: h}, nil
}

// Emit delivers event to every handler currently registered for its type,
// then to wildcard handlers. It fills in ID and Timestamp when empty and
// returns the event as delivered.
func (b *Bus) Emit(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clock.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.handlers[AllEvents]))
	handlers = append(handlers, b.handlers[event.Type]...)
	if event.Type != AllEvents {
		handlers = append(handlers, b.handlers[AllEvents]...)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
	return event
}

// HandlerCount returns the number of handlers registered under eventType.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Types returns the event types that currently have handlers.
func (b *Bus) Types() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	return types
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_type", event.Type),
				zap.String("event_id", event.ID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := h.HandleEvent(event); err != nil {
		b.logger.Warn("Event handler failed",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func checkHandler(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNilHandler
	}
	if !v.Type().Comparable() || !selfEqual(h) {
		return ErrHandlerNotComparable
	}
	return nil
}

// selfEqual reports whether h can be compared with ==. A struct type is
// Comparable even when an interface field holds a func, and comparing such
// a value panics at run time.
func selfEqual(h Handler) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	a, b := h, h
	return a == b
}
