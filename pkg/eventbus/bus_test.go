package eventbus

import (
	"errors"
	"testing"
	"time"

	"courseframework/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder implements Handler and remembers what it saw
type recorder struct {
	name  string
	log   *[]string
	err   error
	calls int
}

func (r *recorder) HandleEvent(e Event) error {
	r.calls++
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	return r.err
}

// funcTypeHandler is a func type implementing Handler; it has no identity
type funcTypeHandler func(Event) error

func (f funcTypeHandler) HandleEvent(e Event) error { return f(e) }

// boxedHandler is a comparable struct type whose field may hold a func
type boxedHandler struct {
	fn any
}

func (b boxedHandler) HandleEvent(e Event) error { return nil }

func newTestBus() *Bus {
	logger, _ := zap.NewDevelopment()
	return New(logger)
}

func TestBus_EmitCreatedScenario(t *testing.T) {
	bus := newTestBus()

	var order []string
	first := &recorder{name: "first", log: &order, err: errors.New("boom")}
	second := &recorder{name: "second", log: &order}
	other := &recorder{name: "other", log: &order}

	require.NoError(t, bus.On("course:created", first))
	require.NoError(t, bus.On("course:created", second))
	require.NoError(t, bus.On("course:deleted", other))

	assert.NotPanics(t, func() {
		bus.Emit(Event{Type: "course:created", Payload: map[string]string{"id": "c1"}})
	})

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, other.calls)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := newTestBus()

	called := false
	require.NoError(t, bus.On("x", Func(func(Event) error { panic("handler exploded") })))
	require.NoError(t, bus.On("x", Func(func(Event) error { called = true; return nil })))

	assert.NotPanics(t, func() { bus.Emit(Event{Type: "x"}) })
	assert.True(t, called)
}

func TestBus_OnDeduplicatesByIdentity(t *testing.T) {
	bus := newTestBus()
	h := &recorder{name: "h"}

	require.NoError(t, bus.On("x", h))
	require.NoError(t, bus.On("x", h))
	assert.Equal(t, 1, bus.HandlerCount("x"))

	bus.Emit(Event{Type: "x"})
	assert.Equal(t, 1, h.calls)

	// Same function body, different wrappers: two handlers
	fn := func(Event) error { return nil }
	require.NoError(t, bus.On("y", Func(fn)))
	require.NoError(t, bus.On("y", Func(fn)))
	assert.Equal(t, 2, bus.HandlerCount("y"))
}

func TestBus_OnRejectsInvalidHandlers(t *testing.T) {
	bus := newTestBus()

	assert.ErrorIs(t, bus.On("x", nil), ErrNilHandler)

	var nilRecorder *recorder
	assert.ErrorIs(t, bus.On("x", nilRecorder), ErrNilHandler)

	assert.ErrorIs(t, bus.On("x", funcTypeHandler(func(Event) error { return nil })), ErrHandlerNotComparable)
	assert.Equal(t, 0, bus.HandlerCount("x"))
}

func TestBus_OnRejectsStructHoldingFunc(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.On("x", &recorder{name: "a"}))

	first := boxedHandler{fn: func() {}}
	second := boxedHandler{fn: func() {}}

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, bus.On("x", first), ErrHandlerNotComparable)
		assert.ErrorIs(t, bus.On("x", second), ErrHandlerNotComparable)
		bus.Off("x", first)
	})
	assert.Equal(t, 1, bus.HandlerCount("x"))

	// The same type holding a comparable value is fine
	require.NoError(t, bus.On("x", boxedHandler{fn: "static"}))
	require.NoError(t, bus.On("x", boxedHandler{fn: "static"}))
	assert.Equal(t, 2, bus.HandlerCount("x"))
}

func TestBus_OffIsIdempotent(t *testing.T) {
	bus := newTestBus()
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}

	require.NoError(t, bus.On("x", a))
	require.NoError(t, bus.On("x", b))

	bus.Off("x", a)
	assert.NotPanics(t, func() { bus.Off("x", a) })
	assert.NotPanics(t, func() { bus.Off("never-registered", a) })

	bus.Emit(Event{Type: "x"})
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestBus_OffDropsEmptyBucket(t *testing.T) {
	bus := newTestBus()
	h := &recorder{name: "h"}

	require.NoError(t, bus.On("short-lived", h))
	assert.Contains(t, bus.Types(), "short-lived")

	bus.Off("short-lived", h)
	assert.NotContains(t, bus.Types(), "short-lived")
	assert.Equal(t, 0, bus.HandlerCount("short-lived"))
}

func TestBus_HandlerMayUnsubscribeDuringEmit(t *testing.T) {
	bus := newTestBus()

	var sub Subscription
	calls := 0
	sub, err := bus.Subscribe("x", func(Event) error {
		calls++
		sub.Unsubscribe()
		return nil
	})
	require.NoError(t, err)

	bus.Emit(Event{Type: "x"})
	bus.Emit(Event{Type: "x"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.HandlerCount("x"))

	// Unsubscribe again is harmless
	assert.NotPanics(t, sub.Unsubscribe)
}

func TestBus_SubscribeNilFunc(t *testing.T) {
	bus := newTestBus()
	sub, err := bus.Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	assert.Nil(t, sub)
}

func TestBus_EmitStampsEvents(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock := clock.NewMockClock(start)
	bus := New(zap.NewNop(), WithClock(mock))

	var seen Event
	_, err := bus.Subscribe("x", func(e Event) error { seen = e; return nil })
	require.NoError(t, err)

	delivered := bus.Emit(Event{Type: "x"})
	assert.NotEmpty(t, delivered.ID)
	assert.Equal(t, start, delivered.Timestamp)
	assert.Equal(t, delivered, seen)

	explicit := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	delivered = bus.Emit(Event{ID: "fixed", Type: "x", Timestamp: explicit})
	assert.Equal(t, "fixed", delivered.ID)
	assert.Equal(t, explicit, delivered.Timestamp)
}

func TestBus_WildcardHandlersRunAfterTyped(t *testing.T) {
	bus := newTestBus()

	var order []string
	require.NoError(t, bus.On(AllEvents, &recorder{name: "wildcard", log: &order}))
	require.NoError(t, bus.On("x", &recorder{name: "typed", log: &order}))

	bus.Emit(Event{Type: "x"})
	bus.Emit(Event{Type: "y"})

	assert.Equal(t, []string{"typed", "wildcard", "wildcard"}, order)
}

func TestBus_EmitWithoutHandlers(t *testing.T) {
	bus := newTestBus()
	assert.NotPanics(t, func() { bus.Emit(Event{Type: "nobody-listens"}) })
}
