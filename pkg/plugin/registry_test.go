package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockPlugin records how its hooks were called
type mockPlugin struct {
	id         string
	initCalls  atomic.Int32
	destroyed  atomic.Bool
	initErr    error
	destroyErr error
	set        components.Set
	lastConfig Config
	mu         sync.Mutex
}

func (m *mockPlugin) descriptor() Descriptor {
	return Descriptor{
		ID:      m.id,
		Name:    "Mock " + m.id,
		Version: "0.0.1",
		Initialize: func(ctx context.Context, cfg Config) (components.Set, error) {
			m.initCalls.Add(1)
			m.mu.Lock()
			m.lastConfig = cfg
			m.mu.Unlock()
			if m.initErr != nil {
				return nil, m.initErr
			}
			return m.set, nil
		},
		Destroy: func(ctx context.Context) error {
			m.destroyed.Store(true)
			return m.destroyErr
		},
	}
}

func newTestRegistry(opts ...Option) *Registry {
	logger, _ := zap.NewDevelopment()
	return NewRegistry(logger, opts...)
}

func TestRegistry_Register(t *testing.T) {
	noop := func(ctx context.Context, cfg Config) (components.Set, error) { return nil, nil }

	tests := []struct {
		name        string
		desc        Descriptor
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid registration",
			desc:    Descriptor{ID: "course-builder", Name: "Course Builder", Version: "1.0.0", Initialize: noop},
			wantErr: false,
		},
		{
			name:        "empty id",
			desc:        Descriptor{ID: "", Initialize: noop},
			wantErr:     true,
			errContains: "id cannot be empty",
		},
		{
			name:        "nil initialize",
			desc:        Descriptor{ID: "course-builder"},
			wantErr:     true,
			errContains: "initialize hook cannot be nil",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry()
			err := registry.Register(tt.desc)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				assert.Empty(t, registry.List())
			} else {
				assert.NoError(t, err)
				assert.Len(t, registry.List(), 1)
			}
		})
	}
}

func TestRegistry_DuplicateRegisterIsNoOp(t *testing.T) {
	registry := newTestRegistry()

	first := &mockPlugin{id: "course-builder"}
	second := &mockPlugin{id: "course-builder"}

	require.NoError(t, registry.Register(first.descriptor()))
	before := len(registry.List())

	err := registry.Register(second.descriptor())
	require.NoError(t, err, "duplicate is a warning, not an error")
	assert.Len(t, registry.List(), before)

	// The original descriptor is still the one that runs
	_, err = registry.Initialize(context.Background(), "course-builder", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), first.initCalls.Load())
	assert.Equal(t, int32(0), second.initCalls.Load())
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	registry := newTestRegistry()

	for _, id := range []string{"payments", "analytics", "course-builder", "community"} {
		require.NoError(t, registry.Register((&mockPlugin{id: id}).descriptor()))
	}

	ids := make([]string, 0)
	for _, d := range registry.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"payments", "analytics", "course-builder", "community"}, ids)
	assert.Equal(t, ids, registry.IDs())

	require.NoError(t, registry.Unregister(context.Background(), "analytics"))
	assert.Equal(t, []string{"payments", "course-builder", "community"}, registry.IDs())
}

func TestRegistry_Get(t *testing.T) {
	registry := newTestRegistry()
	require.NoError(t, registry.Register((&mockPlugin{id: "certificates"}).descriptor()))

	d, ok := registry.Get("certificates")
	require.True(t, ok)
	assert.Equal(t, "Mock certificates", d.Name)

	_, ok = registry.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_InitializeUnknown(t *testing.T) {
	registry := newTestRegistry()
	require.NoError(t, registry.Register((&mockPlugin{id: "known"}).descriptor()))

	set, err := registry.Initialize(context.Background(), "unknown", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, set)
	assert.False(t, registry.IsInitialized("unknown"))
	assert.False(t, registry.IsInitialized("known"))
}

func TestRegistry_InitializePassesConfigAndReturnsSet(t *testing.T) {
	registry := newTestRegistry()
	p := &mockPlugin{id: "course-builder", set: components.Set{"CourseList": {Name: "CourseList"}}}
	require.NoError(t, registry.Register(p.descriptor()))

	set, err := registry.Initialize(context.Background(), "course-builder", Config{"max_modules": 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"CourseList"}, set.Names())
	assert.Equal(t, 5, p.lastConfig["max_modules"])
	assert.True(t, registry.IsInitialized("course-builder"))
}

func TestRegistry_InitializeNilConfigBecomesEmpty(t *testing.T) {
	registry := newTestRegistry()
	p := &mockPlugin{id: "p"}
	require.NoError(t, registry.Register(p.descriptor()))

	_, err := registry.Initialize(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.NotNil(t, p.lastConfig)
	assert.Empty(t, p.lastConfig)
}

func TestRegistry_InitializeIsIdempotent(t *testing.T) {
	registry := newTestRegistry()
	p := &mockPlugin{id: "p", set: components.Set{"A": {}}}
	require.NoError(t, registry.Register(p.descriptor()))

	_, err := registry.Initialize(context.Background(), "p", nil)
	require.NoError(t, err)

	set, err := registry.Initialize(context.Background(), "p", nil)
	assert.NoError(t, err)
	assert.Nil(t, set)
	assert.Equal(t, int32(1), p.initCalls.Load(), "hook must not run twice")
}

func TestRegistry_InitializeFailureAllowsRetry(t *testing.T) {
	registry := newTestRegistry()
	hookErr := errors.New("database unreachable")
	p := &mockPlugin{id: "p", initErr: hookErr}
	require.NoError(t, registry.Register(p.descriptor()))

	_, err := registry.Initialize(context.Background(), "p", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, hookErr)

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "p", initErr.PluginID)
	assert.Same(t, hookErr, initErr.Err)
	assert.False(t, registry.IsInitialized("p"))

	p.initErr = nil
	_, err = registry.Initialize(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.True(t, registry.IsInitialized("p"))
	assert.Equal(t, int32(2), p.initCalls.Load())
}

func TestRegistry_InitializePanicIsFailure(t *testing.T) {
	registry := newTestRegistry()
	require.NoError(t, registry.Register(Descriptor{
		ID: "p",
		Initialize: func(ctx context.Context, cfg Config) (components.Set, error) {
			panic("bad plugin")
		},
	}))

	_, err := registry.Initialize(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.Contains(t, err.Error(), "bad plugin")
	assert.False(t, registry.IsInitialized("p"))
}

func TestRegistry_InitTimeout(t *testing.T) {
	registry := newTestRegistry(WithInitTimeout(20 * time.Millisecond))

	release := make(chan struct{})
	defer close(release)

	require.NoError(t, registry.Register(Descriptor{
		ID: "hung",
		Initialize: func(ctx context.Context, cfg Config) (components.Set, error) {
			<-release // ignores ctx on purpose
			return nil, nil
		},
	}))

	start := time.Now()
	_, err := registry.Initialize(context.Background(), "hung", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, registry.IsInitialized("hung"))
}

func TestRegistry_ConcurrentInitializeRunsHookOnce(t *testing.T) {
	registry := newTestRegistry()

	gate := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, registry.Register(Descriptor{
		ID: "slow",
		Initialize: func(ctx context.Context, cfg Config) (components.Set, error) {
			calls.Add(1)
			<-gate
			return components.Set{"A": {}}, nil
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Initialize(context.Background(), "slow", nil)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, registry.IsInitialized("slow"))
}

func TestRegistry_Unregister(t *testing.T) {
	registry := newTestRegistry()
	p := &mockPlugin{id: "p"}
	require.NoError(t, registry.Register(p.descriptor()))

	_, err := registry.Initialize(context.Background(), "p", nil)
	require.NoError(t, err)
	require.True(t, registry.IsInitialized("p"))

	require.NoError(t, registry.Unregister(context.Background(), "p"))
	assert.True(t, p.destroyed.Load())

	_, ok := registry.Get("p")
	assert.False(t, ok)
	assert.False(t, registry.IsInitialized("p"))

	// Unknown id is harmless
	assert.NoError(t, registry.Unregister(context.Background(), "p"))
}

func TestRegistry_UnregisterDestroyErrorStillRemoves(t *testing.T) {
	registry := newTestRegistry()
	destroyErr := errors.New("flush failed")
	p := &mockPlugin{id: "p", destroyErr: destroyErr}
	require.NoError(t, registry.Register(p.descriptor()))
	_, err := registry.Initialize(context.Background(), "p", nil)
	require.NoError(t, err)

	err = registry.Unregister(context.Background(), "p")
	assert.ErrorIs(t, err, destroyErr)

	_, ok := registry.Get("p")
	assert.False(t, ok)
	assert.False(t, registry.IsInitialized("p"))
	assert.Empty(t, registry.IDs())
}

func TestRegistry_UnregisterWithoutDestroy(t *testing.T) {
	registry := newTestRegistry()
	require.NoError(t, registry.Register(Descriptor{
		ID:         "p",
		Initialize: func(ctx context.Context, cfg Config) (components.Set, error) { return nil, nil },
	}))

	assert.NoError(t, registry.Unregister(context.Background(), "p"))
	assert.Empty(t, registry.List())
}

func TestRegistry_InitializeAll(t *testing.T) {
	registry := newTestRegistry()

	builder := &mockPlugin{id: "course-builder", set: components.Set{"CourseList": {}}}
	community := &mockPlugin{id: "community", set: components.Set{"CommunityFeed": {}}}
	analytics := &mockPlugin{id: "analytics"}
	for _, p := range []*mockPlugin{builder, community, analytics} {
		require.NoError(t, registry.Register(p.descriptor()))
	}

	sets, err := registry.InitializeAll(context.Background(), map[string]Config{
		"course-builder": {"max_modules": 3},
	})
	require.NoError(t, err)

	assert.Len(t, sets, 2, "plugins without components are omitted")
	assert.Contains(t, sets, "course-builder")
	assert.Contains(t, sets, "community")

	assert.Equal(t, 3, builder.lastConfig["max_modules"])
	assert.NotNil(t, community.lastConfig)
	assert.Empty(t, community.lastConfig)

	for _, id := range []string{"course-builder", "community", "analytics"} {
		assert.True(t, registry.IsInitialized(id), id)
	}
}

func TestRegistry_InitializeAllRunsConcurrently(t *testing.T) {
	registry := newTestRegistry()

	// Each hook waits until all three have started; sequential execution would deadlock
	var started sync.WaitGroup
	started.Add(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, registry.Register(Descriptor{
			ID: id,
			Initialize: func(ctx context.Context, cfg Config) (components.Set, error) {
				started.Done()
				started.Wait()
				return nil, nil
			},
		}))
	}

	done := make(chan error, 1)
	go func() {
		_, err := registry.InitializeAll(context.Background(), nil)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("InitializeAll did not run hooks concurrently")
	}
}

func TestRegistry_InitializeAllFailFast(t *testing.T) {
	registry := newTestRegistry()

	good := &mockPlugin{id: "good", set: components.Set{"A": {}}}
	bad := &mockPlugin{id: "bad", initErr: errors.New("boom")}
	require.NoError(t, registry.Register(good.descriptor()))
	require.NoError(t, registry.Register(bad.descriptor()))

	sets, err := registry.InitializeAll(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.Contains(t, err.Error(), "bad")

	// Everything settled before returning
	assert.True(t, registry.IsInitialized("good"))
	assert.False(t, registry.IsInitialized("bad"))
	assert.Contains(t, sets, "good")
}

func TestRegistry_InitializeEach(t *testing.T) {
	registry := newTestRegistry()

	good := &mockPlugin{id: "good", set: components.Set{"A": {}}}
	bad1 := &mockPlugin{id: "bad1", initErr: errors.New("one")}
	bad2 := &mockPlugin{id: "bad2", initErr: errors.New("two")}
	for _, p := range []*mockPlugin{good, bad1, bad2} {
		require.NoError(t, registry.Register(p.descriptor()))
	}

	results := registry.InitializeEach(context.Background(), nil)
	require.Len(t, results, 3)

	assert.NoError(t, results["good"].Err)
	assert.Equal(t, []string{"A"}, results["good"].Components.Names())
	assert.ErrorIs(t, results["bad1"].Err, bad1.initErr)
	assert.ErrorIs(t, results["bad2"].Err, bad2.initErr)
}

func TestRegistry_Statuses(t *testing.T) {
	registry := newTestRegistry()
	require.NoError(t, registry.Register((&mockPlugin{id: "a"}).descriptor()))
	require.NoError(t, registry.Register((&mockPlugin{id: "b"}).descriptor()))
	_, err := registry.Initialize(context.Background(), "b", nil)
	require.NoError(t, err)

	statuses := registry.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, Status{ID: "a", Name: "Mock a", Version: "0.0.1", Initialized: false}, statuses[0])
	assert.Equal(t, Status{ID: "b", Name: "Mock b", Version: "0.0.1", Initialized: true}, statuses[1])
}

func TestRegistry_LifecycleEvents(t *testing.T) {
	bus := eventbus.New(zap.NewNop())
	registry := newTestRegistry(WithBus(bus))

	var seen []string
	_, err := bus.Subscribe(eventbus.AllEvents, func(e eventbus.Event) error {
		seen = append(seen, e.Type)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, registry.Register((&mockPlugin{id: "ok"}).descriptor()))
	require.NoError(t, registry.Register((&mockPlugin{id: "broken", initErr: errors.New("x")}).descriptor()))
	_, _ = registry.Initialize(context.Background(), "ok", nil)
	_, _ = registry.Initialize(context.Background(), "broken", nil)
	_ = registry.Unregister(context.Background(), "ok")

	assert.Equal(t, []string{
		EventRegistered,
		EventRegistered,
		EventInitialized,
		EventInitFailed,
		EventUnregistered,
	}, seen)
}
