package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Lifecycle events emitted when the registry has a bus.
const (
	EventRegistered   = "plugin:registered"
	EventInitialized  = "plugin:initialized"
	EventInitFailed   = "plugin:init_failed"
	EventUnregistered = "plugin:unregistered"
)

// Option configures a Registry.
type Option func(*Registry)

// WithInitTimeout bounds each Initialize hook. A hook still running when
// the timeout fires is abandoned and reported as context.DeadlineExceeded;
// the plugin stays un-initialized so the call can be retried.
func WithInitTimeout(d time.Duration) Option {
	return func(r *Registry) { r.initTimeout = d }
}

// WithBus makes the registry announce lifecycle changes on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// initCall lets concurrent Initialize calls for one plugin share a single
// hook invocation.
type initCall struct {
	done chan struct{}
	set  components.Set
	err  error
}

// Registry manages plugin registration and initialization.
// Plugins are kept in registration order.
type Registry struct {
	mu          sync.RWMutex
	plugins     map[string]Descriptor
	order       []string
	initialized map[string]struct{}
	inflight    map[string]*initCall

	logger      *zap.Logger
	bus         *eventbus.Bus
	initTimeout time.Duration
}

// NewRegistry creates a new plugin registry.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		plugins:     make(map[string]Descriptor),
		order:       make([]string, 0),
		initialized: make(map[string]struct{}),
		inflight:    make(map[string]*initCall),
		logger:      logger.Named("plugins"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a plugin to the registry. Registering an id that is
// already present logs a warning and leaves the existing descriptor in place.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("plugin id cannot be empty")
	}
	if d.Initialize == nil {
		return fmt.Errorf("plugin %s: initialize hook cannot be nil", d.ID)
	}

	r.mu.Lock()
	if _, exists := r.plugins[d.ID]; exists {
		r.mu.Unlock()
		r.logger.Warn("Plugin registration skipped",
			zap.String("plugin", d.ID),
			zap.Error(ErrAlreadyRegistered))
		return nil
	}
	r.plugins[d.ID] = d
	r.order = append(r.order, d.ID)
	r.mu.Unlock()

	r.logger.Info("Plugin registered",
		zap.String("plugin", d.ID),
		zap.String("name", d.Name),
		zap.String("version", d.Version))
	r.emit(EventRegistered, d.ID, nil)
	return nil
}

// Unregister runs the plugin's Destroy hook, if any, then removes it.
// Removal happens whether or not Destroy fails; a Destroy error is
// returned after the plugin is gone. Unknown ids are ignored.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.RLock()
	d, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("Unregister for unknown plugin", zap.String("plugin", id))
		return nil
	}

	var destroyErr error
	if d.Destroy != nil {
		if err := d.Destroy(ctx); err != nil {
			destroyErr = fmt.Errorf("plugin %s: destroy: %w", id, err)
			r.logger.Error("Plugin destroy hook failed",
				zap.String("plugin", id),
				zap.Error(err))
		}
	}

	r.mu.Lock()
	delete(r.plugins, id)
	delete(r.initialized, id)
	for i, name := range r.order {
		if name == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("Plugin unregistered", zap.String("plugin", id))
	r.emit(EventUnregistered, id, nil)
	return destroyErr
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.plugins[id]
	return d, ok
}

// List returns all registered descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.plugins[id])
	}
	return result
}

// IDs returns the ids of all registered plugins in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Statuses returns a listing of every plugin with its initialization state.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Status, 0, len(r.order))
	for _, id := range r.order {
		d := r.plugins[id]
		_, done := r.initialized[id]
		result = append(result, Status{
			ID:          d.ID,
			Name:        d.Name,
			Version:     d.Version,
			Initialized: done,
		})
	}
	return result
}

// IsInitialized reports whether id has completed initialization.
func (r *Registry) IsInitialized(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.initialized[id]
	return ok
}

// Initialize runs the plugin's Initialize hook with cfg and returns the
// components it exposes.
//
// Unknown ids fail with ErrNotFound. An already-initialized plugin logs a
// warning and returns (nil, nil) without calling the hook again. A failing
// hook yields an *InitError and leaves the plugin un-initialized.
func (r *Registry) Initialize(ctx context.Context, id string, cfg Config) (components.Set, error) {
	r.mu.Lock()
	d, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, done := r.initialized[id]; done {
		r.mu.Unlock()
		r.logger.Warn("Plugin initialize skipped",
			zap.String("plugin", id),
			zap.Error(ErrAlreadyInitialized))
		return nil, nil
	}
	if call, running := r.inflight[id]; running {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.set, call.err
		case <-ctx.Done():
			return nil, &InitError{PluginID: id, Err: ctx.Err()}
		}
	}
	call := &initCall{done: make(chan struct{})}
	r.inflight[id] = call
	r.mu.Unlock()

	if cfg == nil {
		cfg = Config{}
	}

	r.logger.Debug("Initializing plugin", zap.String("plugin", id))
	start := time.Now()
	set, err := r.runInit(ctx, d, cfg)

	r.mu.Lock()
	delete(r.inflight, id)
	if err == nil {
		// The plugin may have been unregistered while its hook ran
		if _, still := r.plugins[id]; still {
			r.initialized[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	if err != nil {
		err = &InitError{PluginID: id, Err: err}
		r.logger.Error("Plugin initialization failed",
			zap.String("plugin", id),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		r.emit(EventInitFailed, id, map[string]any{"error": err.Error()})
	} else {
		r.logger.Info("Plugin initialized",
			zap.String("plugin", id),
			zap.Duration("elapsed", time.Since(start)),
			zap.Strings("components", set.Names()))
		r.emit(EventInitialized, id, map[string]any{"components": set.Names()})
	}

	call.set, call.err = set, err
	close(call.done)
	return set, err
}

// InitializeAll initializes every registered plugin concurrently, using
// configs[id] or an empty config. It waits for all of them to settle and
// returns the first failure. Sets from plugins that did initialize are
// returned even when another plugin failed.
//
// Callers that need to know about every failure should use InitializeEach.
func (r *Registry) InitializeAll(ctx context.Context, configs map[string]Config) (map[string]components.Set, error) {
	ids := r.IDs()

	var mu sync.Mutex
	sets := make(map[string]components.Set, len(ids))

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			set, err := r.Initialize(ctx, id, configs[id])
			if err != nil {
				return err
			}
			if set != nil {
				mu.Lock()
				sets[id] = set
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	return sets, err
}

// InitializeEach initializes every registered plugin concurrently and
// reports each outcome separately. Already-initialized plugins appear with
// a nil set and nil error.
func (r *Registry) InitializeEach(ctx context.Context, configs map[string]Config) map[string]Result {
	ids := r.IDs()

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]Result, len(ids))

	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := r.Initialize(ctx, id, configs[id])
			mu.Lock()
			results[id] = Result{Components: set, Err: err}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// runInit calls the hook under the configured timeout. The hook runs on
// its own goroutine so a hook that ignores its context cannot hold the
// caller past the deadline.
func (r *Registry) runInit(ctx context.Context, d Descriptor, cfg Config) (components.Set, error) {
	if r.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.initTimeout)
		defer cancel()
	}

	type outcome struct {
		set components.Set
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		set, err := d.Initialize(ctx, cfg)
		done <- outcome{set: set, err: err}
	}()

	select {
	case out := <-done:
		return out.set, out.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("Plugin initialize hook timed out",
				zap.String("plugin", d.ID),
				zap.Duration("timeout", r.initTimeout))
		}
		return nil, err
	}
}

func (r *Registry) emit(eventType, id string, extra map[string]any) {
	if r.bus == nil {
		return
	}
	payload := map[string]any{"plugin": id}
	for k, v := range extra {
		payload[k] = v
	}
	r.bus.Emit(eventbus.Event{Type: eventType, Payload: payload})
}
