// Package host wires the plugin registry, the event bus and the secure
// component registry into one shell. It owns the only instances of each and
// hands them to plugins through a plugin.Context.
package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"courseframework/pkg/access"
	"courseframework/pkg/clock"
	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"
	"courseframework/pkg/plugin"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventPluginReady is emitted once a plugin's components are resolvable.
const EventPluginReady = "plugin:ready"

// FallbackSource marks a placeholder returned in place of a denied or
// missing component.
const FallbackSource = "fallback"

// ErrReservedEvent is returned by Dispatch for event types the host and
// registries emit themselves.
var ErrReservedEvent = errors.New("reserved event type")

var reservedPrefixes = []string{"plugin:", "components:", "tenant_ui:", "theme:"}

// Options configures a Host.
type Options struct {
	// InitTimeout bounds each plugin's Initialize hook. Zero means no limit.
	InitTimeout time.Duration
	// Policy is the initial component permission table. Nil uses the default.
	Policy *access.Policy
	// Theme is the initial theme. Empty uses the registry default.
	Theme string
	// ConfigDir is passed to plugins through their context.
	ConfigDir string
	// Clock stamps events and grants. Nil uses the real clock.
	Clock clock.Clock
}

// Resolution is the outcome of resolving a component for a caller.
type Resolution struct {
	Component components.Component `json:"component"`
	Granted   bool                 `json:"granted"`
}

// Host is the shell that boots plugins and resolves components per request.
type Host struct {
	logger     *zap.Logger
	registry   *plugin.Registry
	bus        *eventbus.Bus
	components *components.SecureRegistry
	pctx       *plugin.Context
}

// New builds a host with one registry, one bus and one component registry.
func New(logger *zap.Logger, opts Options) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}

	bus := eventbus.New(logger, eventbus.WithClock(opts.Clock))
	secure := components.NewSecureRegistry(logger,
		components.WithBus(bus),
		components.WithPolicy(opts.Policy),
		components.WithTheme(opts.Theme),
		components.WithClock(opts.Clock),
	)
	registry := plugin.NewRegistry(logger,
		plugin.WithBus(bus),
		plugin.WithInitTimeout(opts.InitTimeout),
	)

	h := &Host{
		logger:     logger.Named("host"),
		registry:   registry,
		bus:        bus,
		components: secure,
		pctx:       plugin.NewContext(logger, bus, secure, opts.ConfigDir),
	}

	// Any path that removes a plugin also withdraws what it published
	if _, err := bus.Subscribe(plugin.EventUnregistered, h.withdraw); err != nil {
		h.logger.Error("Failed to watch plugin removals", zap.Error(err))
	}
	return h
}

func (h *Host) withdraw(e eventbus.Event) error {
	payload, ok := e.Payload.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", e.Type, e.Payload)
	}
	id, _ := payload["plugin"].(string)
	if id == "" {
		return fmt.Errorf("%s without plugin id", e.Type)
	}
	h.components.WithdrawDefaults(id)
	return nil
}

// PluginContext returns the context every plugin is constructed with.
func (h *Host) PluginContext() *plugin.Context { return h.pctx }

// Registry returns the plugin registry.
func (h *Host) Registry() *plugin.Registry { return h.registry }

// Bus returns the event bus.
func (h *Host) Bus() *eventbus.Bus { return h.bus }

// Components returns the secure component registry.
func (h *Host) Components() *components.SecureRegistry { return h.components }

// Register adds a plugin descriptor.
func (h *Host) Register(d plugin.Descriptor) error {
	return h.registry.Register(d)
}

// Unregister destroys and removes a plugin. Its components stop resolving
// and callers get the fallback placeholder instead.
func (h *Host) Unregister(ctx context.Context, id string) error {
	return h.registry.Unregister(ctx, id)
}

// Boot initializes every registered plugin and publishes the component sets
// they return. Plugins that initialized are published even when another
// plugin failed; the first failure is returned.
func (h *Host) Boot(ctx context.Context, configs map[string]plugin.Config) error {
	h.logger.Info("Booting plugins", zap.Strings("plugins", h.registry.IDs()))

	sets, err := h.registry.InitializeAll(ctx, configs)

	ids := make([]string, 0, len(sets))
	for id := range sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		h.components.PublishDefaults(id, sets[id])
		h.bus.Emit(eventbus.Event{
			Type:    EventPluginReady,
			Payload: map[string]any{"plugin": id, "components": sets[id].Names()},
		})
	}

	if err != nil {
		h.logger.Error("Plugin boot incomplete", zap.Error(err))
		return fmt.Errorf("boot: %w", err)
	}
	h.logger.Info("All plugins booted", zap.Int("published", len(ids)))
	return nil
}

// Resolve returns the component for name under actx, or a fallback
// placeholder when the registry denies it. Denied and missing components
// produce the same placeholder.
func (h *Host) Resolve(name string, actx access.Context, tenantID string) Resolution {
	c, err := h.components.GetComponent(name, actx, tenantID)
	if err != nil {
		return Resolution{Component: Fallback(name), Granted: false}
	}
	return Resolution{Component: c, Granted: true}
}

// Fallback returns the placeholder rendered in place of name.
func Fallback(name string) components.Component {
	return components.Component{
		Name:   name,
		Source: FallbackSource,
		Props:  map[string]any{"placeholder": true},
	}
}

// Dispatch forwards a user action onto the bus. Anonymous callers and
// reserved event types are refused.
func (h *Host) Dispatch(actx access.Context, eventType string, data any) (eventbus.Event, error) {
	if actx.IsAnonymous() {
		return eventbus.Event{}, fmt.Errorf("%w: anonymous callers cannot dispatch events", components.ErrAccessDenied)
	}
	if eventType == "" || eventType == eventbus.AllEvents {
		return eventbus.Event{}, fmt.Errorf("invalid event type %q", eventType)
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return eventbus.Event{}, fmt.Errorf("%w: %s", ErrReservedEvent, eventType)
		}
	}

	e := h.bus.Emit(eventbus.Event{
		Type:    eventType,
		Payload: plugin.Action{Role: actx.Role, TenantID: actx.TenantID, Data: data, Actor: actx},
	})
	h.logger.Debug("Dispatched user action",
		zap.String("type", eventType),
		zap.String("role", string(actx.Role)),
		zap.String("tenant", actx.TenantID))
	return e, nil
}

// Visible reports whether e may be relayed to the caller described by actx.
// Events that belong to a tenant reach only callers who can access that
// tenant. Tenant UI events without a tenant reach only system admins.
// Everything else is platform-wide.
func (h *Host) Visible(actx access.Context, e eventbus.Event) bool {
	if actx.IsAnonymous() {
		return false
	}
	if actx.IsSystemAdmin {
		return true
	}
	if tenant, scoped := eventbus.TenantOf(e); scoped && tenant != "" {
		return actx.CanAccessTenant(tenant)
	}
	return !strings.HasPrefix(e.Type, "tenant_ui:")
}

// ApplyPolicy swaps the component permission table.
func (h *Host) ApplyPolicy(p *access.Policy) {
	h.components.SetPolicy(p)
}

// Shutdown unregisters every plugin in reverse registration order and
// returns all destroy failures combined.
func (h *Host) Shutdown(ctx context.Context) error {
	ids := h.registry.IDs()
	h.logger.Info("Shutting down plugins", zap.Int("count", len(ids)))

	var errs error
	for i := len(ids) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, h.Unregister(ctx, ids[i]))
	}
	if errs != nil {
		h.logger.Warn("Plugin shutdown reported errors", zap.Error(errs))
	}
	return errs
}
