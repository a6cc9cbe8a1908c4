package components

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"courseframework/pkg/access"
	"courseframework/pkg/clock"
	"courseframework/pkg/eventbus"

	"go.uber.org/zap"
)

// ErrAccessDenied is returned whenever the caller's context does not satisfy
// the rule for an operation. GetComponent also returns it for names that
// resolve under no rule, so callers cannot probe which components exist.
var ErrAccessDenied = errors.New("access denied")

// Events emitted on the bus, when one is configured.
const (
	EventComponentsPublished = "components:published"
	EventDefaultsReplaced    = "components:defaults_replaced"
	EventComponentsWithdrawn = "components:withdrawn"
	EventTenantUIRegistered  = "tenant_ui:registered"
	EventTenantUIRevoked     = "tenant_ui:revoked"
	EventThemeChanged        = "theme:changed"
)

// DefaultTheme is the theme before anyone sets one.
const DefaultTheme = "default"

// GrantRecord remembers who registered a tenant override and when.
type GrantRecord struct {
	TenantID  string         `json:"tenantId"`
	GrantedBy access.Context `json:"grantedBy"`
	GrantedAt time.Time      `json:"grantedAt"`
}

// Audit is a snapshot of the registry for security review.
type Audit struct {
	TenantsWithOverrides []string               `json:"tenantsWithOverrides"`
	Theme                string                 `json:"theme"`
	HasDefaults          bool                   `json:"hasDefaults"`
	Grants               map[string]GrantRecord `json:"grants"`
}

// Option configures a SecureRegistry.
type Option func(*SecureRegistry)

// WithBus makes the registry announce changes on bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(r *SecureRegistry) { r.bus = bus }
}

// WithPolicy sets the initial permission table.
func WithPolicy(p *access.Policy) Option {
	return func(r *SecureRegistry) {
		if p != nil {
			r.policy = p
		}
	}
}

// WithTheme sets the initial theme.
func WithTheme(theme string) Option {
	return func(r *SecureRegistry) {
		if theme != "" {
			r.theme = theme
		}
	}
}

// WithClock sets the clock used for grant timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *SecureRegistry) {
		if c != nil {
			r.clock = c
		}
	}
}

// SecureRegistry holds one default component set and zero or one override
// set per tenant, and gates every read and write on an access.Context.
type SecureRegistry struct {
	mu        sync.RWMutex
	defaults  Set
	owners    map[string]string
	overrides map[string]Set
	grants    map[string]GrantRecord
	theme     string
	policy    *access.Policy

	logger *zap.Logger
	bus    *eventbus.Bus
	clock  clock.Clock
}

// NewSecureRegistry creates an empty registry using access.DefaultPolicy
// unless WithPolicy says otherwise.
func NewSecureRegistry(logger *zap.Logger, opts ...Option) *SecureRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &SecureRegistry{
		owners:    make(map[string]string),
		overrides: make(map[string]Set),
		grants:    make(map[string]GrantRecord),
		theme:     DefaultTheme,
		policy:    access.DefaultPolicy(),
		logger:    logger.Named("components"),
		clock:     clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPolicy swaps the permission table used by GetComponent.
func (r *SecureRegistry) SetPolicy(p *access.Policy) {
	if p == nil {
		p = access.DefaultPolicy()
	}
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()

	r.logger.Info("Component policy updated", zap.Strings("components", p.Names()))
}

// Policy returns the permission table in effect.
func (r *SecureRegistry) Policy() *access.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetDefaultComponents replaces the default set. System admins only.
func (r *SecureRegistry) SetDefaultComponents(set Set, actx access.Context) error {
	if !actx.IsSystemAdmin {
		return r.deny("set default components", actx, "", "")
	}

	replacement := set.Clone()
	if replacement == nil {
		replacement = Set{}
	}

	r.mu.Lock()
	r.defaults = replacement
	r.owners = make(map[string]string)
	r.mu.Unlock()

	r.logger.Info("Default components replaced", zap.Strings("components", replacement.Names()))
	r.emit(EventDefaultsReplaced, map[string]any{"components": replacement.Names()})
	return nil
}

// PublishDefaults merges a plugin's component set into the defaults.
// It is the host's path for wiring the sets plugins return from
// initialization, and carries the host's own authority; it is not meant
// to be reachable from request handlers.
func (r *SecureRegistry) PublishDefaults(pluginID string, set Set) {
	if len(set) == 0 {
		return
	}

	r.mu.Lock()
	merged := make(Set, len(r.defaults)+len(set))
	for name, c := range r.defaults {
		merged[name] = c
	}
	for name, c := range set.Clone() {
		if c.Name == "" {
			c.Name = name
		}
		if c.Source == "" {
			c.Source = pluginID
		}
		merged[name] = c
		r.owners[name] = pluginID
	}
	r.defaults = merged
	r.mu.Unlock()

	r.logger.Info("Plugin components published",
		zap.String("plugin", pluginID),
		zap.Strings("components", set.Names()))
	r.emit(EventComponentsPublished, map[string]any{
		"plugin":     pluginID,
		"components": set.Names(),
	})
}

// WithdrawDefaults removes the defaults last published by pluginID, so
// they resolve like any missing component. Defaults set through
// SetDefaultComponents or since republished by another plugin stay.
func (r *SecureRegistry) WithdrawDefaults(pluginID string) []string {
	r.mu.Lock()
	var removed []string
	for name, owner := range r.owners {
		if owner == pluginID {
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		r.mu.Unlock()
		return nil
	}
	remaining := make(Set, len(r.defaults))
	for name, c := range r.defaults {
		remaining[name] = c
	}
	for _, name := range removed {
		delete(remaining, name)
		delete(r.owners, name)
	}
	r.defaults = remaining
	r.mu.Unlock()

	sort.Strings(removed)
	r.logger.Info("Plugin components withdrawn",
		zap.String("plugin", pluginID),
		zap.Strings("components", removed))
	r.emit(EventComponentsWithdrawn, map[string]any{
		"plugin":     pluginID,
		"components": removed,
	})
	return removed
}

// RegisterTenantUI stores overrides for tenantID, replacing any prior set.
// Allowed for system admins, the tenant's own owner, and holders of
// manage_tenant_ui.
func (r *SecureRegistry) RegisterTenantUI(tenantID string, set Set, actx access.Context) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if !actx.CanManageTenantUI(tenantID) {
		return r.deny("register tenant UI", actx, tenantID, "")
	}

	overrides := set.Clone()
	if overrides == nil {
		overrides = Set{}
	}
	for name, c := range overrides {
		if c.Name == "" {
			c.Name = name
		}
		if c.Source == "" {
			c.Source = tenantID
		}
		overrides[name] = c
	}

	grant := GrantRecord{
		TenantID:  tenantID,
		GrantedBy: actx.Clone(),
		GrantedAt: r.clock.Now(),
	}

	r.mu.Lock()
	r.overrides[tenantID] = overrides
	r.grants[tenantID] = grant
	r.mu.Unlock()

	r.logger.Info("Tenant UI registered",
		zap.String("tenant", tenantID),
		zap.String("granted_by_role", string(actx.Role)),
		zap.Strings("components", overrides.Names()))
	r.emit(EventTenantUIRegistered, map[string]any{
		"tenant":     tenantID,
		"components": overrides.Names(),
	})
	return nil
}

// RevokeTenantUI removes a tenant's overrides and their audit record.
// System admins only.
func (r *SecureRegistry) RevokeTenantUI(tenantID string, actx access.Context) error {
	if !actx.IsSystemAdmin {
		return r.deny("revoke tenant UI", actx, tenantID, "")
	}

	r.mu.Lock()
	_, existed := r.overrides[tenantID]
	delete(r.overrides, tenantID)
	delete(r.grants, tenantID)
	r.mu.Unlock()

	if !existed {
		r.logger.Debug("Revoke for tenant without overrides", zap.String("tenant", tenantID))
		return nil
	}

	r.logger.Info("Tenant UI revoked", zap.String("tenant", tenantID))
	r.emit(EventTenantUIRevoked, map[string]any{"tenant": tenantID})
	return nil
}

// GetComponent resolves name for the caller. tenantID may be empty.
//
// Resolution order:
//  1. anonymous callers, and callers missing the policy's required
//     permissions for name, are denied (system admins skip the table);
//  2. a tenant override for name, if the caller has proven tenant access;
//  3. the default for name, if the caller may see defaults;
//  4. otherwise denied.
func (r *SecureRegistry) GetComponent(name string, actx access.Context, tenantID string) (Component, error) {
	r.mu.RLock()
	policy := r.policy
	var override Component
	var hasOverride bool
	if tenantID != "" {
		if set, ok := r.overrides[tenantID]; ok {
			override, hasOverride = set[name]
		}
	}
	def, hasDefault := r.defaults[name]
	r.mu.RUnlock()

	if !policy.Allows(name, actx) {
		return Component{}, r.deny("get component", actx, tenantID, name)
	}

	if hasOverride && actx.CanAccessTenant(tenantID) {
		return override.clone(), nil
	}

	if hasDefault && actx.CanAccessDefaults() {
		return def.clone(), nil
	}

	return Component{}, r.deny("get component", actx, tenantID, name)
}

// GetTheme returns the current theme.
func (r *SecureRegistry) GetTheme() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.theme
}

// SetTheme changes the theme. Requires system admin or manage_theme.
func (r *SecureRegistry) SetTheme(value string, actx access.Context) error {
	if !actx.CanManageTheme() {
		return r.deny("set theme", actx, "", "")
	}
	if value == "" {
		return fmt.Errorf("theme cannot be empty")
	}

	r.mu.Lock()
	previous := r.theme
	r.theme = value
	r.mu.Unlock()

	if previous != value {
		r.logger.Info("Theme changed", zap.String("from", previous), zap.String("to", value))
		r.emit(EventThemeChanged, map[string]any{"from": previous, "to": value})
	}
	return nil
}

// GetAccessAudit returns a snapshot for security review. System admins only.
func (r *SecureRegistry) GetAccessAudit(actx access.Context) (Audit, error) {
	if !actx.IsSystemAdmin {
		return Audit{}, r.deny("read access audit", actx, "", "")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	audit := Audit{
		TenantsWithOverrides: make([]string, 0, len(r.overrides)),
		Theme:                r.theme,
		HasDefaults:          r.defaults != nil,
		Grants:               make(map[string]GrantRecord, len(r.grants)),
	}
	for tenant := range r.overrides {
		audit.TenantsWithOverrides = append(audit.TenantsWithOverrides, tenant)
	}
	sort.Strings(audit.TenantsWithOverrides)
	for tenant, grant := range r.grants {
		grant.GrantedBy = grant.GrantedBy.Clone()
		audit.Grants[tenant] = grant
	}
	return audit, nil
}

func (r *SecureRegistry) deny(op string, actx access.Context, tenantID, name string) error {
	r.logger.Warn("Access denied",
		zap.String("operation", op),
		zap.String("role", string(actx.Role)),
		zap.String("caller_tenant", actx.TenantID),
		zap.String("tenant", tenantID),
		zap.String("component", name))

	if name != "" {
		return fmt.Errorf("%w: component %q is unavailable", ErrAccessDenied, name)
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, op)
}

func (r *SecureRegistry) emit(eventType string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(eventbus.Event{Type: eventType, Payload: payload})
}
