// Package access defines the caller identity used to authorize component
// resolution and registry mutations.
//
// A Context is built per request (or per render) by the host and is never
// stored by the registries except as an audit record of who granted a tenant
// override.
package access

import (
	"encoding/json"
	"sort"
)

// Role is the coarse role of a caller within the framework.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
	RoleMember    Role = "member"
	RoleAnonymous Role = "anonymous"
)

// ParseRole maps a free-form role string onto a known Role.
// Unknown and empty values map to RoleAnonymous.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleOwner, RoleMember:
		return Role(s)
	default:
		return RoleAnonymous
	}
}

// Well-known permission strings.
const (
	// PermissionView is the baseline permission required for any component
	// not listed in the policy table.
	PermissionView = "view"

	// PermissionAccessAll grants access to every tenant's overrides.
	PermissionAccessAll = "access_all"

	// PermissionAccessDefaultUI grants access to the framework defaults.
	PermissionAccessDefaultUI = "access_default_ui"

	// PermissionManageTenantUI allows registering tenant overrides for any tenant.
	PermissionManageTenantUI = "manage_tenant_ui"

	// PermissionManageTheme allows changing the process-wide theme.
	PermissionManageTheme = "manage_theme"
)

// Permissions is a set of permission strings.
type Permissions map[string]struct{}

// NewPermissions builds a permission set from the given strings.
func NewPermissions(perms ...string) Permissions {
	p := make(Permissions, len(perms))
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		p[perm] = struct{}{}
	}
	return p
}

// Has reports whether perm is in the set. A nil set has nothing.
func (p Permissions) Has(perm string) bool {
	_, ok := p[perm]
	return ok
}

// HasAll reports whether every entry of perms is in the set.
func (p Permissions) HasAll(perms []string) bool {
	for _, perm := range perms {
		if !p.Has(perm) {
			return false
		}
	}
	return true
}

// List returns the permissions sorted.
func (p Permissions) List() []string {
	out := make([]string, 0, len(p))
	for perm := range p {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted list.
func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.List())
}

// UnmarshalJSON decodes a list of permission strings.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var perms []string
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*p = NewPermissions(perms...)
	return nil
}

// Context is the caller's identity for a single authorization decision.
type Context struct {
	Role          Role        `json:"role"`
	Permissions   Permissions `json:"permissions"`
	TenantID      string      `json:"tenantId,omitempty"`
	IsSystemAdmin bool        `json:"isSystemAdmin,omitempty"`
}

// Anonymous returns the context used for unauthenticated callers.
func Anonymous() Context {
	return Context{Role: RoleAnonymous}
}

// System returns a system-admin context. The host uses it for its own
// wiring; it must never be derived from request input.
func System() Context {
	return Context{Role: RoleAdmin, IsSystemAdmin: true}
}

// IsAnonymous reports whether the caller is unauthenticated.
// The zero Context is anonymous.
func (c Context) IsAnonymous() bool {
	return c.Role == RoleAnonymous || c.Role == ""
}

// CanAccessTenant reports whether the caller has proven access to tenantID:
// system admin, a matching tenant, or the access_all permission.
func (c Context) CanAccessTenant(tenantID string) bool {
	if c.IsSystemAdmin {
		return true
	}
	if tenantID != "" && c.TenantID == tenantID {
		return true
	}
	return c.Permissions.Has(PermissionAccessAll)
}

// CanAccessDefaults reports whether the caller may be served framework
// default components. Owners without a tenant fall back to the defaults
// because no custom UI exists for them.
func (c Context) CanAccessDefaults() bool {
	if c.IsSystemAdmin {
		return true
	}
	if c.Permissions.Has(PermissionAccessDefaultUI) {
		return true
	}
	return c.Role == RoleOwner && c.TenantID == ""
}

// CanManageTenantUI reports whether the caller may register overrides for tenantID.
func (c Context) CanManageTenantUI(tenantID string) bool {
	if c.IsSystemAdmin {
		return true
	}
	if c.Role == RoleOwner && c.TenantID != "" && c.TenantID == tenantID {
		return true
	}
	return c.Permissions.Has(PermissionManageTenantUI)
}

// CanManageTheme reports whether the caller may change the theme.
func (c Context) CanManageTheme() bool {
	return c.IsSystemAdmin || c.Permissions.Has(PermissionManageTheme)
}

// Clone returns a deep copy, so stored audit records cannot be mutated
// through the caller's permission map.
func (c Context) Clone() Context {
	out := c
	out.Permissions = NewPermissions(c.Permissions.List()...)
	return out
}
