package access

import "sort"

// Policy maps component names to the permissions a caller must hold to
// resolve them. Names absent from the table require PermissionView.
//
// A Policy is immutable once built; swap it wholesale to change the rules.
type Policy struct {
	required map[string][]string
}

// NewPolicy builds a policy from a name -> required permissions table.
// An entry with an empty list still requires PermissionView.
func NewPolicy(table map[string][]string) *Policy {
	p := &Policy{required: make(map[string][]string, len(table))}
	for name, perms := range table {
		cleaned := make([]string, 0, len(perms)+1)
		seen := make(map[string]struct{}, len(perms))
		for _, perm := range perms {
			if perm == "" {
				continue
			}
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			cleaned = append(cleaned, perm)
		}
		if len(cleaned) == 0 {
			cleaned = append(cleaned, PermissionView)
		}
		sort.Strings(cleaned)
		p.required[name] = cleaned
	}
	return p
}

// DefaultPolicy is the table used when no policy file is configured.
func DefaultPolicy() *Policy {
	return NewPolicy(map[string][]string{
		"CourseEditor":    {PermissionView, "edit_courses"},
		"CourseViewer":    {PermissionView},
		"CourseList":      {PermissionView},
		"CommunityFeed":   {PermissionView},
		"MemberDirectory": {PermissionView, "view_members"},
	})
}

// Required returns the permissions needed for name.
func (p *Policy) Required(name string) []string {
	if p != nil {
		if perms, ok := p.required[name]; ok {
			out := make([]string, len(perms))
			copy(out, perms)
			return out
		}
	}
	return []string{PermissionView}
}

// Allows reports whether c may resolve name under this policy.
// Anonymous callers are always refused; system admins skip the table.
func (p *Policy) Allows(name string, c Context) bool {
	if c.IsAnonymous() {
		return false
	}
	if c.IsSystemAdmin {
		return true
	}
	return c.Permissions.HasAll(p.Required(name))
}

// Names returns the component names listed in the table, sorted.
func (p *Policy) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.required))
	for name := range p.required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
