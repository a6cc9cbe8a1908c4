// Package components holds the default and per-tenant component sets and
// resolves a component name under a caller's access context.
package components

import "sort"

// Component is a renderable unit as the host sees it: a name, where it
// came from (plugin or tenant id), and the props the host renders it with.
type Component struct {
	Name   string         `json:"name"`
	Source string         `json:"source"`
	Props  map[string]any `json:"props,omitempty"`
}

// Set maps component names to components.
type Set map[string]Component

// Clone returns a copy of the set. Props maps are copied one level deep.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for name, c := range s {
		out[name] = c.clone()
	}
	return out
}

// Names returns the component names in the set, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Component) clone() Component {
	if c.Props == nil {
		return c
	}
	props := make(map[string]any, len(c.Props))
	for k, v := range c.Props {
		props[k] = v
	}
	c.Props = props
	return c
}
