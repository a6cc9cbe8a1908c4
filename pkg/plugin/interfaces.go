// Package plugin provides the plugin descriptor contract and the registry
// that tracks registration and initialization of course framework plugins.
//
// Plugins no longer hand their components to the host through shared global
// state: a plugin's Initialize hook returns the component set it wants
// published, and everything it depends on arrives through a Context built
// by the host.
package plugin

import (
	"context"

	"courseframework/pkg/components"
)

// Config is the open key-value configuration passed to a plugin at
// initialization. Its meaning belongs to the plugin; use Decode to turn it
// into a typed, validated struct.
type Config map[string]any

// InitFunc sets a plugin up with its config and returns the components it
// exposes to the host. Plugins that render nothing return a nil set.
type InitFunc func(ctx context.Context, cfg Config) (components.Set, error)

// DestroyFunc tears a plugin down before it is removed from the registry.
type DestroyFunc func(ctx context.Context) error

// Descriptor identifies a plugin and carries its lifecycle hooks.
// ID is the plugin's identity within a registry.
type Descriptor struct {
	// ID is the unique, stable identifier, e.g. "course-builder".
	ID string

	// Name is the human-readable name.
	Name string

	// Version is the plugin's own version string.
	Version string

	// Initialize is required.
	Initialize InitFunc

	// Destroy is optional.
	Destroy DestroyFunc
}

// Status is a read-only view of a registered plugin, used by the host's
// API and CLI listings.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Initialized bool   `json:"initialized"`
}

// Result is the per-plugin outcome of InitializeEach.
type Result struct {
	Components components.Set
	Err        error
}
