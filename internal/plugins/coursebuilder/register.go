package coursebuilder

import (
	"courseframework/internal/storage"
	"courseframework/pkg/plugin"
)

// PluginID identifies the course builder in the plugin registry.
const PluginID = "course-builder"

// New creates the manager and the descriptor the host registers for it.
func New(pctx *plugin.Context, store storage.Store) (*Manager, plugin.Descriptor) {
	m := NewManager(pctx, store)
	return m, Descriptor(m)
}

// Descriptor wraps m in a plugin descriptor.
func Descriptor(m *Manager) plugin.Descriptor {
	return plugin.Descriptor{
		ID:         PluginID,
		Name:       "Course Builder",
		Version:    "1.0.0",
		Initialize: m.Initialize,
		Destroy:    m.Destroy,
	}
}
