package community

import "courseframework/pkg/plugin"

// New creates the manager and the descriptor the host registers for it.
func New(pctx *plugin.Context) (*Manager, plugin.Descriptor) {
	m := NewManager(pctx)
	return m, Descriptor(m)
}

// Descriptor wraps m in a plugin descriptor.
func Descriptor(m *Manager) plugin.Descriptor {
	return plugin.Descriptor{
		ID:         PluginID,
		Name:       "Community",
		Version:    "1.0.0",
		Initialize: m.Initialize,
		Destroy:    m.Destroy,
	}
}
