package host

import (
	"fmt"

	"courseframework/internal/plugins/community"
	"courseframework/internal/plugins/coursebuilder"
	"courseframework/internal/storage"
)

// Builtins holds the managers of the plugins shipped with the framework.
type Builtins struct {
	CourseBuilder *coursebuilder.Manager
	Community     *community.Manager
}

// RegisterBuiltins constructs and registers the built-in plugins.
func (h *Host) RegisterBuiltins(store storage.Store) (Builtins, error) {
	builder, builderDesc := coursebuilder.New(h.pctx, store)
	feed, feedDesc := community.New(h.pctx)

	if err := h.Register(builderDesc); err != nil {
		return Builtins{}, fmt.Errorf("register %s: %w", coursebuilder.PluginID, err)
	}
	if err := h.Register(feedDesc); err != nil {
		return Builtins{}, fmt.Errorf("register %s: %w", community.PluginID, err)
	}
	return Builtins{CourseBuilder: builder, Community: feed}, nil
}
