package plugin

import (
	"courseframework/pkg/components"
	"courseframework/pkg/eventbus"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins at construction time.
// The host builds exactly one and hands the same instance to every plugin,
// so all plugins share one bus and one component registry without reaching
// for package-level state.
type Context struct {
	// Logger is a structured logger for the plugin to use.
	// Plugins should use Logger.Named("pluginid") for namespacing.
	Logger *zap.Logger

	// Bus is the shared event bus. Plugins emit domain events on it and
	// subscribe to other plugins' events instead of importing them.
	Bus *eventbus.Bus

	// Components is the secure component registry. Plugins may read the
	// theme or resolve components on behalf of a caller; publishing their
	// own set happens through the Initialize return value.
	Components *components.SecureRegistry

	// ConfigDir is where plugins that need extra files can find them.
	ConfigDir string
}

// NewContext creates a new plugin context with all required dependencies.
func NewContext(
	logger *zap.Logger,
	bus *eventbus.Bus,
	registry *components.SecureRegistry,
	configDir string,
) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Logger:     logger,
		Bus:        bus,
		Components: registry,
		ConfigDir:  configDir,
	}
}

// Emit publishes an event on the context's bus, if it has one.
func (c *Context) Emit(eventType string, payload any) {
	if c == nil || c.Bus == nil {
		return
	}
	c.Bus.Emit(eventbus.Event{Type: eventType, Payload: payload})
}
