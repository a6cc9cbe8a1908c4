package coursebuilder

import (
	"fmt"

	"courseframework/pkg/plugin"
)

// Visibility values a new course may start with.
const (
	VisibilityPublic    = "public"
	VisibilityPrivate   = "private"
	VisibilityCommunity = "community"
)

// Config represents the course builder configuration
type Config struct {
	DefaultVisibility string `config:"default_visibility" validate:"oneof=public private community"`
	MaxModules        int    `config:"max_modules" validate:"gte=1,lte=200"`
	AllowTemplates    bool   `config:"allow_templates"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		DefaultVisibility: VisibilityPrivate,
		MaxModules:        50,
		AllowTemplates:    true,
	}
}

// ParseConfig decodes the plugin's config map over DefaultConfig.
func ParseConfig(cfg plugin.Config) (Config, error) {
	c, err := plugin.Decode(cfg, DefaultConfig())
	if err != nil {
		return c, fmt.Errorf("course builder: %w", err)
	}
	return c, nil
}
