package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the host reads,
// e.g. COURSEFW_LISTEN_ADDR or COURSEFW_STORAGE_DSN.
const EnvPrefix = "COURSEFW"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Settings holds the host process configuration.
type Settings struct {
	ListenAddr      string
	JWTSecret       string
	PolicyFile      string
	PluginConfigDir string
	InitTimeout     time.Duration
	Theme           string
	StorageDriver   string
	StorageDSN      string
	Debug           bool
}

// NewViper returns a viper instance with the host defaults and env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("policy_file", "")
	v.SetDefault("plugin_config_dir", "")
	v.SetDefault("init_timeout", 10*time.Second)
	v.SetDefault("theme", "default")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("debug", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings loads envFile (when present) into the environment and reads
// the settings. A missing envFile is not an error.
func LoadSettings(envFile string) (Settings, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Settings{}, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("failed to stat %s: %w", envFile, err)
		}
	}
	return ReadSettings(NewViper())
}

// ReadSettings extracts and validates Settings from v.
func ReadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		ListenAddr:      v.GetString("listen_addr"),
		JWTSecret:       v.GetString("jwt_secret"),
		PolicyFile:      v.GetString("policy_file"),
		PluginConfigDir: v.GetString("plugin_config_dir"),
		InitTimeout:     v.GetDuration("init_timeout"),
		Theme:           v.GetString("theme"),
		StorageDriver:   strings.ToLower(v.GetString("storage.driver")),
		StorageDSN:      v.GetString("storage.dsn"),
		Debug:           v.GetBool("debug"),
	}

	switch s.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if s.StorageDSN == "" {
			return s, fmt.Errorf("storage.dsn is required for driver %q", DriverPostgres)
		}
	default:
		return s, fmt.Errorf("unknown storage driver %q", s.StorageDriver)
	}
	if s.InitTimeout < 0 {
		return s, fmt.Errorf("init_timeout must not be negative")
	}
	if s.Theme == "" {
		s.Theme = "default"
	}
	return s, nil
}
