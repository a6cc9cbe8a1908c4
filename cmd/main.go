package main

import (
	"context"
	"fmt"
	"os"

	"courseframework/internal/config"
	"courseframework/internal/host"
	"courseframework/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "courseframework",
		Short:         "Plugin host for the course framework",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading COURSEFW_* variables")

	root.AddCommand(
		newServeCommand(&envFile),
		newPluginsCommand(&envFile),
		newTokenCommand(&envFile),
	)
	return root
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runtime is everything a command needs to talk to a booted host.
type runtime struct {
	settings config.Settings
	logger   *zap.Logger
	loader   *config.Loader
	store    storage.Store
	host     *host.Host
	builtins host.Builtins
}

// setup loads settings and configuration, opens storage and registers the
// built-in plugins. The host is not booted.
func setup(ctx context.Context, envFile string) (*runtime, error) {
	settings, err := config.LoadSettings(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	logger, err := newLogger(settings.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	loader := config.NewLoader(settings.PolicyFile, settings.PluginConfigDir, logger)
	if err := loader.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var store storage.Store
	switch settings.StorageDriver {
	case config.DriverPostgres:
		store, err = storage.OpenPostgres(ctx, settings.StorageDSN, logger)
		if err != nil {
			return nil, err
		}
	default:
		store = storage.NewMemoryStore(logger, nil)
	}

	theme := settings.Theme
	if t := loader.Theme(); t != "" {
		theme = t
	}

	h := host.New(logger, host.Options{
		InitTimeout: settings.InitTimeout,
		Policy:      loader.Policy(),
		Theme:       theme,
		ConfigDir:   settings.PluginConfigDir,
	})

	builtins, err := h.RegisterBuiltins(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{
		settings: settings,
		logger:   logger,
		loader:   loader,
		store:    store,
		host:     h,
		builtins: builtins,
	}, nil
}

func (r *runtime) close(ctx context.Context) {
	r.loader.Stop()
	if err := r.host.Shutdown(ctx); err != nil {
		r.logger.Error("Plugin shutdown reported errors", zap.Error(err))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("Failed to close storage", zap.Error(err))
	}
	_ = r.logger.Sync()
}
