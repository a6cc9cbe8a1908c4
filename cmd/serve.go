package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courseframework/internal/api"
	"courseframework/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(envFile *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot every plugin and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *envFile, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the component policy when the policy file changes")
	return cmd
}

func serve(ctx context.Context, envFile string, watch bool) error {
	rt, err := setup(ctx, envFile)
	if err != nil {
		return err
	}
	logger := rt.logger

	if rt.settings.JWTSecret == "" {
		rt.close(ctx)
		return errors.New("COURSEFW_JWT_SECRET must be set")
	}

	logger.Info("Starting course framework",
		zap.String("listen_addr", rt.settings.ListenAddr),
		zap.String("storage", rt.settings.StorageDriver),
		zap.Duration("init_timeout", rt.settings.InitTimeout))

	// A plugin that fails to boot is logged; the others keep serving
	if err := rt.host.Boot(ctx, rt.loader.PluginConfigs()); err != nil {
		logger.Error("Some plugins failed to initialize", zap.Error(err))
	}

	if watch && rt.settings.PolicyFile != "" {
		err := rt.loader.Watch(func(l *config.Loader) {
			rt.host.ApplyPolicy(l.Policy())
			logger.Info("Component policy reloaded", zap.Strings("components", l.Policy().Names()))
		})
		if err != nil {
			logger.Warn("Policy hot-reload disabled", zap.Error(err))
		}
	}

	server := api.NewServer(rt.host, logger, api.Config{
		Addr:      rt.settings.ListenAddr,
		JWTSecret: rt.settings.JWTSecret,
	})
	if err := server.Start(); err != nil {
		rt.close(ctx)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Course framework running. Press Ctrl+C to exit.")
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
	rt.close(shutdownCtx)
	return nil
}
