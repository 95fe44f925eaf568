package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/decodeguard/internal/governance"
	"github.com/polisai/decodeguard/internal/host"
	"github.com/polisai/decodeguard/pkg/config"
	"github.com/polisai/decodeguard/pkg/guard"
	"github.com/polisai/decodeguard/pkg/logging"
	"github.com/polisai/decodeguard/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the governed message host",
		RunE:  runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().String("listen", "", "Message host listen address (overrides config)")
	cmd.Flags().String("admin", "", "Admin server address (overrides config)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	return cmd
}

// loadServeConfig loads the configuration file and applies flag overrides.
func loadServeConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"listen", &cfg.Server.ListenAddress},
		{"admin", &cfg.Server.AdminAddress},
		{"log-level", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		val, err := cmd.Flags().GetString(o.flag)
		if err != nil {
			return nil, "", fmt.Errorf("failed to get %s flag: %w", o.flag, err)
		}
		*o.target = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, path, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	levelVar := new(slog.LevelVar)
	logger := logging.NewLogger(logging.Config{
		Level:    cfg.Logging.Level,
		Pretty:   cfg.Logging.Pretty,
		LevelVar: levelVar,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}

	metrics := governance.NewMetrics()

	server, err := host.NewServer(host.Config{
		ListenAddress: cfg.Server.ListenAddress,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}

	subsystem := guard.New(guard.Options{
		Symbol:   cfg.Hook.Symbol,
		Disabled: !cfg.Hook.Enabled,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := subsystem.Initialize(server); err != nil {
		// Already reported through the host; keep serving ungoverned.
		logger.Warn("Serving without decode governance", "error", err)
	}

	var admin *http.Server
	if cfg.Server.AdminAddress != "" {
		admin, err = startAdminServer(cfg.Server.AdminAddress, newAdminHandler(metrics, subsystem, server), logger)
		if err != nil {
			subsystem.Deinitialize()
			return err
		}
	}

	var watcher *config.Watcher
	if path != "" {
		watcher, err = config.NewWatcher(path, func(next *config.Config) error {
			return applyReload(next, subsystem, levelVar, logger)
		}, logger)
		if err != nil {
			logger.Warn("Config hot reload unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config hot reload unavailable", "error", err)
			watcher = nil
		}
	}

	logger.Info("Starting decodeguard",
		"listen", server.Addr().String(),
		"admin", cfg.Server.AdminAddress,
		"symbol", cfg.Hook.Symbol,
		"hook_enabled", cfg.Hook.Enabled)

	serveErr := server.Serve(ctx)

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Message host shutdown error", "error", err)
	}
	// Deinitialize only after the host has stopped delivering frames.
	subsystem.Deinitialize()
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown error", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown error", "error", err)
	}

	return serveErr
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Headers:      cfg.Telemetry.Headers,
		ResourceTags: cfg.Telemetry.ResourceTags,
	}
}

// applyReload applies the hot-reloadable subset of a new configuration.
func applyReload(next *config.Config, subsystem *guard.Subsystem, levelVar *slog.LevelVar, logger *slog.Logger) error {
	subsystem.SetEnabled(next.Hook.Enabled)
	levelVar.Set(logging.ParseLevel(next.Logging.Level))
	logger.Info("Configuration reloaded",
		"hook_enabled", next.Hook.Enabled,
		"log_level", next.Logging.Level)
	return nil
}

func startAdminServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind admin listener %s: %w", addr, err)
	}

	logger.Info("Admin server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "error", err)
		}
	}()

	return server, nil
}
