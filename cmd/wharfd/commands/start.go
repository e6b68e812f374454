package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/telemetry"
	"github.com/wharfd/wharfd/pkg/api"
	"github.com/wharfd/wharfd/pkg/config"
	"github.com/wharfd/wharfd/pkg/ftp"
	"github.com/wharfd/wharfd/pkg/metrics"
	promrecorder "github.com/wharfd/wharfd/pkg/metrics/prometheus"
	"github.com/wharfd/wharfd/pkg/security"
	"github.com/wharfd/wharfd/pkg/server"
	"github.com/wharfd/wharfd/pkg/users"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wharfd server",
	Long: `Start the wharfd FTP server with the specified configuration.

The server runs in the foreground; use a process supervisor for daemon
operation. Use --config to specify a custom configuration file, or it will
use the default location at $XDG_CONFIG_HOME/wharfd/config.yaml.

Examples:
  # Start with default config location
  wharfd start

  # Start with custom config file
  wharfd start --config /etc/wharfd/config.yaml

  # Start with environment variable overrides
  WHARFD_LOGGING_LEVEL=DEBUG wharfd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "wharfd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// The root directory must exist before any session is confined to it
	rootInfo, err := os.Stat(cfg.Server.Root)
	if err != nil {
		return fmt.Errorf("server root %q is not accessible: %w", cfg.Server.Root, err)
	}
	if !rootInfo.IsDir() {
		return fmt.Errorf("server root %q is not a directory", cfg.Server.Root)
	}

	// Performance counters always run; the Prometheus projection is optional
	counters := metrics.NewPerformanceCounters()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}
	recorder := metrics.Combine(counters, promrecorder.NewFTPMetrics())

	// Security ledger with background sweeper
	ledger := security.NewLedger(cfg.Security.LedgerConfig())
	ledger.StartSweeper(ctx)

	// User credential store with optional live reload
	userStore, err := users.NewStore(cfg.Users.Path)
	if err != nil {
		return fmt.Errorf("failed to load users file: %w", err)
	}
	defer userStore.Close()
	if cfg.Users.Watch == nil || *cfg.Users.Watch {
		if err := userStore.Watch(); err != nil {
			return fmt.Errorf("failed to watch users file: %w", err)
		}
		logger.Info("Users file loaded", "path", cfg.Users.Path, "users", userStore.Count(), "watch", true)
	} else {
		logger.Info("Users file loaded", "path", cfg.Users.Path, "users", userStore.Count(), "watch", false)
	}

	// Protocol engine and connection acceptor
	engine := ftp.NewEngine(userStore, ledger, recorder, int(cfg.Server.ChunkSize))
	ftpServer := server.New(server.Config{
		BindAddress:        cfg.Server.BindAddress,
		Port:               cfg.Server.Port,
		Root:               cfg.Server.Root,
		MaxConnections:     cfg.Server.MaxConnections,
		IdleTimeout:        cfg.Server.IdleTimeout,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
	}, engine, ledger, recorder)

	// Admin API server (if enabled)
	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer, err := api.NewServer(cfg.API, api.Deps{
			Counters: counters,
			Ledger:   ledger,
			Server:   ftpServer,
			Shutdown: cancel,
			Version:  Version,
		})
		if err != nil {
			return fmt.Errorf("failed to create admin API server: %w", err)
		}
		go func() {
			apiDone <- apiServer.Start(ctx)
		}()
		logger.Info("Admin API configured", "port", apiServer.Port())
	} else {
		logger.Info("Admin API disabled")
	}

	// Start the FTP server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ftpServer.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.KeyError, err)
			return err
		}
		logger.Info("Server stopped")

	case err := <-apiDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Admin API error", logger.KeyError, err)
		}
		cancel()
		if serveErr := <-serverDone; serveErr != nil {
			return serveErr
		}
		return err
	}

	return nil
}
