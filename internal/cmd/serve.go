package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/config"
	errwrap "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/metrics"
	"github.com/vibecoder/aigateway/internal/observability"
	"github.com/vibecoder/aigateway/internal/server"
	"github.com/vibecoder/aigateway/internal/server/handlers"
	servermw "github.com/vibecoder/aigateway/internal/server/middleware"
)

const uptimeInterval = 15 * time.Second

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP completion API in front of the gateway.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (HTTP first, then the gateway queue)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config is re-read and validated; restart to apply`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := *appConfig
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}

	observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Logging.Profile)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}
	}

	rt, err := buildGatewayRuntime(cmd.Context(), &cfg, logger, "")
	if err != nil {
		return err
	}
	gw := rt.client.Gateway()
	provider := rt.client.Provider()

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("provider", provider.ProviderID),
		zap.String("model", provider.Model),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Metrics.Port))

	handlers.SetGatewayInfo(&handlers.GatewayInfo{
		Name:     gw.Stats().Name,
		Provider: provider.ProviderID,
		Model:    provider.Model,
	})

	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("gateway", handlers.GatewayChecker{
		Stats:         gw,
		DegradedDepth: cfg.Health.QueueDegradedDepth,
	})
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	if rt.store != nil {
		hm.RegisterChecker("store", handlers.HealthCheckerFunc(rt.store.Ping))
	}

	deps := server.Deps{
		Completer: rt.client,
		Stats:     gw,
		Usage:     rt.usageSource(),
		Provider:  provider.ProviderID,
		Health:    hm,
	}
	if cfg.Ingress.Enabled {
		deps.Ingress = servermw.NewIngressLimiter(cfg.Ingress.RequestsPerSecond, cfg.Ingress.Burst, cfg.Ingress.IdleTTL)
	}
	srv := server.New(cfg.Server, deps)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	startedAt := time.Now()
	metrics.SetServerStartTime(startedAt.Unix())
	uptimeCtx, stopUptime := context.WithCancel(context.Background())
	defer stopUptime()
	go reportUptime(uptimeCtx, startedAt)

	// Shutdown handlers run LIFO: HTTP server, then gateway, then metrics and logger flush.
	signals.OnShutdown(func(ctx context.Context) error {
		if err := observability.StopMetrics(); err != nil {
			logger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
		}
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		stats := gw.Stats()
		logger.Info("Draining gateway queue...", zap.Int("queue_depth", stats.QueueDepth))
		if err := rt.shutdown(shutdownCtx); err != nil {
			logger.Warn("Gateway did not drain before timeout; pending requests were rejected", zap.Error(err))
			return nil
		}
		logger.Info("Gateway drained")
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopUptime()
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: validating configuration")
		if _, err := config.Load(config.LoadOptions{ConfigFile: cfgFile}); err != nil {
			logger.Error("Configuration reload failed", zap.Error(err))
			return err
		}
		// The gateway and listener keep their settings until restart.
		logger.Info("Configuration is valid; restart to apply changes")
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(cmd.Context()); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = rt.shutdown(shutdownCtx)
		return errwrap.WrapInternal(cmd.Context(), err, "server error")
	}

	return nil
}

func reportUptime(ctx context.Context, startedAt time.Time) {
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetServerUptime(int64(time.Since(startedAt).Seconds()))
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host (overrides server.host)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port (overrides server.port)")
}
