package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink"
	errwrap "github.com/vibecoder/aigateway/internal/errors"
	"github.com/vibecoder/aigateway/internal/observability"
	"github.com/vibecoder/aigateway/internal/server/handlers"
)

var (
	healthURL     string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Verify the configuration and provider resolution. With --url, query the
/health endpoint of a running server instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger

		if strings.TrimSpace(healthURL) != "" {
			status, err := probeServerHealth(cmd.Context(), healthURL, healthTimeout)
			if err != nil {
				ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Server health check failed", err)
				return
			}
			logger.Info("Server health", zap.String("url", healthURL), zap.String("status", status.Status))
			for name, result := range status.Checks {
				logger.Info("  "+name, zap.String("result", result))
			}
			return
		}

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewInternalError("version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		if appConfig == nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration not loaded", nil)
			return
		}
		logger.Info("✅ Configuration loaded")

		resolved, err := ailink.NewRegistry(appConfig.AILink).Resolve("")
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Provider not configured", err)
			return
		}
		logger.Info("✅ Provider resolved",
			zap.String("provider", resolved.ProviderID),
			zap.String("model", resolved.Model))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

// probeServerHealth reads the report from GET <base>/health. The server answers
// 503 with an error envelope when unhealthy.
func probeServerHealth(ctx context.Context, base string, timeout time.Duration) (*handlers.HealthResponse, error) {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasSuffix(url, "/health") {
		url += "/health"
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server reported status %d", resp.StatusCode)
	}

	var status handlers.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode health response (status %d): %w", resp.StatusCode, err)
	}
	return &status, nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthURL, "url", "", "base URL of a running server (e.g. http://localhost:8080)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "timeout for --url probes")
}
