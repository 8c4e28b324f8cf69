package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/config"
	"github.com/vibecoder/aigateway/internal/gateway"
	"github.com/vibecoder/aigateway/internal/observability"
)

var (
	doctorInitForce     bool
	doctorInitProvider  string
	doctorProviderModel string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the installation, configuration and provider setup.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("=== " + config.AppName + " doctor ===")
		logger.Info("")

		allChecks := true
		const totalChecks = 5

		version := crucible.GetVersion()
		logger.Info(fmt.Sprintf("[1/%d] Go %s, Gofulmen v%s, Crucible v%s", totalChecks, runtime.Version(), version.Gofulmen, version.Crucible),
			zap.String("go_version", runtime.Version()))

		configPath := config.DefaultConfigPath()
		if configPath == "" {
			logger.Warn(fmt.Sprintf("[2/%d] Config directory... ⚠️  not resolved", totalChecks))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[2/%d] Config file... %s (%s)", totalChecks, configPath, existenceStatus(fileExists(configPath))))
		}

		if appConfig == nil {
			logger.Warn(fmt.Sprintf("[3/%d] Configuration... ⚠️  not loaded", totalChecks))
			logger.Warn("⚠️  Remaining checks skipped.")
			return
		}
		gw := appConfig.Gateway
		logger.Info(fmt.Sprintf("[3/%d] Gateway policy... ✅ delay=%s backoff=%s..%s attempts=%d queue=%s", totalChecks,
			gw.MinInterRequestDelay, gw.BaseBackoff, gw.MaxBackoff, gw.MaxAttempts, queueLimit(gw.MaxQueueDepth)))

		if appConfig.Ledger.Enabled {
			if appConfig.Store.URL != "" {
				logger.Info(fmt.Sprintf("[4/%d] Usage ledger... ✅ %s (remote)", totalChecks, appConfig.Store.URL))
			} else {
				absPath, _ := filepath.Abs(appConfig.Store.Path)
				if info, err := os.Stat(absPath); err == nil {
					logger.Info(fmt.Sprintf("[4/%d] Usage ledger... ✅ %s (%s)", totalChecks, absPath, formatFileSize(info.Size())))
				} else {
					logger.Info(fmt.Sprintf("[4/%d] Usage ledger... %s (not created yet)", totalChecks, absPath))
				}
			}
		} else {
			logger.Info(fmt.Sprintf("[4/%d] Usage ledger... disabled", totalChecks))
		}

		resolved, err := ailink.NewRegistry(appConfig.AILink).Resolve("")
		if err != nil {
			logger.Warn(fmt.Sprintf("[5/%d] Provider... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[5/%d] Provider... ✅ %s (%s)", totalChecks, resolved.ProviderID, resolved.Model))
			if resolved.FellBack() {
				logger.Warn(fmt.Sprintf("       unknown provider %q, using %s", resolved.Requested, resolved.ProviderID))
			}
		}

		logger.Info("")
		if allChecks {
			logger.Info("✅ All checks passed!")
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
	},
}

var doctorProviderCmd = &cobra.Command{
	Use:   "provider",
	Short: "Show provider, model and credential resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger

		resolved, err := ailink.NewRegistry(appConfig.AILink).Resolve(doctorProviderModel)
		if err != nil {
			return fmt.Errorf("resolve provider: %w", err)
		}

		logger.Info("Provider Resolution")
		if resolved.FellBack() {
			logger.Info(fmt.Sprintf("  requested:    %s (unknown)", resolved.Requested))
		}
		logger.Info(fmt.Sprintf("  provider:     %s", resolved.ProviderID))
		logger.Info(fmt.Sprintf("  preset:       %s", resolved.Preset.ID))
		logger.Info(fmt.Sprintf("  base_url:     %s", resolved.BaseURL))
		logger.Info(fmt.Sprintf("  model:        %s", resolved.Model))
		logger.Info(fmt.Sprintf("  model_source: %s", modelSource(appConfig, resolved, doctorProviderModel)))
		logger.Info("")

		logger.Info("Credential Selection")
		label := resolved.Credential.Label
		if label == "" {
			label = "(environment)"
		}
		logger.Info(fmt.Sprintf("  selected.label:    %s", label))
		logger.Info(fmt.Sprintf("  selected.priority: %d", resolved.Credential.Priority))
		if resolved.Preset.KeyEnv != "" {
			logger.Info(fmt.Sprintf("  %s: %s", resolved.Preset.KeyEnv, envStatus(resolved.Preset.KeyEnv)))
		}
		return nil
	},
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		preset, ok := ailink.LookupPreset(doctorInitProvider)
		if !ok {
			return fmt.Errorf("unknown provider %q (known: %s)", doctorInitProvider, strings.Join(ailink.PresetIDs(), ", "))
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(buildInitConfig(preset, gateway.DefaultConfig())), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a config file (default: the user config)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("config path not resolved")
		}
		if !fileExists(path) {
			return fmt.Errorf("config file not found: %s", path)
		}

		if _, err := config.Load(config.LoadOptions{ConfigFile: path}); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorProviderCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorProviderCmd.Flags().StringVar(&doctorProviderModel, "model", "", "Model override to resolve")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitProvider, "provider", ailink.DefaultProvider, "provider preset to configure")
}

func modelSource(cfg *config.Config, resolved *ailink.ResolvedProvider, override string) string {
	switch {
	case strings.TrimSpace(override) != "":
		return "cli_override"
	case strings.TrimSpace(cfg.AILink.Model) != "":
		return "ailink.model"
	}
	if instance, ok := cfg.AILink.Providers[resolved.ProviderID]; ok && strings.TrimSpace(instance.Models["default"]) != "" {
		return "provider.models.default"
	}
	return "preset default"
}

func queueLimit(depth int) string {
	if depth <= 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", depth)
}

func buildInitConfig(preset ailink.Preset, gw gateway.Config) string {
	lines := []string{
		fmt.Sprintf("# %s config - created by '%s doctor init'", config.AppName, config.AppName),
		"ailink:",
		fmt.Sprintf("  provider: %s", preset.ID),
		fmt.Sprintf("  # model: %s", preset.DefaultModel),
		fmt.Sprintf("  # API key is read from %s", preset.KeyEnv),
		"gateway:",
		fmt.Sprintf("  min_inter_request_delay: %s", gw.MinInterRequestDelay),
		fmt.Sprintf("  base_backoff: %s", gw.BaseBackoff),
		fmt.Sprintf("  max_backoff: %s", gw.MaxBackoff),
		fmt.Sprintf("  max_attempts: %d", gw.MaxAttempts),
		fmt.Sprintf("  jitter_ratio: %g", gw.JitterRatio),
		"  max_queue_depth: 0",
		"ledger:",
		"  enabled: true",
		"  window: 1m",
	}
	return strings.Join(lines, "\n") + "\n"
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
