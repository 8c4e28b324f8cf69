package cmd

import (
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/config"
	"github.com/vibecoder/aigateway/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// appConfig is loaded once per invocation by initConfig.
	appConfig *config.Config

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Serialized gateway for AI completion providers",
	Long: `aigateway funnels every completion request through one FIFO queue and a
single dispatch loop, pacing calls to the provider and retrying rate-limited
or transient failures with exponential backoff.

Use the subcommands to serve the HTTP API or run completions from the shell.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics to stdout; serve installs
	// the real telemetry system later.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if base := filepath.Base(os.Args[0]); base != "" && base != "." {
		rootCmd.Use = base
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider requests/responses to NDJSON file")
}

// initConfig sets up the CLI logger, tracing and configuration.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	if traceFile != "" {
		// The trace file stays open for the life of the process.
		if _, err := driver.EnableTracing(traceFile); err != nil {
			observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		} else {
			observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
		}
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("provider", cfg.AILink.Provider),
		zap.String("store", cfg.Store.Driver))
}
