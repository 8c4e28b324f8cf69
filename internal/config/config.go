package config

import (
	"time"

	"github.com/vibecoder/aigateway/internal/ailink"
	"github.com/vibecoder/aigateway/internal/gateway"
)

// Config represents the complete application configuration. Values are layered:
// built-in defaults, then the optional YAML config file, then .env files and
// the process environment, then runtime overrides (CLI flags).
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Store   StoreConfig    `mapstructure:"store"`
	AILink  ailink.Config  `mapstructure:"ailink"`
	Gateway gateway.Config `mapstructure:"gateway"`
	Ingress IngressConfig  `mapstructure:"ingress"`
	Ledger  LedgerConfig   `mapstructure:"ledger"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Health  HealthConfig   `mapstructure:"health"`
	Debug   DebugConfig    `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// IngressConfig limits how fast a single HTTP client may submit completions.
// It rejects excess traffic before it reaches the gateway queue.
type IngressConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`

	// IdleTTL evicts limiters for clients that have gone quiet.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// LedgerConfig controls the persisted per-provider usage ledger.
type LedgerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Window  time.Duration `mapstructure:"window"`

	// RequestsPerWindow is the provider quota used to report remaining budget.
	// Zero means unknown.
	RequestsPerWindow int `mapstructure:"requests_per_window"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// QueueDegradedDepth marks the gateway degraded once this many requests wait.
	QueueDegradedDepth int `mapstructure:"queue_degraded_depth"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
