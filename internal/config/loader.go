// Package config loads aigateway configuration with viper: built-in defaults,
// an optional YAML file, .env files, the environment and runtime overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vibecoder/aigateway/internal/ailink"
)

const (
	// AppName names the config and data directories.
	AppName = "aigateway"

	// EnvPrefix prefixes every application-specific environment variable.
	EnvPrefix = "AIGATEWAY_"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// DefaultEnvFiles are read in order; earlier files win because godotenv never
// overwrites a variable that is already set.
var DefaultEnvFiles = []string{".env.local", ".env"}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. When empty the user config dir and
	// ./config are searched for config.yaml.
	ConfigFile string

	// EnvFiles overrides DefaultEnvFiles. Missing files are skipped.
	EnvFiles []string

	// SkipEnvFiles disables .env loading entirely.
	SkipEnvFiles bool

	// Overrides are applied last, keyed by dotted config path (e.g. "server.port").
	Overrides map[string]any
}

// EnvVarSpec maps environment variables onto a config path. The first variable
// that is set wins.
type EnvVarSpec struct {
	Path  string
	Names []string
}

// Load builds the configuration. It is safe to call repeatedly.
func Load(opts LoadOptions) (*Config, error) {
	if !opts.SkipEnvFiles {
		if err := loadEnvFiles(opts.EnvFiles); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		args := append([]string{spec.Path}, spec.Names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Path, err)
		}
	}

	if providers := providerEnvOverrides(EnvPrefix, os.Environ()); len(providers) > 0 {
		if err := v.MergeConfigMap(providers); err != nil {
			return nil, fmt.Errorf("apply provider env overrides: %w", err)
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Ingress.Enabled && c.Ingress.RequestsPerSecond <= 0 {
		return errors.New("ingress.requests_per_second must be positive when ingress is enabled")
	}
	if c.Ingress.Burst < 0 {
		return errors.New("ingress.burst must not be negative")
	}
	if c.Ledger.Enabled && c.Ledger.Window <= 0 {
		return errors.New("ledger.window must be positive when the ledger is enabled")
	}
	return nil
}

// GetConfig returns the most recently loaded configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func loadEnvFiles(files []string) error {
	if files == nil {
		files = DefaultEnvFiles
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if strings.TrimSpace(explicit) != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := gfconfig.GetAppConfigDir(AppName); strings.TrimSpace(dir) != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func decode(input map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("ailink.provider", ailink.DefaultProvider)
	v.SetDefault("ailink.model", "")
	v.SetDefault("ailink.default_timeout", "120s")

	v.SetDefault("gateway.min_inter_request_delay", "2s")
	v.SetDefault("gateway.base_backoff", "4s")
	v.SetDefault("gateway.max_backoff", "60s")
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.jitter_ratio", 0.2)
	v.SetDefault("gateway.jitter_seed", 0)
	v.SetDefault("gateway.max_queue_depth", 0)

	v.SetDefault("ingress.enabled", true)
	v.SetDefault("ingress.requests_per_second", 1.0)
	v.SetDefault("ingress.burst", 5)
	v.SetDefault("ingress.idle_ttl", "10m")

	v.SetDefault("ledger.enabled", true)
	v.SetDefault("ledger.window", "1m")
	v.SetDefault("ledger.requests_per_window", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.queue_degraded_depth", 50)

	v.SetDefault("debug.enabled", false)
}

// getEnvSpecs maps environment variables to config paths. Provider selection
// and API keys also accept the unprefixed names used by existing deployments.
func getEnvSpecs() []EnvVarSpec {
	p := EnvPrefix
	specs := []EnvVarSpec{
		{Path: "server.host", Names: []string{p + "HOST"}},
		{Path: "server.port", Names: []string{p + "PORT"}},
		{Path: "server.read_timeout", Names: []string{p + "READ_TIMEOUT"}},
		{Path: "server.write_timeout", Names: []string{p + "WRITE_TIMEOUT"}},
		{Path: "server.idle_timeout", Names: []string{p + "IDLE_TIMEOUT"}},
		{Path: "server.shutdown_timeout", Names: []string{p + "SHUTDOWN_TIMEOUT"}},

		{Path: "logging.level", Names: []string{p + "LOG_LEVEL"}},
		{Path: "logging.profile", Names: []string{p + "LOG_PROFILE"}},

		{Path: "store.driver", Names: []string{p + "DB_DRIVER"}},
		{Path: "store.path", Names: []string{p + "DB_PATH"}},
		{Path: "store.url", Names: []string{p + "DB_URL"}},
		{Path: "store.auth_token", Names: []string{p + "DB_AUTH_TOKEN"}},

		{Path: "ailink.provider", Names: []string{p + "AI_PROVIDER", "AI_PROVIDER"}},
		{Path: "ailink.model", Names: []string{p + "AI_MODEL", "AI_MODEL"}},
		{Path: "ailink.default_timeout", Names: []string{p + "AILINK_DEFAULT_TIMEOUT"}},

		{Path: "gateway.min_inter_request_delay", Names: []string{p + "GATEWAY_MIN_INTER_REQUEST_DELAY"}},
		{Path: "gateway.base_backoff", Names: []string{p + "GATEWAY_BASE_BACKOFF"}},
		{Path: "gateway.max_backoff", Names: []string{p + "GATEWAY_MAX_BACKOFF"}},
		{Path: "gateway.max_attempts", Names: []string{p + "GATEWAY_MAX_ATTEMPTS"}},
		{Path: "gateway.jitter_ratio", Names: []string{p + "GATEWAY_JITTER_RATIO"}},
		{Path: "gateway.jitter_seed", Names: []string{p + "GATEWAY_JITTER_SEED"}},
		{Path: "gateway.max_queue_depth", Names: []string{p + "GATEWAY_MAX_QUEUE_DEPTH"}},

		{Path: "ingress.enabled", Names: []string{p + "INGRESS_ENABLED"}},
		{Path: "ingress.requests_per_second", Names: []string{p + "INGRESS_REQUESTS_PER_SECOND"}},
		{Path: "ingress.burst", Names: []string{p + "INGRESS_BURST"}},

		{Path: "ledger.enabled", Names: []string{p + "LEDGER_ENABLED"}},
		{Path: "ledger.window", Names: []string{p + "LEDGER_WINDOW"}},
		{Path: "ledger.requests_per_window", Names: []string{p + "LEDGER_REQUESTS_PER_WINDOW"}},

		{Path: "metrics.enabled", Names: []string{p + "METRICS_ENABLED"}},
		{Path: "metrics.port", Names: []string{p + "METRICS_PORT"}},
		{Path: "health.enabled", Names: []string{p + "HEALTH_ENABLED"}},
		{Path: "health.queue_degraded_depth", Names: []string{p + "HEALTH_QUEUE_DEGRADED_DEPTH"}},
		{Path: "debug.enabled", Names: []string{p + "DEBUG_ENABLED"}},
	}

	for _, id := range ailink.PresetIDs() {
		preset, _ := ailink.LookupPreset(id)
		specs = append(specs, EnvVarSpec{Path: "ailink.api_keys." + id, Names: []string{preset.KeyEnv}})
	}
	return specs
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// providerEnvOverrides turns AIGATEWAY_AILINK_PROVIDERS_<ID>_<FIELD> variables
// into a config map rooted at "ailink.providers".
func providerEnvOverrides(prefix string, environ []string) map[string]any {
	providerPrefix := prefix + "AILINK_PROVIDERS_"
	overrides := map[string]any{}

	for _, item := range environ {
		key, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if strings.HasPrefix(key, providerPrefix) {
			applyAILinkProviderOverride(overrides, key[len(providerPrefix):], value)
		}
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}

func applyAILinkProviderOverride(envOverrides map[string]any, raw string, value string) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) < 2 {
		return
	}

	section := -1
	for i, part := range parts {
		switch part {
		case "ENABLED", "AI", "BASE", "MODELS", "HEADERS", "CREDENTIALS", "DEFAULT":
			section = i
		}
		if section != -1 {
			break
		}
	}
	if section <= 0 {
		return
	}

	providerID := strings.ToLower(strings.Join(parts[:section], "-"))
	if providerID == "" {
		return
	}

	ailinkMap := ensureMap(envOverrides, "ailink")
	providers := ensureMap(ailinkMap, "providers")
	provider := ensureMap(providers, providerID)

	rest := parts[section:]
	switch {
	case len(rest) == 1 && rest[0] == "ENABLED":
		provider["enabled"] = strings.EqualFold(strings.TrimSpace(value), "true")
	case len(rest) == 2 && rest[0] == "AI" && rest[1] == "PROVIDER":
		provider["ai_provider"] = strings.ToLower(strings.TrimSpace(value))
	case len(rest) == 2 && rest[0] == "DEFAULT" && rest[1] == "CREDENTIAL":
		provider["default_credential"] = strings.TrimSpace(value)
	case len(rest) == 2 && rest[0] == "BASE" && rest[1] == "URL":
		provider["base_url"] = strings.TrimSpace(value)
	case len(rest) >= 2 && rest[0] == "MODELS":
		models := ensureMap(provider, "models")
		models[strings.ToLower(strings.Join(rest[1:], "_"))] = strings.TrimSpace(value)
	case len(rest) >= 2 && rest[0] == "HEADERS":
		headers := ensureMap(provider, "headers")
		headers[strings.ToLower(strings.Join(rest[1:], "-"))] = strings.TrimSpace(value)
	case len(rest) >= 3 && rest[0] == "CREDENTIALS":
		idx, err := strconv.Atoi(rest[1])
		if err != nil || idx < 0 {
			return
		}
		field := strings.ToLower(strings.Join(rest[2:], "_"))
		if field == "" {
			return
		}

		creds := ensureSlice(provider, "credentials", idx+1)
		cred := ensureSliceMap(creds, idx)
		switch field {
		case "priority":
			if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				cred[field] = parsed
			}
		case "enabled":
			cred[field] = strings.EqualFold(strings.TrimSpace(value), "true")
		default:
			cred[field] = strings.TrimSpace(value)
		}
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	var existing []any
	if raw, ok := parent[key]; ok {
		existing, _ = raw.([]any)
	}
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return map[string]any{}
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}
