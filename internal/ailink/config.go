package ailink

import "time"

// Config selects and configures the completion provider.
type Config struct {
	// Provider is the active provider id (AI_PROVIDER). Unknown ids fall back to
	// DefaultProvider.
	Provider string `mapstructure:"provider"`

	// Model overrides the provider's default model (AI_MODEL).
	Model string `mapstructure:"model"`

	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// APIKeys holds keys picked up from the environment, keyed by provider id.
	APIKeys map[string]string `mapstructure:"api_keys"`

	// Providers declares instances beyond the built-in presets, or overrides them.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers"`
}

// ProviderInstanceConfig defines a configured provider instance.
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AIProvider names the preset the instance is based on
	// ("perplexity", "openrouter", "openai"). Empty means the instance id.
	AIProvider string `mapstructure:"ai_provider"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	DefaultCredential string `mapstructure:"default_credential"`

	BaseURL string            `mapstructure:"base_url"`
	Models  map[string]string `mapstructure:"models"`
	Headers map[string]string `mapstructure:"headers"`

	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a single credential for a provider instance. The enabled
// credential with the highest priority is used.
type CredentialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Label    string `mapstructure:"label"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
}
