package ailink

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vibecoder/aigateway/internal/ailink/driver"
	"github.com/vibecoder/aigateway/internal/ailink/driver/openai"
)

// ErrMissingAPIKey is returned when the selected provider has no usable key.
var ErrMissingAPIKey = errors.New("missing api key")

type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
}

// ResolvedProvider is the provider, credential, driver and model a gateway dispatches to.
type ResolvedProvider struct {
	ProviderID string
	Preset     Preset
	Credential CredentialConfig
	Driver     driver.Driver
	Model      string
	BaseURL    string

	// Requested is the configured provider id when it was unknown and
	// resolution fell back to DefaultProvider.
	Requested string
}

// FellBack reports whether an unknown provider id was replaced by the default.
func (p *ResolvedProvider) FellBack() bool {
	return p != nil && p.Requested != ""
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Resolve picks the configured provider. modelOverride, when set, wins over
// every configured model.
func (r *Registry) Resolve(modelOverride string) (*ResolvedProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}

	providerID, instance, preset, requested, err := r.resolveProvider()
	if err != nil {
		return nil, err
	}

	cred, credKey, err := r.selectAPIKey(providerID, instance, preset)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(instance.BaseURL)
	if baseURL == "" {
		baseURL = preset.BaseURL
	}

	drv, err := r.driverFor(providerID, baseURL, mergeHeaders(preset.Headers, instance.Headers), cred, credKey)
	if err != nil {
		return nil, err
	}

	return &ResolvedProvider{
		ProviderID: providerID,
		Preset:     preset,
		Credential: cred,
		Driver:     drv,
		Model:      resolveModel(modelOverride, r.cfg.Model, instance, preset),
		BaseURL:    baseURL,
		Requested:  requested,
	}, nil
}

func (r *Registry) resolveProvider() (string, ProviderInstanceConfig, Preset, string, error) {
	id := strings.ToLower(strings.TrimSpace(r.cfg.Provider))
	if id == "" {
		id = DefaultProvider
	}

	requested := ""
	if _, declared := r.cfg.Providers[id]; !declared {
		if _, ok := LookupPreset(id); !ok {
			requested = id
			id = DefaultProvider
		}
	}

	instance, declared := r.cfg.Providers[id]
	if declared && !instance.Enabled {
		return "", ProviderInstanceConfig{}, Preset{}, "", fmt.Errorf("provider %q is disabled", id)
	}

	presetID := strings.TrimSpace(instance.AIProvider)
	if presetID == "" {
		presetID = id
	}
	preset, ok := LookupPreset(presetID)
	if !ok {
		return "", ProviderInstanceConfig{}, Preset{}, "", fmt.Errorf("unsupported ai_provider %q for provider %q", presetID, id)
	}
	return id, instance, preset, requested, nil
}

func (r *Registry) selectAPIKey(providerID string, instance ProviderInstanceConfig, preset Preset) (CredentialConfig, string, error) {
	if cred, key, ok := selectCredential(instance); ok {
		return cred, key, nil
	}

	if apiKey := strings.TrimSpace(r.cfg.APIKeys[providerID]); apiKey != "" {
		return CredentialConfig{Enabled: true, Label: "env", APIKey: apiKey}, "env", nil
	}
	if apiKey := strings.TrimSpace(r.cfg.APIKeys[preset.ID]); apiKey != "" {
		return CredentialConfig{Enabled: true, Label: "env", APIKey: apiKey}, "env", nil
	}

	return CredentialConfig{}, "", fmt.Errorf("%w for provider %q: set %s", ErrMissingAPIKey, providerID, preset.KeyEnv)
}

// selectCredential returns the highest-priority enabled credential with a key.
// DefaultCredential, when it names a usable credential, wins.
func selectCredential(cfg ProviderInstanceConfig) (CredentialConfig, string, bool) {
	enabled := make([]CredentialConfig, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		if !cred.Enabled && strings.TrimSpace(cred.Label) != "" {
			continue
		}
		if strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		return CredentialConfig{}, "", false
	}

	if label := strings.TrimSpace(cfg.DefaultCredential); label != "" {
		for _, cred := range enabled {
			if strings.EqualFold(strings.TrimSpace(cred.Label), label) {
				return cred, strings.TrimSpace(cred.Label), true
			}
		}
	}

	best := enabled[0]
	for _, cred := range enabled[1:] {
		if cred.Priority > best.Priority {
			best = cred
		}
	}
	key := strings.TrimSpace(best.Label)
	if key == "" {
		key = fmt.Sprintf("p%d", best.Priority)
	}
	return best, key, true
}

func (r *Registry) driverFor(providerID, baseURL string, headers map[string]string, cred CredentialConfig, credKey string) (driver.Driver, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := providerID
	if strings.TrimSpace(credKey) != "" {
		driverKey += ":" + credKey
	}
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	client := openai.NewClient(providerID, baseURL, cred.APIKey)
	client.Timeout = r.cfg.DefaultTimeout
	client.Headers = headers
	r.drivers[driverKey] = client
	return client, nil
}

// resolveModel applies: request override, then AI_MODEL, then the instance
// default, then the preset default.
func resolveModel(override, configured string, instance ProviderInstanceConfig, preset Preset) string {
	if model := strings.TrimSpace(override); model != "" {
		return model
	}
	if model := strings.TrimSpace(configured); model != "" {
		return model
	}
	if instance.Models != nil {
		if model := strings.TrimSpace(instance.Models["default"]); model != "" {
			return model
		}
	}
	return preset.DefaultModel
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
