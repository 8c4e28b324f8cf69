package ailink

import (
	"sort"
	"strings"
)

// DefaultProvider is used when no provider is configured or the configured id is unknown.
const DefaultProvider = "perplexity"

// Preset describes a built-in OpenAI-compatible provider.
type Preset struct {
	ID           string
	BaseURL      string
	DefaultModel string

	// KeyEnv is the environment variable holding the API key.
	KeyEnv  string
	Headers map[string]string
}

var presets = map[string]Preset{
	"perplexity": {
		ID:           "perplexity",
		BaseURL:      "https://api.perplexity.ai",
		DefaultModel: "sonar-pro",
		KeyEnv:       "PERPLEXITY_API_KEY",
	},
	"openrouter": {
		ID:           "openrouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "google/gemini-2.0-flash-exp:free",
		KeyEnv:       "OPENROUTER_API_KEY",
		Headers: map[string]string{
			"HTTP-Referer": "https://github.com/vibecoder/aigateway",
			"X-Title":      "aigateway",
		},
	},
	"openai": {
		ID:           "openai",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
		KeyEnv:       "OPENAI_API_KEY",
	},
}

// LookupPreset returns the preset registered under id.
func LookupPreset(id string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// PresetIDs lists the built-in provider ids in sorted order.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
