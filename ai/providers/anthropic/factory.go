package anthropic

import (
	"os"

	"github.com/neuralmesh/mesh/ai"
)

func init() {
	ai.MustRegisterFactory(&Factory{})
}

// Factory creates Anthropic adapters.
type Factory struct{}

// Backend returns the backend family.
func (f *Factory) Backend() ai.BackendID {
	return ai.BackendAnthropic
}

// Description returns a human-readable description.
func (f *Factory) Description() string {
	return "Anthropic Claude models via the native Messages API"
}

// Create creates a new adapter.
func (f *Factory) Create(config *ai.AdapterConfig) ai.Adapter {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_BASE_URL")
	}

	client := NewClient(apiKey, baseURL, config.Logger)
	if config.Timeout > 0 {
		client.HTTPClient.Timeout = config.Timeout
	}
	if config.MaxRetries > 0 {
		client.MaxRetries = config.MaxRetries
	}
	return client
}

// DetectEnvironment reports whether credentials are present.
func (f *Factory) DetectEnvironment() bool {
	return os.Getenv("ANTHROPIC_API_KEY") != ""
}
