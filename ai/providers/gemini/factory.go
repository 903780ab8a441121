package gemini

import (
	"os"

	"github.com/neuralmesh/mesh/ai"
)

func init() {
	ai.MustRegisterFactory(&Factory{})
}

// Factory creates Gemini adapters.
type Factory struct{}

func (f *Factory) Backend() ai.BackendID {
	return ai.BackendGemini
}

func (f *Factory) Description() string {
	return "Google Gemini models via the generateContent API"
}

func (f *Factory) Create(config *ai.AdapterConfig) ai.Adapter {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("GEMINI_BASE_URL")
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

func (f *Factory) DetectEnvironment() bool {
	return os.Getenv("GEMINI_API_KEY") != ""
}
