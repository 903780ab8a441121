package openai

import (
	"os"

	"github.com/neuralmesh/mesh/ai"
)

func init() {
	ai.MustRegisterFactory(&Factory{})
}

// Factory creates OpenAI adapters.
type Factory struct{}

func (f *Factory) Backend() ai.BackendID {
	return ai.BackendOpenAI
}

func (f *Factory) Description() string {
	return "OpenAI models via the chat completions API"
}

func (f *Factory) Create(config *ai.AdapterConfig) ai.Adapter {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
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
	return os.Getenv("OPENAI_API_KEY") != ""
}
