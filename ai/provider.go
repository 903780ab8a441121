// Package ai provides the language-model backend catalogue and the adapter
// capability used by the orchestration layer.
package ai

import (
	"context"
	"time"

	"github.com/neuralmesh/mesh/core"
)

// Completion is the raw result of one backend adapter call.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Options tunes a single completion call.
type Options struct {
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// Adapter is the capability every backend family implements.
type Adapter interface {
	Complete(ctx context.Context, model string, prompt string, opts *Options) (*Completion, error)
}

// AdapterConfig holds configuration for adapter creation.
type AdapterConfig struct {
	APIKey  string
	BaseURL string
	Region  string

	Timeout    time.Duration
	MaxRetries int

	Logger core.Logger
}

// AdapterOption configures an AdapterConfig.
type AdapterOption func(*AdapterConfig)

// WithAPIKey sets the API key, overriding the environment.
func WithAPIKey(key string) AdapterOption {
	return func(c *AdapterConfig) {
		c.APIKey = key
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) AdapterOption {
	return func(c *AdapterConfig) {
		c.BaseURL = url
	}
}

// WithRegion sets the AWS region for the Bedrock-served custom family.
func WithRegion(region string) AdapterOption {
	return func(c *AdapterConfig) {
		c.Region = region
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) AdapterOption {
	return func(c *AdapterConfig) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the transport-level retry budget.
func WithMaxRetries(retries int) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxRetries = retries
	}
}

// WithLogger sets the logger for adapter operations.
func WithLogger(logger core.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = logger
	}
}

// NewAdapterConfig applies options over defaults.
func NewAdapterConfig(opts ...AdapterOption) *AdapterConfig {
	cfg := &AdapterConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return cfg
}
