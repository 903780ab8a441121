// Package anthropic implements the "anthropic" backend family using the
// native Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/ai/providers"
	"github.com/neuralmesh/mesh/core"
)

const (
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com/v1"
	// APIVersion is the required Anthropic API version header.
	APIVersion = "2023-06-01"
)

// Client implements ai.Adapter for Anthropic.
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates an Anthropic adapter.
func NewClient(apiKey, baseURL string, logger core.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseClient: providers.NewBaseClient(30*time.Second, logger),
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete generates a completion through the Messages API.
func (c *Client) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	if c.apiKey == "" {
		c.Logger.Error("Anthropic request failed - API key not configured", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "anthropic",
			"error":     "api_key_missing",
		})
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts = c.ApplyDefaults(opts)

	reqBody := messagesRequest{
		Model:       model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		System:      opts.SystemPrompt,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.Logger.Error("Anthropic request failed", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "anthropic",
			"model":     model,
			"error":     err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: anthropic status %d: %s", core.ErrUpstreamUnavailable, resp.StatusCode, msg)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned empty content")
	}

	return &ai.Completion{
		Content:      parsed.Content[0].Text,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
