// Package openai implements the "openai" backend family using the chat
// completions API.
package openai

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

// DefaultBaseURL is the default OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client implements ai.Adapter for OpenAI.
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates an OpenAI adapter.
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete generates a completion through the chat completions API.
func (c *Client) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	if c.apiKey == "" {
		c.Logger.Error("OpenAI request failed - API key not configured", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "openai",
			"error":     "api_key_missing",
		})
		return nil, fmt.Errorf("openai API key not configured")
	}

	opts = c.ApplyDefaults(opts)

	messages := make([]chatMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.Logger.Error("OpenAI request failed", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "openai",
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

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: openai status %d: %s", core.ErrUpstreamUnavailable, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &ai.Completion{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
