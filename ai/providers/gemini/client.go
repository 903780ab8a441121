// Package gemini implements the "gemini" backend family using the
// generateContent API.
package gemini

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

// DefaultBaseURL is the default Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements ai.Adapter for Gemini.
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates a Gemini adapter.
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float32 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete generates a completion through the generateContent API.
func (c *Client) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	if c.apiKey == "" {
		c.Logger.Error("Gemini request failed - API key not configured", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "gemini",
			"error":     "api_key_missing",
		})
		return nil, fmt.Errorf("gemini API key not configured")
	}

	opts = c.ApplyDefaults(opts)

	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if opts.SystemPrompt != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: opts.SystemPrompt}}}
	}
	reqBody.GenerationConfig.Temperature = opts.Temperature
	reqBody.GenerationConfig.MaxOutputTokens = opts.MaxTokens

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.Logger.Error("Gemini request failed", map[string]interface{}{
			"operation": "backend_request_error",
			"backend":   "gemini",
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

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: gemini status %d: %s", core.ErrUpstreamUnavailable, resp.StatusCode, msg)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	return &ai.Completion{
		Content:      parsed.Candidates[0].Content.Parts[0].Text,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}
