package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/mesh/ai"
)

func TestCompleteParsesMessagesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-haiku-20241022", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "All quiet on the perimeter."}},
			"usage":   map[string]int{"input_tokens": 12, "output_tokens": 8},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, nil)
	result, err := client.Complete(context.Background(), "claude-3-5-haiku-20241022", "status report", nil)
	require.NoError(t, err)

	assert.Equal(t, "All quiet on the perimeter.", result.Content)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, 8, result.OutputTokens)
}

func TestCompleteWithoutAPIKeyFails(t *testing.T) {
	client := NewClient("", "", nil)
	_, err := client.Complete(context.Background(), "m", "x", nil)
	assert.Error(t, err)
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "invalid_request_error", "message": "max_tokens required"},
		})
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, nil)
	_, err := client.Complete(context.Background(), "m", "x", &ai.Options{MaxTokens: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens required")
}
