// Package providers holds the backend adapter implementations and the
// shared HTTP plumbing they build on.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
)

// BaseClient provides the HTTP plumbing shared by the hosted backends.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger

	MaxRetries int
	RetryDelay time.Duration

	DefaultTemperature float32
	DefaultMaxTokens   int
}

// NewBaseClient creates a base client with defaults.
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BaseClient{
		HTTPClient:         &http.Client{Timeout: timeout},
		Logger:             logger,
		MaxRetries:         2,
		RetryDelay:         time.Second,
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1024,
	}
}

// ApplyDefaults fills unset option values.
func (b *BaseClient) ApplyDefaults(options *ai.Options) *ai.Options {
	if options == nil {
		options = &ai.Options{}
	}
	if options.Temperature == 0 {
		options.Temperature = b.DefaultTemperature
	}
	if options.MaxTokens == 0 {
		options.MaxTokens = b.DefaultMaxTokens
	}
	return options
}

// ExecuteWithRetry performs an HTTP request with exponential backoff.
// Client errors other than 429 return immediately; connection errors,
// 429 and 5xx are retried until the budget runs out.
func (b *BaseClient) ExecuteWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err := b.HTTPClient.Do(reqClone)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if err != nil {
			lastErr = fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
		} else {
			if resp.StatusCode == http.StatusTooManyRequests {
				lastErr = fmt.Errorf("%w: status %d", core.ErrRateLimited, resp.StatusCode)
			} else {
				lastErr = fmt.Errorf("%w: status %d", core.ErrUpstreamUnavailable, resp.StatusCode)
			}
			resp.Body.Close()
		}

		if attempt < b.MaxRetries {
			delay := b.RetryDelay * time.Duration(1<<uint(attempt)) // #nosec G115 - attempt bounded by MaxRetries
			b.Logger.Debug("Retrying backend request", map[string]interface{}{
				"operation":   "backend_retry",
				"attempt":     attempt + 1,
				"max_retries": b.MaxRetries,
				"delay_ms":    delay.Milliseconds(),
				"error":       lastErr.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", core.ErrTimeout, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", b.MaxRetries, lastErr)
}
