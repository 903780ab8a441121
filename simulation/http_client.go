package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neuralmesh/mesh/core"
)

// HTTPClient implements Client over JSON-HTTP. Every call carries a
// deadline; exceeding it surfaces as a TIMEOUT error fed to the breaker of
// whoever called us.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     core.Logger
}

// NewHTTPClient creates a client for the simulation service's REST wire.
func NewHTTPClient(baseURL string, timeout time.Duration, logger core.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

func (c *HTTPClient) call(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.NewMeshError("simulation."+path, core.KindTimeout, core.ErrTimeout)
		}
		return core.NewMeshError("simulation."+path, core.KindUpstreamUnavailable, core.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.NewMeshError("simulation."+path, core.KindUpstreamUnavailable,
			fmt.Errorf("%w: status %d", core.ErrUpstreamUnavailable, resp.StatusCode))
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) GetRebellionProbability(ctx context.Context, subjectID string) (*RebellionProbability, error) {
	var out RebellionProbability
	if err := c.call(ctx, http.MethodGet, "/api/npc/"+subjectID+"/rebellion-probability", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ProcessNPCAction(ctx context.Context, subjectID string, action NPCAction) error {
	return c.call(ctx, http.MethodPost, "/api/npc/"+subjectID+"/action", action, nil)
}

func (c *HTTPClient) GetSimulationStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) AdvanceSimulation(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, http.MethodPost, "/api/advance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeployCleansingOperation(ctx context.Context, subjectIDs []string) (*CleansingResult, error) {
	var out CleansingResult
	req := map[string][]string{"subjectIds": subjectIDs}
	if err := c.call(ctx, http.MethodPost, "/api/cleansing", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
