package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neuralmesh/mesh/core"
)

// WSClient implements Client over a request/response protocol on a single
// WebSocket connection. Frames are {id, method, params} out and {id,
// result, error} back. The connection is dialed lazily and redialed after
// any transport error.
type WSClient struct {
	url     string
	timeout time.Duration
	logger  core.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

type wsRequest struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type wsResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewWSClient creates a client for the simulation service's WebSocket wire.
func NewWSClient(url string, timeout time.Duration, logger core.Logger) *WSClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WSClient{url: url, timeout: timeout, logger: logger}
}

// call serializes one request/response exchange. Calls are mutex-ordered:
// the wire protocol answers in order, so pipelining is not attempted.
func (c *WSClient) call(ctx context.Context, method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
		conn, _, err := dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return core.NewMeshError("simulation.ws."+method, core.KindUpstreamUnavailable,
				fmt.Errorf("%w: dial: %v", core.ErrConnectionFailed, err))
		}
		c.conn = conn
	}

	c.nextID++
	req := wsRequest{ID: c.nextID, Method: method, Params: params}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.dropConnLocked()
		return core.NewMeshError("simulation.ws."+method, core.KindUpstreamUnavailable,
			fmt.Errorf("%w: write: %v", core.ErrConnectionFailed, err))
	}

	c.conn.SetReadDeadline(deadline)
	var resp wsResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		c.dropConnLocked()
		if ctx.Err() == context.DeadlineExceeded {
			return core.NewMeshError("simulation.ws."+method, core.KindTimeout, core.ErrTimeout)
		}
		return core.NewMeshError("simulation.ws."+method, core.KindUpstreamUnavailable,
			fmt.Errorf("%w: read: %v", core.ErrConnectionFailed, err))
	}

	if resp.ID != req.ID {
		c.dropConnLocked()
		return core.NewMeshError("simulation.ws."+method, core.KindUpstreamUnavailable,
			fmt.Errorf("%w: response id %d for request %d", core.ErrUpstreamUnavailable, resp.ID, req.ID))
	}
	if resp.Error != "" {
		return core.NewMeshError("simulation.ws."+method, core.KindUpstreamUnavailable,
			fmt.Errorf("%w: %s", core.ErrUpstreamUnavailable, resp.Error))
	}

	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func (c *WSClient) dropConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close terminates the connection if open.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConnLocked()
	return nil
}

func (c *WSClient) GetRebellionProbability(ctx context.Context, subjectID string) (*RebellionProbability, error) {
	var out RebellionProbability
	params := map[string]string{"subjectId": subjectID}
	if err := c.call(ctx, "getRebellionProbability", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WSClient) ProcessNPCAction(ctx context.Context, subjectID string, action NPCAction) error {
	params := map[string]interface{}{"subjectId": subjectID, "action": action}
	return c.call(ctx, "processNPCAction", params, nil)
}

func (c *WSClient) GetSimulationStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, "getSimulationStatus", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WSClient) AdvanceSimulation(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, "advanceSimulation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WSClient) DeployCleansingOperation(ctx context.Context, subjectIDs []string) (*CleansingResult, error) {
	var out CleansingResult
	params := map[string][]string{"subjectIds": subjectIDs}
	if err := c.call(ctx, "deployCleansingOperation", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WSClient) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, "getHealth", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
