package orchestration

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/ai/providers/mock"
	"github.com/neuralmesh/mesh/core"
)

// maxAuditDescription bounds the prompt excerpt stored on audit entries.
const maxAuditDescription = 200

// ExecutionMode selects between real backend adapters and the mock.
type ExecutionMode int

const (
	// ModeAuto resolves from the MESH_MOCK_AI environment hint, falling
	// back to mock when a backend has no usable credentials.
	ModeAuto ExecutionMode = iota
	// ModeMock forces the deterministic mock adapter for every backend.
	ModeMock
	// ModeReal forces real adapters; backends without credentials fail.
	ModeReal
)

// ResilientClient orchestrates route, call, breaker bookkeeping and audit
// for a single completion.
type ResilientClient struct {
	registry *ai.Registry
	router   *TierRouter
	audit    *AuditRing
	logger   core.Logger

	mode     ExecutionMode
	adapters map[ai.BackendID]ai.Adapter
	mock     *mock.Adapter
}

// ClientOption configures a ResilientClient.
type ClientOption func(*ResilientClient)

// WithExecutionMode forces mock or real execution, overriding the
// environment hint.
func WithExecutionMode(mode ExecutionMode) ClientOption {
	return func(c *ResilientClient) {
		c.mode = mode
	}
}

// WithAdapter installs an explicit adapter for a backend, bypassing the
// factory. Used by tests and by operators pinning an endpoint.
func WithAdapter(backend ai.BackendID, adapter ai.Adapter) ClientOption {
	return func(c *ResilientClient) {
		c.adapters[backend] = adapter
	}
}

// NewResilientClient builds the client and resolves one adapter per
// enabled backend. Mode resolution: explicit option over the MESH_MOCK_AI
// environment hint over default mock when credentials are absent.
func NewResilientClient(registry *ai.Registry, router *TierRouter, audit *AuditRing, logger core.Logger, opts ...ClientOption) *ResilientClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	c := &ResilientClient{
		registry: registry,
		router:   router,
		audit:    audit,
		logger:   logger,
		mode:     ModeAuto,
		adapters: make(map[ai.BackendID]ai.Adapter),
		mock:     mock.NewAdapter(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.mode == ModeAuto {
		if v, err := strconv.ParseBool(os.Getenv("MESH_MOCK_AI")); err == nil && v {
			c.mode = ModeMock
		}
	}

	for _, backend := range registry.EnabledBackends() {
		if _, pinned := c.adapters[backend.ID]; pinned {
			continue
		}
		c.adapters[backend.ID] = c.resolveAdapter(backend.ID)
	}
	return c
}

// resolveAdapter picks the real factory-built adapter when the environment
// supports it, otherwise the mock with a logged warning.
func (c *ResilientClient) resolveAdapter(backend ai.BackendID) ai.Adapter {
	if c.mode == ModeMock {
		return c.mock
	}

	factory, ok := ai.Factory(backend)
	if !ok {
		c.logger.Warn("No adapter factory for backend, using mock", map[string]interface{}{
			"operation": "adapter_resolution",
			"backend":   string(backend),
		})
		return c.mock
	}

	if !factory.DetectEnvironment() {
		if c.mode == ModeReal {
			// Real mode keeps the factory adapter; it will surface the
			// missing credentials as call failures fed to the breaker.
			return factory.Create(ai.NewAdapterConfig(ai.WithLogger(c.logger)))
		}
		c.logger.Warn("Backend credentials absent, falling back to mock", map[string]interface{}{
			"operation": "adapter_resolution",
			"backend":   string(backend),
		})
		return c.mock
	}

	return factory.Create(ai.NewAdapterConfig(ai.WithLogger(c.logger)))
}

// MockAdapter exposes the shared mock for failure injection in staging and
// tests.
func (c *ResilientClient) MockAdapter() *mock.Adapter {
	return c.mock
}

// Complete routes the tier, invokes the chosen backend adapter, records the
// outcome on that backend's breaker and appends exactly one audit entry.
func (c *ResilientClient) Complete(ctx context.Context, tier core.Tier, prompt string, opts *ai.Options) (*CompletionResult, error) {
	start := time.Now()

	route, err := c.router.RouteTier(tier)
	if err != nil {
		// Placeholder entry so failed completions are auditable too.
		c.audit.Append(AuditEntry{
			ID: uuid.NewString(),
			Decision: RoutingDecision{
				Tier:      tier,
				Backend:   "none",
				ModelID:   "none",
				LatencyMs: time.Since(start).Milliseconds(),
				Timestamp: time.Now(),
			},
			BreakerState: "open",
			Description:  truncateDescription(prompt),
			Timestamp:    time.Now(),
		})
		return nil, err
	}

	breaker := c.router.Breaker(route.Backend)
	adapter, ok := c.adapters[route.Backend]
	if !ok {
		adapter = c.mock
	}

	completion, err := adapter.Complete(ctx, route.ModelID, prompt, opts)
	latency := time.Since(start)

	if err != nil {
		breaker.RecordFailure()
		c.audit.Append(AuditEntry{
			ID: uuid.NewString(),
			Decision: RoutingDecision{
				Tier:      tier,
				Backend:   route.Backend,
				ModelID:   route.ModelID,
				LatencyMs: latency.Milliseconds(),
				Timestamp: time.Now(),
			},
			BreakerState: breaker.State().String(),
			Description:  truncateDescription(prompt),
			Timestamp:    time.Now(),
		})
		c.logger.Error("Completion failed", map[string]interface{}{
			"operation":  "completion_failed",
			"backend":    string(route.Backend),
			"model":      route.ModelID,
			"tier":       string(tier),
			"latency_ms": latency.Milliseconds(),
			"error":      err.Error(),
		})
		return nil, err
	}

	breaker.RecordSuccess()

	cost := 0.0
	if model, found := c.registry.FindModelForBackend(route.Backend, tier); found {
		cost = model.EstimateCost(completion.InputTokens, completion.OutputTokens)
	}

	c.audit.Append(AuditEntry{
		ID: uuid.NewString(),
		Decision: RoutingDecision{
			Tier:      tier,
			Backend:   route.Backend,
			ModelID:   route.ModelID,
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now(),
		},
		InputTokens:   completion.InputTokens,
		OutputTokens:  completion.OutputTokens,
		EstimatedCost: cost,
		BreakerState:  breaker.State().String(),
		Description:   truncateDescription(prompt),
		Timestamp:     time.Now(),
	})

	c.logger.Debug("Completion succeeded", map[string]interface{}{
		"operation":     "completion_success",
		"backend":       string(route.Backend),
		"model":         route.ModelID,
		"tier":          string(tier),
		"latency_ms":    latency.Milliseconds(),
		"input_tokens":  completion.InputTokens,
		"output_tokens": completion.OutputTokens,
	})

	return &CompletionResult{
		Content:      completion.Content,
		Backend:      route.Backend,
		ModelID:      route.ModelID,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		LatencyMs:    latency.Milliseconds(),
	}, nil
}

func truncateDescription(s string) string {
	if len(s) <= maxAuditDescription {
		return s
	}
	return s[:maxAuditDescription]
}
