package orchestration

import (
	"fmt"
	"sync"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/resilience"
)

// Route is the router's choice for one request.
type Route struct {
	Backend ai.BackendID
	ModelID string
}

// TierRouter picks the first admissible (backend, model) for a tier,
// honoring each backend's breaker state. Breakers are created lazily on
// first use and live for the process.
type TierRouter struct {
	registry      *ai.Registry
	breakerConfig resilience.Config
	logger        core.Logger

	mu       sync.Mutex
	breakers map[ai.BackendID]*resilience.CircuitBreaker
}

// NewTierRouter creates a router over the registry. The breaker config is
// shared by every per-backend breaker (the Name field is overwritten).
func NewTierRouter(registry *ai.Registry, breakerConfig resilience.Config, logger core.Logger) *TierRouter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &TierRouter{
		registry:      registry,
		breakerConfig: breakerConfig,
		logger:        logger,
		breakers:      make(map[ai.BackendID]*resilience.CircuitBreaker),
	}
}

// Breaker returns the process-lived breaker for a backend, creating it on
// first use. The resilient client records outcomes on exactly this handle.
func (t *TierRouter) Breaker(backend ai.BackendID) *resilience.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.breakerLocked(backend)
}

func (t *TierRouter) breakerLocked(backend ai.BackendID) *resilience.CircuitBreaker {
	if cb, ok := t.breakers[backend]; ok {
		return cb
	}
	cfg := t.breakerConfig
	cfg.Name = string(backend)
	if cfg.Logger == nil {
		cfg.Logger = t.logger
	}
	cb, err := resilience.NewCircuitBreaker(&cfg)
	if err != nil {
		// Shared config was validated by the caller; a bad per-backend
		// clone can only mean an empty name, which we just set.
		panic(fmt.Sprintf("invalid breaker config for backend %s: %v", backend, err))
	}
	t.breakers[backend] = cb
	return cb
}

// RouteTier picks the first backend, in priority order, whose breaker gate
// admits a request, along with the model it serves for the tier. Exhausting
// every backend yields a CIRCUIT_ALL_OPEN error. Deterministic for a fixed
// breaker snapshot.
func (t *TierRouter) RouteTier(tier core.Tier) (Route, error) {
	backends := t.registry.EnabledBackends()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, backend := range backends {
		cb := t.breakerLocked(backend.ID)
		if !cb.CanRequest() {
			cb.RecordRejection()
			t.logger.Debug("Backend gate denied, trying next", map[string]interface{}{
				"operation": "route_backend_skip",
				"backend":   string(backend.ID),
				"state":     cb.State().String(),
				"tier":      string(tier),
			})
			continue
		}

		model, ok := t.registry.FindModelForBackend(backend.ID, tier)
		if !ok {
			t.logger.Warn("Backend has no model for tier", map[string]interface{}{
				"operation": "route_no_model",
				"backend":   string(backend.ID),
				"tier":      string(tier),
			})
			continue
		}

		// Admission counting is ours: the breaker gate is read-only.
		cb.RecordAdmission()

		return Route{Backend: backend.ID, ModelID: model.ID}, nil
	}

	t.logger.Error("All backend breakers deny requests", map[string]interface{}{
		"operation": "route_all_open",
		"tier":      string(tier),
		"backends":  len(backends),
	})
	return Route{}, core.NewMeshError("router.RouteTier", core.KindCircuitAllOpen, core.ErrCircuitAllOpen)
}

// BreakerStates reports every known breaker's state, for health and audit
// surfaces.
func (t *TierRouter) BreakerStates() map[ai.BackendID]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[ai.BackendID]string, len(t.breakers))
	for id, cb := range t.breakers {
		out[id] = cb.State().String()
	}
	return out
}
