package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/neuralmesh/mesh/core"
)

// BackendID names a backend family.
type BackendID string

const (
	BackendAnthropic BackendID = "anthropic"
	BackendOpenAI    BackendID = "openai"
	BackendGemini    BackendID = "gemini"
	// BackendCustom is the self-hosted family, served through AWS Bedrock.
	BackendCustom BackendID = "custom"
)

// BackendConfig describes one backend family in the catalogue.
type BackendConfig struct {
	ID BackendID
	// Priority orders failover; lower is preferred.
	Priority int
	Enabled  bool
}

// Model describes one model offered by a backend.
type Model struct {
	ID                   string
	Backend              BackendID
	Tier                 core.Tier
	Name                 string
	InputCostPerMillion  float64
	OutputCostPerMillion float64
	MaxOutputTokens      int
	DefaultForTier       bool
}

// EstimateCost returns the estimated dollar cost for the given token counts.
func (m Model) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*m.InputCostPerMillion/1e6 +
		float64(outputTokens)*m.OutputCostPerMillion/1e6
}

// Registry is the catalogue of backends and their models. It is read-mostly;
// AddBackend/RemoveBackend take the write lock.
type Registry struct {
	mu       sync.RWMutex
	backends map[BackendID]BackendConfig
	models   []Model
}

// NewRegistry returns a registry pre-populated with the default catalogue.
func NewRegistry() *Registry {
	r := &Registry{
		backends: map[BackendID]BackendConfig{
			BackendAnthropic: {ID: BackendAnthropic, Priority: 1, Enabled: true},
			BackendOpenAI:    {ID: BackendOpenAI, Priority: 2, Enabled: true},
			BackendGemini:    {ID: BackendGemini, Priority: 3, Enabled: true},
			BackendCustom:    {ID: BackendCustom, Priority: 4, Enabled: true},
		},
		models: defaultModels(),
	}
	return r
}

func defaultModels() []Model {
	return []Model{
		{ID: "claude-3-5-haiku-20241022", Backend: BackendAnthropic, Tier: core.TierRoutine,
			Name: "Claude 3.5 Haiku", InputCostPerMillion: 0.80, OutputCostPerMillion: 4.00,
			MaxOutputTokens: 8192, DefaultForTier: true},
		{ID: "claude-sonnet-4-20250514", Backend: BackendAnthropic, Tier: core.TierOperational,
			Name: "Claude Sonnet 4", InputCostPerMillion: 3.00, OutputCostPerMillion: 15.00,
			MaxOutputTokens: 16384, DefaultForTier: true},
		{ID: "claude-opus-4-20250514", Backend: BackendAnthropic, Tier: core.TierStrategic,
			Name: "Claude Opus 4", InputCostPerMillion: 15.00, OutputCostPerMillion: 75.00,
			MaxOutputTokens: 16384, DefaultForTier: true},

		{ID: "gpt-4o-mini", Backend: BackendOpenAI, Tier: core.TierRoutine,
			Name: "GPT-4o mini", InputCostPerMillion: 0.15, OutputCostPerMillion: 0.60,
			MaxOutputTokens: 16384},
		{ID: "gpt-4o", Backend: BackendOpenAI, Tier: core.TierOperational,
			Name: "GPT-4o", InputCostPerMillion: 2.50, OutputCostPerMillion: 10.00,
			MaxOutputTokens: 16384},
		{ID: "o3", Backend: BackendOpenAI, Tier: core.TierStrategic,
			Name: "OpenAI o3", InputCostPerMillion: 10.00, OutputCostPerMillion: 40.00,
			MaxOutputTokens: 32768},

		{ID: "gemini-2.0-flash", Backend: BackendGemini, Tier: core.TierRoutine,
			Name: "Gemini 2.0 Flash", InputCostPerMillion: 0.10, OutputCostPerMillion: 0.40,
			MaxOutputTokens: 8192},
		{ID: "gemini-2.5-pro", Backend: BackendGemini, Tier: core.TierOperational,
			Name: "Gemini 2.5 Pro", InputCostPerMillion: 1.25, OutputCostPerMillion: 10.00,
			MaxOutputTokens: 16384},
		{ID: "gemini-2.5-pro", Backend: BackendGemini, Tier: core.TierStrategic,
			Name: "Gemini 2.5 Pro", InputCostPerMillion: 1.25, OutputCostPerMillion: 10.00,
			MaxOutputTokens: 16384},

		{ID: "amazon.nova-lite-v1:0", Backend: BackendCustom, Tier: core.TierRoutine,
			Name: "Nova Lite", InputCostPerMillion: 0.06, OutputCostPerMillion: 0.24,
			MaxOutputTokens: 5120},
		{ID: "amazon.nova-pro-v1:0", Backend: BackendCustom, Tier: core.TierOperational,
			Name: "Nova Pro", InputCostPerMillion: 0.80, OutputCostPerMillion: 3.20,
			MaxOutputTokens: 5120},
		{ID: "amazon.nova-pro-v1:0", Backend: BackendCustom, Tier: core.TierStrategic,
			Name: "Nova Pro", InputCostPerMillion: 0.80, OutputCostPerMillion: 3.20,
			MaxOutputTokens: 5120},
	}
}

// ModelForTier returns the default model for the tier, scanning backends in
// priority order.
func (r *Registry) ModelForTier(tier core.Tier) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, backend := range r.enabledLocked() {
		for _, m := range r.models {
			if m.Backend == backend.ID && m.Tier == tier && m.DefaultForTier {
				return m, nil
			}
		}
	}
	// No explicit default: fall back to the first model offered for the tier.
	for _, backend := range r.enabledLocked() {
		for _, m := range r.models {
			if m.Backend == backend.ID && m.Tier == tier {
				return m, nil
			}
		}
	}
	return Model{}, fmt.Errorf("%w: no model for tier %s", core.ErrModelNotFound, tier)
}

// AllModels returns a copy of the full model list.
func (r *Registry) AllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// BackendConfig returns the config for a backend id.
func (r *Registry) BackendConfig(id BackendID) (BackendConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.backends[id]
	return cfg, ok
}

// EnabledBackends returns the enabled backends in priority order.
func (r *Registry) EnabledBackends() []BackendConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledLocked()
}

func (r *Registry) enabledLocked() []BackendConfig {
	out := make([]BackendConfig, 0, len(r.backends))
	for _, cfg := range r.backends {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindModelForBackend returns the model a backend serves for the tier:
// first the tier default under that backend, then any model for the tier,
// then any model under the backend at all.
func (r *Registry) FindModelForBackend(id BackendID, tier core.Tier) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var anyForTier *Model
	var anyForBackend *Model
	for i := range r.models {
		m := r.models[i]
		if m.Backend != id {
			continue
		}
		if anyForBackend == nil {
			anyForBackend = &r.models[i]
		}
		if m.Tier == tier {
			if m.DefaultForTier {
				return m, true
			}
			if anyForTier == nil {
				anyForTier = &r.models[i]
			}
		}
	}
	if anyForTier != nil {
		return *anyForTier, true
	}
	if anyForBackend != nil {
		return *anyForBackend, true
	}
	return Model{}, false
}

// AddBackend adds or replaces a backend and its models in the catalogue.
func (r *Registry) AddBackend(cfg BackendConfig, models ...Model) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backends[cfg.ID] = cfg
	r.models = append(r.models, models...)
}

// RemoveBackend drops a backend and every model it serves.
func (r *Registry) RemoveBackend(id BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.backends, id)
	kept := r.models[:0]
	for _, m := range r.models {
		if m.Backend != id {
			kept = append(kept, m)
		}
	}
	r.models = kept
}
