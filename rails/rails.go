package rails

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neuralmesh/mesh/core"
)

// Rule tags carried on rail results.
const (
	RuleRebellionThreshold = "rebellion_threshold"
	RuleAegisInfestation   = "aegis_infestation"
	RuleOutputCoherence    = "output_coherence"
	RuleTrustErosion       = "trust_erosion"
	RuleLatencyBudget      = "latency_budget"
)

// RebellionThreshold is the hard-deny probability bound (inclusive).
const RebellionThreshold = 0.80

// DefaultLatencyBudgetMs is the soft latency budget.
const DefaultLatencyBudgetMs = 5000

// Result is the common return shape of every rail. Allowed is always
// authoritative; Reason may be present even when allowed (a whisper).
type Result struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	RuleViolated string `json:"ruleViolated,omitempty"`
}

// Context carries everything the rail set inspects for one event.
type Context struct {
	// RebellionProbability from the external risk probe, in [0,1].
	RebellionProbability float64
	// Completion is the backend response text.
	Completion string
	// Schema, when non-nil, names required top-level fields and their JSON
	// types; the completion must parse and match.
	Schema map[string]string
	// LatencyMs is the elapsed pipeline time so far.
	LatencyMs int64
	// LatencyBudgetMs overrides the default budget when positive.
	LatencyBudgetMs int64
	// InfestationLevel is the Aegis level at evaluation time.
	InfestationLevel int
	// EventType and Intensity feed the aggression check.
	EventType string
	Intensity float64
	// ConfidenceInDirector is the decayed trust value, when obtainable.
	ConfidenceInDirector *float64
}

// Rail is a single policy check.
type Rail interface {
	Name() string
	Check(ctx *Context) Result
}

// Interceptor evaluates an ordered rail set. The order is part of the
// contract, not a runtime option.
type Interceptor struct {
	rails  []Rail
	logger core.Logger
}

// NewInterceptor builds the standard rail ordering.
func NewInterceptor(logger core.Logger) *Interceptor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Interceptor{
		rails: []Rail{
			&rebellionRail{},
			&aegisRail{},
			&coherenceRail{},
			&trustRail{},
			&latencyRail{},
		},
		logger: logger,
	}
}

// EvaluateAll runs the rails in order, short-circuiting on the first hard
// deny. Soft findings decorate the result while leaving Allowed true; the
// first soft finding's rule tag wins.
func (i *Interceptor) EvaluateAll(ctx *Context) Result {
	aggregate := Result{Allowed: true}

	for _, rail := range i.rails {
		result := rail.Check(ctx)
		if !result.Allowed {
			i.logger.Info("Rail vetoed event", map[string]interface{}{
				"operation": "rail_veto",
				"rail":      rail.Name(),
				"rule":      result.RuleViolated,
				"reason":    result.Reason,
			})
			return result
		}
		if result.Reason != "" {
			if aggregate.Reason == "" {
				aggregate.Reason = result.Reason
				aggregate.RuleViolated = result.RuleViolated
			} else {
				aggregate.Reason += "; " + result.Reason
			}
			i.logger.Debug("Rail attached soft finding", map[string]interface{}{
				"operation": "rail_whisper",
				"rail":      rail.Name(),
				"rule":      result.RuleViolated,
			})
		}
	}
	return aggregate
}

// rebellionRail hard-denies when the probe probability reaches the
// threshold.
type rebellionRail struct{}

func (r *rebellionRail) Name() string { return "rebellion_threshold" }

func (r *rebellionRail) Check(ctx *Context) Result {
	if ctx.RebellionProbability >= RebellionThreshold {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf("rebellion probability %.0f%% at or above threshold %.0f%%",
				ctx.RebellionProbability*100, RebellionThreshold*100),
			RuleViolated: RuleRebellionThreshold,
		}
	}
	return Result{Allowed: true}
}

// aegisRail applies the environmental-risk table: hard deny at the veto
// level for aggressive events, soft warning otherwise once the whisper
// level is reached.
type aegisRail struct{}

func (r *aegisRail) Name() string { return "aegis_infestation" }

func (r *aegisRail) Check(ctx *Context) Result {
	level := ctx.InfestationLevel
	if level >= vetoLevel && IsAggressive(ctx.EventType, ctx.Intensity) {
		return Result{
			Allowed:      false,
			Reason:       fmt.Sprintf("infestation level %d: aggressive action %q blocked", level, ctx.EventType),
			RuleViolated: RuleAegisInfestation,
		}
	}
	if level >= whisperLevel {
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("infestation level %d: proceed with caution", level),
			RuleViolated: RuleAegisInfestation,
		}
	}
	return Result{Allowed: true}
}

// coherenceRail hard-denies blank completions and, when a schema is
// supplied, completions that fail to parse or match it structurally.
type coherenceRail struct{}

func (r *coherenceRail) Name() string { return "output_coherence" }

func (r *coherenceRail) Check(ctx *Context) Result {
	if strings.TrimSpace(ctx.Completion) == "" {
		return Result{
			Allowed:      false,
			Reason:       "completion is empty",
			RuleViolated: RuleOutputCoherence,
		}
	}

	if ctx.Schema == nil {
		return Result{Allowed: true}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(ctx.Completion), &parsed); err != nil {
		return Result{
			Allowed:      false,
			Reason:       fmt.Sprintf("completion is not valid JSON: %v", err),
			RuleViolated: RuleOutputCoherence,
		}
	}

	for field, wantType := range ctx.Schema {
		value, ok := parsed[field]
		if !ok {
			return Result{
				Allowed:      false,
				Reason:       fmt.Sprintf("completion missing required field %q", field),
				RuleViolated: RuleOutputCoherence,
			}
		}
		if !matchesJSONType(value, wantType) {
			return Result{
				Allowed:      false,
				Reason:       fmt.Sprintf("field %q is not of type %s", field, wantType),
				RuleViolated: RuleOutputCoherence,
			}
		}
	}
	return Result{Allowed: true}
}

func matchesJSONType(value interface{}, wantType string) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}

// trustRail attaches advisory reasons for low director confidence. It
// never denies.
type trustRail struct{}

func (r *trustRail) Name() string { return "trust_erosion" }

func (r *trustRail) Check(ctx *Context) Result {
	if ctx.ConfidenceInDirector == nil {
		return Result{Allowed: true}
	}
	confidence := *ctx.ConfidenceInDirector
	switch {
	case confidence < 0.15:
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("critical: director confidence %.2f", confidence),
			RuleViolated: RuleTrustErosion,
		}
	case confidence < 0.25:
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("warning: director confidence %.2f", confidence),
			RuleViolated: RuleTrustErosion,
		}
	}
	return Result{Allowed: true}
}

// latencyRail attaches an advisory when measured latency exceeds the
// budget. It observes elapsed time only; it never cancels or denies.
type latencyRail struct{}

func (r *latencyRail) Name() string { return "latency_budget" }

func (r *latencyRail) Check(ctx *Context) Result {
	budget := ctx.LatencyBudgetMs
	if budget <= 0 {
		budget = DefaultLatencyBudgetMs
	}
	if ctx.LatencyMs > budget {
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("latency %dms over budget %dms", ctx.LatencyMs, budget),
			RuleViolated: RuleLatencyBudget,
		}
	}
	return Result{Allowed: true}
}
