// Package orchestration composes the tier router, resilient completion
// client and pipeline coordinator around the backend catalogue.
package orchestration

import (
	"time"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
)

// RoutingDecision records one routing outcome.
type RoutingDecision struct {
	Tier             core.Tier    `json:"tier"`
	Backend          ai.BackendID `json:"backend"`
	ModelID          string       `json:"modelId"`
	FailoverOccurred bool         `json:"failoverOccurred"`
	FailoverFrom     ai.BackendID `json:"failoverFrom,omitempty"`
	LatencyMs        int64        `json:"latencyMs"`
	Timestamp        time.Time    `json:"timestamp"`
}

// AuditEntry is one record in the audit ring.
type AuditEntry struct {
	ID            string          `json:"entryId"`
	Decision      RoutingDecision `json:"decision"`
	InputTokens   int             `json:"inputTokens"`
	OutputTokens  int             `json:"outputTokens"`
	EstimatedCost float64         `json:"estimatedCost"`
	BreakerState  string          `json:"breakerState"`
	Description   string          `json:"description"`
	Timestamp     time.Time       `json:"timestamp"`
}

// AuditStats aggregates the ring contents.
type AuditStats struct {
	Total         int               `json:"total"`
	FailoverCount int               `json:"failoverCount"`
	MeanLatencyMs float64           `json:"meanLatencyMs"`
	PerTierCount  map[core.Tier]int `json:"perTierCount"`
}

// CompletionResult is the timed result of a resilient completion.
type CompletionResult struct {
	Content      string       `json:"content"`
	Backend      ai.BackendID `json:"backend"`
	ModelID      string       `json:"modelId"`
	InputTokens  int          `json:"inputTokens"`
	OutputTokens int          `json:"outputTokens"`
	LatencyMs    int64        `json:"latencyMs"`
}

// RebellionCheck is the external risk probe result carried on a response.
type RebellionCheck struct {
	Probability       float64 `json:"probability"`
	ThresholdExceeded bool    `json:"thresholdExceeded"`
}

// PipelineResponse is the outcome of one pipeline run.
type PipelineResponse struct {
	EventID        string         `json:"eventId"`
	Tier           core.Tier      `json:"tier"`
	Response       string         `json:"response"`
	RebellionCheck RebellionCheck `json:"rebellionCheck"`
	Vetoed         bool           `json:"vetoed"`
	VetoReason     string         `json:"vetoReason,omitempty"`
	ProcessingMs   int64          `json:"processingMs"`
}
