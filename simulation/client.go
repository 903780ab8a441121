// Package simulation provides the wire clients for the external
// simulation service: the rebellion risk signal, NPC action processing,
// tick control and the telemetry stream.
package simulation

import (
	"context"
	"time"
)

// DefaultCallTimeout is the per-call deadline for simulation RPCs.
const DefaultCallTimeout = 5 * time.Second

// RebellionProbability is the risk-signal result for one subject.
type RebellionProbability struct {
	SubjectID         string             `json:"subjectId"`
	Probability       float64            `json:"probability"`
	Factors           map[string]float64 `json:"factors,omitempty"`
	ThresholdExceeded bool               `json:"thresholdExceeded"`
}

// NPCAction describes an action applied to a subject.
type NPCAction struct {
	ActionType  string  `json:"actionType"`
	Intensity   float64 `json:"intensity"`
	Description string  `json:"description"`
}

// Status is the simulation state summary.
type Status struct {
	Tick             int64   `json:"tick"`
	Population       int     `json:"population"`
	Resources        float64 `json:"resources"`
	InfestationLevel int     `json:"infestationLevel"`
}

// CleansingResult reports a cleansing operation outcome.
type CleansingResult struct {
	Deployed bool     `json:"deployed"`
	Affected []string `json:"affected"`
	Message  string   `json:"message,omitempty"`
}

// Health is the simulation service's own health report.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Client is the RPC surface the core consumes. Both wire protocols
// implement it; DualClient routes between them.
type Client interface {
	GetRebellionProbability(ctx context.Context, subjectID string) (*RebellionProbability, error)
	ProcessNPCAction(ctx context.Context, subjectID string, action NPCAction) error
	GetSimulationStatus(ctx context.Context) (*Status, error)
	AdvanceSimulation(ctx context.Context) (*Status, error)
	DeployCleansingOperation(ctx context.Context, subjectIDs []string) (*CleansingResult, error)
	GetHealth(ctx context.Context) (*Health, error)
}

// TelemetryKind discriminates stream items.
type TelemetryKind string

const (
	TelemetryStateChange     TelemetryKind = "state_change"
	TelemetryMentalBreakdown TelemetryKind = "mental_breakdown"
	TelemetryPermanentTrauma TelemetryKind = "permanent_trauma"
)

// TelemetryItem is one item of the server stream.
type TelemetryItem struct {
	Kind         TelemetryKind          `json:"kind"`
	SubjectID    string                 `json:"subjectId,omitempty"`
	Catastrophic bool                   `json:"catastrophic,omitempty"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// TelemetryFilter selects which stream items the service sends.
type TelemetryFilter struct {
	IncludeMentalBreakdowns bool `json:"includeMentalBreakdowns"`
	IncludePermanentTraumas bool `json:"includePermanentTraumas"`
	IncludeStateChanges     bool `json:"includeStateChanges"`
}
