package core

import (
	"fmt"
)

// Tier is the coarse priority band that determines backend eligibility.
type Tier string

const (
	TierRoutine     Tier = "ROUTINE"
	TierOperational Tier = "OPERATIONAL"
	TierStrategic   Tier = "STRATEGIC"
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierRoutine, TierOperational, TierStrategic:
		return true
	}
	return false
}

// GameEvent is the external event descriptor admitted to the pipeline.
// Immutable after admission: handlers copy before mutating.
type GameEvent struct {
	ID          string                 `json:"eventId"`
	NPCID       string                 `json:"npcId,omitempty"`
	EventType   string                 `json:"eventType"`
	Description string                 `json:"description"`
	Urgency     *float64               `json:"urgency,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks required fields and the urgency range.
func (e *GameEvent) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidInput)
	}
	if e.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if e.Urgency != nil && (*e.Urgency < 0 || *e.Urgency > 1) {
		return fmt.Errorf("%w: urgency %f out of [0,1]", ErrInvalidInput, *e.Urgency)
	}
	return nil
}

// UrgencyOrZero returns the urgency value, or 0 when absent.
func (e *GameEvent) UrgencyOrZero() float64 {
	if e.Urgency == nil {
		return 0
	}
	return *e.Urgency
}
