package orchestration

import (
	"strings"

	"github.com/neuralmesh/mesh/core"
)

// EscalationThreshold is the urgency above which any event is STRATEGIC.
// The comparison is strict: urgency must exceed the threshold.
const EscalationThreshold = 0.8

// Type tag sets per tier. Matching is case-insensitive; unknown types land
// on OPERATIONAL as the safe default.
var (
	routineTypes = map[string]struct{}{
		"telemetry": {}, "heartbeat": {}, "idle": {}, "ambient": {}, "patrol": {},
	}
	operationalTypes = map[string]struct{}{
		"command": {}, "interaction": {}, "task": {}, "dialogue": {}, "movement": {},
	}
	strategicTypes = map[string]struct{}{
		"crisis": {}, "rebellion": {}, "punishment": {}, "confrontation": {}, "uprising": {},
	}
)

// ClassifyEvent maps an event descriptor to its tier. Pure function: the
// same input always yields the same tier.
func ClassifyEvent(event *core.GameEvent) core.Tier {
	if event.Urgency != nil && *event.Urgency > EscalationThreshold {
		return core.TierStrategic
	}

	eventType := strings.ToLower(event.EventType)
	if _, ok := strategicTypes[eventType]; ok {
		return core.TierStrategic
	}
	if _, ok := routineTypes[eventType]; ok {
		return core.TierRoutine
	}
	if _, ok := operationalTypes[eventType]; ok {
		return core.TierOperational
	}
	return core.TierOperational
}
