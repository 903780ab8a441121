package orchestration

import (
	"fmt"
	"strings"

	"github.com/neuralmesh/mesh/core"
)

// tierInstructions are appended ahead of the event fields so the backend
// knows the stakes of the request.
var tierInstructions = map[core.Tier]string{
	core.TierRoutine: "You are narrating a background moment for a colony NPC. " +
		"Respond in one or two short sentences, in character, with no dramatic escalation.",
	core.TierOperational: "You are voicing a colony NPC responding to a direct instruction or interaction. " +
		"Respond in character, acknowledging the directive and describing the action taken.",
	core.TierStrategic: "You are voicing a colony NPC in a high-stakes situation. " +
		"Weigh loyalty, fear and self-preservation before responding. Stay in character.",
}

// BuildPrompt assembles the backend prompt for an event. The tier prefix is
// load-bearing: the mock adapter keys its deterministic output on it.
func BuildPrompt(tier core.Tier, event *core.GameEvent) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s\n\n", tier, tierInstructions[tier])
	fmt.Fprintf(&b, "Event type: %s\n", event.EventType)
	if event.NPCID != "" {
		fmt.Fprintf(&b, "NPC: %s\n", event.NPCID)
	}
	fmt.Fprintf(&b, "Description: %s\n", event.Description)
	if event.Urgency != nil {
		fmt.Fprintf(&b, "Urgency: %.2f\n", *event.Urgency)
	}
	for k, v := range event.Metadata {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}
