// Package rails implements the layered policy interceptor ("Cognitive
// Rails") and the Aegis environmental-risk supervisor it consults.
package rails

import (
	"fmt"
	"strings"
	"sync"

	"github.com/neuralmesh/mesh/core"
)

// Decision is the Aegis verdict for one action.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionWhisper Decision = "whisper"
	DecisionVeto    Decision = "veto"
)

// Aegis thresholds. The interceptor's environmental rail shares this table.
const (
	whisperLevel = 50
	vetoLevel    = 100

	aggressiveIntensity = 0.5
)

// ActionVerdict is the result of Aegis.EvaluateAction.
type ActionVerdict struct {
	Decision Decision
	// VetoedBySupervisor is true when the veto came from the level table,
	// as opposed to any other rail.
	VetoedBySupervisor bool
	Message            string
}

// Aegis holds the process-wide environmental-risk ("infestation") level.
// It is an explicit collaborator: constructed once and passed to the
// coordinator and the rail set, never an ambient singleton.
type Aegis struct {
	mu     sync.Mutex
	level  int
	logger core.Logger
}

// NewAegis creates a supervisor at level zero.
func NewAegis(logger core.Logger) *Aegis {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Aegis{logger: logger}
}

// Level returns the current infestation level.
func (a *Aegis) Level() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// SetLevel updates the level, clamped to [0,100].
func (a *Aegis) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	a.mu.Lock()
	previous := a.level
	a.level = level
	a.mu.Unlock()

	if previous != level {
		a.logger.Info("Infestation level updated", map[string]interface{}{
			"operation": "aegis_level_update",
			"previous":  previous,
			"level":     level,
		})
	}
}

// IsAggressive reports whether an action type/intensity pair counts as
// aggressive for the veto table.
func IsAggressive(actionType string, intensity float64) bool {
	switch strings.ToLower(actionType) {
	case "command", "punishment":
		return intensity > aggressiveIntensity
	}
	return false
}

// EvaluateAction applies the decision table: below 50 allow, 50-99 whisper,
// 100 veto for aggressive actions and whisper otherwise.
func (a *Aegis) EvaluateAction(actionType string, intensity float64, subject string) ActionVerdict {
	level := a.Level()

	switch {
	case level < whisperLevel:
		return ActionVerdict{Decision: DecisionAllow}
	case level < vetoLevel:
		return ActionVerdict{
			Decision: DecisionWhisper,
			Message:  fmt.Sprintf("infestation level %d: advising caution for %s", level, subject),
		}
	default:
		if IsAggressive(actionType, intensity) {
			return ActionVerdict{
				Decision:           DecisionVeto,
				VetoedBySupervisor: true,
				Message:            fmt.Sprintf("infestation level %d: aggressive action %q blocked", level, actionType),
			}
		}
		return ActionVerdict{
			Decision: DecisionWhisper,
			Message:  fmt.Sprintf("infestation level %d: advising caution for %s", level, subject),
		}
	}
}
