// Package mock provides a deterministic backend adapter used when no API
// keys are configured and in tests.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
)

// Adapter implements ai.Adapter with deterministic output keyed on the
// prompt prefix.
type Adapter struct {
	mu sync.Mutex

	// ForceFailure makes every call fail with the given error when set.
	ForceFailure error

	// FailureRate in [0,1] fails that fraction of prompts. Failure is
	// keyed on the prompt hash, so a given prompt fails consistently.
	FailureRate float64

	// LatencyMin/LatencyMax bound the simulated latency. Zero means no
	// simulated delay.
	LatencyMin time.Duration
	LatencyMax time.Duration

	CallCount  int
	LastPrompt string
	LastModel  string
}

// NewAdapter creates a mock adapter with no simulated latency.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// canned maps prompt prefixes to response themes. Unknown prefixes fall
// back to an echo response.
var canned = map[string]string{
	"[ROUTINE]":     "Acknowledged. Continuing routine duties without interruption.",
	"[OPERATIONAL]": "Directive received. Executing the requested operation now.",
	"[STRATEGIC]":   "Assessing the situation. Prioritizing colony stability and containment.",
}

// Complete returns a deterministic completion for the prompt.
func (a *Adapter) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	a.mu.Lock()
	a.CallCount++
	a.LastPrompt = prompt
	a.LastModel = model
	failure := a.ForceFailure
	latency := a.simulatedLatencyLocked(prompt)
	a.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", core.ErrTimeout, ctx.Err())
		}
	} else {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", core.ErrTimeout, ctx.Err())
		default:
		}
	}

	if failure != nil {
		return nil, failure
	}
	if a.FailureRate > 0 && hashFraction(prompt) < a.FailureRate {
		return nil, fmt.Errorf("%w: simulated backend failure", core.ErrUpstreamUnavailable)
	}

	content := ""
	for prefix, response := range canned {
		if strings.HasPrefix(prompt, prefix) {
			content = response
			break
		}
	}
	if content == "" {
		content = fmt.Sprintf("Mock response for: %s", truncate(prompt, 80))
	}

	return &ai.Completion{
		Content:      content,
		InputTokens:  len(prompt) / 4,
		OutputTokens: len(content) / 4,
	}, nil
}

// simulatedLatencyLocked derives a stable latency in [LatencyMin,
// LatencyMax] from the prompt so repeated calls behave identically.
func (a *Adapter) simulatedLatencyLocked(prompt string) time.Duration {
	if a.LatencyMax <= a.LatencyMin {
		return a.LatencyMin
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	span := a.LatencyMax - a.LatencyMin
	return a.LatencyMin + time.Duration(h.Sum32())%span
}

// hashFraction maps a prompt to a stable value in [0,1).
func hashFraction(prompt string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return float64(h.Sum32()%1000) / 1000
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
