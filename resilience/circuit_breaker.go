// Package resilience provides the per-backend circuit breaker protecting
// language-model backends from repeated failures.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neuralmesh/mesh/core"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe requests.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker events for monitoring.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is the default no-op collector.
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string)                      {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// Config holds per-breaker configuration, validated at construction.
type Config struct {
	// Name identifies the breaker; by convention the backend id.
	Name string

	// FailureThreshold is the number of failures inside MonitoringWindow
	// that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests bounds the probe admissions of one half-open
	// period; the count is not decremented when a probe completes. Admission
	// counting is the caller's responsibility via RecordAdmission; the
	// CanRequest gate only reads the count.
	HalfOpenMaxRequests int

	// MonitoringWindow is the rolling window for failure accounting.
	MonitoringWindow time.Duration

	// Logger for state transitions. Nil means no-op.
	Logger core.Logger

	// Metrics collector. Nil means no-op.
	Metrics MetricsCollector
}

// DefaultConfig returns the production defaults.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    3,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 3,
		MonitoringWindow:    60 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half-open max requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery timeout must be positive, got %v", c.RecoveryTimeout)
	}
	if c.MonitoringWindow <= 0 {
		return fmt.Errorf("monitoring window must be positive, got %v", c.MonitoringWindow)
	}
	return nil
}

// Snapshot is a lock-guarded copy of breaker internals for observers.
type Snapshot struct {
	Name              string
	State             CircuitState
	OpenedAt          time.Time
	FailureTimestamps []time.Time
	HalfOpenSuccesses int
	HalfOpenAdmitted  int
}

// CircuitBreaker is a per-backend rolling-window failure tracker with a
// three-state machine. Breakers are process-lived, created on first use.
type CircuitBreaker struct {
	config *Config

	mu                sync.Mutex
	state             CircuitState
	openedAt          time.Time
	failures          []time.Time // failure timestamps inside the window, CLOSED only
	halfOpenSuccesses int
	halfOpenAdmitted  int

	logger  core.Logger
	metrics MetricsCollector

	// clock is swappable for tests.
	clock func() time.Time
}

// NewCircuitBreaker creates a breaker from config.
func NewCircuitBreaker(config *Config) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig("default")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &noopMetrics{}
	}

	cb := &CircuitBreaker{
		config:  config,
		state:   StateClosed,
		logger:  logger,
		metrics: metrics,
		clock:   time.Now,
	}

	logger.Debug("Circuit breaker created", map[string]interface{}{
		"operation":           "circuit_breaker_created",
		"name":                config.Name,
		"failure_threshold":   config.FailureThreshold,
		"success_threshold":   config.SuccessThreshold,
		"recovery_timeout_ms": config.RecoveryTimeout.Milliseconds(),
		"window_ms":           config.MonitoringWindow.Milliseconds(),
	})

	return cb, nil
}

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State returns the current state, performing the lazy OPEN to HALF_OPEN
// transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.state == StateOpen && cb.clock().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// CanRequest reports whether the gate admits a request. The gate is
// read-only: callers record admissions themselves via RecordAdmission.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.halfOpenAdmitted < cb.config.HalfOpenMaxRequests
	default:
		return false
	}
}

// RecordAdmission counts an admitted half-open probe. No-op outside
// HALF_OPEN.
func (cb *CircuitBreaker) RecordAdmission() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stateLocked() == StateHalfOpen {
		cb.halfOpenAdmitted++
	}
}

// RecordSuccess records a successful call. In HALF_OPEN, reaching the
// success threshold closes the circuit and clears all counters. In CLOSED
// it is a no-op.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.RecordSuccess(cb.config.Name)

	if cb.stateLocked() != StateHalfOpen {
		return
	}

	cb.halfOpenSuccesses++
	if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
		cb.logger.Info("Circuit breaker recovering to closed state", map[string]interface{}{
			"operation": "circuit_breaker_recovery",
			"name":      cb.config.Name,
			"successes": cb.halfOpenSuccesses,
			"threshold": cb.config.SuccessThreshold,
		})
		cb.transitionLocked(StateClosed)
	}
}

// RecordFailure records a failed call. CLOSED appends a timestamp, prunes
// the window, and opens once the count reaches the threshold. HALF_OPEN
// opens immediately.
// OPEN is a no-op.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.RecordFailure(cb.config.Name)
	now := cb.clock()

	switch cb.stateLocked() {
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.pruneLocked(now)
		if len(cb.failures) >= cb.config.FailureThreshold {
			cb.logger.Warn("Circuit breaker opening due to failure threshold", map[string]interface{}{
				"operation":         "circuit_breaker_opening",
				"name":              cb.config.Name,
				"failures_in_window": len(cb.failures),
				"failure_threshold": cb.config.FailureThreshold,
				"window_ms":         cb.config.MonitoringWindow.Milliseconds(),
			})
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.logger.Warn("Circuit breaker re-opening on half-open failure", map[string]interface{}{
			"operation": "circuit_breaker_reopen",
			"name":      cb.config.Name,
			"successes": cb.halfOpenSuccesses,
		})
		cb.transitionLocked(StateOpen)
	case StateOpen:
		// Already open; nothing to record.
	}
}

// RecordRejection reports a gate denial to the metrics collector.
func (cb *CircuitBreaker) RecordRejection() {
	cb.metrics.RecordRejection(cb.config.Name)
}

// Reset forces the breaker to CLOSED and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	previous := cb.state
	cb.transitionLocked(StateClosed)

	if previous != StateClosed {
		cb.logger.Info("Circuit breaker reset", map[string]interface{}{
			"operation":      "circuit_breaker_reset",
			"name":           cb.config.Name,
			"previous_state": previous.String(),
		})
	}
}

// Snapshot returns a copy of the breaker internals.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failures := make([]time.Time, len(cb.failures))
	copy(failures, cb.failures)

	return Snapshot{
		Name:              cb.config.Name,
		State:             cb.stateLocked(),
		OpenedAt:          cb.openedAt,
		FailureTimestamps: failures,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		HalfOpenAdmitted:  cb.halfOpenAdmitted,
	}
}

// pruneLocked drops failures older than the monitoring window.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringWindow)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

// transitionLocked changes state and resets per-state counters. Must be
// called with the lock held.
func (cb *CircuitBreaker) transitionLocked(newState CircuitState) {
	oldState := cb.state
	if oldState == newState && newState != StateClosed {
		return
	}

	cb.state = newState

	switch newState {
	case StateOpen:
		cb.openedAt = cb.clock()
		cb.failures = nil
		cb.halfOpenSuccesses = 0
		cb.halfOpenAdmitted = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
		cb.halfOpenAdmitted = 0
	case StateClosed:
		cb.openedAt = time.Time{}
		cb.failures = nil
		cb.halfOpenSuccesses = 0
		cb.halfOpenAdmitted = 0
	}

	if oldState != newState {
		cb.logger.Info("Circuit breaker state changed", map[string]interface{}{
			"operation": "circuit_breaker_state_change",
			"name":      cb.config.Name,
			"from":      oldState.String(),
			"to":        newState.String(),
		})
		cb.metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())
	}
}
