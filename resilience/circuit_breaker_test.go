package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock lets tests drive time through the breaker's swappable clock.
type testClock struct {
	now time.Time
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, cfg *Config) (*CircuitBreaker, *testClock) {
	t.Helper()
	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	clock := &testClock{now: time.Now()}
	cb.clock = func() time.Time { return clock.now }
	return cb, clock
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"missing name", func(c *Config) { c.Name = "" }, true},
		{"zero failure threshold", func(c *Config) { c.FailureThreshold = 0 }, true},
		{"zero success threshold", func(c *Config) { c.SuccessThreshold = 0 }, true},
		{"zero half-open requests", func(c *Config) { c.HalfOpenMaxRequests = 0 }, true},
		{"negative recovery timeout", func(c *Config) { c.RecoveryTimeout = -time.Second }, true},
		{"zero monitoring window", func(c *Config) { c.MonitoringWindow = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("test")
			tt.mutate(cfg)
			_, err := NewCircuitBreaker(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpensAtFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig("test"))

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanRequest())
}

func TestSpacedFailuresStayClosed(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	// Failures spaced wider than the monitoring window never accumulate.
	for i := 0; i < 20; i++ {
		cb.RecordFailure()
		clock.advance(cfg.MonitoringWindow + time.Second)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())
}

func TestRecoveryTimeoutEntersHalfOpen(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	clock.advance(cfg.RecoveryTimeout - time.Millisecond)
	assert.Equal(t, StateOpen, cb.State())

	clock.advance(2 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.CanRequest())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock.advance(cfg.RecoveryTimeout)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenSuccessesClose(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock.advance(cfg.RecoveryTimeout)
	require.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < cfg.SuccessThreshold; i++ {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())

	// A fresh failure run is needed to open again: counters were cleared.
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenAdmissionBound(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock.advance(cfg.RecoveryTimeout)
	require.Equal(t, StateHalfOpen, cb.State())

	// The gate is read-only; admissions are counted by the caller.
	for i := 0; i < cfg.HalfOpenMaxRequests; i++ {
		assert.True(t, cb.CanRequest())
		cb.RecordAdmission()
	}
	assert.False(t, cb.CanRequest())
}

func TestResetForcesClosed(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, _ := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())

	snapshot := cb.Snapshot()
	assert.Empty(t, snapshot.FailureTimestamps)
	assert.Zero(t, snapshot.HalfOpenSuccesses)
	assert.Zero(t, snapshot.HalfOpenAdmitted)
}

func TestClosedSuccessIsNoOp(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig("test"))

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestOpenFailureIsNoOp(t *testing.T) {
	cfg := DefaultConfig("test")
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	openedAt := cb.Snapshot().OpenedAt

	clock.advance(time.Second)
	cb.RecordFailure()
	assert.Equal(t, openedAt, cb.Snapshot().OpenedAt)
}

func TestSnapshotCopiesState(t *testing.T) {
	cb, _ := newTestBreaker(t, DefaultConfig("test"))

	cb.RecordFailure()
	cb.RecordFailure()

	snapshot := cb.Snapshot()
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Len(t, snapshot.FailureTimestamps, 2)

	// Mutating the copy must not touch the breaker.
	snapshot.FailureTimestamps[0] = time.Time{}
	assert.NotEqual(t, time.Time{}, cb.Snapshot().FailureTimestamps[0])
}

func TestStateChangeMetrics(t *testing.T) {
	recorder := &recordingMetrics{}
	cfg := DefaultConfig("test")
	cfg.Metrics = recorder
	cb, clock := newTestBreaker(t, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure()
	}
	clock.advance(cfg.RecoveryTimeout)
	_ = cb.State()

	assert.Contains(t, recorder.transitions, "closed->open")
	assert.Contains(t, recorder.transitions, "open->half-open")
}

type recordingMetrics struct {
	transitions []string
}

func (r *recordingMetrics) RecordSuccess(name string) {}
func (r *recordingMetrics) RecordFailure(name string) {}
func (r *recordingMetrics) RecordStateChange(name string, from, to string) {
	r.transitions = append(r.transitions, from+"->"+to)
}
func (r *recordingMetrics) RecordRejection(name string) {}
