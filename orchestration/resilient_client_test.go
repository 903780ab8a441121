package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/core"
)

func newMockedClient(t *testing.T) (*ResilientClient, *TierRouter, *AuditRing) {
	t.Helper()
	registry := ai.NewRegistry()
	router := NewTierRouter(registry, fastBreakerConfig(), nil)
	audit := NewAuditRing(100)
	client := NewResilientClient(registry, router, audit, nil, WithExecutionMode(ModeMock))
	return client, router, audit
}

func TestCompleteSuccessAppendsOneAuditEntry(t *testing.T) {
	client, _, audit := newMockedClient(t)

	result, err := client.Complete(context.Background(), core.TierRoutine, "[ROUTINE] heartbeat", nil)
	require.NoError(t, err)

	assert.Equal(t, ai.BackendAnthropic, result.Backend)
	assert.NotEmpty(t, result.Content)
	assert.Equal(t, 1, audit.Size())

	entry := audit.Recent(1)[0]
	assert.Equal(t, core.TierRoutine, entry.Decision.Tier)
	assert.Equal(t, ai.BackendAnthropic, entry.Decision.Backend)
	assert.False(t, entry.Decision.FailoverOccurred)
	assert.Equal(t, "closed", entry.BreakerState)
}

func TestCompleteFailureAppendsOneAuditEntryAndPropagates(t *testing.T) {
	client, router, audit := newMockedClient(t)
	client.MockAdapter().ForceFailure = errors.New("backend exploded")

	_, err := client.Complete(context.Background(), core.TierRoutine, "x", nil)
	require.Error(t, err)
	assert.Equal(t, 1, audit.Size())

	entry := audit.Recent(1)[0]
	assert.Zero(t, entry.InputTokens)
	assert.Zero(t, entry.OutputTokens)

	// The failure was recorded on exactly the consulted breaker.
	snapshot := router.Breaker(ai.BackendAnthropic).Snapshot()
	assert.Len(t, snapshot.FailureTimestamps, 1)
}

func TestCompleteFailoverAfterPrimaryTrips(t *testing.T) {
	client, router, audit := newMockedClient(t)
	client.MockAdapter().ForceFailure = errors.New("down")

	// Two failures trip the primary with the fast config.
	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), core.TierRoutine, "x", nil)
		require.Error(t, err)
	}
	require.False(t, router.Breaker(ai.BackendAnthropic).CanRequest())

	client.MockAdapter().ForceFailure = nil
	result, err := client.Complete(context.Background(), core.TierRoutine, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, ai.BackendOpenAI, result.Backend)

	entry := audit.Recent(1)[0]
	assert.Equal(t, ai.BackendOpenAI, entry.Decision.Backend)
}

func TestCompleteAllOpenWritesPlaceholderAudit(t *testing.T) {
	client, router, audit := newMockedClient(t)
	registry := ai.NewRegistry()
	for _, backend := range registry.EnabledBackends() {
		tripBreaker(router.Breaker(backend.ID), 2)
	}

	_, err := client.Complete(context.Background(), core.TierRoutine, "x", nil)
	require.Error(t, err)
	assert.True(t, core.IsCircuitAllOpen(err))

	// The audit ring still grows by exactly one.
	entry := audit.Recent(1)[0]
	assert.Equal(t, ai.BackendID("none"), entry.Decision.Backend)
	assert.Equal(t, "none", entry.Decision.ModelID)
	assert.Equal(t, "open", entry.BreakerState)
}

func TestCompleteTruncatesPromptInAudit(t *testing.T) {
	client, _, audit := newMockedClient(t)

	long := strings.Repeat("a", 500)
	_, err := client.Complete(context.Background(), core.TierRoutine, long, nil)
	require.NoError(t, err)

	entry := audit.Recent(1)[0]
	assert.Len(t, entry.Description, maxAuditDescription)
}

func TestCompleteEstimatesCost(t *testing.T) {
	client, _, audit := newMockedClient(t)

	_, err := client.Complete(context.Background(), core.TierStrategic, "[STRATEGIC] uprising in sector 4", nil)
	require.NoError(t, err)

	entry := audit.Recent(1)[0]
	assert.Greater(t, entry.EstimatedCost, 0.0)
}

func TestMockModeDeterministicContent(t *testing.T) {
	client, _, _ := newMockedClient(t)

	first, err := client.Complete(context.Background(), core.TierRoutine, "[ROUTINE] tick", nil)
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), core.TierRoutine, "[ROUTINE] tick", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
}

func TestExplicitAdapterOverride(t *testing.T) {
	registry := ai.NewRegistry()
	router := NewTierRouter(registry, fastBreakerConfig(), nil)
	audit := NewAuditRing(10)

	pinned := &stubAdapter{content: "pinned"}
	client := NewResilientClient(registry, router, audit, nil,
		WithExecutionMode(ModeMock),
		WithAdapter(ai.BackendAnthropic, pinned),
	)

	result, err := client.Complete(context.Background(), core.TierRoutine, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "pinned", result.Content)
	assert.Equal(t, 1, pinned.calls)
}

type stubAdapter struct {
	content string
	calls   int
}

func (s *stubAdapter) Complete(ctx context.Context, model string, prompt string, opts *ai.Options) (*ai.Completion, error) {
	s.calls++
	return &ai.Completion{Content: s.content, InputTokens: 1, OutputTokens: 1}, nil
}
