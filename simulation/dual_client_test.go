package simulation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/mesh/core"
)

// scriptedClient answers every RPC with a fixed probability or error.
type scriptedClient struct {
	probability float64
	err         error
	calls       int
}

func (s *scriptedClient) GetRebellionProbability(ctx context.Context, subjectID string) (*RebellionProbability, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &RebellionProbability{SubjectID: subjectID, Probability: s.probability}, nil
}

func (s *scriptedClient) ProcessNPCAction(ctx context.Context, subjectID string, action NPCAction) error {
	s.calls++
	return s.err
}

func (s *scriptedClient) GetSimulationStatus(ctx context.Context) (*Status, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Status{Tick: 7}, nil
}

func (s *scriptedClient) AdvanceSimulation(ctx context.Context) (*Status, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Status{Tick: 8}, nil
}

func (s *scriptedClient) DeployCleansingOperation(ctx context.Context, subjectIDs []string) (*CleansingResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &CleansingResult{Deployed: true, Affected: subjectIDs}, nil
}

func (s *scriptedClient) GetHealth(ctx context.Context) (*Health, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Health{Status: "healthy"}, nil
}

func TestDualClientPrimaryHappyPath(t *testing.T) {
	primary := &scriptedClient{probability: 0.3}
	secondary := &scriptedClient{probability: 0.9}
	dual := NewDualClient(primary, secondary, nil)

	result, err := dual.GetRebellionProbability(context.Background(), "n1")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, result.Probability, 0.001)
	assert.Zero(t, secondary.calls)
	assert.Zero(t, dual.FallbackCount())
}

func TestDualClientFallsBackAndCounts(t *testing.T) {
	primary := &scriptedClient{err: errors.New("wire down")}
	secondary := &scriptedClient{probability: 0.6}
	dual := NewDualClient(primary, secondary, nil)

	result, err := dual.GetRebellionProbability(context.Background(), "n1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, result.Probability, 0.001)
	assert.Equal(t, uint64(1), dual.FallbackCount())

	_, err = dual.GetSimulationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), dual.FallbackCount())
}

func TestDualClientCombinedError(t *testing.T) {
	primary := &scriptedClient{err: errors.New("primary boom")}
	secondary := &scriptedClient{err: errors.New("secondary boom")}
	dual := NewDualClient(primary, secondary, nil)

	_, err := dual.GetHealth(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsUpstreamUnavailable(err))
	assert.Contains(t, err.Error(), "primary boom")
	assert.Contains(t, err.Error(), "secondary boom")
}

func TestDualClientNoSecondary(t *testing.T) {
	primaryErr := errors.New("primary only")
	dual := NewDualClient(&scriptedClient{err: primaryErr}, nil, nil)

	err := dual.ProcessNPCAction(context.Background(), "n1", NPCAction{ActionType: "command"})
	require.Error(t, err)
	assert.ErrorIs(t, err, primaryErr)
	assert.Zero(t, dual.FallbackCount())
}

func TestDualClientCleansingOperation(t *testing.T) {
	primary := &scriptedClient{}
	dual := NewDualClient(primary, nil, nil)

	result, err := dual.DeployCleansingOperation(context.Background(), []string{"n1", "n2"})
	require.NoError(t, err)
	assert.True(t, result.Deployed)
	assert.Equal(t, []string{"n1", "n2"}, result.Affected)
}
