package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/mesh/simulation"
)

type stubSim struct {
	health *simulation.Health
	err    error
}

func (s *stubSim) GetRebellionProbability(ctx context.Context, id string) (*simulation.RebellionProbability, error) {
	return nil, nil
}
func (s *stubSim) ProcessNPCAction(ctx context.Context, id string, a simulation.NPCAction) error {
	return nil
}
func (s *stubSim) GetSimulationStatus(ctx context.Context) (*simulation.Status, error) {
	return nil, nil
}
func (s *stubSim) AdvanceSimulation(ctx context.Context) (*simulation.Status, error) {
	return nil, nil
}
func (s *stubSim) DeployCleansingOperation(ctx context.Context, ids []string) (*simulation.CleansingResult, error) {
	return nil, nil
}
func (s *stubSim) GetHealth(ctx context.Context) (*simulation.Health, error) {
	return s.health, s.err
}

type stubBus struct {
	count int
}

func (b *stubBus) ConnectionCount() int { return b.count }

func TestAllHealthy(t *testing.T) {
	aggregator := NewAggregator(&stubSim{health: &simulation.Health{Status: "healthy"}}, &stubBus{count: 2}, nil)

	report := aggregator.Check(context.Background())
	assert.Equal(t, OverallHealthy, report.Status)
	require.Len(t, report.Services, 3)
	assert.Equal(t, StatusHealthy, report.Services["orchestration"].Status)
	assert.Equal(t, StatusHealthy, report.Services["simulation"].Status)
	assert.Equal(t, StatusHealthy, report.Services["bus"].Status)
	assert.NotEmpty(t, report.Timestamp)
}

func TestSimulationDownIsUnhealthy(t *testing.T) {
	aggregator := NewAggregator(&stubSim{err: errors.New("unreachable")}, &stubBus{}, nil)

	report := aggregator.Check(context.Background())
	assert.Equal(t, OverallUnhealthy, report.Status)
	assert.Equal(t, StatusDown, report.Services["simulation"].Status)
	assert.Contains(t, report.Services["simulation"].Details, "unreachable")
}

func TestSimulationDegradedRollsUp(t *testing.T) {
	aggregator := NewAggregator(&stubSim{health: &simulation.Health{Status: "degraded", Message: "slow ticks"}}, &stubBus{}, nil)

	report := aggregator.Check(context.Background())
	assert.Equal(t, OverallDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Services["simulation"].Status)
	assert.Equal(t, "slow ticks", report.Services["simulation"].Details)
}

func TestMissingCollaboratorsAreDown(t *testing.T) {
	aggregator := NewAggregator(nil, nil, nil)

	report := aggregator.Check(context.Background())
	assert.Equal(t, OverallUnhealthy, report.Status)
	assert.Equal(t, StatusDown, report.Services["simulation"].Status)
	assert.Equal(t, StatusDown, report.Services["bus"].Status)
	// Self is always healthy.
	assert.Equal(t, StatusHealthy, report.Services["orchestration"].Status)
}

func TestOKStatusCountsHealthy(t *testing.T) {
	aggregator := NewAggregator(&stubSim{health: &simulation.Health{Status: "ok"}}, &stubBus{}, nil)
	report := aggregator.Check(context.Background())
	assert.Equal(t, OverallHealthy, report.Status)
}
