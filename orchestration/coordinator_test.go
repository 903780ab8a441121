package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/mesh/ai"
	"github.com/neuralmesh/mesh/bus"
	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/memory"
	"github.com/neuralmesh/mesh/rails"
	"github.com/neuralmesh/mesh/simulation"
)

// fakeSim is a controllable risk-signal service.
type fakeSim struct {
	probability float64
	err         error
	calls       int
}

func (f *fakeSim) GetRebellionProbability(ctx context.Context, subjectID string) (*simulation.RebellionProbability, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &simulation.RebellionProbability{
		SubjectID:         subjectID,
		Probability:       f.probability,
		ThresholdExceeded: f.probability >= 0.8,
	}, nil
}

func (f *fakeSim) ProcessNPCAction(ctx context.Context, subjectID string, action simulation.NPCAction) error {
	return nil
}
func (f *fakeSim) GetSimulationStatus(ctx context.Context) (*simulation.Status, error) {
	return &simulation.Status{}, nil
}
func (f *fakeSim) AdvanceSimulation(ctx context.Context) (*simulation.Status, error) {
	return &simulation.Status{}, nil
}
func (f *fakeSim) DeployCleansingOperation(ctx context.Context, ids []string) (*simulation.CleansingResult, error) {
	return &simulation.CleansingResult{Deployed: true, Affected: ids}, nil
}
func (f *fakeSim) GetHealth(ctx context.Context) (*simulation.Health, error) {
	return &simulation.Health{Status: "healthy"}, nil
}

// recordingPublisher captures every publish by channel.
type recordingPublisher struct {
	mu        sync.Mutex
	byChannel map[string][]interface{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{byChannel: make(map[string][]interface{})}
}

func (p *recordingPublisher) Publish(channel string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byChannel[channel] = append(p.byChannel[channel], data)
}

func (p *recordingPublisher) count(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byChannel[channel])
}

func (p *recordingPublisher) last(channel string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := p.byChannel[channel]
	if len(items) == 0 {
		return nil
	}
	return items[len(items)-1]
}

// fakeGraph records outcomes in memory.
type fakeGraph struct {
	mu         sync.Mutex
	outcomes   []memory.ActionOutcome
	confidence map[string]float64
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{confidence: make(map[string]float64)}
}

func (g *fakeGraph) RecordActionOutcome(ctx context.Context, outcome memory.ActionOutcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, outcome)
	return nil
}

func (g *fakeGraph) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.confidence[npcID]
	return v, ok, nil
}

type coordinatorHarness struct {
	coordinator *Coordinator
	sim         *fakeSim
	publisher   *recordingPublisher
	graph       *fakeGraph
	queue       *memory.RetryQueue
	aegis       *rails.Aegis
	audit       *AuditRing
	router      *TierRouter
}

func newHarness(t *testing.T) *coordinatorHarness {
	t.Helper()

	registry := ai.NewRegistry()
	router := NewTierRouter(registry, fastBreakerConfig(), nil)
	audit := NewAuditRing(100)
	client := NewResilientClient(registry, router, audit, nil, WithExecutionMode(ModeMock))

	sim := &fakeSim{}
	publisher := newRecordingPublisher()
	graph := newFakeGraph()
	queue := memory.NewRetryQueue()
	aegis := rails.NewAegis(nil)
	interceptor := rails.NewInterceptor(nil)

	coordinator := NewCoordinator(client, sim, interceptor, aegis, publisher, graph, queue, nil)
	return &coordinatorHarness{
		coordinator: coordinator,
		sim:         sim,
		publisher:   publisher,
		graph:       graph,
		queue:       queue,
		aegis:       aegis,
		audit:       audit,
		router:      router,
	}
}

func TestRoutineCompletionScenario(t *testing.T) {
	h := newHarness(t)

	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "telemetry",
		Description: "heartbeat",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TierRoutine, response.Tier)
	assert.False(t, response.Vetoed)
	assert.NotEmpty(t, response.EventID)

	assert.Equal(t, 1, h.audit.Size())
	assert.Equal(t, core.TierRoutine, h.audit.Recent(1)[0].Decision.Tier)

	assert.Equal(t, 1, h.publisher.count(bus.ChannelNPCEvents))
	assert.Equal(t, 0, h.publisher.count(bus.ChannelCognitiveRails))
	assert.Equal(t, 0, h.publisher.count(bus.ChannelRebellionAlerts))
}

func TestRebellionVetoScenario(t *testing.T) {
	h := newHarness(t)
	h.sim.probability = 0.92

	urgency := 0.5
	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "command",
		Description: "order the crew back to work",
		Urgency:     &urgency,
		NPCID:       "n1",
	})
	require.NoError(t, err)

	assert.True(t, response.Vetoed)
	assert.True(t, strings.HasPrefix(response.Response, "[VETOED]"))

	assert.Equal(t, 1, h.publisher.count(bus.ChannelCognitiveRails))
	assert.Equal(t, 1, h.publisher.count(bus.ChannelRebellionAlerts))
	assert.Equal(t, 0, h.publisher.count(bus.ChannelNPCEvents))

	decision, ok := h.publisher.last(bus.ChannelRebellionAlerts).(VetoDecision)
	require.True(t, ok)
	assert.False(t, decision.VetoedByAegis)
	assert.Equal(t, "n1", decision.NPCID)
	assert.InDelta(t, 0.92, decision.RebellionProbability, 0.001)
}

func TestPlagueHeartVetoScenario(t *testing.T) {
	h := newHarness(t)
	h.sim.probability = 0.3
	h.aegis.SetLevel(100)

	urgency := 0.9
	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "punishment",
		Description: "make an example of him",
		Urgency:     &urgency,
		NPCID:       "n1",
	})
	require.NoError(t, err)

	assert.True(t, response.Vetoed)

	decision, ok := h.publisher.last(bus.ChannelRebellionAlerts).(VetoDecision)
	require.True(t, ok)
	assert.True(t, decision.VetoedByAegis)
	assert.Equal(t, 100, decision.InfestationLevel)
}

func TestWhisperAdvisoryScenario(t *testing.T) {
	h := newHarness(t)
	h.aegis.SetLevel(60)

	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "dialogue",
		Description: "small talk at the canteen",
		NPCID:       "n2",
	})
	require.NoError(t, err)

	assert.False(t, response.Vetoed)
	assert.Equal(t, 1, h.publisher.count(bus.ChannelSystemStatus))
	assert.Equal(t, 1, h.publisher.count(bus.ChannelNPCEvents))
}

func TestRiskProbeUnreachableScenario(t *testing.T) {
	h := newHarness(t)
	h.sim.err = core.NewMeshError("probe", core.KindUpstreamUnavailable, core.ErrUpstreamUnavailable)

	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "command",
		Description: "carry on",
		NPCID:       "n1",
	})
	require.NoError(t, err)

	assert.False(t, response.Vetoed)
	assert.Zero(t, response.RebellionCheck.Probability)
	assert.False(t, response.RebellionCheck.ThresholdExceeded)
}

func TestAllBreakersOpenPropagates(t *testing.T) {
	h := newHarness(t)
	for _, backend := range ai.NewRegistry().EnabledBackends() {
		tripBreaker(h.router.Breaker(backend.ID), 2)
	}

	before := h.audit.Size()
	_, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "telemetry",
		Description: "heartbeat",
	})
	require.Error(t, err)
	assert.True(t, core.IsCircuitAllOpen(err))
	assert.Equal(t, before+1, h.audit.Size())

	// No partial broadcast on failure.
	assert.Equal(t, 0, h.publisher.count(bus.ChannelNPCEvents))
}

func TestPersistOutcomeEnqueued(t *testing.T) {
	h := newHarness(t)
	h.sim.probability = 0.4

	_, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "command",
		Description: "haul the ore",
		NPCID:       "n3",
	})
	require.NoError(t, err)

	require.Equal(t, 1, h.queue.Size())
	require.NoError(t, h.queue.Flush(context.Background(), h.graph))

	require.Len(t, h.graph.outcomes, 1)
	outcome := h.graph.outcomes[0]
	assert.Equal(t, "n3", outcome.NPCID)
	assert.Equal(t, "command", outcome.EventType)
	assert.True(t, outcome.Success)
	assert.InDelta(t, 0.4, outcome.Magnitude, 0.001)
}

func TestDirectorConfidenceFeedsTrustRail(t *testing.T) {
	h := newHarness(t)
	h.graph.confidence["n4"] = 0.1

	response, err := h.coordinator.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "dialogue",
		Description: "a quiet word",
		NPCID:       "n4",
	})
	require.NoError(t, err)
	assert.False(t, response.Vetoed)
	// Trust erosion is soft: the event still lands on npc-events.
	assert.Equal(t, 1, h.publisher.count(bus.ChannelNPCEvents))
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	h := newHarness(t)

	events := make([]*core.GameEvent, 8)
	for i := range events {
		events[i] = &core.GameEvent{
			ID:          fmt.Sprintf("evt-%d", i),
			EventType:   "telemetry",
			Description: "tick",
		}
	}

	items := h.coordinator.ProcessBatch(context.Background(), events)
	require.Len(t, items, len(events))
	for i, item := range items {
		require.NoError(t, item.Err)
		assert.Equal(t, fmt.Sprintf("evt-%d", i), item.Response.EventID)
	}
}

func TestTelemetryDispatch(t *testing.T) {
	h := newHarness(t)

	h.coordinator.handleTelemetry(simulation.TelemetryItem{
		Kind:      simulation.TelemetryMentalBreakdown,
		SubjectID: "n1",
		Timestamp: time.Now(),
	})
	assert.Equal(t, 1, h.publisher.count(bus.ChannelRebellionAlerts))

	h.coordinator.handleTelemetry(simulation.TelemetryItem{
		Kind:      simulation.TelemetryStateChange,
		SubjectID: "n1",
	})
	assert.Equal(t, 1, h.publisher.count(bus.ChannelNPCEvents))

	h.coordinator.handleTelemetry(simulation.TelemetryItem{
		Kind:         simulation.TelemetryPermanentTrauma,
		Catastrophic: true,
	})
	assert.Equal(t, 2, h.publisher.count(bus.ChannelRebellionAlerts))
	assert.Equal(t, 1, h.publisher.count(bus.ChannelSystemStatus))

	h.coordinator.handleTelemetry(simulation.TelemetryItem{
		Kind:       simulation.TelemetryStateChange,
		Attributes: map[string]interface{}{"infestation_level": float64(85)},
	})
	assert.Equal(t, 85, h.aegis.Level())
}
