package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralmesh/mesh/bus"
	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/memory"
	"github.com/neuralmesh/mesh/rails"
	"github.com/neuralmesh/mesh/simulation"
)

// Publisher is the bus capability the coordinator needs.
type Publisher interface {
	Publish(channel string, data interface{})
}

// VetoDecision is the record published to rebellion-alerts on a hard deny.
type VetoDecision struct {
	EventID              string  `json:"eventId"`
	NPCID                string  `json:"npcId,omitempty"`
	Reason               string  `json:"reason"`
	RebellionProbability float64 `json:"rebellionProbability"`
	Timestamp            string  `json:"timestamp"`
	VetoedByAegis        bool    `json:"vetoedByAegis"`
	InfestationLevel     int     `json:"infestationLevel,omitempty"`
}

// railsResponse augments the pipeline response for the cognitive-rails
// channel.
type railsResponse struct {
	PipelineResponse
	VetoedByAegis    bool `json:"vetoedByAegis"`
	InfestationLevel int  `json:"infestationLevel"`
}

// whisperAdvisory is the system-status payload for soft environmental
// findings.
type whisperAdvisory struct {
	EventID          string `json:"eventId"`
	NPCID            string `json:"npcId,omitempty"`
	Advisory         string `json:"advisory"`
	InfestationLevel int    `json:"infestationLevel"`
	Timestamp        string `json:"timestamp"`
}

// Coordinator runs the event pipeline: classify, route, complete, probe
// risk, evaluate rails, publish, persist.
type Coordinator struct {
	client      *ResilientClient
	sim         simulation.Client
	interceptor *rails.Interceptor
	aegis       *rails.Aegis
	publisher   Publisher
	graph       memory.Graph
	queue       *memory.RetryQueue
	logger      core.Logger
}

// NewCoordinator wires the pipeline collaborators. All are explicit: the
// coordinator owns no global state.
func NewCoordinator(
	client *ResilientClient,
	sim simulation.Client,
	interceptor *rails.Interceptor,
	aegis *rails.Aegis,
	publisher Publisher,
	graph memory.Graph,
	queue *memory.RetryQueue,
	logger core.Logger,
) *Coordinator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Coordinator{
		client:      client,
		sim:         sim,
		interceptor: interceptor,
		aegis:       aegis,
		publisher:   publisher,
		graph:       graph,
		queue:       queue,
		logger:      logger,
	}
}

// ProcessEvent runs the full pipeline for one event. Completion failures
// (including circuit exhaustion) propagate with no partial broadcast; risk
// probe failures degrade to a zero probability and never block.
func (c *Coordinator) ProcessEvent(ctx context.Context, event *core.GameEvent) (*PipelineResponse, error) {
	start := time.Now()

	if event.ID == "" {
		copied := *event
		copied.ID = uuid.NewString()
		event = &copied
	}

	tier := ClassifyEvent(event)
	prompt := BuildPrompt(tier, event)

	completion, err := c.client.Complete(ctx, tier, prompt, nil)
	if err != nil {
		return nil, err
	}

	check := c.probeRisk(ctx, event.NPCID)

	railCtx := &rails.Context{
		RebellionProbability: check.Probability,
		Completion:           completion.Content,
		LatencyMs:            time.Since(start).Milliseconds(),
		InfestationLevel:     c.aegis.Level(),
		EventType:            event.EventType,
		Intensity:            event.UrgencyOrZero(),
		ConfidenceInDirector: c.directorConfidence(ctx, event.NPCID),
	}
	verdict := c.interceptor.EvaluateAll(railCtx)

	response := &PipelineResponse{
		EventID:        event.ID,
		Tier:           tier,
		Response:       completion.Content,
		RebellionCheck: check,
		ProcessingMs:   time.Since(start).Milliseconds(),
	}

	if !verdict.Allowed {
		response.Vetoed = true
		response.VetoReason = verdict.Reason
		response.Response = "[VETOED] " + verdict.Reason
		c.publishVeto(event, response, verdict)
	} else {
		if verdict.RuleViolated == rails.RuleAegisInfestation {
			c.publisher.Publish(bus.ChannelSystemStatus, whisperAdvisory{
				EventID:          event.ID,
				NPCID:            event.NPCID,
				Advisory:         verdict.Reason,
				InfestationLevel: c.aegis.Level(),
				Timestamp:        time.Now().Format(time.RFC3339),
			})
		}
		c.publisher.Publish(bus.ChannelNPCEvents, response)
	}

	c.persistOutcome(event, response)
	return response, nil
}

// probeRisk queries the external risk signal, substituting a zero result
// on any failure so the pipeline never blocks on the probe.
func (c *Coordinator) probeRisk(ctx context.Context, npcID string) RebellionCheck {
	if npcID == "" || c.sim == nil {
		return RebellionCheck{}
	}

	probability, err := c.sim.GetRebellionProbability(ctx, npcID)
	if err != nil {
		c.logger.Warn("Risk probe failed, substituting zero probability", map[string]interface{}{
			"operation": "risk_probe_degraded",
			"npc_id":    npcID,
			"error":     err.Error(),
		})
		return RebellionCheck{}
	}
	return RebellionCheck{
		Probability:       probability.Probability,
		ThresholdExceeded: probability.ThresholdExceeded,
	}
}

// directorConfidence reads the decayed trust value when cheaply
// obtainable; any failure degrades to absent.
func (c *Coordinator) directorConfidence(ctx context.Context, npcID string) *float64 {
	if npcID == "" || c.graph == nil {
		return nil
	}
	confidence, present, err := c.graph.DirectorConfidence(ctx, npcID)
	if err != nil || !present {
		return nil
	}
	return &confidence
}

func (c *Coordinator) publishVeto(event *core.GameEvent, response *PipelineResponse, verdict rails.Result) {
	vetoedByAegis := verdict.RuleViolated == rails.RuleAegisInfestation
	level := c.aegis.Level()

	c.publisher.Publish(bus.ChannelCognitiveRails, railsResponse{
		PipelineResponse: *response,
		VetoedByAegis:    vetoedByAegis,
		InfestationLevel: level,
	})
	c.publisher.Publish(bus.ChannelRebellionAlerts, VetoDecision{
		EventID:              event.ID,
		NPCID:                event.NPCID,
		Reason:               verdict.Reason,
		RebellionProbability: response.RebellionCheck.Probability,
		Timestamp:            time.Now().Format(time.RFC3339),
		VetoedByAegis:        vetoedByAegis,
		InfestationLevel:     level,
	})
}

// persistOutcome submits the action outcome to the memory collaborator
// through the retry queue. Fire-and-forget: enqueue is non-blocking and
// flush failures stay inside the queue.
func (c *Coordinator) persistOutcome(event *core.GameEvent, response *PipelineResponse) {
	if c.queue == nil {
		return
	}

	outcome := memory.ActionOutcome{
		NPCID:     event.NPCID,
		EventType: event.EventType,
		Success:   !response.Vetoed,
		Magnitude: response.RebellionCheck.Probability,
		Timestamp: time.Now(),
	}
	c.queue.Enqueue(func(ctx context.Context, graph memory.Graph) error {
		return graph.RecordActionOutcome(ctx, outcome)
	})
}

// BatchItem pairs one batch response with its per-event error.
type BatchItem struct {
	Response *PipelineResponse
	Err      error
}

// ProcessBatch runs the pipeline concurrently for each event and returns
// items in input order.
func (c *Coordinator) ProcessBatch(ctx context.Context, events []*core.GameEvent) []BatchItem {
	items := make([]BatchItem, len(events))

	var wg sync.WaitGroup
	for i, event := range events {
		wg.Add(1)
		go func(idx int, ev *core.GameEvent) {
			defer wg.Done()
			response, err := c.ProcessEvent(ctx, ev)
			items[idx] = BatchItem{Response: response, Err: err}
		}(i, event)
	}
	wg.Wait()
	return items
}

// StartTelemetry launches the optional telemetry subscription against the
// simulation stream. Items dispatch by discriminator; infestation level
// changes feed the Aegis supervisor.
func (c *Coordinator) StartTelemetry(ctx context.Context, stream *simulation.TelemetryStream) {
	go stream.Start(ctx, c.handleTelemetry)
}

func (c *Coordinator) handleTelemetry(item simulation.TelemetryItem) {
	switch item.Kind {
	case simulation.TelemetryMentalBreakdown, simulation.TelemetryPermanentTrauma:
		c.publisher.Publish(bus.ChannelRebellionAlerts, item)
	case simulation.TelemetryStateChange:
		c.publisher.Publish(bus.ChannelNPCEvents, item)
	default:
		c.publisher.Publish(bus.ChannelNPCEvents, item)
	}

	if item.Catastrophic {
		c.publisher.Publish(bus.ChannelSystemStatus, item)
	}

	if raw, ok := item.Attributes["infestation_level"]; ok {
		if level, ok := raw.(float64); ok {
			c.aegis.SetLevel(int(level))
		}
	}
}
