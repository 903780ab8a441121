package npc

import (
	"encoding/json"
	"fmt"

	"github.com/neuralmesh/mesh/core"
)

// CommandType names the supported NPC commands.
type CommandType string

const (
	CommandMoveTo      CommandType = "move_to"
	CommandStop        CommandType = "stop"
	CommandLookAt      CommandType = "look_at"
	CommandPlayMontage CommandType = "play_montage"
)

// MaxBatchCommands caps one batch request.
const MaxBatchCommands = 50

// MovementMode constrains move_to locomotion.
type MovementMode string

const (
	MoveWalk   MovementMode = "walk"
	MoveRun    MovementMode = "run"
	MoveSprint MovementMode = "sprint"
	MoveCrouch MovementMode = "crouch"
)

// Command is one NPC command submission.
type Command struct {
	CommandID   string          `json:"commandId"`
	NPCID       string          `json:"npcId"`
	CommandType CommandType     `json:"commandType"`
	Payload     json.RawMessage `json:"payload"`
	Priority    *int            `json:"priority,omitempty"`
}

// MoveToPayload is the payload for move_to.
type MoveToPayload struct {
	TargetLocation   *Vector3     `json:"targetLocation"`
	MovementMode     MovementMode `json:"movementMode,omitempty"`
	AcceptanceRadius *float64     `json:"acceptanceRadius,omitempty"`
}

// StopPayload is the payload for stop.
type StopPayload struct {
	InterruptMontage bool `json:"interruptMontage,omitempty"`
}

// LookAtPayload is the payload for look_at.
type LookAtPayload struct {
	TargetLocation *Vector3 `json:"targetLocation"`
}

// PlayMontagePayload is the payload for play_montage.
type PlayMontagePayload struct {
	MontageName string   `json:"montageName"`
	PlayRate    *float64 `json:"playRate,omitempty"`
}

// Validate checks the command envelope and its per-type payload schema.
func (c *Command) Validate() error {
	if c.CommandID == "" {
		return fmt.Errorf("%w: commandId is required", core.ErrInvalidInput)
	}
	if c.NPCID == "" {
		return fmt.Errorf("%w: npcId is required", core.ErrInvalidInput)
	}

	switch c.CommandType {
	case CommandMoveTo:
		var payload MoveToPayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return fmt.Errorf("%w: move_to payload: %v", core.ErrInvalidInput, err)
		}
		if payload.TargetLocation == nil {
			return fmt.Errorf("%w: move_to requires targetLocation", core.ErrInvalidInput)
		}
		switch payload.MovementMode {
		case "", MoveWalk, MoveRun, MoveSprint, MoveCrouch:
		default:
			return fmt.Errorf("%w: unknown movementMode %q", core.ErrInvalidInput, payload.MovementMode)
		}
		if payload.AcceptanceRadius != nil && *payload.AcceptanceRadius < 0 {
			return fmt.Errorf("%w: acceptanceRadius must be non-negative", core.ErrInvalidInput)
		}
	case CommandStop:
		if len(c.Payload) > 0 {
			var payload StopPayload
			if err := json.Unmarshal(c.Payload, &payload); err != nil {
				return fmt.Errorf("%w: stop payload: %v", core.ErrInvalidInput, err)
			}
		}
	case CommandLookAt:
		var payload LookAtPayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return fmt.Errorf("%w: look_at payload: %v", core.ErrInvalidInput, err)
		}
		if payload.TargetLocation == nil {
			return fmt.Errorf("%w: look_at requires targetLocation", core.ErrInvalidInput)
		}
	case CommandPlayMontage:
		var payload PlayMontagePayload
		if err := json.Unmarshal(c.Payload, &payload); err != nil {
			return fmt.Errorf("%w: play_montage payload: %v", core.ErrInvalidInput, err)
		}
		if payload.MontageName == "" {
			return fmt.Errorf("%w: play_montage requires montageName", core.ErrInvalidInput)
		}
		if payload.PlayRate != nil && *payload.PlayRate <= 0 {
			return fmt.Errorf("%w: playRate must be positive", core.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown commandType %q", core.ErrInvalidInput, c.CommandType)
	}
	return nil
}

// CommandAck is the acceptance response for one command.
type CommandAck struct {
	Accepted    bool        `json:"accepted"`
	CommandID   string      `json:"commandId"`
	CommandType CommandType `json:"commandType"`
	NPCName     string      `json:"npcName"`
}

// BatchResult reports per-command outcomes for a batch submission.
type BatchResult struct {
	Total    int               `json:"total"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Results  []BatchItemResult `json:"results"`
}

// BatchItemResult is one row of a batch result.
type BatchItemResult struct {
	CommandID string `json:"commandId"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher validates commands against the catalogue and echoes accepted
// ones onto the command channel for exporters.
type Dispatcher struct {
	catalog   *Catalog
	publisher CommandPublisher
	logger    core.Logger
}

// CommandPublisher is the bus capability the dispatcher needs.
type CommandPublisher interface {
	Publish(channel string, data interface{})
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(catalog *Catalog, publisher CommandPublisher, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Dispatcher{catalog: catalog, publisher: publisher, logger: logger}
}

// Dispatch validates one command. Unknown subjects surface as not-found;
// schema violations as invalid input. Accepted commands echo to the
// npc-commands channel.
func (d *Dispatcher) Dispatch(cmd *Command) (*CommandAck, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	character, err := d.catalog.Lookup(cmd.NPCID)
	if err != nil {
		return nil, err
	}

	if d.publisher != nil {
		d.publisher.Publish("npc-commands", cmd)
	}

	d.logger.Debug("NPC command accepted", map[string]interface{}{
		"operation":    "npc_command_accepted",
		"command_id":   cmd.CommandID,
		"command_type": string(cmd.CommandType),
		"npc_id":       cmd.NPCID,
	})

	return &CommandAck{
		Accepted:    true,
		CommandID:   cmd.CommandID,
		CommandType: cmd.CommandType,
		NPCName:     character.Name,
	}, nil
}

// DispatchBatch validates up to MaxBatchCommands commands and reports
// per-command outcomes.
func (d *Dispatcher) DispatchBatch(cmds []*Command) (*BatchResult, error) {
	if len(cmds) > MaxBatchCommands {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", core.ErrInvalidInput, len(cmds), MaxBatchCommands)
	}

	result := &BatchResult{Total: len(cmds), Results: make([]BatchItemResult, 0, len(cmds))}
	for _, cmd := range cmds {
		if _, err := d.Dispatch(cmd); err != nil {
			result.Rejected++
			result.Results = append(result.Results, BatchItemResult{
				CommandID: cmd.CommandID,
				Accepted:  false,
				Error:     err.Error(),
			})
			continue
		}
		result.Accepted++
		result.Results = append(result.Results, BatchItemResult{CommandID: cmd.CommandID, Accepted: true})
	}
	return result, nil
}
