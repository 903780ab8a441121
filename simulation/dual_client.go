package simulation

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/neuralmesh/mesh/core"
)

// DualClient routes every call through the primary wire protocol with
// fallback to the secondary. Primary failures increment the fallback
// counter; failure on both surfaces as one combined error.
type DualClient struct {
	primary   Client
	secondary Client
	logger    core.Logger

	fallbacks atomic.Uint64
}

// NewDualClient creates the router. Secondary may be nil, in which case
// primary failures propagate directly.
func NewDualClient(primary, secondary Client, logger core.Logger) *DualClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &DualClient{primary: primary, secondary: secondary, logger: logger}
}

// FallbackCount reports how often the secondary wire was used.
func (d *DualClient) FallbackCount() uint64 {
	return d.fallbacks.Load()
}

// do runs fn against the primary, then against the secondary on failure.
func do[T any](d *DualClient, ctx context.Context, method string, fn func(Client) (T, error)) (T, error) {
	out, primaryErr := fn(d.primary)
	if primaryErr == nil {
		return out, nil
	}

	if d.secondary == nil {
		return out, primaryErr
	}

	d.fallbacks.Add(1)
	d.logger.Warn("Primary simulation wire failed, trying secondary", map[string]interface{}{
		"operation": "simulation_fallback",
		"method":    method,
		"error":     primaryErr.Error(),
	})

	out, secondaryErr := fn(d.secondary)
	if secondaryErr == nil {
		return out, nil
	}

	var zero T
	return zero, core.NewMeshError("simulation.dual."+method, core.KindUpstreamUnavailable,
		fmt.Errorf("%w: primary: %v; secondary: %v", core.ErrUpstreamUnavailable, primaryErr, secondaryErr))
}

func (d *DualClient) GetRebellionProbability(ctx context.Context, subjectID string) (*RebellionProbability, error) {
	return do(d, ctx, "getRebellionProbability", func(c Client) (*RebellionProbability, error) {
		return c.GetRebellionProbability(ctx, subjectID)
	})
}

func (d *DualClient) ProcessNPCAction(ctx context.Context, subjectID string, action NPCAction) error {
	_, err := do(d, ctx, "processNPCAction", func(c Client) (struct{}, error) {
		return struct{}{}, c.ProcessNPCAction(ctx, subjectID, action)
	})
	return err
}

func (d *DualClient) GetSimulationStatus(ctx context.Context) (*Status, error) {
	return do(d, ctx, "getSimulationStatus", func(c Client) (*Status, error) {
		return c.GetSimulationStatus(ctx)
	})
}

func (d *DualClient) AdvanceSimulation(ctx context.Context) (*Status, error) {
	return do(d, ctx, "advanceSimulation", func(c Client) (*Status, error) {
		return c.AdvanceSimulation(ctx)
	})
}

func (d *DualClient) DeployCleansingOperation(ctx context.Context, subjectIDs []string) (*CleansingResult, error) {
	return do(d, ctx, "deployCleansingOperation", func(c Client) (*CleansingResult, error) {
		return c.DeployCleansingOperation(ctx, subjectIDs)
	})
}

func (d *DualClient) GetHealth(ctx context.Context) (*Health, error) {
	return do(d, ctx, "getHealth", func(c Client) (*Health, error) {
		return c.GetHealth(ctx)
	})
}
