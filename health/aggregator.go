// Package health aggregates per-dependency probes into a roll-up verdict.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/simulation"
)

// Probe statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Overall statuses.
const (
	OverallHealthy   = "healthy"
	OverallDegraded  = "degraded"
	OverallUnhealthy = "unhealthy"
)

// DegradationThreshold downgrades a healthy probe whose latency exceeds it.
const DegradationThreshold = 3 * time.Second

// ServiceHealth is one probe result.
type ServiceHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Details   string `json:"details,omitempty"`
}

// DeepHealth is the aggregate report.
type DeepHealth struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// BusProbe is the bus capability the aggregator needs.
type BusProbe interface {
	ConnectionCount() int
}

// Aggregator probes the orchestration service itself, the simulation
// service and the subscription bus concurrently.
type Aggregator struct {
	sim    simulation.Client
	bus    BusProbe
	logger core.Logger
}

// NewAggregator wires the probe targets.
func NewAggregator(sim simulation.Client, bus BusProbe, logger core.Logger) *Aggregator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Aggregator{sim: sim, bus: bus, logger: logger}
}

// Check runs every probe concurrently and rolls up: any down is unhealthy,
// any degraded is degraded, else healthy.
func (a *Aggregator) Check(ctx context.Context) DeepHealth {
	results := make(map[string]ServiceHealth, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(name string, health ServiceHealth) {
		mu.Lock()
		results[name] = health
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		record("orchestration", ServiceHealth{Status: StatusHealthy, LatencyMs: 0})
	}()
	go func() {
		defer wg.Done()
		record("simulation", a.probeSimulation(ctx))
	}()
	go func() {
		defer wg.Done()
		record("bus", a.probeBus())
	}()
	wg.Wait()

	overall := OverallHealthy
	for _, service := range results {
		switch service.Status {
		case StatusDown:
			overall = OverallUnhealthy
		case StatusDegraded:
			if overall == OverallHealthy {
				overall = OverallDegraded
			}
		}
	}

	if overall != OverallHealthy {
		a.logger.Warn("Deep health check not fully healthy", map[string]interface{}{
			"operation": "deep_health",
			"status":    overall,
		})
	}

	return DeepHealth{
		Status:    overall,
		Services:  results,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func (a *Aggregator) probeSimulation(ctx context.Context) ServiceHealth {
	if a.sim == nil {
		return ServiceHealth{Status: StatusDown, Details: "simulation client not configured"}
	}

	start := time.Now()
	health, err := a.sim.GetHealth(ctx)
	latency := time.Since(start)

	if err != nil {
		return ServiceHealth{
			Status:    StatusDown,
			LatencyMs: latency.Milliseconds(),
			Details:   err.Error(),
		}
	}

	status := StatusHealthy
	if health.Status != "" && health.Status != StatusHealthy && health.Status != "ok" {
		status = StatusDegraded
	}
	if status == StatusHealthy && latency > DegradationThreshold {
		status = StatusDegraded
	}
	return ServiceHealth{
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		Details:   health.Message,
	}
}

func (a *Aggregator) probeBus() ServiceHealth {
	if a.bus == nil {
		return ServiceHealth{Status: StatusDown, Details: "bus not configured"}
	}

	start := time.Now()
	count := a.bus.ConnectionCount()
	latency := time.Since(start)

	if count < 0 {
		return ServiceHealth{Status: StatusDown, LatencyMs: latency.Milliseconds(), Details: "negative connection count"}
	}
	status := StatusHealthy
	if latency > DegradationThreshold {
		status = StatusDegraded
	}
	return ServiceHealth{Status: status, LatencyMs: latency.Milliseconds()}
}
