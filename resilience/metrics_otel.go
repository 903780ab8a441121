package resilience

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsCollector implements MetricsCollector using OpenTelemetry.
// Instruments come from the globally configured meter provider; meshd
// installs one via telemetry.Initialize before building collaborators.
type OTelMetricsCollector struct {
	ctx          context.Context
	meter        metric.Meter
	successes    metric.Int64Counter
	failures     metric.Int64Counter
	rejections   metric.Int64Counter
	stateChanges metric.Int64Counter
}

// NewOTelMetricsCollector creates the collector and its instruments.
func NewOTelMetricsCollector(ctx context.Context) (*OTelMetricsCollector, error) {
	meter := otel.Meter("neuralmesh/resilience")

	successes, err := meter.Int64Counter("circuit_breaker.success",
		metric.WithDescription("Successful calls recorded on a circuit breaker"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("circuit_breaker.failure",
		metric.WithDescription("Failed calls recorded on a circuit breaker"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("circuit_breaker.rejected",
		metric.WithDescription("Requests denied by an open circuit breaker gate"))
	if err != nil {
		return nil, err
	}
	stateChanges, err := meter.Int64Counter("circuit_breaker.state_change",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return nil, err
	}

	return &OTelMetricsCollector{
		ctx:          ctx,
		meter:        meter,
		successes:    successes,
		failures:     failures,
		rejections:   rejections,
		stateChanges: stateChanges,
	}, nil
}

// RegisterStateGauge registers an observable gauge reflecting a breaker's
// current state (0=closed, 0.5=half-open, 1=open). stateFunc is read at
// each collection.
func (o *OTelMetricsCollector) RegisterStateGauge(name string, stateFunc func() string) error {
	gauge, err := o.meter.Float64ObservableGauge("circuit_breaker.current_state",
		metric.WithDescription("Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open)"))
	if err != nil {
		return err
	}

	_, err = o.meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		state := stateFunc()
		value := 0.0
		switch state {
		case "open":
			value = 1.0
		case "half-open":
			value = 0.5
		}
		observer.ObserveFloat64(gauge, value, metric.WithAttributes(
			attribute.String("circuit_breaker", name),
			attribute.String("state", state),
		))
		return nil
	}, gauge)
	return err
}

func (o *OTelMetricsCollector) RecordSuccess(name string) {
	o.successes.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
	))
}

func (o *OTelMetricsCollector) RecordFailure(name string) {
	o.failures.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
	))
}

func (o *OTelMetricsCollector) RecordStateChange(name string, from, to string) {
	o.stateChanges.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
		attribute.String("from_state", from),
		attribute.String("to_state", to),
	))
}

func (o *OTelMetricsCollector) RecordRejection(name string) {
	o.rejections.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("circuit_breaker", name),
	))
}
