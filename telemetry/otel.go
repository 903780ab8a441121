// Package telemetry installs the process-wide OpenTelemetry meter
// provider. Metrics-producing collaborators read instruments from the
// global provider, so Initialize must run before any of them are built.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/neuralmesh/mesh/core"
)

// exportInterval is the periodic reader's flush period.
const exportInterval = 30 * time.Second

// Provider owns the meter provider lifecycle.
type Provider struct {
	metricProvider *sdkmetric.MeterProvider
	logger         core.Logger
}

// Initialize creates a metric exporter, installs a meter provider as the
// global one and returns the handle for shutdown. When
// OTEL_EXPORTER_OTLP_ENDPOINT is set, metrics export over OTLP/HTTP to it;
// otherwise they go to stdout, which is enough for local runs.
func Initialize(ctx context.Context, serviceName string, logger core.Logger) (*Provider, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint != "" {
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			logger.Error("Failed to create OTLP metric exporter", map[string]interface{}{
				"operation": "telemetry_init",
				"endpoint":  endpoint,
				"error":     err.Error(),
				"impact":    "no metrics will be exported",
			})
			return nil, fmt.Errorf("failed to create metric exporter for endpoint %s: %w", endpoint, err)
		}
	} else {
		exporter, err = stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(exportInterval),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("Telemetry initialized", map[string]interface{}{
		"operation":          "telemetry_init",
		"exporter":           exporterName(endpoint),
		"export_interval_ms": exportInterval.Milliseconds(),
	})

	return &Provider{metricProvider: mp, logger: logger}, nil
}

func exporterName(endpoint string) string {
	if endpoint != "" {
		return "otlp-http:" + endpoint
	}
	return "stdout"
}

// Shutdown flushes pending metrics and releases the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.metricProvider == nil {
		return nil
	}
	if err := p.metricProvider.Shutdown(ctx); err != nil {
		p.logger.Warn("Telemetry shutdown incomplete", map[string]interface{}{
			"operation": "telemetry_shutdown",
			"error":     err.Error(),
		})
		return err
	}
	return nil
}
