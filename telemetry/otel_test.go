package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitializeInstallsGlobalProvider(t *testing.T) {
	provider, err := Initialize(context.Background(), "mesh-test", nil)
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	// Instruments created after Initialize bind to the installed provider
	// and record without error.
	meter := otel.Meter("telemetry-test")
	counter, err := meter.Int64Counter("telemetry_test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestShutdownOnNilProviderIsSafe(t *testing.T) {
	var provider *Provider
	assert.NoError(t, provider.Shutdown(context.Background()))
}
