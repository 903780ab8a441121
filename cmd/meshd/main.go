// Command meshd runs the Neural Mesh orchestration service: the event
// pipeline, the subscription bus and the HTTP surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuralmesh/mesh/api"
	"github.com/neuralmesh/mesh/bus"
	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/health"
	"github.com/neuralmesh/mesh/memory"
	"github.com/neuralmesh/mesh/npc"
	"github.com/neuralmesh/mesh/orchestration"
	"github.com/neuralmesh/mesh/rails"
	"github.com/neuralmesh/mesh/resilience"
	"github.com/neuralmesh/mesh/simulation"
	"github.com/neuralmesh/mesh/telemetry"

	// Backend adapter factories self-register on import.
	_ "github.com/neuralmesh/mesh/ai/providers/anthropic"
	_ "github.com/neuralmesh/mesh/ai/providers/bedrock"
	_ "github.com/neuralmesh/mesh/ai/providers/gemini"
	_ "github.com/neuralmesh/mesh/ai/providers/openai"

	aipkg "github.com/neuralmesh/mesh/ai"
)

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Install the global meter provider before any metrics-producing
	// collaborator is built, so breaker instruments bind to a real
	// exporter (stdout locally, OTLP when OTEL_EXPORTER_OTLP_ENDPOINT is
	// set).
	telemetryProvider, err := telemetry.Initialize(ctx, cfg.Name, componentLogger(logger, "mesh/core"))
	if err != nil {
		logger.Warn("Telemetry unavailable, metrics disabled", map[string]interface{}{
			"operation": "telemetry_init",
			"error":     err.Error(),
		})
	}

	metrics, err := resilience.NewOTelMetricsCollector(ctx)
	if err != nil {
		logger.Warn("Metrics collector unavailable", map[string]interface{}{
			"operation": "metrics_init",
			"error":     err.Error(),
		})
	}

	registry := aipkg.NewRegistry()
	breakerCfg := resilience.DefaultConfig("shared")
	breakerCfg.Logger = componentLogger(logger, "mesh/resilience")
	if metrics != nil {
		breakerCfg.Metrics = metrics
	}

	auditRing := orchestration.NewAuditRing(orchestration.DefaultAuditCapacity)
	router := orchestration.NewTierRouter(registry, *breakerCfg, componentLogger(logger, "mesh/orchestration"))

	// One observable state gauge per backend breaker.
	if metrics != nil {
		for _, backend := range registry.EnabledBackends() {
			breaker := router.Breaker(backend.ID)
			if err := metrics.RegisterStateGauge(string(backend.ID), func() string {
				return breaker.State().String()
			}); err != nil {
				logger.Warn("State gauge registration failed", map[string]interface{}{
					"operation": "metrics_gauge_register",
					"backend":   string(backend.ID),
					"error":     err.Error(),
				})
			}
		}
	}

	clientOpts := []orchestration.ClientOption{}
	if cfg.AI.MockMode {
		clientOpts = append(clientOpts, orchestration.WithExecutionMode(orchestration.ModeMock))
	}
	client := orchestration.NewResilientClient(registry, router, auditRing,
		componentLogger(logger, "mesh/orchestration"), clientOpts...)
	if cfg.AI.MockFailureRate > 0 {
		client.MockAdapter().FailureRate = cfg.AI.MockFailureRate
	}

	// Simulation wires: REST primary, WebSocket RPC secondary.
	simLogger := componentLogger(logger, "mesh/simulation")
	primary := simulation.NewHTTPClient(cfg.Simulation.HTTPURL, cfg.Simulation.Timeout, simLogger)
	secondary := simulation.NewWSClient(cfg.Simulation.WSURL+"/rpc", cfg.Simulation.Timeout, simLogger)
	simClient := simulation.NewDualClient(primary, secondary, simLogger)

	// Memory graph and retry queue.
	memLogger := componentLogger(logger, "mesh/memory")
	var graph memory.Graph
	redisGraph, err := memory.NewRedisGraph(cfg.Redis.URL, memLogger)
	if err != nil {
		logger.Warn("Memory graph unavailable, persistence disabled", map[string]interface{}{
			"operation": "memory_init",
			"error":     err.Error(),
		})
	} else {
		graph = redisGraph
	}
	queue := memory.NewRetryQueue(memory.WithQueueLogger(memLogger))
	if graph != nil {
		if err := queue.Start(graph); err != nil {
			logger.Error("Retry queue start failed", map[string]interface{}{
				"operation": "retry_queue_start",
				"error":     err.Error(),
			})
		}
	}

	// Subscription bus on its own port next to the HTTP surface.
	busLogger := componentLogger(logger, "mesh/bus")
	eventBus := bus.NewBus(
		bus.WithLogger(busLogger),
		bus.WithHeartbeatInterval(cfg.Bus.HeartbeatInterval),
	)
	if err := eventBus.Start(cfg.Port + 1); err != nil {
		logger.Error("Bus start failed", map[string]interface{}{
			"operation": "bus_start",
			"error":     err.Error(),
		})
		os.Exit(1)
	}

	aegis := rails.NewAegis(componentLogger(logger, "mesh/rails"))
	interceptor := rails.NewInterceptor(componentLogger(logger, "mesh/rails"))

	coordinator := orchestration.NewCoordinator(
		client, simClient, interceptor, aegis, eventBus, graph, queue,
		componentLogger(logger, "mesh/orchestration"),
	)

	// Telemetry subscription: dispatches stream items onto bus channels
	// and feeds infestation changes to Aegis.
	stream := simulation.NewTelemetryStream(cfg.Simulation.WSURL+"/telemetry", simulation.TelemetryFilter{
		IncludeMentalBreakdowns: true,
		IncludePermanentTraumas: true,
		IncludeStateChanges:     true,
	}, simLogger)
	coordinator.StartTelemetry(ctx, stream)

	catalog := npc.NewCatalog()
	dispatcher := npc.NewDispatcher(catalog, eventBus, componentLogger(logger, "mesh/core"))
	aggregator := health.NewAggregator(simClient, eventBus, componentLogger(logger, "mesh/core"))

	server := api.NewServer(coordinator, dispatcher, catalog, auditRing, aggregator,
		componentLogger(logger, "mesh/core"))

	go func() {
		if err := server.Start(cfg.Port); err != nil {
			logger.Error("HTTP server stopped", map[string]interface{}{
				"operation": "http_server_error",
				"error":     err.Error(),
			})
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	_ = eventBus.Close()
	if graph != nil {
		_ = queue.DrainAndStop(graph)
		_ = redisGraph.Close()
	}
	_ = secondary.Close()
	_ = telemetryProvider.Shutdown(shutdownCtx)
}

func componentLogger(logger core.Logger, component string) core.Logger {
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return logger
}
