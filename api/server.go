// Package api exposes the HTTP request surface of the orchestration core.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/neuralmesh/mesh/core"
	"github.com/neuralmesh/mesh/health"
	"github.com/neuralmesh/mesh/npc"
	"github.com/neuralmesh/mesh/orchestration"
)

// Server wires the HTTP handlers over the pipeline collaborators.
type Server struct {
	coordinator *orchestration.Coordinator
	dispatcher  *npc.Dispatcher
	catalog     *npc.Catalog
	audit       *orchestration.AuditRing
	health      *health.Aggregator
	logger      core.Logger

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds the server and registers every route.
func NewServer(
	coordinator *orchestration.Coordinator,
	dispatcher *npc.Dispatcher,
	catalog *npc.Catalog,
	audit *orchestration.AuditRing,
	aggregator *health.Aggregator,
	logger core.Logger,
) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{
		coordinator: coordinator,
		dispatcher:  dispatcher,
		catalog:     catalog,
		audit:       audit,
		health:      aggregator,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/events", s.handleEvent)
	s.mux.HandleFunc("POST /api/events/batch", s.handleEventBatch)
	s.mux.HandleFunc("POST /api/v1/npc/command", s.handleCommand)
	s.mux.HandleFunc("POST /api/v1/npc/command/batch", s.handleCommandBatch)
	s.mux.HandleFunc("GET /api/v1/npc/spawn-manifest", s.handleSpawnManifest)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/deep", s.handleDeepHealth)
	s.mux.HandleFunc("GET /api/audit", s.handleAudit)
	s.mux.HandleFunc("GET /api/audit/stats", s.handleAuditStats)
}

// Handler returns the route mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on the given port until Shutdown.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("HTTP server starting", map[string]interface{}{
		"operation": "http_server_start",
		"port":      port,
	})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{
			"operation": "http_encode_error",
			"error":     err.Error(),
		})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case core.IsInvalidInput(err):
		status = http.StatusBadRequest
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case core.IsCircuitAllOpen(err):
		status = http.StatusServiceUnavailable
	case core.IsTimeout(err), core.IsUpstreamUnavailable(err):
		status = http.StatusBadGateway
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  core.ErrorKind(err),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event core.GameEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	if err := event.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	response, err := s.coordinator.ProcessEvent(r.Context(), &event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// A vetoed response is still a successful pipeline response.
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var events []*core.GameEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}
	for _, event := range events {
		if err := event.Validate(); err != nil {
			s.writeError(w, err)
			return
		}
	}

	items := s.coordinator.ProcessBatch(r.Context(), events)
	responses := make([]interface{}, len(items))
	for i, item := range items {
		if item.Err != nil {
			responses[i] = map[string]interface{}{
				"error": item.Err.Error(),
				"kind":  core.ErrorKind(item.Err),
			}
			continue
		}
		responses[i] = item.Response
	}
	s.writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd npc.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	ack, err := s.dispatcher.Dispatch(&cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ack)
}

func (s *Server) handleCommandBatch(w http.ResponseWriter, r *http.Request) {
	var cmds []*npc.Command
	if err := json.NewDecoder(r.Body).Decode(&cmds); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
		return
	}

	result, err := s.dispatcher.DispatchBatch(cmds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSpawnManifest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, npc.BuildManifest(s.catalog))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleDeepHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.OverallUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			s.writeError(w, fmt.Errorf("%w: count=%q", core.ErrInvalidInput, v))
			return
		}
		count = parsed
	}
	s.writeJSON(w, http.StatusOK, s.audit.Recent(count))
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.audit.Stats())
}
