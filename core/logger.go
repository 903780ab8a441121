package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal structured logging interface shared by every
// subsystem. Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with component context support.
// When a logger is component-aware, the component name appears in
// structured logs, allowing filtering by subsystem:
//
//	kubectl logs ... | jq 'select(.component == "mesh/orchestration")'
//
// Component naming convention:
//   - "mesh/core"          - configuration, lifecycle, HTTP surface
//   - "mesh/resilience"    - circuit breakers
//   - "mesh/ai"            - backend adapters
//   - "mesh/orchestration" - router, resilient client, coordinator
//   - "mesh/rails"         - policy interceptor
//   - "mesh/bus"           - subscription bus
//   - "mesh/memory"        - memory graph, retry queue
//   - "mesh/simulation"    - simulation wire clients
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards all log output. It is the default wherever a nil
// Logger is supplied.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// logSink serializes writes so component clones never interleave output.
type logSink struct {
	mu     sync.Mutex
	output io.Writer
}

func (s *logSink) writeLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.output, line)
}

// ProductionLogger writes structured log records in JSON (for log
// aggregation) or human-readable text (for local development). Component
// clones created with WithComponent share the sink.
type ProductionLogger struct {
	level     string
	debug     bool
	service   string
	component string
	format    string
	sink      *logSink
}

// NewProductionLogger creates a logger from a LoggingConfig.
func NewProductionLogger(cfg LoggingConfig, service string) *ProductionLogger {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	level := strings.ToLower(cfg.Level)
	return &ProductionLogger{
		level:     level,
		debug:     level == "debug",
		service:   service,
		component: "mesh/core",
		format:    cfg.Format,
		sink:      &logSink{output: output},
	}
}

// WithComponent returns a logger that tags records with the given
// component, sharing the parent's sink and configuration.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := &ProductionLogger{
		level:     p.level,
		debug:     p.debug,
		service:   p.service,
		component: component,
		format:    p.format,
		sink:      p.sink,
	}
	return clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	if !p.levelEnabled(level) {
		return
	}
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.service,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			p.sink.writeLine(string(data))
		}
		return
	}

	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}
	p.sink.writeLine(fmt.Sprintf("%s [%s] [%s] %s%s", timestamp, level, p.component, msg, fieldStr.String()))
}

func (p *ProductionLogger) levelEnabled(level string) bool {
	rank := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	configured, ok := rank[strings.ToUpper(p.level)]
	if !ok {
		configured = 1
	}
	return rank[level] >= configured
}
