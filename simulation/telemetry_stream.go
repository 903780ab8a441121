package simulation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/neuralmesh/mesh/core"
)

// TelemetryHandler consumes one stream item. Handlers must not block: the
// reader loop delivers items sequentially.
type TelemetryHandler func(item TelemetryItem)

// TelemetryStream is a long-running consumer of the simulation service's
// telemetry stream, reconnecting with capped exponential backoff after any
// transport failure. Cancellation is cooperative via the context passed to
// Start.
type TelemetryStream struct {
	url    string
	filter TelemetryFilter
	logger core.Logger
}

// NewTelemetryStream creates a stream consumer for the WebSocket telemetry
// endpoint.
func NewTelemetryStream(url string, filter TelemetryFilter, logger core.Logger) *TelemetryStream {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &TelemetryStream{url: url, filter: filter, logger: logger}
}

// Start consumes the stream until the context is cancelled. It returns
// only on cancellation; transport failures reconnect internally.
func (s *TelemetryStream) Start(ctx context.Context, handler TelemetryHandler) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0 // retry forever, cancellation is via ctx

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		s.logger.Warn("Telemetry stream disconnected, reconnecting", map[string]interface{}{
			"operation":  "telemetry_reconnect",
			"wait_ms":    wait.Milliseconds(),
			"error":      errString(err),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// consumeOnce dials, subscribes with the filter and reads items until the
// connection drops. A successful subscribe does not reset the backoff
// policy: within one Start call the reconnect interval only grows toward
// the one-minute cap and is never brought back down.
func (s *TelemetryStream) consumeOnce(ctx context.Context, handler TelemetryHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultCallTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"method": "streamTelemetry",
		"params": s.filter,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}

	s.logger.Info("Telemetry stream connected", map[string]interface{}{
		"operation": "telemetry_connected",
		"url":       s.url,
	})

	// Close the connection when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var item TelemetryItem
		if err := json.Unmarshal(raw, &item); err != nil {
			s.logger.Warn("Discarding malformed telemetry item", map[string]interface{}{
				"operation": "telemetry_malformed",
				"error":     err.Error(),
			})
			continue
		}
		handler(item)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
