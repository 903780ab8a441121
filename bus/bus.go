// Package bus provides the channel-subscription broadcast bus that fans
// pipeline outcomes out to connected game clients over WebSocket.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neuralmesh/mesh/core"
)

// Core channel names used by the coordinator. The bus itself accepts any
// channel string.
const (
	ChannelNPCEvents       = "npc-events"
	ChannelRebellionAlerts = "rebellion-alerts"
	ChannelSimulationTicks = "simulation-ticks"
	ChannelSystemStatus    = "system-status"
	ChannelCognitiveRails  = "cognitive-rails"
	ChannelNPCCommands     = "npc-commands"
)

// DefaultHeartbeatInterval is the liveness probe period. Stale clients are
// reaped within at most two intervals.
const DefaultHeartbeatInterval = 30 * time.Second

const (
	writeDeadline  = 10 * time.Second
	sendBufferSize = 64
)

// Envelope is the wire frame for every publish.
type Envelope struct {
	Channel   string      `json:"channel"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// subscribeRequest is the only client-to-bus message shape.
type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type subscribeAck struct {
	Type      string   `json:"type"`
	Channels  []string `json:"channels"`
	Timestamp string   `json:"timestamp"`
}

type errorReply struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// busClient is one connected subscriber.
type busClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	alive    bool
	closed   bool
}

func (c *busClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *busClient) subscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
}

func (c *busClient) setAlive(alive bool) {
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

func (c *busClient) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *busClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	c.conn.Close()
}

// Bus is the subscription broadcast bus. Publish never blocks on a slow
// subscriber: delivery is lossy for unsubscribed clients and closed
// transports, at-most-once for subscribed live ones.
type Bus struct {
	upgrader websocket.Upgrader
	logger   core.Logger

	heartbeatInterval time.Duration

	mu      sync.RWMutex
	clients map[string]*busClient

	server   *http.Server
	listener net.Listener
	port     int

	stop          chan struct{}
	stopOnce      sync.Once
	heartbeatOnce sync.Once
}

// Option configures a Bus.
type Option func(*Bus)

// WithHeartbeatInterval overrides the probe period.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(b *Bus) {
		if interval > 0 {
			b.heartbeatInterval = interval
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger core.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a bus; Start or Handler attach it to a transport.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:            &core.NoOpLogger{},
		heartbeatInterval: DefaultHeartbeatInterval,
		clients:           make(map[string]*busClient),
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start listens on the given port and serves the websocket endpoint at /ws.
// Port zero picks an ephemeral port; Port() reports the bound one.
func (b *Bus) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: bus listen: %v", core.ErrConnectionFailed, err)
	}
	b.listener = listener
	b.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.Handle("/ws", b.Handler())
	b.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			b.logger.Error("Bus server stopped", map[string]interface{}{
				"operation": "bus_serve_error",
				"error":     err.Error(),
			})
		}
	}()

	b.logger.Info("Subscription bus started", map[string]interface{}{
		"operation": "bus_started",
		"port":      b.port,
	})
	return nil
}

// Handler returns the websocket upgrade handler and starts the heartbeat
// loop (once per bus). Tests mount it on an httptest server; Start mounts
// it at /ws.
func (b *Bus) Handler() http.Handler {
	b.heartbeatOnce.Do(func() { go b.heartbeatLoop() })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		client := &busClient{
			id:       uuid.NewString(),
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			channels: make(map[string]struct{}),
			alive:    true,
		}
		conn.SetPongHandler(func(string) error {
			client.setAlive(true)
			return nil
		})

		b.mu.Lock()
		b.clients[client.id] = client
		b.mu.Unlock()

		b.logger.Debug("Bus client connected", map[string]interface{}{
			"operation": "bus_client_connected",
			"client_id": client.id,
		})

		go b.writePump(client)
		go b.readPump(client)
	})
}

func (b *Bus) writePump(client *busClient) {
	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			b.removeClient(client)
			return
		}
	}
}

func (b *Bus) readPump(client *busClient) {
	defer b.removeClient(client)

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		// Any inbound traffic proves liveness.
		client.setAlive(true)

		var req subscribeRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != "subscribe" {
			message := "expected {\"type\":\"subscribe\",\"channels\":[...]}"
			if err != nil {
				message = fmt.Sprintf("malformed message: %v", err)
			}
			b.enqueue(client, errorReply{
				Type:      "error",
				Message:   message,
				Timestamp: time.Now().Format(time.RFC3339),
			})
			continue
		}

		client.subscribe(req.Channels)
		b.enqueue(client, subscribeAck{
			Type:      "subscribed",
			Channels:  req.Channels,
			Timestamp: time.Now().Format(time.RFC3339),
		})

		b.logger.Debug("Bus client subscribed", map[string]interface{}{
			"operation": "bus_subscribe",
			"client_id": client.id,
			"channels":  req.Channels,
		})
	}
}

// enqueue serializes and queues a frame, dropping the client when its
// buffer is full or closed.
func (b *Bus) enqueue(client *busClient, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return
	}
	select {
	case client.send <- data:
		client.mu.Unlock()
	default:
		client.mu.Unlock()
		b.removeClient(client)
	}
}

// Publish broadcasts to every live client subscribed to the channel. Send
// failures remove the client silently; publish never blocks.
func (b *Bus) Publish(channel string, data interface{}) {
	envelope := Envelope{
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	b.mu.RLock()
	snapshot := make([]*busClient, 0, len(b.clients))
	for _, client := range b.clients {
		snapshot = append(snapshot, client)
	}
	b.mu.RUnlock()

	for _, client := range snapshot {
		if !client.subscribed(channel) {
			continue
		}
		b.enqueue(client, envelope)
	}
}

// ConnectionCount returns the number of connected clients.
func (b *Bus) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Port returns the bound listen port, zero before Start.
func (b *Bus) Port() int {
	return b.port
}

func (b *Bus) removeClient(client *busClient) {
	b.mu.Lock()
	_, present := b.clients[client.id]
	delete(b.clients, client.id)
	b.mu.Unlock()

	client.close()

	if present {
		b.logger.Debug("Bus client removed", map[string]interface{}{
			"operation": "bus_client_removed",
			"client_id": client.id,
		})
	}
}

// heartbeatLoop terminates clients that missed a probe and pings the rest.
// A client that never answers is reaped within two intervals.
func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.RLock()
			snapshot := make([]*busClient, 0, len(b.clients))
			for _, client := range b.clients {
				snapshot = append(snapshot, client)
			}
			b.mu.RUnlock()

			for _, client := range snapshot {
				if !client.isAlive() {
					b.logger.Info("Reaping stale bus client", map[string]interface{}{
						"operation": "bus_client_reaped",
						"client_id": client.id,
					})
					b.removeClient(client)
					continue
				}
				client.setAlive(false)
				deadline := time.Now().Add(writeDeadline)
				if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					b.removeClient(client)
				}
			}
		}
	}
}

// Close stops the heartbeat, disconnects every client and shuts the
// listener down.
func (b *Bus) Close() error {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	b.mu.Lock()
	clients := make([]*busClient, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.clients = make(map[string]*busClient)
	b.mu.Unlock()

	for _, client := range clients {
		client.close()
	}

	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.server.Shutdown(ctx)
	}
	return nil
}
