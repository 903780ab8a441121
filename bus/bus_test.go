package bus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialBus(t *testing.T, b *Bus) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(b.Handler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":     "subscribe",
		"channels": channels,
	}))

	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, "subscribed", ack["type"])
}

func waitForClients(t *testing.T, b *Bus, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ConnectionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("bus never reached %d clients (have %d)", want, b.ConnectionCount())
}

func TestSubscribeAckAndPublish(t *testing.T) {
	b := NewBus()
	defer b.Close()

	conn, cleanup := dialBus(t, b)
	defer cleanup()

	subscribe(t, conn, ChannelNPCEvents)
	waitForClients(t, b, 1)

	b.Publish(ChannelNPCEvents, map[string]string{"hello": "world"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))

	assert.Equal(t, ChannelNPCEvents, envelope.Channel)
	assert.NotEmpty(t, envelope.Timestamp)
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "world", data["hello"])
}

func TestPublishSkipsUnsubscribedClients(t *testing.T) {
	b := NewBus()
	defer b.Close()

	conn, cleanup := dialBus(t, b)
	defer cleanup()

	subscribe(t, conn, ChannelSystemStatus)
	waitForClients(t, b, 1)

	// Publish on a channel this client never subscribed to, then on its
	// channel; only the second arrives.
	b.Publish(ChannelNPCEvents, map[string]string{"skip": "me"})
	b.Publish(ChannelSystemStatus, map[string]string{"deliver": "me"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, ChannelSystemStatus, envelope.Channel)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := NewBus()
	defer b.Close()

	conn, cleanup := dialBus(t, b)
	defer cleanup()

	subscribe(t, conn, ChannelNPCEvents)
	subscribe(t, conn, ChannelNPCEvents)
	waitForClients(t, b, 1)

	b.Publish(ChannelNPCEvents, map[string]string{"n": "1"})
	b.Publish(ChannelNPCEvents, map[string]string{"n": "2"})

	// Exactly one frame per publish despite the duplicate subscribe.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first Envelope
	require.NoError(t, conn.ReadJSON(&first))
	var second Envelope
	require.NoError(t, conn.ReadJSON(&second))

	firstData := first.Data.(map[string]interface{})
	secondData := second.Data.(map[string]interface{})
	assert.Equal(t, "1", firstData["n"])
	assert.Equal(t, "2", secondData["n"])
}

func TestMalformedMessageGetsErrorWithoutDisconnect(t *testing.T) {
	b := NewBus()
	defer b.Close()

	conn, cleanup := dialBus(t, b)
	defer cleanup()
	waitForClients(t, b, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
	assert.NotEmpty(t, reply["message"])

	// Still connected: subscribing works afterwards.
	subscribe(t, conn, ChannelNPCEvents)
	assert.Equal(t, 1, b.ConnectionCount())
}

func TestConnectionCountTracksDisconnect(t *testing.T) {
	b := NewBus()
	defer b.Close()

	conn, cleanup := dialBus(t, b)
	waitForClients(t, b, 1)

	conn.Close()
	waitForClients(t, b, 0)
	cleanup()
}

func TestHeartbeatReapsUnresponsiveClient(t *testing.T) {
	b := NewBus(WithHeartbeatInterval(50 * time.Millisecond))
	defer b.Close()

	server := httptest.NewServer(b.Handler())
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dialer := websocket.Dialer{}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Suppress the default pong responder so the client looks dead.
	conn.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitForClients(t, b, 1)
	// First tick flags the client, second tick reaps it.
	waitForClients(t, b, 0)
}

func TestPortReportedAfterStart(t *testing.T) {
	b := NewBus(WithHeartbeatInterval(time.Hour))
	require.NoError(t, b.Start(0))
	defer b.Close()

	assert.Greater(t, b.Port(), 0)
}

func TestEnvelopeSerialization(t *testing.T) {
	envelope := Envelope{Channel: "c", Data: map[string]int{"x": 1}, Timestamp: "2026-01-01T00:00:00Z"}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"c","data":{"x":1},"timestamp":"2026-01-01T00:00:00Z"}`, string(data))
}
