package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/cache/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

// publishUntil publishes payload repeatedly until the hub has subscribed and
// relayed it, returning the first relayed event. Later duplicates may follow.
func publishUntil(t *testing.T, bus *memory.Bus, channel string, payload []byte, conn *websocket.Conn) map[string]any {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			_ = bus.Publish(context.Background(), channel, payload)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return readEvent(t, conn)
}

func hubMux(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}

func TestHubRelaysPositionEvents(t *testing.T) {
	bus := memory.NewBus()
	hub := NewHub(bus, "paper", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(hubMux(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	status := readEvent(t, conn)
	assert.Equal(t, "status", status["event"])
	assert.Equal(t, "paper", status["payload"].(map[string]any)["mode"])

	evt := publishUntil(t, bus, "positions", []byte(`{"event":"position_opened","account":"alice"}`), conn)
	assert.Equal(t, "position_opened", evt["event"])
}

func TestHubAccountFilter(t *testing.T) {
	bus := memory.NewBus()
	hub := NewHub(bus, "engine", testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(hubMux(hub))
	defer srv.Close()

	conn := dial(t, srv, "?account=bob")
	readEvent(t, conn)

	// Wait for the subscription using an event bob is allowed to see.
	publishUntil(t, bus, "positions", []byte(`{"event":"sync","account":"bob"}`), conn)

	require.NoError(t, bus.Publish(ctx, "positions", []byte(`{"event":"position_opened","account":"alice"}`)))
	require.NoError(t, bus.Publish(ctx, "positions", []byte(`{"event":"position_closed","account":"bob"}`)))

	// Drain duplicates of the sync event.
	for {
		evt := readEvent(t, conn)
		if evt["event"] == "sync" {
			continue
		}
		assert.Equal(t, "position_closed", evt["event"])
		break
	}
}

func TestClientSubscriptionChanges(t *testing.T) {
	c := &client{subs: map[string]bool{"positions": true, "prices": true}}
	assert.True(t, c.wants("prices", ""))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"prices"}})
	assert.False(t, c.wants("prices", ""))

	acct := "carol"
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"prices"}, Account: &acct})
	assert.True(t, c.wants("prices", ""))
	assert.True(t, c.wants("positions", "carol"))
	assert.False(t, c.wants("positions", "dave"))
}

func TestEventAccount(t *testing.T) {
	assert.Equal(t, "x", eventAccount([]byte(`{"account":"x"}`)))
	assert.Equal(t, "", eventAccount([]byte(`nope`)))
}
