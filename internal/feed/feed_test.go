package feed

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
	"github.com/alanyoungcy/perpbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPriceFeedSubscribesAndEmitsTicks(t *testing.T) {
	subscribed := make(chan subscribeCommand, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"prices","data":{"ETH/USDC":{"price":2000.5},"btc":{"price":65000},"BAD/USDC":{"price":0}}}`))

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	out := make(chan domain.PriceTick, 4)
	f := NewPriceFeed("ws"+strings.TrimPrefix(srv.URL, "http"), out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-subscribed:
		assert.Equal(t, subscribeCommand{Type: "subscribe", Channel: "prices"}, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("feed never subscribed")
	}

	select {
	case tick := <-out:
		assert.Equal(t, map[string]float64{"ETH/USDC": 2000.5, "BTC/USDC": 65000}, tick.Prices)
		assert.False(t, tick.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no tick emitted")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestPriceFeedReconnects(t *testing.T) {
	connects := make(chan struct{}, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connects <- struct{}{}
		conn.Close()
	}))
	defer srv.Close()

	out := make(chan domain.PriceTick, 1)
	f := NewPriceFeed("ws"+strings.TrimPrefix(srv.URL, "http"), out, testLogger())
	f.reconnectDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-connects:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d not attempted", i+1)
		}
	}
}

func TestPriceFeedWithoutURL(t *testing.T) {
	f := NewPriceFeed("", make(chan domain.PriceTick), testLogger())
	assert.NoError(t, f.Run(context.Background()))
}

func TestBusFeederForwardsPriceEvents(t *testing.T) {
	bus := memory.NewBus()
	out := make(chan domain.PriceTick, 2)
	feeder := NewBusFeeder(bus, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feeder.Run(ctx) }()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt, err := json.Marshal(map[string]any{
		"event":     "prices",
		"prices":    map[string]float64{"SOL/USDC": 150, "X/USDC": -1},
		"timestamp": at.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	// The subscription is registered asynchronously; publish until it lands.
	deadline := time.After(2 * time.Second)
	for {
		require.NoError(t, bus.Publish(ctx, "prices", evt))
		select {
		case tick := <-out:
			assert.Equal(t, map[string]float64{"SOL/USDC": 150}, tick.Prices)
			assert.True(t, at.Equal(tick.At))
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no tick forwarded")
		}
	}
}

func TestParsePricesEventRejectsGarbage(t *testing.T) {
	_, err := parsePricesEvent([]byte("{"))
	assert.Error(t, err)
}
