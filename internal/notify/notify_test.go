package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	err    error
	sent   chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan struct{}, 16)}
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	r.titles = append(r.titles, title)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func TestNotifierFiltersAndDelivers(t *testing.T) {
	s := newRecordingSender()
	n := NewNotifier([]Sender{s}, []string{"position_liquidated", " protection_alert "}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	require.NoError(t, n.Notify(ctx, "position_opened", "opened", ""))
	require.NoError(t, n.Notify(ctx, "protection_alert", "alert", ""))

	select {
	case <-s.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"alert"}, s.titles)
}

func TestNotifierQueueFull(t *testing.T) {
	n := NewNotifier([]Sender{newRecordingSender()}, nil, testLogger())
	n.queue = make(chan message, 1)

	require.NoError(t, n.Notify(context.Background(), "e", "one", ""))
	assert.Error(t, n.Notify(context.Background(), "e", "two", ""))
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "e", "t", "m"))
}

func TestNotifyAllCombinesErrors(t *testing.T) {
	bad := newRecordingSender()
	bad.err = errors.New("boom")
	good := newRecordingSender()
	n := NewNotifier([]Sender{bad, good}, []string{"x"}, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "ETH long liquidated", "details"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*ETH long liquidated*\ndetails", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Liquidation protection", "m"))
	embeds := body["embeds"].([]any)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Liquidation protection", embed["title"])
	assert.Equal(t, float64(0xE74C3C), embed["color"])

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()
	err := NewDiscordSender(failing.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
