package executor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/cache/memory"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeOpener struct {
	mu    sync.Mutex
	calls []domain.OrderIntent
	err   error
}

func (f *fakeOpener) OpenPosition(_ context.Context, intent domain.OrderIntent) (domain.OpenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, intent)
	if f.err != nil {
		return domain.OpenResult{}, f.err
	}
	return domain.OpenResult{
		Position: domain.Position{ID: "pos-" + intent.ClientOrderID, Symbol: intent.Symbol, Side: intent.Side},
		Action:   "opened",
	}, nil
}

func (f *fakeOpener) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func intent(id string) domain.OrderIntent {
	return domain.OrderIntent{
		ClientOrderID: id,
		AccountID:     "acct",
		Symbol:        "ETH/USDC",
		Side:          domain.SideLong,
		Size:          1,
		Leverage:      5,
	}
}

func TestDedupReserveAndExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.clock = func() time.Time { return now }

	assert.True(t, d.Reserve("a"))
	assert.False(t, d.Reserve("a"))

	now = now.Add(time.Minute)
	assert.True(t, d.Reserve("a"), "reservation expires after the TTL")

	d.Release("a")
	assert.True(t, d.Reserve("a"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Equal(t, 0, d.Len())
}

func TestSubmitDeduplicates(t *testing.T) {
	op := &fakeOpener{}
	e := NewExecutor(nil, op, nil, testLogger())

	res, err := e.Submit(context.Background(), intent("c1"))
	require.NoError(t, err)
	assert.Equal(t, "pos-c1", res.Position.ID)

	_, err = e.Submit(context.Background(), intent("c1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Equal(t, 1, op.count())
}

func TestSubmitWithoutClientIDIsNeverDuplicate(t *testing.T) {
	op := &fakeOpener{}
	e := NewExecutor(nil, op, nil, testLogger())

	for i := 0; i < 3; i++ {
		_, err := e.Submit(context.Background(), intent(""))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, op.count())
	assert.NotEqual(t, op.calls[0].ClientOrderID, op.calls[1].ClientOrderID)
}

func TestSubmitExpired(t *testing.T) {
	op := &fakeOpener{}
	e := NewExecutor(nil, op, nil, testLogger())

	in := intent("old")
	in.ExpiresAt = time.Now().Add(-time.Second)
	_, err := e.Submit(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrOrderExpired)
	assert.Equal(t, 0, op.count())
}

func TestSubmitReleasesOnValidationError(t *testing.T) {
	op := &fakeOpener{err: domain.ErrInsufficientBalance}
	e := NewExecutor(nil, op, nil, testLogger())

	_, err := e.Submit(context.Background(), intent("c1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	op.err = nil
	_, err = e.Submit(context.Background(), intent("c1"))
	require.NoError(t, err, "a rejected intent may be resubmitted")
}

func TestSubmitKeepsReservationOnExecutionFailure(t *testing.T) {
	op := &fakeOpener{err: &domain.ExecutionError{Message: "timeout", Simulated: true}}
	e := NewExecutor(nil, op, nil, testLogger())

	_, err := e.Submit(context.Background(), intent("c1"))
	assert.ErrorIs(t, err, domain.ErrExecutionFailure)

	op.err = nil
	_, err = e.Submit(context.Background(), intent("c1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
}

func TestRunPublishesRejection(t *testing.T) {
	bus := memory.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, "positions")
	require.NoError(t, err)

	ch := make(chan domain.OrderIntent, 1)
	op := &fakeOpener{err: domain.ErrInvalidPair}
	e := NewExecutor(ch, op, bus, testLogger())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ch <- intent("bad")

	select {
	case raw := <-events:
		var evt map[string]any
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, "order_rejected", evt["event"])
		assert.Equal(t, "bad", evt["clientOrderId"])
		assert.Contains(t, evt["error"], "invalid pair")
	case <-time.After(2 * time.Second):
		t.Fatal("no rejection event")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	ch := make(chan domain.OrderIntent, 3)
	op := &fakeOpener{}
	e := NewExecutor(ch, op, nil, testLogger())

	ch <- intent("a")
	ch <- intent("b")
	ch <- intent("a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, op.count())
}

func TestStreamIntakeForwardsIntents(t *testing.T) {
	bus := memory.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := json.Marshal(intent("a"))
	b, _ := json.Marshal(intent("b"))
	require.NoError(t, bus.StreamAppend(ctx, "orders", a))
	require.NoError(t, bus.StreamAppend(ctx, "orders", []byte("{not json")))
	require.NoError(t, bus.StreamAppend(ctx, "orders", b))

	out := make(chan domain.OrderIntent, 4)
	in := NewStreamIntake(bus, "orders", out, testLogger())
	in.idle = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	var got []string
	for len(got) < 2 {
		select {
		case it := <-out:
			got = append(got, it.ClientOrderID)
		case <-time.After(2 * time.Second):
			t.Fatal("intake did not forward intents")
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "3-0", in.LastID())
}
