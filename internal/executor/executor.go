package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Opener is the ledger operation the executor drives. It is implemented by
// service.PositionService.
type Opener interface {
	OpenPosition(ctx context.Context, intent domain.OrderIntent) (domain.OpenResult, error)
}

// Executor reads order intents from a channel, applies deduplication and
// expiry checks, then opens positions through the Opener. Submit offers the
// same pipeline synchronously for the HTTP surface.
type Executor struct {
	intents <-chan domain.OrderIntent
	ledger  Opener
	bus     domain.SignalBus
	dedup   *Dedup
	logger  *slog.Logger

	cleanupInterval time.Duration
	clock           func() time.Time
}

// NewExecutor creates an Executor that reads intents from intents and opens
// them via ledger. bus may be nil; when set, asynchronous rejections are
// published on the "positions" channel.
func NewExecutor(
	intents <-chan domain.OrderIntent,
	ledger Opener,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		intents:         intents,
		ledger:          ledger,
		bus:             bus,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		clock:           time.Now,
	}
}

// Run starts the executor's main loop. It processes intents until the context
// is cancelled, at which point it drains any intents already buffered in the
// channel and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case intent, ok := <-e.intents:
			if !ok {
				return nil
			}
			e.process(ctx, intent)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// Submit runs one intent through dedup, expiry and the ledger and returns
// the ledger result. Intents without a client order id get a fresh one and
// are never treated as duplicates.
func (e *Executor) Submit(ctx context.Context, intent domain.OrderIntent) (domain.OpenResult, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = uuid.New().String()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = e.clock().UTC()
	}

	if !intent.ExpiresAt.IsZero() && e.clock().After(intent.ExpiresAt) {
		return domain.OpenResult{}, fmt.Errorf("executor: intent %s: %w", intent.ClientOrderID, domain.ErrOrderExpired)
	}
	if !e.dedup.Reserve(intent.ClientOrderID) {
		return domain.OpenResult{}, fmt.Errorf("executor: intent %s: %w", intent.ClientOrderID, domain.ErrDuplicateOrder)
	}

	res, err := e.ledger.OpenPosition(ctx, intent)
	if err != nil {
		// A venue may have seen the order, so only rejections made before
		// routing free the id for a retry.
		if !errors.Is(err, domain.ErrExecutionFailure) {
			e.dedup.Release(intent.ClientOrderID)
		}
		return domain.OpenResult{}, err
	}
	return res, nil
}

// process handles a single asynchronous intent and reports the outcome.
func (e *Executor) process(ctx context.Context, intent domain.OrderIntent) {
	log := e.logger.With(
		slog.String("client_order_id", intent.ClientOrderID),
		slog.String("account", intent.AccountID),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
	)

	res, err := e.Submit(ctx, intent)
	switch {
	case errors.Is(err, domain.ErrDuplicateOrder):
		log.Debug("intent deduplicated, skipping")
		return
	case errors.Is(err, domain.ErrOrderExpired):
		log.Warn("intent expired, skipping", slog.Time("expires_at", intent.ExpiresAt))
		e.reject(ctx, intent, err)
		return
	case err != nil:
		log.Warn("intent rejected", slog.String("error", err.Error()))
		e.reject(ctx, intent, err)
		return
	}

	log.Info("intent filled",
		slog.String("position_id", res.Position.ID),
		slog.String("action", res.Action),
		slog.Float64("execution_price", res.Fill.ExecutionPrice),
	)
}

// reject publishes an order_rejected event so asynchronous submitters learn
// the outcome.
func (e *Executor) reject(ctx context.Context, intent domain.OrderIntent, cause error) {
	if e.bus == nil {
		return
	}
	evt, err := json.Marshal(map[string]any{
		"event":         "order_rejected",
		"account":       intent.AccountID,
		"clientOrderId": intent.ClientOrderID,
		"symbol":        intent.Symbol,
		"error":         cause.Error(),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "positions", evt); err != nil {
		e.logger.WarnContext(ctx, "executor: publish rejection failed",
			slog.String("client_order_id", intent.ClientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

// drain processes any intents already buffered in the channel after context
// cancellation so accepted work is not silently dropped.
func (e *Executor) drain() {
	for {
		select {
		case intent, ok := <-e.intents:
			if !ok {
				return
			}
			e.logger.Warn("draining intent after shutdown",
				slog.String("client_order_id", intent.ClientOrderID),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, intent)
			cancel()
		default:
			return
		}
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
	e.dedup.clock = e.clock
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(dedup_ttl=%s)", e.dedup.ttl)
}
