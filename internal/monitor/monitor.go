// Package monitor runs the per-tick risk evaluation. Ticks are processed
// strictly one after another: every account has been re-evaluated, and every
// triggered close applied, before the next tick is read.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/rules"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// Ledger is the part of the position ledger the monitor drives.
type Ledger interface {
	Accounts(ctx context.Context) ([]string, error)
	ApplyTick(ctx context.Context, accountID string, prices map[string]float64, rs []rules.Rule) ([]service.TickOutcome, error)
}

// TickSink receives every tick before it is evaluated, e.g. to refresh the
// price cache.
type TickSink interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) error
}

// Monitor consumes price ticks and applies the trigger rules to every
// account's open positions.
type Monitor struct {
	ledger Ledger
	sink   TickSink
	rules  []rules.Rule
	logger *slog.Logger
}

// New creates a Monitor. sink may be nil. An empty rule set uses
// rules.Default().
func New(ledger Ledger, sink TickSink, rs []rules.Rule, logger *slog.Logger) *Monitor {
	if len(rs) == 0 {
		rs = rules.Default()
	}
	return &Monitor{
		ledger: ledger,
		sink:   sink,
		rules:  rs,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Run processes ticks until ctx is cancelled or ticks is closed.
func (m *Monitor) Run(ctx context.Context, ticks <-chan domain.PriceTick) error {
	m.logger.InfoContext(ctx, "monitor: starting", slog.Int("rules", len(m.rules)))
	defer m.logger.Info("monitor: stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			m.Process(ctx, tick)
		}
	}
}

// Process evaluates one tick across every account and returns the applied
// decisions. Errors for one account are logged and do not stop the others.
func (m *Monitor) Process(ctx context.Context, tick domain.PriceTick) []service.TickOutcome {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if len(tick.Prices) == 0 {
		return nil
	}
	if m.sink != nil {
		if err := m.sink.HandleTick(ctx, tick); err != nil {
			m.logger.WarnContext(ctx, "monitor: tick sink failed", slog.String("error", err.Error()))
		}
	}

	ids, err := m.ledger.Accounts(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "monitor: list accounts failed", slog.String("error", err.Error()))
		return nil
	}

	var all []service.TickOutcome
	for _, id := range ids {
		outcomes, err := m.ledger.ApplyTick(ctx, id, tick.Prices, m.rules)
		if err != nil {
			m.logger.ErrorContext(ctx, "monitor: apply tick failed",
				slog.String("account", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, o := range outcomes {
			m.logger.InfoContext(ctx, "monitor: rule fired",
				slog.String("account", id),
				slog.String("position_id", o.PositionID),
				slog.String("symbol", o.Symbol),
				slog.String("rule", o.Decision.Rule),
				slog.String("reason", o.Decision.Reason),
			)
		}
		all = append(all, outcomes...)
	}
	return all
}
