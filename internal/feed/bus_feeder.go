package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// pricesEvent is the JSON shape published to "prices" by PriceService.
type pricesEvent struct {
	Event     string             `json:"event"`
	Prices    map[string]float64 `json:"prices"`
	Timestamp string             `json:"timestamp"`
}

// BusFeeder subscribes to the "prices" bus channel and turns each price
// event back into a tick. It lets a process without its own feed connection
// run the monitor.
type BusFeeder struct {
	bus    domain.SignalBus
	out    chan<- domain.PriceTick
	logger *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, out chan<- domain.PriceTick, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:    bus,
		out:    out,
		logger: logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes to "prices" and forwards ticks until ctx is cancelled.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, "prices")
	if err != nil {
		return err
	}
	f.logger.Info("bus feeder started")
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			tick, err := parsePricesEvent(data)
			if err != nil {
				f.logger.Debug("bus feeder handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			if len(tick.Prices) == 0 {
				continue
			}
			select {
			case f.out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func parsePricesEvent(data []byte) (domain.PriceTick, error) {
	var ev pricesEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.PriceTick{}, err
	}
	ts := time.Now().UTC()
	if ev.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err == nil {
			ts = t
		}
	}
	prices := make(map[string]float64, len(ev.Prices))
	for sym, p := range ev.Prices {
		if p > 0 {
			prices[sym] = p
		}
	}
	return domain.PriceTick{Prices: prices, At: ts}, nil
}
