package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PriceService ingests price feed ticks into the price cache and fans them
// out on the "prices" bus channel.
type PriceService struct {
	priceCache domain.PriceCache
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewPriceService creates a PriceService. bus may be nil when ticks are
// themselves read from the bus and must not be republished.
func NewPriceService(priceCache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceService {
	return &PriceService{
		priceCache: priceCache,
		bus:        bus,
		logger:     logger.With(slog.String("component", "price_service")),
	}
}

// HandleTick stores every price of the tick and publishes a price update
// event. Non-positive prices are dropped.
func (s *PriceService) HandleTick(ctx context.Context, tick domain.PriceTick) error {
	if tick.At.IsZero() {
		tick.At = time.Now().UTC()
	}
	clean := make(map[string]float64, len(tick.Prices))
	for sym, price := range tick.Prices {
		if price <= 0 {
			continue
		}
		if err := s.priceCache.SetPrice(ctx, sym, price, tick.At); err != nil {
			return fmt.Errorf("price_service: set price for %q: %w", sym, err)
		}
		clean[sym] = price
	}
	if s.bus == nil || len(clean) == 0 {
		return nil
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "prices",
		"prices":    clean,
		"timestamp": tick.At.Format(time.RFC3339Nano),
	})
	if pubErr := s.bus.Publish(ctx, "prices", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "price_service: publish prices event failed",
			slog.Int("symbols", len(clean)),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// GetPrice returns the latest cached price and its timestamp for a symbol.
func (s *PriceService) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	price, ts, err := s.priceCache.GetPrice(ctx, symbol)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("price_service: get price for %q: %w", symbol, err)
	}
	return price, ts, nil
}

// GetPrices returns the latest cached prices. Missing symbols are omitted.
func (s *PriceService) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices, err := s.priceCache.GetPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("price_service: get prices: %w", err)
	}
	return prices, nil
}
