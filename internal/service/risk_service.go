package service

import (
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// RiskService provides pre-trade checks so an order that cannot be booked
// never reaches the execution router.
type RiskService struct {
	pairs  *market.Pairs
	logger *slog.Logger
}

// NewRiskService creates a RiskService over the pair registry.
func NewRiskService(pairs *market.Pairs, logger *slog.Logger) *RiskService {
	return &RiskService{
		pairs:  pairs,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// CheckOrder validates intent against the pair registry and the account
// balance at reference price ref. It returns the first failed check.
//
// Checks performed:
//  1. Known pair
//  2. Side is long or short
//  3. 1 <= leverage <= pair max
//  4. size >= pair min size
//  5. Required margin within the free balance
func (s *RiskService) CheckOrder(state domain.AccountState, intent domain.OrderIntent, ref float64) error {
	pair, err := s.pairs.Lookup(intent.Symbol)
	if err != nil {
		return err
	}
	if !intent.Side.Valid() {
		return fmt.Errorf("risk_service: side %q: %w", intent.Side, domain.ErrInvalidSide)
	}
	if intent.Leverage < 1 || intent.Leverage > float64(pair.MaxLeverage) {
		return fmt.Errorf("risk_service: leverage %gx outside 1..%dx for %s: %w",
			intent.Leverage, pair.MaxLeverage, pair.Symbol, domain.ErrInvalidLeverage)
	}
	if !market.ValidSize(pair, intent.Size) {
		return fmt.Errorf("risk_service: size %g below minimum %g for %s: %w",
			intent.Size, pair.MinSize, pair.Symbol, domain.ErrInvalidSize)
	}
	if ref <= 0 {
		return fmt.Errorf("risk_service: %s: %w", pair.Symbol, domain.ErrPriceUnavailable)
	}

	margin := risk.Margin(risk.Notional(intent.Size, ref), intent.Leverage)
	if margin > state.PaperBalance {
		s.logger.Warn("risk_service: insufficient balance",
			slog.String("account", state.ID),
			slog.Float64("margin", margin),
			slog.Float64("balance", state.PaperBalance),
		)
		return fmt.Errorf("risk_service: margin %.2f exceeds balance %.2f: %w",
			margin, state.PaperBalance, domain.ErrInsufficientBalance)
	}
	return nil
}
