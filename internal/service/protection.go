package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/risk"
	"github.com/alanyoungcy/perpbot/internal/rules"
)

// SetProtection enables or disables protection on one position. plan is
// ignored when disabling.
func (s *PositionService) SetProtection(ctx context.Context, accountID, positionID string, enabled bool, plan domain.ProtectionPlan) (domain.Position, error) {
	if enabled && !plan.Valid() {
		return domain.Position{}, fmt.Errorf("position_service: protect %q: %w", positionID, domain.ErrInvalidPlan)
	}

	var out domain.Position
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		idx := findPosition(tx.state, positionID)
		if idx < 0 {
			return fmt.Errorf("position_service: protect %q: %w", positionID, domain.ErrPositionNotFound)
		}
		s.setProtection(tx, &tx.state.Positions[idx], enabled, plan)
		out = tx.state.Positions[idx]
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

// UpgradeProtectionPlan switches the plan of a protected position.
func (s *PositionService) UpgradeProtectionPlan(ctx context.Context, accountID, positionID string, plan domain.ProtectionPlan) (domain.Position, error) {
	if !plan.Valid() {
		return domain.Position{}, fmt.Errorf("position_service: upgrade %q: %w", positionID, domain.ErrInvalidPlan)
	}

	var out domain.Position
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		idx := findPosition(tx.state, positionID)
		if idx < 0 {
			return fmt.Errorf("position_service: upgrade %q: %w", positionID, domain.ErrPositionNotFound)
		}
		p := &tx.state.Positions[idx]
		if !p.Protected() {
			return fmt.Errorf("position_service: upgrade %q: %w", positionID, domain.ErrProtectionDisabled)
		}
		s.accrue(tx, p, tx.now)
		prev := p.Protection.Plan
		p.Protection.Plan = plan
		p.Protection.Tripped = false
		tx.emit("protection_changed", map[string]any{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"enabled":     true,
			"from":        string(prev),
			"plan":        string(plan),
		})
		out = *p
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

// EnableAllProtection enables plan on every unprotected position and returns
// how many positions changed.
func (s *PositionService) EnableAllProtection(ctx context.Context, accountID string, plan domain.ProtectionPlan) (int, error) {
	if !plan.Valid() {
		return 0, fmt.Errorf("position_service: enable all: %w", domain.ErrInvalidPlan)
	}
	count := 0
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		for i := range tx.state.Positions {
			p := &tx.state.Positions[i]
			if p.Protected() {
				continue
			}
			s.setProtection(tx, p, true, plan)
			count++
		}
		return nil
	})
	return count, err
}

// DisableAllProtection disables protection everywhere and returns how many
// positions changed.
func (s *PositionService) DisableAllProtection(ctx context.Context, accountID string) (int, error) {
	count := 0
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		for i := range tx.state.Positions {
			p := &tx.state.Positions[i]
			if !p.Protected() {
				continue
			}
			s.setProtection(tx, p, false, "")
			count++
		}
		return nil
	})
	return count, err
}

// ProtectedPositions returns the positions with protection enabled.
func (s *PositionService) ProtectedPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	state, err := s.view(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(state.Positions))
	for i := range state.Positions {
		if state.Positions[i].Protected() {
			out = append(out, state.Positions[i])
		}
	}
	return out, nil
}

// ChargeProtectionFees accrues protection fees up to now on every protected
// position of every account and returns the total charged.
func (s *PositionService) ChargeProtectionFees(ctx context.Context, now time.Time) (float64, error) {
	ids, err := s.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, id := range ids {
		err := s.mutate(ctx, id, func(tx *txn) error {
			for i := range tx.state.Positions {
				total += s.accrue(tx, &tx.state.Positions[i], now.UTC())
			}
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "position_service: protection fees charged",
			slog.Int("accounts", len(ids)),
			slog.Float64("total", total),
		)
	}
	return total, nil
}

func (s *PositionService) setProtection(tx *txn, p *domain.Position, enabled bool, plan domain.ProtectionPlan) {
	if p.Protected() {
		s.accrue(tx, p, tx.now)
	}
	if enabled {
		if p.Protection == nil {
			p.Protection = &domain.Protection{}
		}
		if !p.Protection.Enabled {
			p.Protection.EnabledAt = tx.now
			p.Protection.LastChargedAt = tx.now
			tx.state.ProtectionStats.TotalProtected += p.Notional
		}
		p.Protection.Enabled = true
		p.Protection.Plan = plan
		p.Protection.Tripped = false
	} else if p.Protection != nil {
		p.Protection.Enabled = false
		p.Protection.Tripped = false
	}

	detail := map[string]any{
		"position_id": p.ID,
		"symbol":      p.Symbol,
		"enabled":     enabled,
	}
	if enabled {
		detail["plan"] = string(plan)
	}
	tx.emit("protection_changed", detail)
}

// accrue charges the protection fee owed on p between its last charge and
// now: notional * fee% / 100 / 30 per day.
func (s *PositionService) accrue(tx *txn, p *domain.Position, now time.Time) float64 {
	if !p.Protected() {
		return 0
	}
	terms, ok := p.Protection.Plan.Terms()
	if !ok {
		return 0
	}
	elapsed := now.Sub(p.Protection.LastChargedAt)
	if elapsed <= 0 {
		return 0
	}
	days := elapsed.Hours() / 24
	fee := p.Notional * terms.FeePercent / 100 / 30 * days

	p.Protection.LastChargedAt = now
	p.Protection.FeesPaid += fee
	tx.state.PaperBalance -= fee
	tx.state.ProtectionStats.FeesCollected += fee
	tx.dirty = true
	return fee
}

// protect applies a fired protection decision to the position at idx.
func (s *PositionService) protect(tx *txn, idx int, d rules.Decision, mark float64) {
	p := &tx.state.Positions[idx]
	p.Protection.Tripped = true
	metrics.ProtectionActions.WithLabelValues(string(d.Plan), string(d.Action)).Inc()

	switch d.Action {
	case domain.ActionAlert:
		tx.notify("protection_alert", map[string]any{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"side":        string(p.Side),
			"closeness":   d.Closeness,
			"mark":        mark,
		},
			fmt.Sprintf("LIQUIDATION WARNING: %s %s", p.Symbol, p.Side),
			fmt.Sprintf("Mark %.6g is %.1f%% of the way to liquidation at %.6g", mark, d.Closeness, p.LiquidationPrice),
		)

	case domain.ActionAddMargin:
		terms, _ := d.Plan.Terms()
		amount := p.Margin * terms.CollateralPercent / 100
		tx.state.PaperBalance -= amount
		p.Margin += amount
		p.Leverage = p.Notional / p.Margin
		p.LiquidationPrice = risk.LiquidationPrice(p.EntryPrice, p.Leverage, p.Side, s.cfg.MaintenanceMarginRate)
		risk.ApplyMark(p, mark)
		tx.state.ProtectionStats.LiquidationsAvoided++
		tx.notify("protection_margin_added", map[string]any{
			"position_id":       p.ID,
			"symbol":            p.Symbol,
			"amount":            amount,
			"margin":            p.Margin,
			"leverage":          p.Leverage,
			"liquidation_price": p.LiquidationPrice,
			"closeness":         d.Closeness,
		},
			fmt.Sprintf("Protection added collateral to %s", p.Symbol),
			fmt.Sprintf("Added %.2f margin, new liquidation price %.6g", amount, p.LiquidationPrice),
		)

	case domain.ActionForceClose:
		terms, _ := d.Plan.Terms()
		pnl := risk.UnrealizedPnl(*p, mark)
		credit := math.Max(p.Margin+pnl.Pnl, p.Margin*terms.RefundPercent/100)
		tx.state.ProtectionStats.LiquidationsAvoided++
		s.closeAt(tx, idx, mark, "Liquidation Protection triggered", "protection", &credit)
	}
}
