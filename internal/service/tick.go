package service

import (
	"context"

	"github.com/alanyoungcy/perpbot/internal/risk"
	"github.com/alanyoungcy/perpbot/internal/rules"
)

// TickOutcome records one rule decision applied during a tick.
type TickOutcome struct {
	PositionID string
	Symbol     string
	Decision   rules.Decision
}

// ApplyTick marks every position of the account whose symbol is in prices
// and applies the first rule that fires for each. Positions without a price
// in this tick are left untouched.
func (s *PositionService) ApplyTick(ctx context.Context, accountID string, prices map[string]float64, rs []rules.Rule) ([]TickOutcome, error) {
	var outcomes []TickOutcome
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		ids := make([]string, 0, len(tx.state.Positions))
		for _, p := range tx.state.Positions {
			ids = append(ids, p.ID)
		}

		for _, id := range ids {
			idx := findPosition(tx.state, id)
			if idx < 0 {
				continue
			}
			p := &tx.state.Positions[idx]
			mark, ok := prices[p.Symbol]
			if !ok || mark <= 0 {
				continue
			}
			tx.dirty = true
			risk.ApplyMark(p, mark)
			if rules.Rearm(*p, mark) {
				p.Protection.Tripped = false
			}

			d, fired := rules.First(rs, *p, mark)
			if !fired {
				continue
			}
			outcomes = append(outcomes, TickOutcome{PositionID: p.ID, Symbol: p.Symbol, Decision: d})

			switch d.Kind {
			case rules.KindLiquidate:
				s.liquidateAt(tx, idx, d.Reason)
			case rules.KindTakeProfit:
				s.closeAt(tx, idx, mark, d.Reason, "take_profit", nil)
			case rules.KindStopLoss:
				s.closeAt(tx, idx, mark, d.Reason, "stop_loss", nil)
			case rules.KindProtection:
				s.protect(tx, idx, d, mark)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
