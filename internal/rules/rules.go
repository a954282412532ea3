// Package rules holds the per-tick trigger policy as an ordered list of pure
// predicates. The monitoring loop evaluates them in priority order and
// applies the first decision that fires.
package rules

import (
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// Kind is the terminal outcome a decision asks the ledger to apply.
type Kind string

const (
	KindLiquidate  Kind = "liquidate"
	KindTakeProfit Kind = "take_profit"
	KindStopLoss   Kind = "stop_loss"
	KindProtection Kind = "protection"
)

// Reasons recorded on the history entry.
const (
	ReasonLiquidation = "Price reached liquidation level"
	ReasonTakeProfit  = "Take Profit triggered"
	ReasonStopLoss    = "Stop Loss triggered"
)

// Decision is what a rule wants done with a position.
type Decision struct {
	Rule   string
	Kind   Kind
	Reason string

	// Action and Closeness are set for KindProtection only.
	Action    domain.ProtectionAction
	Plan      domain.ProtectionPlan
	Closeness float64
}

// Rule is a pure predicate over a position and its current mark.
type Rule interface {
	Name() string
	Evaluate(pos domain.Position, mark float64) (Decision, bool)
}

// Default returns the standard rule set in priority order: liquidation,
// take-profit, stop-loss, protection.
func Default() []Rule {
	return []Rule{
		Liquidation{},
		TakeProfit{},
		StopLoss{},
		Protection{},
	}
}

// First evaluates rules in order and returns the first decision that fires.
// A non-positive mark never fires.
func First(rs []Rule, pos domain.Position, mark float64) (Decision, bool) {
	if mark <= 0 {
		return Decision{}, false
	}
	for _, r := range rs {
		if d, ok := r.Evaluate(pos, mark); ok {
			d.Rule = r.Name()
			return d, true
		}
	}
	return Decision{}, false
}

// Liquidation fires when the mark reaches the liquidation price.
type Liquidation struct{}

func (Liquidation) Name() string { return "liquidation" }

func (Liquidation) Evaluate(pos domain.Position, mark float64) (Decision, bool) {
	hit := mark <= pos.LiquidationPrice
	if pos.Side == domain.SideShort {
		hit = mark >= pos.LiquidationPrice
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{Kind: KindLiquidate, Reason: ReasonLiquidation}, true
}

// TakeProfit fires when the mark reaches a configured take-profit level.
type TakeProfit struct{}

func (TakeProfit) Name() string { return "take_profit" }

func (TakeProfit) Evaluate(pos domain.Position, mark float64) (Decision, bool) {
	if pos.TakeProfit == nil || *pos.TakeProfit <= 0 {
		return Decision{}, false
	}
	tp := *pos.TakeProfit
	hit := mark >= tp
	if pos.Side == domain.SideShort {
		hit = mark <= tp
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{Kind: KindTakeProfit, Reason: ReasonTakeProfit}, true
}

// StopLoss fires when the mark reaches a configured stop-loss level.
type StopLoss struct{}

func (StopLoss) Name() string { return "stop_loss" }

func (StopLoss) Evaluate(pos domain.Position, mark float64) (Decision, bool) {
	if pos.StopLoss == nil || *pos.StopLoss <= 0 {
		return Decision{}, false
	}
	sl := *pos.StopLoss
	hit := mark <= sl
	if pos.Side == domain.SideShort {
		hit = mark >= sl
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{Kind: KindStopLoss, Reason: ReasonStopLoss}, true
}

// Protection fires the plan's action once closeness to liquidation reaches
// the plan threshold. A tripped plan stays silent until re-armed.
type Protection struct{}

func (Protection) Name() string { return "protection" }

func (Protection) Evaluate(pos domain.Position, mark float64) (Decision, bool) {
	if !pos.Protected() || pos.Protection.Tripped {
		return Decision{}, false
	}
	terms, ok := pos.Protection.Plan.Terms()
	if !ok {
		return Decision{}, false
	}
	c := risk.Closeness(pos, mark)
	if c < terms.Threshold {
		return Decision{}, false
	}
	return Decision{
		Kind:      KindProtection,
		Action:    terms.Action,
		Plan:      terms.Plan,
		Closeness: c,
	}, true
}

// Rearm reports whether a tripped protection plan should be re-armed because
// closeness has fallen back below its threshold.
func Rearm(pos domain.Position, mark float64) bool {
	if !pos.Protected() || !pos.Protection.Tripped || mark <= 0 {
		return false
	}
	terms, ok := pos.Protection.Plan.Terms()
	if !ok {
		return false
	}
	return risk.Closeness(pos, mark) < terms.Threshold
}
