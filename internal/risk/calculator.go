// Package risk implements the pure liquidation, PnL and fee math used by the
// ledger and the monitoring loop. Nothing here touches state.
package risk

import (
	"math"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
)

// DefaultMaintenanceMarginRate is the buffer applied to liquidation prices.
const DefaultMaintenanceMarginRate = 0.005

// LiquidationPrice returns the mark at which posted margin is consumed.
//
//	long:  entry * (1 - 1/leverage + mmr)
//	short: entry * (1 + 1/leverage - mmr)
func LiquidationPrice(entry, leverage float64, side domain.Side, mmr float64) float64 {
	if leverage <= 0 {
		return 0
	}
	if side == domain.SideShort {
		return entry * (1 + 1/leverage - mmr)
	}
	return entry * (1 - 1/leverage + mmr)
}

// PnL is an unrealized profit snapshot.
type PnL struct {
	Pnl        float64 `json:"pnl"`
	PnlPercent float64 `json:"pnlPercent"`
	ROE        float64 `json:"roe"`
}

// UnrealizedPnl values pos at mark. An unavailable mark (zero or negative)
// yields a zero PnL instead of an error.
func UnrealizedPnl(pos domain.Position, mark float64) PnL {
	if mark <= 0 || pos.EntryPrice <= 0 {
		return PnL{}
	}
	diff := mark - pos.EntryPrice
	if pos.Side == domain.SideShort {
		diff = pos.EntryPrice - mark
	}
	pct := diff / pos.EntryPrice * 100
	return PnL{
		Pnl:        diff * pos.Size,
		PnlPercent: pct,
		ROE:        pct * pos.Leverage,
	}
}

// ApplyMark updates the mutable mark and PnL fields of pos. A zero mark
// leaves the previous values untouched.
func ApplyMark(pos *domain.Position, mark float64) {
	if mark <= 0 {
		return
	}
	p := UnrealizedPnl(*pos, mark)
	pos.MarkPrice = mark
	pos.UnrealizedPnl = p.Pnl
	pos.PnlPercent = p.PnlPercent
	pos.ROE = p.ROE
}

// VenueFee prices an order of the given kind and notional on a venue.
// Unknown venues are priced as paper.
func VenueFee(venue domain.VenueID, kind domain.OrderKind, notional float64) domain.FeeCharge {
	v := market.Venue(venue)
	pct := market.FeePercent(v, kind)
	return domain.FeeCharge{Venue: v.ID, Kind: kind, Percent: pct, Amount: market.FeeAmount(pct, notional)}
}

// Notional is size times price.
func Notional(size, price float64) float64 { return size * price }

// Margin is notional divided by leverage.
func Margin(notional, leverage float64) float64 {
	if leverage <= 0 {
		return notional
	}
	return notional / leverage
}

// Closeness returns how far mark has travelled from entry towards the
// liquidation price, as a percentage clamped to [0, 100]. 0 means at or
// better than entry, 100 means at or past liquidation.
func Closeness(pos domain.Position, mark float64) float64 {
	span := math.Abs(pos.EntryPrice - pos.LiquidationPrice)
	if mark <= 0 || span == 0 {
		return 0
	}
	adverse := pos.EntryPrice - mark
	if pos.Side == domain.SideShort {
		adverse = mark - pos.EntryPrice
	}
	c := adverse / span * 100
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
