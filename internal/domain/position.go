package domain

import "time"

// Side is the direction of a perpetual position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is long or short.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// OrderSide returns the exchange-facing order side ("buy" or "sell").
func (s Side) OrderSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

// MarginMode is cross or isolated.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Position is an open leveraged position.
type Position struct {
	ID               string      `json:"id"`
	Symbol           string      `json:"symbol"`
	Side             Side        `json:"side"`
	Size             float64     `json:"size"`
	EntryPrice       float64     `json:"entryPrice"`
	Leverage         float64     `json:"leverage"`
	Margin           float64     `json:"margin"`
	Notional         float64     `json:"notional"`
	LiquidationPrice float64     `json:"liquidationPrice"`
	TakeProfit       *float64    `json:"takeProfit,omitempty"`
	StopLoss         *float64    `json:"stopLoss,omitempty"`
	MarginMode       MarginMode  `json:"marginMode"`
	Protection       *Protection `json:"protection,omitempty"`
	Venue            VenueID     `json:"venue"`
	Route            string      `json:"route"`
	Simulated        bool        `json:"simulated"`
	EntryFee         FeeCharge   `json:"entryFee"`
	OpenedAt         time.Time   `json:"openedAt"`

	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	PnlPercent    float64 `json:"pnlPercent"`
	ROE           float64 `json:"roe"`
}

// Protected reports whether an enabled protection policy is attached.
func (p *Position) Protected() bool {
	return p.Protection != nil && p.Protection.Enabled
}

// TradeHistoryEntry is an immutable record of a closed or liquidated position.
type TradeHistoryEntry struct {
	Position
	ClosePrice float64   `json:"closePrice"`
	ClosePnl   float64   `json:"closePnl"`
	CloseRoe   float64   `json:"closeRoe"`
	CloseTime  time.Time `json:"closeTime"`
	Reason     string    `json:"reason"`
	ExitFee    FeeCharge `json:"exitFee"`
	TotalFees  float64   `json:"totalFees"`
	Liquidated bool      `json:"liquidated"`
}
