package domain

import "time"

// OrderIntent is a request to open or increase a position.
type OrderIntent struct {
	ClientOrderID string          `json:"clientOrderId"`
	AccountID     string          `json:"accountId"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Size          float64         `json:"size"`
	Leverage      float64         `json:"leverage"`
	LimitPrice    *float64        `json:"limitPrice,omitempty"`
	TakeProfit    *float64        `json:"takeProfit,omitempty"`
	StopLoss      *float64        `json:"stopLoss,omitempty"`
	MarginMode    MarginMode      `json:"marginMode,omitempty"`
	Protection    *ProtectionPlan `json:"protection,omitempty"`
	Source        string          `json:"source,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt,omitempty"`
}

// Kind returns maker for limit orders and taker otherwise.
func (o OrderIntent) Kind() OrderKind {
	if o.LimitPrice != nil && *o.LimitPrice > 0 {
		return OrderKindMaker
	}
	return OrderKindTaker
}

// RouteRequest is what the execution router needs to obtain a fill.
type RouteRequest struct {
	Symbol         string
	Side           Side
	Size           float64
	Leverage       float64
	ReferencePrice float64
	TakeProfit     *float64
	StopLoss       *float64
	Kind           OrderKind
	Mode           ExecutionMode
}

// Fill is the normalised outcome of a successful route.
type Fill struct {
	OrderID        string    `json:"orderId"`
	Route          string    `json:"route"`
	Venue          VenueID   `json:"venue"`
	ExecutionPrice float64   `json:"executionPrice"`
	Quantity       float64   `json:"quantity"`
	Status         string    `json:"status"`
	FilledAt       time.Time `json:"filledAt"`
	Simulated      bool      `json:"simulated"`

	// EstimatedFee is the local fee estimate annotated before dispatch.
	EstimatedFee FeeCharge `json:"estimatedFee"`
}

// OpenResult describes the ledger mutation performed by an open.
type OpenResult struct {
	Position Position `json:"position"`
	Action   string   `json:"action"` // "opened" or "increased"
	Fill     Fill     `json:"fill"`
}

// CloseResult describes a completed close.
type CloseResult struct {
	Entry   TradeHistoryEntry `json:"entry"`
	Pnl     float64           `json:"pnl"`
	ROE     float64           `json:"roe"`
	ExitFee FeeCharge         `json:"exitFee"`
}
