package domain

import "time"

// DefaultPaperBalance is the starting balance of a new account.
const DefaultPaperBalance = 10000.0

// AccountState is the persisted state of one account: the positions, orders
// and history collections plus the executionMode and paperBalance settings.
type AccountState struct {
	ID              string              `json:"id"`
	Positions       []Position          `json:"positions"`
	Orders          []OrderIntent       `json:"orders"`
	History         []TradeHistoryEntry `json:"history"`
	ExecutionMode   ExecutionMode       `json:"executionMode"`
	PaperBalance    float64             `json:"paperBalance"`
	ProtectionStats ProtectionStats     `json:"protectionStats"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// NewAccountState returns an empty account in paper mode.
func NewAccountState(id string) AccountState {
	return AccountState{
		ID:            id,
		Positions:     []Position{},
		Orders:        []OrderIntent{},
		History:       []TradeHistoryEntry{},
		ExecutionMode: ModePaper,
		PaperBalance:  DefaultPaperBalance,
	}
}

// AccountSummary is a read-only view of balances.
type AccountSummary struct {
	ID                 string          `json:"id"`
	ExecutionMode      ExecutionMode   `json:"executionMode"`
	PaperBalance       float64         `json:"paperBalance"`
	AvailableBalance   float64         `json:"availableBalance"`
	TotalMargin        float64         `json:"totalMargin"`
	TotalUnrealizedPnl float64         `json:"totalUnrealizedPnl"`
	Equity             float64         `json:"equity"`
	OpenPositions      int             `json:"openPositions"`
	ProtectionStats    ProtectionStats `json:"protectionStats"`
}

// FundingRate is one entry of the funding-rate feed.
type FundingRate struct {
	Rate float64 `json:"rate"`

	// NextFunding is a unix timestamp in milliseconds.
	NextFunding int64 `json:"nextFunding"`
}

// PriceTick is one price feed update.
type PriceTick struct {
	Prices map[string]float64
	At     time.Time
}
