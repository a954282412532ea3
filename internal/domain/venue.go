package domain

// VenueID identifies an execution venue. The set of known venues is closed;
// unrecognised strings resolve to VenuePaper.
type VenueID string

const (
	VenuePaper       VenueID = "paper"
	VenueHyperliquid VenueID = "hyperliquid"
	VenueDYDX        VenueID = "dydx"
	VenueGMX         VenueID = "gmx"
	VenueGains       VenueID = "gains"
	VenueMUX         VenueID = "mux"
	VenueMorpher     VenueID = "morpher"
	VenueAsterDEX    VenueID = "asterdex"
	VenueLighter     VenueID = "lighter"
	VenueOrderly     VenueID = "orderly"
	VenueSmart       VenueID = "smart"
)

// Venue is a fee table entry.
type Venue struct {
	ID              VenueID `json:"id"`
	DisplayName     string  `json:"displayName"`
	MakerFeePercent float64 `json:"makerFeePercent"`
	TakerFeePercent float64 `json:"takerFeePercent"`
	Note            string  `json:"note,omitempty"`
}

// OrderKind classifies an order for fee purposes.
type OrderKind string

const (
	OrderKindMaker OrderKind = "maker"
	OrderKindTaker OrderKind = "taker"
)

// FeeCharge is a fee computed for one side of a trade.
type FeeCharge struct {
	Venue   VenueID   `json:"venue"`
	Kind    OrderKind `json:"type"`
	Percent float64   `json:"percent"`
	Amount  float64   `json:"amount"`
}

// TradingPair is a registry entry for a tradable perpetual.
type TradingPair struct {
	Symbol      string  `json:"symbol"`
	MaxLeverage int     `json:"maxLeverage"`
	TickSize    float64 `json:"tickSize"`
	MinSize     float64 `json:"minSize"`
}

// ExecutionMode selects how orders are filled. ModePaper simulates fills
// locally; every other mode routes to the execution service.
type ExecutionMode string

const (
	ModePaper       ExecutionMode = "paper"
	ModeSmart       ExecutionMode = "smart"
	ModeHyperliquid ExecutionMode = "hyperliquid"
	ModeGMX         ExecutionMode = "gmx"
	ModeGains       ExecutionMode = "gains"
	ModeMUX         ExecutionMode = "mux"
	ModeMorpher     ExecutionMode = "morpher"
	ModeAsterDEX    ExecutionMode = "asterdex"
	ModeLighter     ExecutionMode = "lighter"
)

var validModes = map[ExecutionMode]bool{
	ModePaper:       true,
	ModeSmart:       true,
	ModeHyperliquid: true,
	ModeGMX:         true,
	ModeGains:       true,
	ModeMUX:         true,
	ModeMorpher:     true,
	ModeAsterDEX:    true,
	ModeLighter:     true,
}

// Valid reports whether m is a supported execution mode.
func (m ExecutionMode) Valid() bool { return validModes[m] }

// Venue returns the venue an order is dispatched to in this mode.
func (m ExecutionMode) Venue() VenueID {
	if m == ModePaper || !m.Valid() {
		return VenuePaper
	}
	return VenueID(m)
}
