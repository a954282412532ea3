package market

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var venueTable = map[domain.VenueID]domain.Venue{
	domain.VenuePaper:       {ID: domain.VenuePaper, DisplayName: "Paper Trading", MakerFeePercent: 0, TakerFeePercent: 0},
	domain.VenueHyperliquid: {ID: domain.VenueHyperliquid, DisplayName: "Hyperliquid", MakerFeePercent: 0.01, TakerFeePercent: 0.035},
	domain.VenueDYDX:        {ID: domain.VenueDYDX, DisplayName: "dYdX", MakerFeePercent: 0.02, TakerFeePercent: 0.05},
	domain.VenueGMX:         {ID: domain.VenueGMX, DisplayName: "GMX", MakerFeePercent: 0.01, TakerFeePercent: 0.01, Note: "Fixed execution fee"},
	domain.VenueGains:       {ID: domain.VenueGains, DisplayName: "Gains Network", MakerFeePercent: 0.08, TakerFeePercent: 0.08, Note: "Fixed open/close fee"},
	domain.VenueMUX:         {ID: domain.VenueMUX, DisplayName: "MUX Protocol", MakerFeePercent: 0.06, TakerFeePercent: 0.06},
	domain.VenueMorpher:     {ID: domain.VenueMorpher, DisplayName: "Morpher", MakerFeePercent: 0.03, TakerFeePercent: 0.03},
	domain.VenueAsterDEX:    {ID: domain.VenueAsterDEX, DisplayName: "AsterDEX", MakerFeePercent: 0.015, TakerFeePercent: 0.04},
	domain.VenueLighter:     {ID: domain.VenueLighter, DisplayName: "Lighter", MakerFeePercent: 0.01, TakerFeePercent: 0.025},
	domain.VenueOrderly:     {ID: domain.VenueOrderly, DisplayName: "Orderly/QuickPerps", MakerFeePercent: 0.02, TakerFeePercent: 0.05},
	domain.VenueSmart:       {ID: domain.VenueSmart, DisplayName: "Smart Router", MakerFeePercent: 0.01, TakerFeePercent: 0.03, Note: "Auto-selects lowest fee"},
}

// ParseVenue maps a free-form venue or route string onto a known venue.
// Case and underscores are ignored. Unknown strings resolve to VenuePaper
// with known=false.
func ParseVenue(s string) (id domain.VenueID, known bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if _, ok := venueTable[domain.VenueID(key)]; ok {
		return domain.VenueID(key), true
	}
	return domain.VenuePaper, false
}

// Venue returns the fee table entry for id, falling back to paper.
func Venue(id domain.VenueID) domain.Venue {
	if v, ok := venueTable[id]; ok {
		return v
	}
	return venueTable[domain.VenuePaper]
}

// Venues returns every venue sorted by id.
func Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(venueTable))
	for _, v := range venueTable {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FeePercent returns the maker or taker percentage for a venue.
func FeePercent(v domain.Venue, kind domain.OrderKind) float64 {
	if kind == domain.OrderKindMaker {
		return v.MakerFeePercent
	}
	return v.TakerFeePercent
}

// FeeQuote is one row of a venue fee comparison.
type FeeQuote struct {
	Venue   domain.Venue     `json:"venue"`
	Kind    domain.OrderKind `json:"type"`
	Percent float64          `json:"percent"`
	Amount  float64          `json:"amount"`
}

// FeeAmount is notional * pct / 100, computed in decimal. Negative results
// are clamped to zero.
func FeeAmount(pct, notional float64) float64 {
	amt := decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	if amt.IsNegative() {
		return 0
	}
	f, _ := amt.Float64()
	return f
}

// CompareVenueFees quotes every live venue for an order of the given kind
// and notional, cheapest first. Paper is excluded.
func CompareVenueFees(kind domain.OrderKind, notional float64) []FeeQuote {
	out := make([]FeeQuote, 0, len(venueTable))
	for _, v := range venueTable {
		if v.ID == domain.VenuePaper {
			continue
		}
		pct := FeePercent(v, kind)
		out = append(out, FeeQuote{Venue: v, Kind: kind, Percent: pct, Amount: FeeAmount(pct, notional)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount < out[j].Amount
		}
		return out[i].Venue.ID < out[j].Venue.ID
	})
	return out
}
