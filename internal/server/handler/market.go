package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
)

// PairLister lists the tradable pairs.
type PairLister interface {
	List() []domain.TradingPair
}

// FundingSource serves the last funding-rate snapshot.
type FundingSource interface {
	Rates() (map[string]domain.FundingRate, time.Time)
}

// MarketHandler serves pairs, venue fees and funding rates.
type MarketHandler struct {
	pairs   PairLister
	funding FundingSource
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. funding may be nil.
func NewMarketHandler(pairs PairLister, funding FundingSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{pairs: pairs, funding: funding, logger: logger}
}

// ListPairs returns every tradable pair.
// GET /api/pairs
func (h *MarketHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pairs": h.pairs.List()})
}

// CompareVenues quotes every live venue's fee for an order, cheapest first.
// GET /api/venues?kind=taker&notional=1000
func (h *MarketHandler) CompareVenues(w http.ResponseWriter, r *http.Request) {
	kind := domain.OrderKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = domain.OrderKindTaker
	}
	if kind != domain.OrderKindTaker && kind != domain.OrderKindMaker {
		writeError(w, http.StatusBadRequest, "kind must be maker or taker")
		return
	}
	notional, err := queryFloat(r, "notional", 1000)
	if err != nil || notional <= 0 {
		writeError(w, http.StatusBadRequest, "notional must be a positive number")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"notional": notional,
		"quotes":   market.CompareVenueFees(kind, notional),
	})
}

// Funding returns the latest funding-rate snapshot.
// GET /api/funding
func (h *MarketHandler) Funding(w http.ResponseWriter, r *http.Request) {
	if h.funding == nil {
		writeError(w, http.StatusServiceUnavailable, "funding feed not configured")
		return
	}
	rates, at := h.funding.Rates()
	if rates == nil {
		rates = map[string]domain.FundingRate{}
	}
	resp := map[string]any{"rates": rates}
	if !at.IsZero() {
		resp["updatedAt"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
