// Package market holds the static pair registry and venue fee table.
package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var defaultPairs = []domain.TradingPair{
	{Symbol: "BTC/USDC", MaxLeverage: 100, TickSize: 0.1, MinSize: 0.001},
	{Symbol: "ETH/USDC", MaxLeverage: 100, TickSize: 0.01, MinSize: 0.01},
	{Symbol: "SOL/USDC", MaxLeverage: 50, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "ARB/USDC", MaxLeverage: 50, TickSize: 0.0001, MinSize: 1},
	{Symbol: "OP/USDC", MaxLeverage: 50, TickSize: 0.0001, MinSize: 1},
	{Symbol: "AVAX/USDC", MaxLeverage: 50, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "LINK/USDC", MaxLeverage: 50, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "SUI/USDC", MaxLeverage: 50, TickSize: 0.0001, MinSize: 1},
	{Symbol: "APT/USDC", MaxLeverage: 50, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "INJ/USDC", MaxLeverage: 50, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "XRP/USDC", MaxLeverage: 50, TickSize: 0.0001, MinSize: 1},
	{Symbol: "DOGE/USDC", MaxLeverage: 25, TickSize: 0.00001, MinSize: 10},
	{Symbol: "TIA/USDC", MaxLeverage: 25, TickSize: 0.001, MinSize: 0.1},
	{Symbol: "WIF/USDC", MaxLeverage: 20, TickSize: 0.0001, MinSize: 1},
	{Symbol: "PEPE/USDC", MaxLeverage: 20, TickSize: 0.00000001, MinSize: 1000000},
}

// Pairs is the registry of tradable symbols. The zero value is empty; use
// NewPairs for the seeded registry.
type Pairs struct {
	mu    sync.RWMutex
	pairs map[string]domain.TradingPair
}

// NewPairs returns the seeded registry plus any extra pairs. Extra entries
// replace seeded ones with the same symbol.
func NewPairs(extra ...domain.TradingPair) (*Pairs, error) {
	r := &Pairs{pairs: make(map[string]domain.TradingPair, len(defaultPairs)+len(extra))}
	for _, p := range defaultPairs {
		r.pairs[p.Symbol] = p
	}
	for _, p := range extra {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers or replaces a pair.
func (r *Pairs) Add(p domain.TradingPair) error {
	p.Symbol = NormalizeSymbol(p.Symbol)
	if p.Symbol == "" {
		return fmt.Errorf("market: pair symbol must not be empty: %w", domain.ErrInvalidPair)
	}
	if p.MaxLeverage < 1 {
		return fmt.Errorf("market: pair %s max leverage %d < 1: %w", p.Symbol, p.MaxLeverage, domain.ErrInvalidPair)
	}
	if p.TickSize < 0 || p.MinSize < 0 {
		return fmt.Errorf("market: pair %s has negative tick or min size: %w", p.Symbol, domain.ErrInvalidPair)
	}
	r.mu.Lock()
	r.pairs[p.Symbol] = p
	r.mu.Unlock()
	return nil
}

// Lookup returns the pair for symbol.
func (r *Pairs) Lookup(symbol string) (domain.TradingPair, error) {
	r.mu.RLock()
	p, ok := r.pairs[NormalizeSymbol(symbol)]
	r.mu.RUnlock()
	if !ok {
		return domain.TradingPair{}, fmt.Errorf("market: %q: %w", symbol, domain.ErrInvalidPair)
	}
	return p, nil
}

// List returns all pairs sorted by symbol.
func (r *Pairs) List() []domain.TradingPair {
	r.mu.RLock()
	out := make([]domain.TradingPair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns every registered symbol.
func (r *Pairs) Symbols() []string {
	pairs := r.List()
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Symbol
	}
	return out
}

// NormalizeSymbol upper-cases and trims a symbol and appends the /USDC quote
// when none is given.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "/") {
		s += "/USDC"
	}
	return s
}

// RoundPrice rounds price to the nearest multiple of the pair's tick size.
func RoundPrice(p domain.TradingPair, price float64) float64 {
	if p.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(p.TickSize)
	steps := decimal.NewFromFloat(price).Div(tick).Round(0)
	f, _ := steps.Mul(tick).Float64()
	return f
}

// ValidSize reports whether size meets the pair's minimum. Sizes are
// compared in decimal so that e.g. 0.1+0.2 lots are not rejected by float
// noise.
func ValidSize(p domain.TradingPair, size float64) bool {
	if size <= 0 {
		return false
	}
	return decimal.NewFromFloat(size).GreaterThanOrEqual(decimal.NewFromFloat(p.MinSize))
}
