package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/execution"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// DefaultHistoryLimit is the number of closed trades kept per account.
const DefaultHistoryLimit = 100

// Router obtains fills for route requests.
type Router interface {
	RouteWithFallback(ctx context.Context, req domain.RouteRequest, policy execution.FallbackPolicy) (domain.Fill, error)
}

// Alerter delivers operator notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerConfig holds the position ledger tunables.
type LedgerConfig struct {
	DefaultAccount        string
	DefaultMode           domain.ExecutionMode
	InitialBalance        float64
	MaintenanceMarginRate float64
	HistoryLimit          int
	Fallback              execution.FallbackPolicy
	LockTTL               time.Duration
}

func (c *LedgerConfig) applyDefaults() {
	if c.DefaultAccount == "" {
		c.DefaultAccount = "default"
	}
	if !c.DefaultMode.Valid() {
		c.DefaultMode = domain.ModePaper
	}
	if c.InitialBalance <= 0 {
		c.InitialBalance = domain.DefaultPaperBalance
	}
	if c.MaintenanceMarginRate <= 0 {
		c.MaintenanceMarginRate = risk.DefaultMaintenanceMarginRate
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if !c.Fallback.Valid() {
		c.Fallback = execution.FallbackAbort
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
}

// PositionService is the position ledger. It owns every account's open
// positions, bounded trade history, balance and protection state, and
// serializes all mutations of one account.
type PositionService struct {
	accounts domain.AccountStore
	pairs    *market.Pairs
	router   Router
	prices   domain.PriceCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	risk     *RiskService
	cfg      LedgerConfig
	logger   *slog.Logger

	archiver domain.HistoryArchiver
	lockMgr  domain.LockManager
	alerts   Alerter

	locks accountLocks
	now   func() time.Time
}

// NewPositionService creates the ledger with all required dependencies.
func NewPositionService(
	accounts domain.AccountStore,
	pairs *market.Pairs,
	router Router,
	prices domain.PriceCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg LedgerConfig,
	logger *slog.Logger,
) *PositionService {
	cfg.applyDefaults()
	return &PositionService{
		accounts: accounts,
		pairs:    pairs,
		router:   router,
		prices:   prices,
		bus:      bus,
		audit:    audit,
		risk:     NewRiskService(pairs, logger),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "position_service")),
		now:      time.Now,
	}
}

// SetArchiver enables archiving of evicted history entries.
func (s *PositionService) SetArchiver(a domain.HistoryArchiver) { s.archiver = a }

// SetLockManager adds a distributed lock around every account mutation, for
// deployments where more than one process writes the same store.
func (s *PositionService) SetLockManager(l domain.LockManager) { s.lockMgr = l }

// SetAlerter enables operator notifications.
func (s *PositionService) SetAlerter(a Alerter) { s.alerts = a }

// DefaultAccount returns the account used when a request names none.
func (s *PositionService) DefaultAccount() string { return s.cfg.DefaultAccount }

// OpenPosition validates intent, routes it and, on a fill, either merges
// into the open position with the same symbol and side or creates a new one.
// A failed route leaves the account untouched.
func (s *PositionService) OpenPosition(ctx context.Context, intent domain.OrderIntent) (domain.OpenResult, error) {
	intent.Symbol = market.NormalizeSymbol(intent.Symbol)

	ref, err := s.referencePrice(ctx, intent)
	if err != nil {
		return domain.OpenResult{}, err
	}

	var res domain.OpenResult
	err = s.mutate(ctx, intent.AccountID, func(tx *txn) error {
		if err := s.risk.CheckOrder(*tx.state, intent, ref); err != nil {
			return fmt.Errorf("position_service: open %s: %w", intent.Symbol, err)
		}

		fill, err := s.router.RouteWithFallback(ctx, domain.RouteRequest{
			Symbol:         intent.Symbol,
			Side:           intent.Side,
			Size:           intent.Size,
			Leverage:       intent.Leverage,
			ReferencePrice: ref,
			TakeProfit:     intent.TakeProfit,
			StopLoss:       intent.StopLoss,
			Kind:           intent.Kind(),
			Mode:           tx.state.ExecutionMode,
		}, s.cfg.Fallback)
		if err != nil {
			return fmt.Errorf("position_service: open %s: %w", intent.Symbol, err)
		}

		res = s.applyFill(tx, intent, ref, fill)
		return nil
	})
	if err != nil {
		return domain.OpenResult{}, err
	}

	metrics.PositionsOpened.WithLabelValues(res.Position.Symbol, string(res.Position.Side), res.Action).Inc()
	s.logger.InfoContext(ctx, "position_service: position "+res.Action,
		slog.String("position_id", res.Position.ID),
		slog.String("symbol", res.Position.Symbol),
		slog.String("side", string(res.Position.Side)),
		slog.Float64("entry_price", res.Position.EntryPrice),
		slog.Float64("size", res.Position.Size),
		slog.Float64("leverage", res.Position.Leverage),
		slog.String("route", res.Position.Route),
	)
	return res, nil
}

// referencePrice is the limit price rounded to the pair tick when one is set,
// otherwise the cached mark.
func (s *PositionService) referencePrice(ctx context.Context, intent domain.OrderIntent) (float64, error) {
	pair, err := s.pairs.Lookup(intent.Symbol)
	if err != nil {
		return 0, fmt.Errorf("position_service: open %s: %w", intent.Symbol, err)
	}
	if intent.LimitPrice != nil && *intent.LimitPrice > 0 {
		return market.RoundPrice(pair, *intent.LimitPrice), nil
	}
	price, _, err := s.prices.GetPrice(ctx, intent.Symbol)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("position_service: open %s: %w", intent.Symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}

// applyFill books a fill against the account. Notional, margin and the
// liquidation price are derived from the executed price and quantity.
func (s *PositionService) applyFill(tx *txn, intent domain.OrderIntent, ref float64, fill domain.Fill) domain.OpenResult {
	price := fill.ExecutionPrice
	if price <= 0 {
		price = ref
	}
	size := fill.Quantity
	if size <= 0 {
		size = intent.Size
	}
	notional := risk.Notional(size, price)
	margin := risk.Margin(notional, intent.Leverage)
	fee := risk.VenueFee(fill.Venue, intent.Kind(), notional)
	route := fill.Route
	if route == "" {
		route = "LOCAL"
	}

	state := tx.state
	state.PaperBalance -= margin
	if state.PaperBalance < 0 {
		s.logger.Warn("position_service: balance negative after fill",
			slog.String("account", state.ID),
			slog.Float64("balance", state.PaperBalance),
		)
	}

	for i := range state.Positions {
		p := &state.Positions[i]
		if p.Symbol != intent.Symbol || p.Side != intent.Side {
			continue
		}

		total := p.Size + size
		avg := (p.EntryPrice*p.Size + price*size) / total
		p.Size = total
		p.EntryPrice = avg
		p.Margin += margin
		p.Notional = total * avg
		p.Leverage = intent.Leverage
		p.LiquidationPrice = risk.LiquidationPrice(avg, intent.Leverage, p.Side, s.cfg.MaintenanceMarginRate)
		p.Simulated = p.Simulated && fill.Simulated
		p.EntryFee.Amount += fee.Amount
		if intent.TakeProfit != nil {
			p.TakeProfit = intent.TakeProfit
		}
		if intent.StopLoss != nil {
			p.StopLoss = intent.StopLoss
		}
		if p.Protected() {
			state.ProtectionStats.TotalProtected += notional
		}
		risk.ApplyMark(p, p.MarkPrice)

		tx.emit("position_increased", map[string]any{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"side":        string(p.Side),
			"added_size":  size,
			"size":        p.Size,
			"entry_price": p.EntryPrice,
			"margin":      p.Margin,
			"leverage":    p.Leverage,
			"route":       route,
		})
		return domain.OpenResult{Position: *p, Action: "increased", Fill: fill}
	}

	id := fill.OrderID
	if id == "" || findPosition(state, id) >= 0 {
		id = "pos-" + uuid.NewString()
	}
	marginMode := intent.MarginMode
	if marginMode == "" {
		marginMode = domain.MarginCross
	}

	pos := domain.Position{
		ID:               id,
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		Size:             size,
		EntryPrice:       price,
		Leverage:         intent.Leverage,
		Margin:           margin,
		Notional:         notional,
		LiquidationPrice: risk.LiquidationPrice(price, intent.Leverage, intent.Side, s.cfg.MaintenanceMarginRate),
		TakeProfit:       intent.TakeProfit,
		StopLoss:         intent.StopLoss,
		MarginMode:       marginMode,
		Venue:            fee.Venue,
		Route:            route,
		Simulated:        fill.Simulated,
		EntryFee:         fee,
		OpenedAt:         tx.now,
		MarkPrice:        price,
	}
	if intent.Protection != nil && intent.Protection.Valid() {
		pos.Protection = &domain.Protection{
			Enabled:       true,
			Plan:          *intent.Protection,
			EnabledAt:     tx.now,
			LastChargedAt: tx.now,
		}
		state.ProtectionStats.TotalProtected += notional
	}
	state.Positions = append(state.Positions, pos)

	tx.emit("position_opened", map[string]any{
		"position_id":       pos.ID,
		"symbol":            pos.Symbol,
		"side":              string(pos.Side),
		"size":              pos.Size,
		"entry_price":       pos.EntryPrice,
		"leverage":          pos.Leverage,
		"margin":            pos.Margin,
		"liquidation_price": pos.LiquidationPrice,
		"route":             pos.Route,
		"simulated":         pos.Simulated,
		"entry_fee":         pos.EntryFee.Amount,
	})
	return domain.OpenResult{Position: pos, Action: "opened", Fill: fill}
}

// ClosePosition closes a position at the current mark. An empty reason is
// recorded as "Manual close".
func (s *PositionService) ClosePosition(ctx context.Context, accountID, positionID, reason string) (domain.CloseResult, error) {
	if reason == "" {
		reason = "Manual close"
	}

	var res domain.CloseResult
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		idx := findPosition(tx.state, positionID)
		if idx < 0 {
			return fmt.Errorf("position_service: close %q: %w", positionID, domain.ErrPositionNotFound)
		}
		mark := s.markFor(ctx, tx.state.Positions[idx])
		if mark <= 0 {
			return fmt.Errorf("position_service: close %q: %w", positionID, domain.ErrPriceUnavailable)
		}
		res = s.closeAt(tx, idx, mark, reason, "manual", nil)
		return nil
	})
	if err != nil {
		return domain.CloseResult{}, err
	}

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("position_id", positionID),
		slog.String("reason", reason),
		slog.Float64("close_price", res.Entry.ClosePrice),
		slog.Float64("pnl", res.Pnl),
	)
	return res, nil
}

// LiquidatePosition removes a position at its liquidation price. The whole
// margin is lost regardless of the mark.
func (s *PositionService) LiquidatePosition(ctx context.Context, accountID, positionID, reason string) (domain.TradeHistoryEntry, error) {
	var entry domain.TradeHistoryEntry
	err := s.mutate(ctx, accountID, func(tx *txn) error {
		idx := findPosition(tx.state, positionID)
		if idx < 0 {
			return fmt.Errorf("position_service: liquidate %q: %w", positionID, domain.ErrPositionNotFound)
		}
		entry = s.liquidateAt(tx, idx, reason)
		return nil
	})
	if err != nil {
		return domain.TradeHistoryEntry{}, err
	}
	return entry, nil
}

// markFor returns the cached mark for pos, falling back to its last mark.
func (s *PositionService) markFor(ctx context.Context, pos domain.Position) float64 {
	price, _, err := s.prices.GetPrice(ctx, pos.Symbol)
	if err == nil && price > 0 {
		return price
	}
	return pos.MarkPrice
}

// closeAt removes the position at idx at mark and books the result. credit
// overrides the amount returned to the balance when set.
func (s *PositionService) closeAt(tx *txn, idx int, mark float64, reason, cause string, credit *float64) domain.CloseResult {
	pos := tx.state.Positions[idx]
	risk.ApplyMark(&pos, mark)
	pnl := risk.UnrealizedPnl(pos, mark)
	exitFee := risk.VenueFee(pos.Venue, domain.OrderKindTaker, risk.Notional(pos.Size, mark))

	entry := domain.TradeHistoryEntry{
		Position:   pos,
		ClosePrice: mark,
		ClosePnl:   pnl.Pnl,
		CloseRoe:   pnl.ROE,
		CloseTime:  tx.now,
		Reason:     reason,
		ExitFee:    exitFee,
		TotalFees:  pos.EntryFee.Amount + exitFee.Amount,
	}

	returned := pos.Margin + pnl.Pnl
	if credit != nil {
		returned = *credit
	}
	tx.state.PaperBalance += returned

	removePosition(tx.state, idx)
	s.pushHistory(tx, entry)
	metrics.RecordClose(pos.Symbol, cause)

	detail := map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"close_price": mark,
		"pnl":         pnl.Pnl,
		"roe":         pnl.ROE,
		"reason":      reason,
		"exit_fee":    exitFee.Amount,
		"returned":    returned,
	}
	tx.notify("position_closed", detail,
		fmt.Sprintf("%s %s closed", pos.Symbol, pos.Side),
		fmt.Sprintf("%s at %.6g, PnL %.2f (%.1f%% ROE)", reason, mark, pnl.Pnl, pnl.ROE),
	)

	return domain.CloseResult{Entry: entry, Pnl: pnl.Pnl, ROE: pnl.ROE, ExitFee: exitFee}
}

func (s *PositionService) liquidateAt(tx *txn, idx int, reason string) domain.TradeHistoryEntry {
	pos := tx.state.Positions[idx]
	entry := domain.TradeHistoryEntry{
		Position:   pos,
		ClosePrice: pos.LiquidationPrice,
		ClosePnl:   -pos.Margin,
		CloseRoe:   -100,
		CloseTime:  tx.now,
		Reason:     "LIQUIDATED: " + reason,
		TotalFees:  pos.EntryFee.Amount,
		Liquidated: true,
	}

	removePosition(tx.state, idx)
	s.pushHistory(tx, entry)
	metrics.RecordClose(pos.Symbol, "liquidation")

	tx.notify("position_liquidated", map[string]any{
		"position_id":       pos.ID,
		"symbol":            pos.Symbol,
		"side":              string(pos.Side),
		"liquidation_price": pos.LiquidationPrice,
		"margin_lost":       pos.Margin,
		"reason":            entry.Reason,
	},
		fmt.Sprintf("%s %s LIQUIDATED", pos.Symbol, pos.Side),
		fmt.Sprintf("%s. Margin lost: %.2f", reason, pos.Margin),
	)

	s.logger.Warn("position_service: position liquidated",
		slog.String("account", tx.state.ID),
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("liquidation_price", pos.LiquidationPrice),
		slog.Float64("margin", pos.Margin),
	)
	return entry
}
