// Package execution turns order requests into fills, either simulated
// locally (paper mode) or obtained from the external execution service.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/metrics"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// PaperRoute is the route reported for simulated fills.
const PaperRoute = "PAPER_TRADING"

// DefaultSlippage is the usual paper-fill price adjustment against the taker.
const DefaultSlippage = 0.0001

// Remote places orders with an execution service.
type Remote interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
}

// FallbackPolicy decides what the caller does when a remote route fails.
type FallbackPolicy string

const (
	// FallbackAbort surfaces the execution error and creates nothing.
	FallbackAbort FallbackPolicy = "abort"
	// FallbackSimulate replaces the failed remote fill with a paper fill.
	FallbackSimulate FallbackPolicy = "simulate"
)

// Valid reports whether p is a known policy.
func (p FallbackPolicy) Valid() bool { return p == FallbackAbort || p == FallbackSimulate }

// RouterConfig holds router tunables.
type RouterConfig struct {
	Slippage float64
	Source   string
}

// Router resolves route requests into fills.
type Router struct {
	remote Remote
	cfg    RouterConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewRouter creates a Router. remote may be nil, in which case every
// non-paper request fails with an ExecutionError. A zero Slippage fills
// paper orders exactly at the reference price.
func NewRouter(remote Remote, cfg RouterConfig, logger *slog.Logger) *Router {
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	if cfg.Source == "" {
		cfg.Source = "PERPBOT"
	}
	return &Router{
		remote: remote,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "execution_router")),
	}
}

// Route fills req. Paper mode returns immediately with a simulated fill.
// Every other mode dispatches to the execution service; failures come back
// as *domain.ExecutionError and no fill.
func (r *Router) Route(ctx context.Context, req domain.RouteRequest) (domain.Fill, error) {
	if req.Mode == domain.ModePaper || req.Mode == "" {
		return r.Simulate(req), nil
	}
	return r.routeRemote(ctx, req)
}

// RouteWithFallback routes req and, under FallbackSimulate, converts an
// execution failure into a paper fill.
func (r *Router) RouteWithFallback(ctx context.Context, req domain.RouteRequest, policy FallbackPolicy) (domain.Fill, error) {
	fill, err := r.Route(ctx, req)
	if err == nil || policy != FallbackSimulate || !errors.Is(err, domain.ErrExecutionFailure) {
		return fill, err
	}
	r.logger.WarnContext(ctx, "execution_router: remote fill failed, simulating",
		slog.String("symbol", req.Symbol),
		slog.String("mode", string(req.Mode)),
		slog.String("error", err.Error()),
	)
	return r.Simulate(req), nil
}

// Simulate returns a paper fill at the reference price moved against the
// taker by the configured slippage.
func (r *Router) Simulate(req domain.RouteRequest) domain.Fill {
	now := r.now().UTC()
	price := req.ReferencePrice * (1 + r.cfg.Slippage)
	if req.Side == domain.SideShort {
		price = req.ReferencePrice * (1 - r.cfg.Slippage)
	}
	metrics.RecordExecution(string(domain.VenuePaper), "simulated", 0)
	return domain.Fill{
		OrderID:        "PAPER_" + strconv.FormatInt(now.UnixMilli(), 10),
		Route:          PaperRoute,
		Venue:          domain.VenuePaper,
		ExecutionPrice: price,
		Quantity:       req.Size,
		Status:         "filled",
		FilledAt:       now,
		Simulated:      true,
		EstimatedFee:   risk.VenueFee(domain.VenuePaper, req.Kind, risk.Notional(req.Size, req.ReferencePrice)),
	}
}

func (r *Router) routeRemote(ctx context.Context, req domain.RouteRequest) (domain.Fill, error) {
	venue := req.Mode.Venue()
	// The smart venue is resolved by the service; this is only the UI estimate.
	estimate := risk.VenueFee(venue, req.Kind, risk.Notional(req.Size, req.ReferencePrice))

	if r.remote == nil {
		return domain.Fill{}, &domain.ExecutionError{Message: "execution service not configured", Simulated: true}
	}

	body := OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side.OrderSide(),
		Size:     req.Size,
		Leverage: req.Leverage,
		Type:     "perp",
		Price:    req.ReferencePrice,
		TP:       deref(req.TakeProfit),
		SL:       deref(req.StopLoss),
		Venue:    string(venue),
		Source:   r.cfg.Source,
	}

	start := r.now()
	resp, err := r.remote.PlaceOrder(ctx, body)
	elapsed := float64(r.now().Sub(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordExecution(string(venue), "transport_error", elapsed)
		r.logger.WarnContext(ctx, "execution_router: transport failure",
			slog.String("symbol", req.Symbol),
			slog.String("venue", string(venue)),
			slog.String("error", err.Error()),
		)
		return domain.Fill{}, &domain.ExecutionError{Message: err.Error(), Simulated: true}
	}
	if !resp.Success {
		metrics.RecordExecution(string(venue), "rejected", elapsed)
		msg := resp.Error
		if msg == "" {
			msg = "order rejected"
		}
		return domain.Fill{}, &domain.ExecutionError{Route: resp.Route, Message: msg}
	}
	if resp.Order == nil {
		metrics.RecordExecution(string(venue), "rejected", elapsed)
		return domain.Fill{}, &domain.ExecutionError{Route: resp.Route, Message: "response carried no order"}
	}
	metrics.RecordExecution(string(venue), "filled", elapsed)

	filledVenue, known := market.ParseVenue(resp.Route)
	if !known {
		filledVenue = venue
	}
	price := resp.Order.ExecutionPrice
	if price <= 0 {
		price = req.ReferencePrice
	}
	qty := resp.Order.Quantity
	if qty <= 0 {
		qty = req.Size
	}
	filledAt := r.now().UTC()
	if resp.Order.FilledAt > 0 {
		filledAt = time.UnixMilli(resp.Order.FilledAt).UTC()
	}

	fill := domain.Fill{
		OrderID:        resp.Order.ID,
		Route:          resp.Route,
		Venue:          filledVenue,
		ExecutionPrice: price,
		Quantity:       qty,
		Status:         resp.Order.Status,
		FilledAt:       filledAt,
		EstimatedFee:   estimate,
	}
	r.logger.InfoContext(ctx, "execution_router: order filled",
		slog.String("symbol", req.Symbol),
		slog.String("route", fill.Route),
		slog.String("order_id", fill.OrderID),
		slog.Float64("price", fill.ExecutionPrice),
	)
	return fill, nil
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

var _ Remote = (*Client)(nil)

// String describes the router for logs.
func (r *Router) String() string {
	return fmt.Sprintf("Router(slippage=%g, source=%s)", r.cfg.Slippage, r.cfg.Source)
}
