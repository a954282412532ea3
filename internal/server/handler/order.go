package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OrderSubmitter opens or merges a position from an order intent. It is
// implemented by executor.Executor, which adds client order id dedup.
type OrderSubmitter interface {
	Submit(ctx context.Context, intent domain.OrderIntent) (domain.OpenResult, error)
}

// OrderLimit caps order submissions per account.
type OrderLimit struct {
	Limiter domain.RateLimiter
	Limit   int
	Window  time.Duration
}

// OrderHandler serves order submission.
type OrderHandler struct {
	orders OrderSubmitter
	limit  *OrderLimit
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler. limit may be nil.
func NewOrderHandler(orders OrderSubmitter, limit *OrderLimit, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, limit: limit, logger: logger}
}

// PlaceOrder opens a position, or increases the open one with the same
// symbol and side. The account in the path overrides any accountId in the
// body.
// POST /api/accounts/{account}/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var intent domain.OrderIntent
	if err := decodeJSON(w, r, &intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	intent.AccountID = accountParam(r)
	if intent.Source == "" {
		intent.Source = "api"
	}

	if h.limit != nil && h.limit.Limiter != nil {
		allowed, err := h.limit.Limiter.Allow(r.Context(), "orders:"+intent.AccountID, h.limit.Limit, h.limit.Window)
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: order rate limiter failed",
				slog.String("account", intent.AccountID),
				slog.String("error", err.Error()),
			)
		} else if !allowed {
			w.Header().Set("Retry-After", "1")
			writeServiceError(w, r, h.logger, "place order", domain.ErrRateLimited)
			return
		}
	}

	res, err := h.orders.Submit(r.Context(), intent)
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}

	status := http.StatusCreated
	if res.Action == "increased" {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}
