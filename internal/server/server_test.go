package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
)

type stubLedger struct{}

func (stubLedger) Summary(_ context.Context, id string) (domain.AccountSummary, error) {
	return domain.AccountSummary{ID: id, ExecutionMode: domain.ModePaper}, nil
}
func (stubLedger) SetExecutionMode(context.Context, string, domain.ExecutionMode) error { return nil }
func (stubLedger) History(context.Context, string) ([]domain.TradeHistoryEntry, error) {
	return nil, nil
}
func (stubLedger) Positions(context.Context, string) ([]domain.Position, error) { return nil, nil }
func (stubLedger) ClosePosition(context.Context, string, string, string) (domain.CloseResult, error) {
	return domain.CloseResult{}, domain.ErrPositionNotFound
}
func (stubLedger) SetProtection(context.Context, string, string, bool, domain.ProtectionPlan) (domain.Position, error) {
	return domain.Position{}, nil
}
func (stubLedger) UpgradeProtectionPlan(context.Context, string, string, domain.ProtectionPlan) (domain.Position, error) {
	return domain.Position{}, nil
}
func (stubLedger) EnableAllProtection(context.Context, string, domain.ProtectionPlan) (int, error) {
	return 0, nil
}
func (stubLedger) DisableAllProtection(context.Context, string) (int, error) { return 0, nil }
func (stubLedger) ProtectedPositions(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

type stubSubmitter struct{}

func (stubSubmitter) Submit(_ context.Context, intent domain.OrderIntent) (domain.OpenResult, error) {
	return domain.OpenResult{Action: "opened", Position: domain.Position{Symbol: intent.Symbol}}, nil
}

type countingLimiter struct{ n int }

func (c *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	c.n++
	return c.n <= 2, nil
}

func newTestHandler(t *testing.T, cfg Config, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pairs, err := market.NewPairs()
	require.NoError(t, err)

	handlers := Handlers{
		Health:    handler.NewHealthHandler("server", nil, logger),
		Markets:   handler.NewMarketHandler(pairs, nil, logger),
		Accounts:  handler.NewAccountHandler(stubLedger{}, nil, logger),
		Positions: handler.NewPositionHandler(stubLedger{}, logger),
		Orders:    handler.NewOrderHandler(stubSubmitter{}, nil, logger),
	}
	return NewHandler(cfg, handlers, nil, limiter, logger)
}

func do(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t, Config{}, nil)

	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/pairs", "", http.StatusOK},
		{http.MethodGet, "/api/venues", "", http.StatusOK},
		{http.MethodGet, "/api/funding", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/accounts/a", "", http.StatusOK},
		{http.MethodPut, "/api/accounts/a/mode", `{"mode":"paper"}`, http.StatusOK},
		{http.MethodGet, "/api/accounts/a/history", "", http.StatusOK},
		{http.MethodGet, "/api/accounts/a/positions", "", http.StatusOK},
		{http.MethodPost, "/api/accounts/a/orders", `{"symbol":"BTC","side":"long","size":1,"leverage":2}`, http.StatusCreated},
		{http.MethodPost, "/api/accounts/a/positions/p/close", "", http.StatusNotFound},
		{http.MethodPut, "/api/accounts/a/positions/p/protection", `{"enabled":true,"plan":"basic"}`, http.StatusOK},
		{http.MethodPost, "/api/accounts/a/positions/p/protection/upgrade", `{"plan":"premium"}`, http.StatusOK},
		{http.MethodPost, "/api/accounts/a/protection/enable", `{"plan":"basic"}`, http.StatusOK},
		{http.MethodPost, "/api/accounts/a/protection/disable", "", http.StatusOK},
		{http.MethodGet, "/api/accounts/a/protection", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodDelete, "/api/accounts/a", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := do(h, tc.method, tc.target, tc.body, nil)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestAuthPublicPaths(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/pairs", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, http.MethodGet, "/api/pairs", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/pairs", "", map[string]string{"Authorization": "Bearer secret"}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/pairs", "", map[string]string{"X-API-Key": "secret"}).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{}
	h := newTestHandler(t, Config{RateLimit: 2, RateWindow: time.Minute}, limiter)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/pairs", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/pairs", "", nil).Code)
	rec := do(h, http.MethodGet, "/api/pairs", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret", CORSOrigins: []string{"https://app.example.com"}}, nil)

	rec := do(h, http.MethodOptions, "/api/accounts/a/orders", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodOptions, "/api/pairs", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
