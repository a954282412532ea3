package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLedger struct {
	summary   domain.AccountSummary
	positions []domain.Position
	history   []domain.TradeHistoryEntry
	err       error

	gotAccount  string
	gotPosition string
	gotReason   string
	gotPlan     domain.ProtectionPlan
	gotMode     domain.ExecutionMode
}

func (f *fakeLedger) Summary(_ context.Context, accountID string) (domain.AccountSummary, error) {
	f.gotAccount = accountID
	return f.summary, f.err
}

func (f *fakeLedger) SetExecutionMode(_ context.Context, accountID string, mode domain.ExecutionMode) error {
	f.gotAccount, f.gotMode = accountID, mode
	return f.err
}

func (f *fakeLedger) History(_ context.Context, accountID string) ([]domain.TradeHistoryEntry, error) {
	f.gotAccount = accountID
	return f.history, f.err
}

func (f *fakeLedger) Positions(_ context.Context, accountID string) ([]domain.Position, error) {
	f.gotAccount = accountID
	return f.positions, f.err
}

func (f *fakeLedger) ClosePosition(_ context.Context, accountID, positionID, reason string) (domain.CloseResult, error) {
	f.gotAccount, f.gotPosition, f.gotReason = accountID, positionID, reason
	if f.err != nil {
		return domain.CloseResult{}, f.err
	}
	return domain.CloseResult{Pnl: 12.5}, nil
}

func (f *fakeLedger) SetProtection(_ context.Context, accountID, positionID string, enabled bool, plan domain.ProtectionPlan) (domain.Position, error) {
	f.gotAccount, f.gotPosition, f.gotPlan = accountID, positionID, plan
	if f.err != nil {
		return domain.Position{}, f.err
	}
	return domain.Position{ID: positionID, Protection: &domain.Protection{Enabled: enabled, Plan: plan}}, nil
}

func (f *fakeLedger) UpgradeProtectionPlan(_ context.Context, accountID, positionID string, plan domain.ProtectionPlan) (domain.Position, error) {
	return f.SetProtection(context.Background(), accountID, positionID, true, plan)
}

func (f *fakeLedger) EnableAllProtection(_ context.Context, accountID string, plan domain.ProtectionPlan) (int, error) {
	f.gotAccount, f.gotPlan = accountID, plan
	return len(f.positions), f.err
}

func (f *fakeLedger) DisableAllProtection(_ context.Context, accountID string) (int, error) {
	f.gotAccount = accountID
	return len(f.positions), f.err
}

func (f *fakeLedger) ProtectedPositions(_ context.Context, accountID string) ([]domain.Position, error) {
	f.gotAccount = accountID
	return nil, f.err
}

type fakeSubmitter struct {
	got    domain.OrderIntent
	result domain.OpenResult
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, intent domain.OrderIntent) (domain.OpenResult, error) {
	f.got = intent
	return f.result, f.err
}

type denyLimiter struct{ keys []string }

func (d *denyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	d.keys = append(d.keys, key)
	return false, nil
}

type fakeArchive struct{ entries []domain.TradeHistoryEntry }

func (f fakeArchive) ArchivedHistory(context.Context, string) ([]domain.TradeHistoryEntry, error) {
	return f.entries, nil
}

// serve routes one request through a mux so path values are populated.
func serve(pattern string, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidLeverage, http.StatusBadRequest},
		{fmt.Errorf("ledger: open: %w", domain.ErrInvalidPair), http.StatusBadRequest},
		{domain.ErrOrderExpired, http.StatusBadRequest},
		{domain.ErrPositionNotFound, http.StatusNotFound},
		{domain.ErrProtectionDisabled, http.StatusConflict},
		{domain.ErrDuplicateOrder, http.StatusConflict},
		{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrExecutionFailure, http.StatusBadGateway},
		{domain.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestServiceErrorHidesInternalDetail(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("postgres: connection reset")}
	h := NewAccountHandler(ledger, nil, testLogger())

	rec := serve("GET /api/accounts/{account}", h.GetAccount, http.MethodGet, "/api/accounts/acct-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "postgres")
	assert.Equal(t, "get account failed", decodeBody(t, rec)["error"])
}

func TestGetAccount(t *testing.T) {
	ledger := &fakeLedger{summary: domain.AccountSummary{ID: "acct-1", PaperBalance: 9000, ExecutionMode: domain.ModePaper}}
	h := NewAccountHandler(ledger, nil, testLogger())

	rec := serve("GET /api/accounts/{account}", h.GetAccount, http.MethodGet, "/api/accounts/acct-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "acct-1", body["id"])
	assert.Equal(t, 9000.0, body["paperBalance"])
	assert.Equal(t, "acct-1", ledger.gotAccount)
}

func TestSetMode(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewAccountHandler(ledger, nil, testLogger())

	rec := serve("PUT /api/accounts/{account}/mode", h.SetMode, http.MethodPut, "/api/accounts/a/mode", `{"mode":"hyperliquid"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ModeHyperliquid, ledger.gotMode)

	rec = serve("PUT /api/accounts/{account}/mode", h.SetMode, http.MethodPut, "/api/accounts/a/mode", `{"mode":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ledger.err = domain.ErrInvalidMode
	rec = serve("PUT /api/accounts/{account}/mode", h.SetMode, http.MethodPut, "/api/accounts/a/mode", `{"mode":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryArchived(t *testing.T) {
	ledger := &fakeLedger{history: []domain.TradeHistoryEntry{{Reason: "manual"}}}
	archive := fakeArchive{entries: []domain.TradeHistoryEntry{{Reason: "liquidated"}, {Reason: "manual"}}}

	h := NewAccountHandler(ledger, archive, testLogger())
	rec := serve("GET /api/accounts/{account}/history", h.History, http.MethodGet, "/api/accounts/a/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["history"], 1)

	rec = serve("GET /api/accounts/{account}/history", h.History, http.MethodGet, "/api/accounts/a/history?archived=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["history"], 2)

	noArchive := NewAccountHandler(ledger, nil, testLogger())
	rec = serve("GET /api/accounts/{account}/history", noArchive.History, http.MethodGet, "/api/accounts/a/history?archived=true", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPositionsEmpty(t *testing.T) {
	h := NewPositionHandler(&fakeLedger{}, testLogger())

	rec := serve("GET /api/accounts/{account}/positions", h.ListPositions, http.MethodGet, "/api/accounts/a/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
}

func TestClosePosition(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewPositionHandler(ledger, testLogger())
	pattern := "POST /api/accounts/{account}/positions/{id}/close"

	rec := serve(pattern, h.ClosePosition, http.MethodPost, "/api/accounts/a/positions/p-1/close", `{"reason":"take profit"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", ledger.gotPosition)
	assert.Equal(t, "take profit", ledger.gotReason)
	assert.Equal(t, 12.5, decodeBody(t, rec)["pnl"])

	rec = serve(pattern, h.ClosePosition, http.MethodPost, "/api/accounts/a/positions/p-1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, ledger.gotReason)

	ledger.err = fmt.Errorf("ledger: close: %w", domain.ErrPositionNotFound)
	rec = serve(pattern, h.ClosePosition, http.MethodPost, "/api/accounts/a/positions/missing/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectionEndpoints(t *testing.T) {
	ledger := &fakeLedger{positions: []domain.Position{{ID: "p-1"}, {ID: "p-2"}}}
	h := NewPositionHandler(ledger, testLogger())

	rec := serve("PUT /api/accounts/{account}/positions/{id}/protection", h.SetProtection,
		http.MethodPut, "/api/accounts/a/positions/p-1/protection", `{"enabled":true,"plan":"premium"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanPremium, ledger.gotPlan)

	rec = serve("POST /api/accounts/{account}/protection/enable", h.EnableAll,
		http.MethodPost, "/api/accounts/a/protection/enable", `{"plan":"basic"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decodeBody(t, rec)["updated"])

	rec = serve("POST /api/accounts/{account}/protection/disable", h.DisableAll,
		http.MethodPost, "/api/accounts/a/protection/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve("GET /api/accounts/{account}/protection", h.ListProtected,
		http.MethodGet, "/api/accounts/a/protection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())

	ledger.err = domain.ErrProtectionDisabled
	rec = serve("POST /api/accounts/{account}/positions/{id}/protection/upgrade", h.UpgradeProtection,
		http.MethodPost, "/api/accounts/a/positions/p-1/protection/upgrade", `{"plan":"premium"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	pattern := "POST /api/accounts/{account}/orders"
	body := `{"clientOrderId":"c-1","accountId":"other","symbol":"BTC","side":"long","size":0.1,"leverage":10}`

	sub := &fakeSubmitter{result: domain.OpenResult{Action: "opened", Position: domain.Position{ID: "p-1"}}}
	h := NewOrderHandler(sub, nil, testLogger())
	rec := serve(pattern, h.PlaceOrder, http.MethodPost, "/api/accounts/acct-1/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "acct-1", sub.got.AccountID)
	assert.Equal(t, "api", sub.got.Source)
	assert.Equal(t, domain.SideLong, sub.got.Side)

	sub.result.Action = "increased"
	rec = serve(pattern, h.PlaceOrder, http.MethodPost, "/api/accounts/acct-1/orders", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	sub.err = domain.ErrDuplicateOrder
	rec = serve(pattern, h.PlaceOrder, http.MethodPost, "/api/accounts/acct-1/orders", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	sub.err = fmt.Errorf("ledger: open: %w", domain.ErrInsufficientBalance)
	rec = serve(pattern, h.PlaceOrder, http.MethodPost, "/api/accounts/acct-1/orders", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlaceOrderRateLimited(t *testing.T) {
	sub := &fakeSubmitter{}
	limiter := &denyLimiter{}
	h := NewOrderHandler(sub, &OrderLimit{Limiter: limiter, Limit: 5, Window: time.Second}, testLogger())

	rec := serve("POST /api/accounts/{account}/orders", h.PlaceOrder, http.MethodPost,
		"/api/accounts/acct-1/orders", `{"symbol":"ETH","side":"short","size":1,"leverage":5}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"orders:acct-1"}, limiter.keys)
	assert.Empty(t, sub.got.Symbol)
}

type fakePairs []domain.TradingPair

func (p fakePairs) List() []domain.TradingPair { return p }

type fakeFunding struct {
	rates map[string]domain.FundingRate
	at    time.Time
}

func (f fakeFunding) Rates() (map[string]domain.FundingRate, time.Time) { return f.rates, f.at }

func TestMarketEndpoints(t *testing.T) {
	pairs := fakePairs{{Symbol: "BTC", MaxLeverage: 100}}
	funding := fakeFunding{
		rates: map[string]domain.FundingRate{"BTC": {Rate: 0.0001}},
		at:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h := NewMarketHandler(pairs, funding, testLogger())

	rec := serve("GET /api/pairs", h.ListPairs, http.MethodGet, "/api/pairs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pairs"], 1)

	rec = serve("GET /api/venues", h.CompareVenues, http.MethodGet, "/api/venues?kind=maker&notional=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "maker", body["kind"])
	assert.Equal(t, 5000.0, body["notional"])
	assert.NotEmpty(t, body["quotes"])

	rec = serve("GET /api/venues", h.CompareVenues, http.MethodGet, "/api/venues?kind=limit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve("GET /api/venues", h.CompareVenues, http.MethodGet, "/api/venues?notional=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve("GET /api/funding", h.Funding, http.MethodGet, "/api/funding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "2026-01-02T03:04:05Z", body["updatedAt"])

	noFunding := NewMarketHandler(pairs, nil, testLogger())
	rec = serve("GET /api/funding", noFunding.Funding, http.MethodGet, "/api/funding", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("server", map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	}, testLogger())
	rec := serve("GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "server", body["mode"])

	h = NewHealthHandler("server", map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("dial tcp: refused") },
	}, testLogger())
	rec = serve("GET /api/health", h.HealthCheck, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "dial tcp: refused", deps["postgres"])
}
