// Package server exposes the position ledger over REST and websocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/middleware"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the per-IP request budget per RateWindow; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Accounts  *handler.AccountHandler
	Positions *handler.PositionHandler
	Orders    *handler.OrderHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/pairs", handlers.Markets.ListPairs)
	mux.HandleFunc("GET /api/venues", handlers.Markets.CompareVenues)
	mux.HandleFunc("GET /api/funding", handlers.Markets.Funding)

	mux.HandleFunc("GET /api/accounts/{account}", handlers.Accounts.GetAccount)
	mux.HandleFunc("PUT /api/accounts/{account}/mode", handlers.Accounts.SetMode)
	mux.HandleFunc("GET /api/accounts/{account}/history", handlers.Accounts.History)

	mux.HandleFunc("GET /api/accounts/{account}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/accounts/{account}/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("PUT /api/accounts/{account}/positions/{id}/protection", handlers.Positions.SetProtection)
	mux.HandleFunc("POST /api/accounts/{account}/positions/{id}/protection/upgrade", handlers.Positions.UpgradeProtection)
	mux.HandleFunc("POST /api/accounts/{account}/protection/enable", handlers.Positions.EnableAll)
	mux.HandleFunc("POST /api/accounts/{account}/protection/disable", handlers.Positions.DisableAll)
	mux.HandleFunc("GET /api/accounts/{account}/protection", handlers.Positions.ListProtected)

	mux.HandleFunc("POST /api/accounts/{account}/orders", handlers.Orders.PlaceOrder)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
