// Package feed turns external price sources into domain.PriceTick values for
// the monitor.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay = 5 * time.Second
)

type subscribeCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type priceQuote struct {
	Price float64 `json:"price"`
}

type priceMessage struct {
	Type string                `json:"type"`
	Data map[string]priceQuote `json:"data"`
}

// PriceFeed is a websocket client for the upstream price feed. Each "prices"
// message becomes one tick on the output channel. It reconnects after a fixed
// delay until the context is cancelled.
type PriceFeed struct {
	wsURL  string
	out    chan<- domain.PriceTick
	logger *slog.Logger

	dialer         websocket.Dialer
	reconnectDelay time.Duration
}

// NewPriceFeed creates a feed that dials wsURL and writes ticks to out.
func NewPriceFeed(wsURL string, out chan<- domain.PriceTick, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:          wsURL,
		out:            out,
		logger:         logger.With(slog.String("component", "price_feed")),
		dialer:         websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		reconnectDelay: reconnectDelay,
	}
}

// Run connects, subscribes and forwards ticks until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	if f.wsURL == "" {
		f.logger.Info("no price feed url configured, exiting")
		return nil
	}
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", f.reconnectDelay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *PriceFeed) runConnection(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Channel: "prices"}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price feed subscribed", slog.String("url", f.wsURL))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		tick, ok := f.decode(raw)
		if !ok {
			continue
		}
		select {
		case f.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decode parses one feed message. Messages of other types and empty price
// maps are ignored.
func (f *PriceFeed) decode(raw []byte) (domain.PriceTick, bool) {
	var msg priceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.FeedMessages.WithLabelValues("malformed").Inc()
		f.logger.Debug("price feed message dropped", slog.String("error", err.Error()))
		return domain.PriceTick{}, false
	}
	if msg.Type != "prices" {
		metrics.FeedMessages.WithLabelValues("ignored").Inc()
		return domain.PriceTick{}, false
	}

	prices := make(map[string]float64, len(msg.Data))
	for sym, q := range msg.Data {
		if q.Price <= 0 {
			continue
		}
		prices[market.NormalizeSymbol(sym)] = q.Price
	}
	if len(prices) == 0 {
		metrics.FeedMessages.WithLabelValues("ignored").Inc()
		return domain.PriceTick{}, false
	}
	metrics.FeedMessages.WithLabelValues("tick").Inc()
	return domain.PriceTick{Prices: prices, At: time.Now().UTC()}, true
}

func (f *PriceFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
