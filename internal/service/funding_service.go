package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// FundingService polls the funding-rate feed and serves the last good
// snapshot. A failed poll keeps the previous snapshot.
type FundingService struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu        sync.RWMutex
	rates     map[string]domain.FundingRate
	fetchedAt time.Time
}

// NewFundingService creates a FundingService for url, polled every interval
// (default 60s).
func NewFundingService(url string, interval time.Duration, logger *slog.Logger) *FundingService {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &FundingService{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(slog.String("component", "funding_service")),
		rates:    make(map[string]domain.FundingRate),
	}
}

// Run polls until ctx is cancelled.
func (s *FundingService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "funding_service: starting",
		slog.String("url", s.url),
		slog.Duration("interval", s.interval),
	)
	if err := s.Refresh(ctx); err != nil {
		s.logger.WarnContext(ctx, "funding_service: initial fetch failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.WarnContext(ctx, "funding_service: fetch failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Refresh fetches the feed once and replaces the snapshot on success.
func (s *FundingService) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("funding_service: create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("funding_service: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("funding_service: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("funding_service: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Rates map[string]domain.FundingRate `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("funding_service: decode response: %w", err)
	}
	if payload.Rates == nil {
		return fmt.Errorf("funding_service: response carried no rates")
	}

	s.mu.Lock()
	s.rates = payload.Rates
	s.fetchedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// Rates returns a copy of the last good snapshot and when it was fetched.
func (s *FundingService) Rates() (map[string]domain.FundingRate, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.FundingRate, len(s.rates))
	for k, v := range s.rates {
		out[k] = v
	}
	return out, s.fetchedAt
}
