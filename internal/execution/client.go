package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OrderRequest is the execution service request body.
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	TP       float64 `json:"tp"`
	SL       float64 `json:"sl"`
	Venue    string  `json:"venue"`
	Source   string  `json:"source"`
}

// RemoteOrder is the order block of a successful response.
type RemoteOrder struct {
	ID             string  `json:"id"`
	ExecutionPrice float64 `json:"executionPrice"`
	Quantity       float64 `json:"quantity"`
	Status         string  `json:"status"`
	FilledAt       int64   `json:"filledAt"` // unix ms
}

// OrderResponse is the execution service response body.
type OrderResponse struct {
	Success bool         `json:"success"`
	Route   string       `json:"route"`
	Order   *RemoteOrder `json:"order,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Client is the REST client for the external execution service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *HMACAuth
}

// NewClient creates an execution service client. auth may be nil when the
// service does not require signed requests.
func NewClient(baseURL string, timeout time.Duration, auth *HMACAuth) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

// PlaceOrder posts an order to /api/trade/order. A non-2xx status with a
// decodable body is returned as a response, not an error, so the caller sees
// the provider's message.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	const path = "/api/trade/order"

	body, err := json.Marshal(req)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("execution/client: marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return OrderResponse{}, fmt.Errorf("execution/client: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(http.MethodPost, path, string(body)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("execution/client: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("execution/client: read response: %w", err)
	}

	var out OrderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if statusErr := checkHTTPStatus(resp.StatusCode, respBody); statusErr != nil {
			return OrderResponse{}, fmt.Errorf("execution/client: %w", statusErr)
		}
		return OrderResponse{}, fmt.Errorf("execution/client: decode response: %w", err)
	}
	if resp.StatusCode >= 300 && out.Success {
		out.Success = false
		if out.Error == "" {
			out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
	}
	return out, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
