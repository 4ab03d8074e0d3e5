// Package ostium implements the secondary perp venue through its signing
// sidecar, which wraps the venue's on-chain contracts.
package ostium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// rateLimitKey identifies this sidecar in the shared rate limiter.
const rateLimitKey = "ostium"

// Client is the REST client for the Ostium sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	ratePerMin int
}

// NewClient creates a sidecar Client.
func NewClient(baseURL string, timeout time.Duration, limiter domain.RateLimiter, ratePerMin int) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:    limiter,
		ratePerMin: ratePerMin,
	}
}

type openRequest struct {
	Wallet        string  `json:"wallet"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	CollateralUSD float64 `json:"collateralUsd"`
	Leverage      float64 `json:"leverage"`
	SlippageBps   int     `json:"slippageBps"`
}

type openResponse struct {
	TradeID    string  `json:"tradeId"`
	EntryPrice float64 `json:"entryPrice"`
	Size       float64 `json:"size"`
	TxHash     string  `json:"txHash"`
}

type closeRequest struct {
	Wallet      string  `json:"wallet"`
	Pair        string  `json:"pair"`
	Size        float64 `json:"size"`
	SlippageBps int     `json:"slippageBps"`
}

type closeResponse struct {
	TradeID   string   `json:"tradeId"`
	ExitPrice float64  `json:"exitPrice"`
	Pnl       *float64 `json:"pnl"`
	TxHash    string   `json:"txHash"`
}

type sidecarPosition struct {
	TradeID       string  `json:"tradeId"`
	Pair          string  `json:"pair"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entryPrice"`
	Size          float64 `json:"size"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

type priceResponse struct {
	Price float64 `json:"price"`
}

type balanceResponse struct {
	FreeCollateral float64 `json:"freeCollateral"`
}

// Open opens a position via the sidecar.
func (c *Client) Open(ctx context.Context, req openRequest) (openResponse, error) {
	var out openResponse
	if err := c.doPost(ctx, "/v1/open", req, &out); err != nil {
		return openResponse{}, fmt.Errorf("ostium: open: %w", err)
	}
	return out, nil
}

// Close closes (part of) a position via the sidecar.
func (c *Client) Close(ctx context.Context, req closeRequest) (closeResponse, error) {
	var out closeResponse
	if err := c.doPost(ctx, "/v1/close", req, &out); err != nil {
		return closeResponse{}, fmt.Errorf("ostium: close: %w", err)
	}
	return out, nil
}

// Positions lists the venue's open positions for a wallet.
func (c *Client) Positions(ctx context.Context, wallet string) ([]sidecarPosition, error) {
	params := url.Values{}
	params.Set("wallet", wallet)

	var out []sidecarPosition
	if err := c.doGet(ctx, "/v1/positions?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("ostium: positions: %w", err)
	}
	return out, nil
}

// Price fetches the current price for a pair.
func (c *Client) Price(ctx context.Context, pair string) (float64, error) {
	params := url.Values{}
	params.Set("pair", pair)

	var out priceResponse
	if err := c.doGet(ctx, "/v1/price?"+params.Encode(), &out); err != nil {
		return 0, fmt.Errorf("ostium: price: %w", err)
	}
	return out.Price, nil
}

// Balance fetches the wallet's free collateral.
func (c *Client) Balance(ctx context.Context, wallet string) (float64, error) {
	params := url.Values{}
	params.Set("wallet", wallet)

	var out balanceResponse
	if err := c.doGet(ctx, "/v1/balance?"+params.Encode(), &out); err != nil {
		return 0, fmt.Errorf("ostium: balance: %w", err)
	}
	return out.FreeCollateral, nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.ratePerMin, time.Minute)
	if err != nil {
		return err
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	default:
		return &domain.VenueError{
			Venue:  domain.VenueOstium,
			Reason: fmt.Sprintf("sidecar returned %d: %s", status, truncate(body, 256)),
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
