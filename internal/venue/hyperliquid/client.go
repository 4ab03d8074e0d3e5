// Package hyperliquid implements the off-chain perp venue through its
// signing sidecar. The sidecar owns the venue keys and signing; this side
// only speaks its REST API.
package hyperliquid

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
const rateLimitKey = "hyperliquid"

// Client is the REST client for the Hyperliquid sidecar.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter
	ratePerMin int
}

// NewClient creates a sidecar Client. The limiter bounds the call rate so a
// burst of trades cannot trip the venue's API limits.
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

type executeTradeRequest struct {
	Wallet        string  `json:"wallet"`
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	CollateralUSD float64 `json:"collateralUsd"`
	Leverage      float64 `json:"leverage"`
	SlippageBps   int     `json:"slippageBps"`
}

type executeTradeResponse struct {
	OrderID  string  `json:"orderId"`
	AvgPrice float64 `json:"avgPrice"`
	Size     float64 `json:"size"`
}

type closePositionRequest struct {
	Wallet      string  `json:"wallet"`
	Coin        string  `json:"coin"`
	Size        float64 `json:"size"`
	SlippageBps int     `json:"slippageBps"`
}

type closePositionResponse struct {
	OrderID   string   `json:"orderId"`
	AvgPrice  float64  `json:"avgPrice"`
	ClosedPnL *float64 `json:"closedPnl"`
}

type sidecarPosition struct {
	TradeID       string  `json:"tradeId"`
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entryPrice"`
	Size          float64 `json:"size"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
}

type markPriceResponse struct {
	Price float64 `json:"price"`
}

type balanceResponse struct {
	Withdrawable float64 `json:"withdrawable"`
}

// ExecuteTrade opens a position via the sidecar.
func (c *Client) ExecuteTrade(ctx context.Context, req executeTradeRequest) (executeTradeResponse, error) {
	var out executeTradeResponse
	if err := c.doPost(ctx, "/v1/execute-trade", req, &out); err != nil {
		return executeTradeResponse{}, fmt.Errorf("hyperliquid: execute trade: %w", err)
	}
	return out, nil
}

// ClosePosition closes (part of) a position via the sidecar.
func (c *Client) ClosePosition(ctx context.Context, req closePositionRequest) (closePositionResponse, error) {
	var out closePositionResponse
	if err := c.doPost(ctx, "/v1/close-position", req, &out); err != nil {
		return closePositionResponse{}, fmt.Errorf("hyperliquid: close position: %w", err)
	}
	return out, nil
}

// Positions lists the venue's open positions for a wallet.
func (c *Client) Positions(ctx context.Context, wallet string) ([]sidecarPosition, error) {
	params := url.Values{}
	params.Set("wallet", wallet)

	var out []sidecarPosition
	if err := c.doGet(ctx, "/v1/positions?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("hyperliquid: positions: %w", err)
	}
	return out, nil
}

// MarkPrice fetches the current mark price for a coin.
func (c *Client) MarkPrice(ctx context.Context, coin string) (float64, error) {
	params := url.Values{}
	params.Set("coin", coin)

	var out markPriceResponse
	if err := c.doGet(ctx, "/v1/mark-price?"+params.Encode(), &out); err != nil {
		return 0, fmt.Errorf("hyperliquid: mark price: %w", err)
	}
	return out.Price, nil
}

// Balance fetches the wallet's withdrawable collateral.
func (c *Client) Balance(ctx context.Context, wallet string) (float64, error) {
	params := url.Values{}
	params.Set("wallet", wallet)

	var out balanceResponse
	if err := c.doGet(ctx, "/v1/balance?"+params.Encode(), &out); err != nil {
		return 0, fmt.Errorf("hyperliquid: balance: %w", err)
	}
	return out.Withdrawable, nil
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
			Venue:  domain.VenueHyperliquid,
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
