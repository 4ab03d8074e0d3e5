package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// Adapter implements domain.VenueAdapter for the Hyperliquid sidecar.
type Adapter struct {
	client *Client
	prices domain.PriceCache
	logger *slog.Logger
}

// NewAdapter creates a Hyperliquid Adapter. prices may be nil; MarkPrice
// then always hits the sidecar.
func NewAdapter(client *Client, prices domain.PriceCache, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		prices: prices,
		logger: logger.With(slog.String("component", "venue.hyperliquid")),
	}
}

// Venue reports the venue this adapter serves.
func (a *Adapter) Venue() domain.Venue { return domain.VenueHyperliquid }

// MarkPrice serves from the websocket-fed cache when fresh, falling back to
// the sidecar REST endpoint.
func (a *Adapter) MarkPrice(ctx context.Context, token string) (float64, error) {
	if a.prices != nil {
		if price, _, err := a.prices.GetPrice(ctx, domain.VenueHyperliquid, token); err == nil && price > 0 {
			return price, nil
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "price cache read failed",
				slog.String("token", token), slog.String("error", err.Error()))
		}
	}

	price, err := a.client.MarkPrice(ctx, token)
	if err != nil || price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// OpenPosition opens a position via the sidecar.
func (a *Adapter) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	resp, err := a.client.ExecuteTrade(ctx, executeTradeRequest{
		Wallet:        req.Wallet,
		Coin:          req.Token,
		Side:          string(req.Side),
		CollateralUSD: req.CollateralUSD,
		Leverage:      req.Leverage,
		SlippageBps:   req.SlippageBps,
	})
	if err != nil {
		return domain.OpenResult{}, err
	}
	if resp.OrderID == "" || resp.AvgPrice <= 0 || resp.Size <= 0 {
		return domain.OpenResult{}, &domain.VenueError{
			Venue:  domain.VenueHyperliquid,
			Reason: fmt.Sprintf("sidecar reported no fill (order=%q price=%v size=%v)", resp.OrderID, resp.AvgPrice, resp.Size),
		}
	}

	a.logger.InfoContext(ctx, "position opened",
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("order_id", resp.OrderID))

	return domain.OpenResult{
		TxRef:      resp.OrderID,
		EntryPrice: resp.AvgPrice,
		Qty:        resp.Size,
	}, nil
}

// ClosePosition closes the tracked quantity via the sidecar. The venue
// reports realized P&L natively.
func (a *Adapter) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	resp, err := a.client.ClosePosition(ctx, closePositionRequest{
		Wallet:      req.Wallet,
		Coin:        req.Token,
		Size:        req.Qty,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return domain.CloseResult{}, err
	}
	if resp.OrderID == "" || resp.AvgPrice <= 0 {
		return domain.CloseResult{}, &domain.VenueError{
			Venue:  domain.VenueHyperliquid,
			Reason: "sidecar reported no close fill",
		}
	}

	a.logger.InfoContext(ctx, "position closed",
		slog.String("token", req.Token),
		slog.String("order_id", resp.OrderID))

	return domain.CloseResult{
		TxRef:       resp.OrderID,
		ExitPrice:   resp.AvgPrice,
		RealizedPnL: resp.ClosedPnL,
	}, nil
}

// OpenPositions lists the venue's authoritative open positions.
func (a *Adapter) OpenPositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error) {
	raw, err := a.client.Positions(ctx, wallet)
	if err != nil {
		return nil, err
	}

	out := make([]domain.VenuePosition, 0, len(raw))
	for _, p := range raw {
		side := domain.SideLong
		if p.Side == string(domain.SideShort) || p.Size < 0 {
			side = domain.SideShort
		}
		qty := p.Size
		if qty < 0 {
			qty = -qty
		}
		out = append(out, domain.VenuePosition{
			NativeTradeID: p.TradeID,
			Token:         p.Coin,
			Side:          side,
			EntryPrice:    p.EntryPrice,
			Qty:           qty,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	return out, nil
}

// FreeCollateral reads the wallet's withdrawable balance from the sidecar.
func (a *Adapter) FreeCollateral(ctx context.Context, wallet string) (float64, error) {
	return a.client.Balance(ctx, wallet)
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
