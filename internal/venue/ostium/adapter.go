package ostium

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// Adapter implements domain.VenueAdapter for the Ostium sidecar. The venue
// quotes pairs against USD, so the canonical token symbol maps to "TOKEN/USD".
type Adapter struct {
	client *Client
	logger *slog.Logger
}

// NewAdapter creates an Ostium Adapter.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With(slog.String("component", "venue.ostium")),
	}
}

// Venue reports the venue this adapter serves.
func (a *Adapter) Venue() domain.Venue { return domain.VenueOstium }

func pairFor(token string) string {
	return token + "/USD"
}

// MarkPrice fetches the pair price from the sidecar.
func (a *Adapter) MarkPrice(ctx context.Context, token string) (float64, error) {
	price, err := a.client.Price(ctx, pairFor(token))
	if err != nil || price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// OpenPosition opens a position via the sidecar.
func (a *Adapter) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	resp, err := a.client.Open(ctx, openRequest{
		Wallet:        req.Wallet,
		Pair:          pairFor(req.Token),
		Side:          string(req.Side),
		CollateralUSD: req.CollateralUSD,
		Leverage:      req.Leverage,
		SlippageBps:   req.SlippageBps,
	})
	if err != nil {
		return domain.OpenResult{}, err
	}
	if resp.TradeID == "" || resp.EntryPrice <= 0 || resp.Size <= 0 {
		return domain.OpenResult{}, &domain.VenueError{
			Venue:  domain.VenueOstium,
			Reason: "sidecar reported no fill",
		}
	}

	txRef := resp.TxHash
	if txRef == "" {
		txRef = resp.TradeID
	}

	a.logger.InfoContext(ctx, "position opened",
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("trade_id", resp.TradeID))

	return domain.OpenResult{
		TxRef:      txRef,
		EntryPrice: resp.EntryPrice,
		Qty:        resp.Size,
	}, nil
}

// ClosePosition closes the tracked quantity via the sidecar.
func (a *Adapter) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	resp, err := a.client.Close(ctx, closeRequest{
		Wallet:      req.Wallet,
		Pair:        pairFor(req.Token),
		Size:        req.Qty,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return domain.CloseResult{}, err
	}
	if resp.ExitPrice <= 0 {
		return domain.CloseResult{}, &domain.VenueError{
			Venue:  domain.VenueOstium,
			Reason: "sidecar reported no close fill",
		}
	}

	txRef := resp.TxHash
	if txRef == "" {
		txRef = resp.TradeID
	}

	a.logger.InfoContext(ctx, "position closed",
		slog.String("token", req.Token),
		slog.String("trade_id", resp.TradeID))

	return domain.CloseResult{
		TxRef:       txRef,
		ExitPrice:   resp.ExitPrice,
		RealizedPnL: resp.Pnl,
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
		if p.Side == string(domain.SideShort) {
			side = domain.SideShort
		}
		token := p.Pair
		if i := len(token) - len("/USD"); i > 0 && token[i:] == "/USD" {
			token = token[:i]
		}
		out = append(out, domain.VenuePosition{
			NativeTradeID: p.TradeID,
			Token:         token,
			Side:          side,
			EntryPrice:    p.EntryPrice,
			Qty:           p.Size,
			UnrealizedPnL: p.UnrealizedPnL,
		})
	}
	return out, nil
}

// FreeCollateral reads the wallet's free collateral from the sidecar.
func (a *Adapter) FreeCollateral(ctx context.Context, wallet string) (float64, error) {
	return a.client.Balance(ctx, wallet)
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
