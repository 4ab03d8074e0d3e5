// Package domain holds the core entities, store interfaces, and the venue
// adapter contract shared by the executor, monitor, and gateway packages.
package domain

import "context"

// Venue identifies a trading execution environment.
type Venue string

const (
	VenueSpot        Venue = "SPOT"
	VenueGMX         Venue = "GMX"
	VenueHyperliquid Venue = "HYPERLIQUID"
	VenueOstium      Venue = "OSTIUM"
)

// Valid reports whether v is a known venue.
func (v Venue) Valid() bool {
	switch v {
	case VenueSpot, VenueGMX, VenueHyperliquid, VenueOstium:
		return true
	}
	return false
}

// OnChain reports whether trades on this venue are submitted through the
// wallet execution module (as opposed to a sidecar API).
func (v Venue) OnChain() bool {
	return v == VenueSpot || v == VenueGMX
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OpenRequest asks a venue adapter to open a position.
type OpenRequest struct {
	Wallet        string // user smart-contract wallet (or venue account address)
	Module        string // execution module address; empty for sidecar venues
	ChainID       int64  // zero for sidecar venues
	Token         string // canonical token symbol, e.g. "ETH"
	Side          Side
	CollateralUSD float64 // funding-asset collateral committed to the trade
	Leverage      float64 // 1 for spot
	SlippageBps   int
}

// OpenResult is the venue-confirmed outcome of an open.
type OpenResult struct {
	TxRef      string // tx hash for on-chain venues, order id otherwise
	EntryPrice float64
	Qty        float64 // base-asset quantity
}

// CloseRequest asks a venue adapter to close (part of) a position. Qty is the
// tracked position quantity, never the wallet's total token balance.
type CloseRequest struct {
	Wallet      string
	Module      string
	ChainID     int64
	Token       string
	Side        Side
	Qty         float64
	SlippageBps int
}

// CloseResult is the venue-confirmed outcome of a close. RealizedPnL is set
// only when the venue reports it natively; callers otherwise compute it from
// entry and exit prices.
type CloseResult struct {
	TxRef       string
	ExitPrice   float64
	RealizedPnL *float64
}

// VenuePosition is a venue-reported open position, the authoritative truth
// the monitor reconciles local records against.
type VenuePosition struct {
	NativeTradeID string
	Token         string
	Side          Side
	EntryPrice    float64
	Qty           float64
	UnrealizedPnL float64
}

// VenueAdapter translates venue-agnostic open/close requests into
// venue-specific calls. One implementation exists per venue; the coordinator
// selects the adapter at a single dispatch point.
type VenueAdapter interface {
	Venue() Venue
	OpenPosition(ctx context.Context, req OpenRequest) (OpenResult, error)
	ClosePosition(ctx context.Context, req CloseRequest) (CloseResult, error)

	// MarkPrice returns the venue's current mark price for token, or
	// ErrPriceUnavailable. A price failure is never a close signal.
	MarkPrice(ctx context.Context, token string) (float64, error)

	// OpenPositions lists the venue's authoritative open positions for wallet.
	OpenPositions(ctx context.Context, wallet string) ([]VenuePosition, error)

	// FreeCollateral reports the funding-asset balance available for new
	// trades. Percentage sizing reads this live at execution time.
	FreeCollateral(ctx context.Context, wallet string) (float64, error)
}

// VenueStatus is a capability record for a (venue, token) pair. It is
// maintained out-of-band and read-only to the core.
type VenueStatus struct {
	Venue          Venue
	TokenSymbol    string
	Enabled        bool
	MinNotionalUSD float64
	MaxLeverage    float64
	TickSize       float64
	SlippageBps    int
}

// TokenInfo maps a canonical token symbol to its on-chain representation for
// one chain. Spot trades require a mapping; perps resolve markets internally.
type TokenInfo struct {
	Chain       string
	TokenSymbol string
	Address     string
	Decimals    int
	// MarketAddress is the perp market for this token where applicable.
	MarketAddress string
}
