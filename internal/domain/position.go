package domain

import "time"

// PositionSource distinguishes positions opened by the coordinator from those
// the monitor discovered already open on a venue.
type PositionSource string

const (
	PositionSourceAutomated  PositionSource = "automated"
	PositionSourceDiscovered PositionSource = "discovered"
)

// CloseReason records why a position was finalized.
type CloseReason string

const (
	CloseReasonHardStop     CloseReason = "HARD_STOP_LOSS"
	CloseReasonTrailingStop CloseReason = "TRAILING_STOP"
	CloseReasonManual       CloseReason = "MANUAL"
	// CloseReasonReconciled marks a local position that had no venue
	// counterpart and was closed at entry price with zero P&L.
	CloseReasonReconciled CloseReason = "RECONCILED"
)

// Position is the central lifecycle entity. A row exists if and only if the
// venue confirmed a fill (or the monitor discovered one). At most one open
// position exists per (deployment, token) pair; the store enforces this with
// a partial unique index.
type Position struct {
	ID           string
	DeploymentID string
	SignalID     string
	Venue        Venue
	TokenSymbol  string
	Side         Side
	EntryPrice   float64
	Qty          float64
	CurrentPrice float64
	EntryTxRef   string
	// VenueTradeID is the venue-native trade/order identifier used to match
	// this record against the venue's authoritative position list.
	VenueTradeID *string
	Trailing     TrailingParams
	Source       PositionSource
	ExitPrice    *float64
	ExitTxRef    *string
	RealizedPnL  *float64
	CloseReason  *CloseReason
	OpenedAt     time.Time
	ClosedAt     *time.Time
}

// Open reports whether the position is still open.
func (p Position) Open() bool { return p.ClosedAt == nil }

// PnL returns the realized profit for closing qty at exitPrice: the price
// delta in the position's favorable direction times quantity.
func PnL(side Side, entryPrice, exitPrice, qty float64) float64 {
	if side == SideShort {
		return (entryPrice - exitPrice) * qty
	}
	return (exitPrice - entryPrice) * qty
}

// FeeEventKind tags entries in the append-only billing log.
type FeeEventKind string

const (
	FeeEventTradeFee    FeeEventKind = "TRADE_FEE"
	FeeEventProfitShare FeeEventKind = "PROFIT_SHARE"
)

// FeeEvent is one row of the append-only billing/fee log.
type FeeEvent struct {
	ID           int64
	DeploymentID string
	PositionID   string
	Kind         FeeEventKind
	AmountUSD    float64
	TxRef        string
	CreatedAt    time.Time
}
