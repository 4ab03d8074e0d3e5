package domain

import (
	"strings"
	"time"
)

// SizingKind selects how a signal's position size is derived.
type SizingKind string

const (
	// SizingPercentage sizes the trade as a percentage of the wallet's free
	// balance at execution time, never a cached value.
	SizingPercentage SizingKind = "percentage"
	// SizingFixedNotional sizes the trade as a fixed funding-asset amount.
	// Used for manual trades; must not exceed the available balance.
	SizingFixedNotional SizingKind = "fixed-notional"
)

// Sizing is the tagged sizing directive of a signal.
type Sizing struct {
	Kind     SizingKind
	Value    float64 // percent for SizingPercentage, USD for SizingFixedNotional
	Leverage float64 // 1 for spot venues
}

// Notional resolves the funding-asset notional for the given free balance.
func (s Sizing) Notional(freeBalance float64) float64 {
	switch s.Kind {
	case SizingFixedNotional:
		return s.Value
	default:
		return freeBalance * s.Value / 100
	}
}

// TrailingParams configures the trailing-stop exit for a position. The water
// mark is nil until the activation threshold is first reached, then moves only
// in the favorable direction.
type TrailingParams struct {
	Enabled       bool
	ActivationPct float64 // unrealized profit fraction that arms the stop, e.g. 0.03
	TrailPct      float64 // stop distance from the water mark, e.g. 0.01
	WaterMark     *float64
}

// RiskParams is the optional risk directive carried on a signal. A nil
// Trailing means the position only has the hard stop-loss.
type RiskParams struct {
	Trailing *TrailingParams
}

// Signal is an immutable intent to open a position, consumed at most once.
type Signal struct {
	ID          string
	AgentID     string
	Deployment  string // deployment id
	Venue       Venue
	TokenSymbol string
	Side        Side
	Sizing      Sizing
	Risk        RiskParams
	// Source tags the signal's provenance: tweet ids, "telegram_manual",
	// "auto_discovered", and the like.
	Source string
	// Bucket is a coarse time-bucket tag; (deployment, token, bucket) is
	// unique so a burst of identical signals collapses to one row.
	Bucket     string
	ExecutedAt *time.Time
	CreatedAt  time.Time
}

// manualSuffix separates a manual-trade disambiguation tag from the token
// symbol, e.g. "ETH_MANUAL_1718000000".
const manualSuffix = "_MANUAL_"

// CanonicalToken strips any manual-trade disambiguation suffix from a token
// symbol.
func CanonicalToken(symbol string) string {
	if i := strings.Index(symbol, manualSuffix); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// TimeBucket formats t into the six-hour bucket tag used by the signal
// uniqueness constraint.
func TimeBucket(t time.Time) string {
	t = t.UTC()
	return t.Format("2006-01-02") + "-" + string(rune('A'+t.Hour()/6))
}
