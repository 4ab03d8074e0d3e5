package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// DeploymentStore persists deployments.
type DeploymentStore interface {
	Create(ctx context.Context, d Deployment) error
	GetByID(ctx context.Context, id string) (Deployment, error)
	ListActive(ctx context.Context, venue Venue) ([]Deployment, error)
	UpdateStatus(ctx context.Context, id string, status DeploymentStatus) error
}

// SignalStore persists signals. Create returns ErrAlreadyExists when the
// (deployment, token, bucket) uniqueness constraint collides.
type SignalStore interface {
	Create(ctx context.Context, s Signal) error
	GetByID(ctx context.Context, id string) (Signal, error)
	// MarkExecuted consumes the signal. It returns ErrSignalConsumed when the
	// signal was already executed.
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

// PositionStore persists positions. Create returns ErrAlreadyExists when
// either uniqueness barrier (open deployment+token, or venue+trade id)
// collides, which discovery treats as success.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenByToken(ctx context.Context, deploymentID, token string) (Position, error)
	ListOpenByDeployment(ctx context.Context, deploymentID string) ([]Position, error)
	ListOpenByVenue(ctx context.Context, venue Venue) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Position, error)
	// UpdateMark persists the refreshed current price and (when changed) the
	// trailing water mark.
	UpdateMark(ctx context.Context, id string, currentPrice float64, waterMark *float64) error
	// CloseOpen finalizes the position if it is still open and reports
	// ErrAlreadyClosed otherwise, making close idempotent.
	CloseOpen(ctx context.Context, id string, exitPrice float64, exitTxRef *string, pnl float64, reason CloseReason, at time.Time) error
}

// VenueStatusStore reads capability records. The core never writes them.
type VenueStatusStore interface {
	Get(ctx context.Context, venue Venue, token string) (VenueStatus, error)
}

// TokenRegistryStore reads per-chain token address mappings.
type TokenRegistryStore interface {
	Get(ctx context.Context, chain, token string) (TokenInfo, error)
	ListByChain(ctx context.Context, chain string) ([]TokenInfo, error)
}

// FeeEventStore appends to the billing/fee log.
type FeeEventStore interface {
	Append(ctx context.Context, e FeeEvent) error
	ListBefore(ctx context.Context, before time.Time, opts ListOpts) ([]FeeEvent, error)
}

// LockManager provides distributed mutual exclusion with a staleness TTL so a
// crashed holder cannot block forever; a fresh instance reclaims the lock
// once the TTL lapses.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PriceCache caches venue mark prices with a short TTL.
type PriceCache interface {
	GetPrice(ctx context.Context, venue Venue, token string) (float64, time.Time, error)
	SetPrice(ctx context.Context, venue Venue, token string, price float64) error
}

// RateLimiter bounds the call rate against sidecar APIs.
type RateLimiter interface {
	// Allow reports whether one more call under key is within limit per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter writes archive objects to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, body []byte, contentType string) error
}
