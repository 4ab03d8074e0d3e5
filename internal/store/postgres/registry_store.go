package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// VenueStatusStore implements domain.VenueStatusStore. The core only reads
// these capability records; they are maintained by an out-of-band sync job.
type VenueStatusStore struct {
	pool *pgxpool.Pool
}

// NewVenueStatusStore creates a VenueStatusStore backed by the given pool.
func NewVenueStatusStore(pool *pgxpool.Pool) *VenueStatusStore {
	return &VenueStatusStore{pool: pool}
}

// Get returns the capability record for (venue, token).
func (s *VenueStatusStore) Get(ctx context.Context, venue domain.Venue, token string) (domain.VenueStatus, error) {
	const query = `
		SELECT venue, token_symbol, enabled, min_notional_usd, max_leverage, tick_size, slippage_bps
		FROM venue_status WHERE venue = $1 AND token_symbol = $2`

	var vs domain.VenueStatus
	var v string
	err := s.pool.QueryRow(ctx, query, string(venue), token).Scan(
		&v, &vs.TokenSymbol, &vs.Enabled, &vs.MinNotionalUSD, &vs.MaxLeverage, &vs.TickSize, &vs.SlippageBps,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VenueStatus{}, domain.ErrNotFound
		}
		return domain.VenueStatus{}, fmt.Errorf("postgres: get venue status %s/%s: %w", venue, token, err)
	}
	vs.Venue = domain.Venue(v)
	return vs, nil
}

// TokenRegistryStore implements domain.TokenRegistryStore.
type TokenRegistryStore struct {
	pool *pgxpool.Pool
}

// NewTokenRegistryStore creates a TokenRegistryStore backed by the given pool.
func NewTokenRegistryStore(pool *pgxpool.Pool) *TokenRegistryStore {
	return &TokenRegistryStore{pool: pool}
}

// Get returns the on-chain mapping for (chain, token).
func (s *TokenRegistryStore) Get(ctx context.Context, chain, token string) (domain.TokenInfo, error) {
	const query = `
		SELECT chain, token_symbol, address, decimals, market_address
		FROM token_registry WHERE chain = $1 AND token_symbol = $2`

	var ti domain.TokenInfo
	err := s.pool.QueryRow(ctx, query, chain, token).Scan(
		&ti.Chain, &ti.TokenSymbol, &ti.Address, &ti.Decimals, &ti.MarketAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TokenInfo{}, domain.ErrNotFound
		}
		return domain.TokenInfo{}, fmt.Errorf("postgres: get token %s on %s: %w", token, chain, err)
	}
	return ti, nil
}

// ListByChain returns every registered token for a chain.
func (s *TokenRegistryStore) ListByChain(ctx context.Context, chain string) ([]domain.TokenInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain, token_symbol, address, decimals, market_address
		FROM token_registry WHERE chain = $1 ORDER BY token_symbol`, chain)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tokens for %s: %w", chain, err)
	}
	defer rows.Close()

	var out []domain.TokenInfo
	for rows.Next() {
		var ti domain.TokenInfo
		if err := rows.Scan(&ti.Chain, &ti.TokenSymbol, &ti.Address, &ti.Decimals, &ti.MarketAddress); err != nil {
			return nil, fmt.Errorf("postgres: scan token: %w", err)
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}

var (
	_ domain.VenueStatusStore   = (*VenueStatusStore)(nil)
	_ domain.TokenRegistryStore = (*TokenRegistryStore)(nil)
)
