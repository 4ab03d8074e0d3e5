package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a SignalStore backed by the given pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Create inserts a new signal. Colliding on the (deployment, token, bucket)
// dedup constraint returns domain.ErrAlreadyExists.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (
			id, agent_id, deployment_id, venue, token_symbol, side,
			sizing_kind, sizing_value, leverage,
			trailing_enabled, trailing_activation, trailing_trail,
			source, bucket, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	var trailingEnabled bool
	var activation, trail *float64
	if t := sig.Risk.Trailing; t != nil {
		trailingEnabled = t.Enabled
		activation = &t.ActivationPct
		trail = &t.TrailPct
	}

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.AgentID, sig.Deployment, string(sig.Venue), sig.TokenSymbol, string(sig.Side),
		string(sig.Sizing.Kind), sig.Sizing.Value, sig.Sizing.Leverage,
		trailingEnabled, activation, trail,
		sig.Source, sig.Bucket, sig.CreatedAt,
	)
	if err != nil {
		if mapped := mapUnique(err); errors.Is(mapped, domain.ErrAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetByID retrieves a signal by its ID.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	const query = `
		SELECT id, agent_id, deployment_id, venue, token_symbol, side,
		       sizing_kind, sizing_value, leverage,
		       trailing_enabled, trailing_activation, trailing_trail,
		       source, bucket, executed_at, created_at
		FROM signals WHERE id = $1`

	var sig domain.Signal
	var venue, side, sizingKind string
	var trailingEnabled bool
	var activation, trail *float64

	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sig.ID, &sig.AgentID, &sig.Deployment, &venue, &sig.TokenSymbol, &side,
		&sizingKind, &sig.Sizing.Value, &sig.Sizing.Leverage,
		&trailingEnabled, &activation, &trail,
		&sig.Source, &sig.Bucket, &sig.ExecutedAt, &sig.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}

	sig.Venue = domain.Venue(venue)
	sig.Side = domain.Side(side)
	sig.Sizing.Kind = domain.SizingKind(sizingKind)
	if trailingEnabled && activation != nil && trail != nil {
		sig.Risk.Trailing = &domain.TrailingParams{
			Enabled:       true,
			ActivationPct: *activation,
			TrailPct:      *trail,
		}
	}
	return sig, nil
}

// MarkExecuted consumes the signal. The executed_at IS NULL guard makes the
// operation at-most-once; a second attempt gets domain.ErrSignalConsumed.
func (s *SignalStore) MarkExecuted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE signals SET executed_at = $2 WHERE id = $1 AND executed_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark signal executed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM signals WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: mark signal executed %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrSignalConsumed
	}
	return nil
}

var _ domain.SignalStore = (*SignalStore)(nil)
