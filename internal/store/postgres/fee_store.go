package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// FeeEventStore implements the append-only billing log.
type FeeEventStore struct {
	pool *pgxpool.Pool
}

// NewFeeEventStore creates a FeeEventStore backed by the given pool.
func NewFeeEventStore(pool *pgxpool.Pool) *FeeEventStore {
	return &FeeEventStore{pool: pool}
}

// Append inserts one fee event. Rows are never updated or deleted by the
// core; archival is the only consumer that removes them.
func (s *FeeEventStore) Append(ctx context.Context, e domain.FeeEvent) error {
	const query = `
		INSERT INTO fee_events (deployment_id, position_id, kind, amount_usd, tx_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		e.DeploymentID, e.PositionID, string(e.Kind), e.AmountUSD, e.TxRef, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append fee event: %w", err)
	}
	return nil
}

// ListBefore returns fee events created before the cutoff, oldest first.
func (s *FeeEventStore) ListBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.FeeEvent, error) {
	query := `
		SELECT id, deployment_id, position_id, kind, amount_usd, tx_ref, created_at
		FROM fee_events WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fee events: %w", err)
	}
	defer rows.Close()

	var out []domain.FeeEvent
	for rows.Next() {
		var e domain.FeeEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.PositionID, &kind, &e.AmountUSD, &e.TxRef, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fee event: %w", err)
		}
		e.Kind = domain.FeeEventKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.FeeEventStore = (*FeeEventStore)(nil)
