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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, deployment_id, signal_id, venue, token_symbol, side,
	entry_price, qty, current_price, entry_tx_ref, venue_trade_id,
	trailing_enabled, trailing_activation, trailing_trail, water_mark,
	source, exit_price, exit_tx_ref, realized_pnl, close_reason,
	opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var venue, side, source string
	var closeReason *string

	err := row.Scan(
		&p.ID, &p.DeploymentID, &p.SignalID, &venue, &p.TokenSymbol, &side,
		&p.EntryPrice, &p.Qty, &p.CurrentPrice, &p.EntryTxRef, &p.VenueTradeID,
		&p.Trailing.Enabled, &p.Trailing.ActivationPct, &p.Trailing.TrailPct, &p.Trailing.WaterMark,
		&source, &p.ExitPrice, &p.ExitTxRef, &p.RealizedPnL, &closeReason,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Venue = domain.Venue(venue)
	p.Side = domain.Side(side)
	p.Source = domain.PositionSource(source)
	if closeReason != nil {
		cr := domain.CloseReason(*closeReason)
		p.CloseReason = &cr
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. A unique-constraint collision on either the
// open (deployment, token) pair or the venue trade id is returned as
// domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, deployment_id, signal_id, venue, token_symbol, side,
			entry_price, qty, current_price, entry_tx_ref, venue_trade_id,
			trailing_enabled, trailing_activation, trailing_trail, water_mark,
			source, opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.DeploymentID, p.SignalID, string(p.Venue), p.TokenSymbol, string(p.Side),
		p.EntryPrice, p.Qty, p.CurrentPrice, p.EntryTxRef, p.VenueTradeID,
		p.Trailing.Enabled, p.Trailing.ActivationPct, p.Trailing.TrailPct, p.Trailing.WaterMark,
		string(p.Source), p.OpenedAt,
	)
	if err != nil {
		if mapped := mapUnique(err); errors.Is(mapped, domain.ErrAlreadyExists) {
			return mapped
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenByToken returns the open position for (deployment, token), if any.
func (s *PositionStore) GetOpenByToken(ctx context.Context, deploymentID, token string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE deployment_id = $1 AND token_symbol = $2 AND closed_at IS NULL`,
		deploymentID, token)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s/%s: %w", deploymentID, token, err)
	}
	return p, nil
}

// ListOpenByDeployment returns all open positions for the given deployment.
func (s *PositionStore) ListOpenByDeployment(ctx context.Context, deploymentID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE deployment_id = $1 AND closed_at IS NULL
		 ORDER BY opened_at DESC`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpenByVenue returns all open positions across deployments for a venue.
func (s *PositionStore) ListOpenByVenue(ctx context.Context, venue domain.Venue) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE venue = $1 AND closed_at IS NULL
		 ORDER BY opened_at DESC`, string(venue))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for %s: %w", venue, err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions for %s: %w", venue, err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed before the given cutoff, oldest
// first, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		 WHERE closed_at IS NOT NULL AND closed_at < $1
		 ORDER BY closed_at ASC`
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
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// UpdateMark persists a refreshed current price and water mark for an open
// position.
func (s *PositionStore) UpdateMark(ctx context.Context, id string, currentPrice float64, waterMark *float64) error {
	const query = `
		UPDATE positions SET
			current_price = $2,
			water_mark    = COALESCE($3, water_mark),
			updated_at    = NOW()
		WHERE id = $1 AND closed_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, currentPrice, waterMark)
	if err != nil {
		return fmt.Errorf("postgres: update mark for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CloseOpen finalizes an open position. The WHERE clause on closed_at makes
// the operation idempotent: a second close observes zero affected rows and
// gets domain.ErrAlreadyClosed.
func (s *PositionStore) CloseOpen(ctx context.Context, id string, exitPrice float64, exitTxRef *string, pnl float64, reason domain.CloseReason, at time.Time) error {
	const query = `
		UPDATE positions SET
			exit_price   = $2,
			exit_tx_ref  = $3,
			realized_pnl = $4,
			close_reason = $5,
			closed_at    = $6,
			updated_at   = NOW()
		WHERE id = $1 AND closed_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, exitTxRef, pnl, string(reason), at)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "never existed" from "already closed".
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: close position %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyClosed
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
