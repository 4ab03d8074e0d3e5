package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// DeploymentStore implements domain.DeploymentStore using PostgreSQL.
type DeploymentStore struct {
	pool *pgxpool.Pool
}

// NewDeploymentStore creates a DeploymentStore backed by the given pool.
func NewDeploymentStore(pool *pgxpool.Pool) *DeploymentStore {
	return &DeploymentStore{pool: pool}
}

const deploymentSelectCols = `id, agent_id, venue, wallet, module_address,
	chain_id, profit_receiver, status, created_at, updated_at`

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var d domain.Deployment
	var venue, status string
	err := row.Scan(
		&d.ID, &d.AgentID, &venue, &d.Wallet, &d.ModuleAddress,
		&d.ChainID, &d.ProfitReceiver, &status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Deployment{}, err
	}
	d.Venue = domain.Venue(venue)
	d.Status = domain.DeploymentStatus(status)
	return d, nil
}

// Create inserts a new deployment.
func (s *DeploymentStore) Create(ctx context.Context, d domain.Deployment) error {
	const query = `
		INSERT INTO deployments (
			id, agent_id, venue, wallet, module_address,
			chain_id, profit_receiver, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.AgentID, string(d.Venue), d.Wallet, d.ModuleAddress,
		d.ChainID, d.ProfitReceiver, string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create deployment %s: %w", d.ID, mapUnique(err))
	}
	return nil
}

// GetByID retrieves a deployment by its ID.
func (s *DeploymentStore) GetByID(ctx context.Context, id string) (domain.Deployment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deploymentSelectCols+` FROM deployments WHERE id = $1`, id)

	d, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Deployment{}, domain.ErrNotFound
		}
		return domain.Deployment{}, fmt.Errorf("postgres: get deployment %s: %w", id, err)
	}
	return d, nil
}

// ListActive returns all ACTIVE deployments for the given venue.
func (s *DeploymentStore) ListActive(ctx context.Context, venue domain.Venue) ([]domain.Deployment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deploymentSelectCols+` FROM deployments
		 WHERE status = 'ACTIVE' AND venue = $1
		 ORDER BY created_at`, string(venue))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active deployments for %s: %w", venue, err)
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a deployment's lifecycle status.
func (s *DeploymentStore) UpdateStatus(ctx context.Context, id string, status domain.DeploymentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deployments SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update deployment status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.DeploymentStore = (*DeploymentStore)(nil)
