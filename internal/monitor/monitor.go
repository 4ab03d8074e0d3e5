package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/executor"
	"github.com/alanyoungcy/venuebot/internal/metrics"
)

// Closer is the slice of the coordinator the monitor closes positions
// through. Routing closes through the coordinator keeps fee and P&L
// bookkeeping in one place.
type Closer interface {
	ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (executor.ExecutionResult, error)
}

// Monitor is the lifecycle loop for one venue family. Only one instance per
// venue may run a cycle at a time across all processes; the distributed lock
// with a staleness TTL enforces that.
type Monitor struct {
	venue       domain.Venue
	adapter     domain.VenueAdapter
	deployments domain.DeploymentStore
	positions   domain.PositionStore
	closer      Closer
	locks       domain.LockManager
	riskCfg     config.RiskConfig
	interval    time.Duration
	lockTTL     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Monitor for one venue.
func New(
	adapter domain.VenueAdapter,
	deployments domain.DeploymentStore,
	positions domain.PositionStore,
	closer Closer,
	locks domain.LockManager,
	riskCfg config.RiskConfig,
	interval, lockTTL time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		venue:       adapter.Venue(),
		adapter:     adapter,
		deployments: deployments,
		positions:   positions,
		closer:      closer,
		locks:       locks,
		riskCfg:     riskCfg,
		interval:    interval,
		lockTTL:     lockTTL,
		metrics:     m,
		logger:      logger.With(slog.String("component", "monitor"), slog.String("venue", string(adapter.Venue()))),
	}
}

// Run polls until ctx is cancelled. A cycle that cannot take the venue lock
// is skipped; another instance is already monitoring.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	unlock, err := m.locks.Acquire(ctx, "monitor:"+string(m.venue), m.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			m.logger.DebugContext(ctx, "cycle skipped, lock held elsewhere")
			return
		}
		m.logger.ErrorContext(ctx, "lock acquire failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	deployments, err := m.deployments.ListActive(ctx, m.venue)
	if err != nil {
		m.logger.ErrorContext(ctx, "list deployments failed", slog.String("error", err.Error()))
		return
	}

	openCount := 0
	for _, dep := range deployments {
		n, err := m.runDeployment(ctx, dep)
		if err != nil {
			// One deployment's failure never blocks the rest.
			m.logger.WarnContext(ctx, "deployment cycle failed",
				slog.String("deployment_id", dep.ID),
				slog.String("error", err.Error()))
			if m.metrics != nil {
				m.metrics.MonitorErrors.WithLabelValues(string(m.venue)).Inc()
			}
			continue
		}
		openCount += n
	}

	if m.metrics != nil {
		m.metrics.MonitorCycles.WithLabelValues(string(m.venue)).Inc()
		m.metrics.OpenPositions.WithLabelValues(string(m.venue)).Set(float64(openCount))
	}
}

// runDeployment performs one full cycle for one deployment and returns the
// number of positions still open afterwards.
func (m *Monitor) runDeployment(ctx context.Context, dep domain.Deployment) (int, error) {
	venueTruth, err := m.adapter.OpenPositions(ctx, dep.Wallet)
	if err != nil {
		return 0, fmt.Errorf("monitor: venue positions: %w", err)
	}

	local, err := m.positions.ListOpenByDeployment(ctx, dep.ID)
	if err != nil {
		return 0, fmt.Errorf("monitor: local positions: %w", err)
	}

	m.discover(ctx, dep, venueTruth, local)

	// Re-read after discovery so new records get evaluated this cycle.
	local, err = m.positions.ListOpenByDeployment(ctx, dep.ID)
	if err != nil {
		return 0, fmt.Errorf("monitor: local positions: %w", err)
	}

	stillOpen := 0
	for _, pos := range local {
		closed := m.evaluate(ctx, dep, pos, venueTruth)
		if !closed {
			stillOpen++
		}
	}
	return stillOpen, nil
}

// discover creates local records for venue positions with no local match.
// Uniqueness collisions mean another instance (or the coordinator) recorded
// the position concurrently and are treated as success.
func (m *Monitor) discover(ctx context.Context, dep domain.Deployment, venueTruth []domain.VenuePosition, local []domain.Position) {
	for _, vp := range venueTruth {
		if matchLocal(local, vp) != nil {
			continue
		}

		tradeID := vp.NativeTradeID
		pos := domain.Position{
			ID:           uuid.New().String(),
			DeploymentID: dep.ID,
			Venue:        m.venue,
			TokenSymbol:  domain.CanonicalToken(vp.Token),
			Side:         vp.Side,
			EntryPrice:   vp.EntryPrice,
			Qty:          vp.Qty,
			CurrentPrice: vp.EntryPrice,
			Trailing: domain.TrailingParams{
				Enabled:       true,
				ActivationPct: m.riskCfg.ActivationPct,
				TrailPct:      m.riskCfg.TrailPct,
			},
			Source:   domain.PositionSourceDiscovered,
			OpenedAt: time.Now().UTC(),
		}
		if tradeID != "" {
			pos.VenueTradeID = &tradeID
		}

		if err := m.positions.Create(ctx, pos); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			m.logger.WarnContext(ctx, "discovery create failed",
				slog.String("token", vp.Token),
				slog.String("error", err.Error()))
			continue
		}

		m.logger.InfoContext(ctx, "untracked position discovered",
			slog.String("position_id", pos.ID),
			slog.String("token", pos.TokenSymbol),
			slog.String("side", string(pos.Side)))
	}
}

// evaluate refreshes one position's mark, runs the exit state machine, and
// dispatches a close when a condition fires. It reports whether the position
// was closed this cycle.
func (m *Monitor) evaluate(ctx context.Context, dep domain.Deployment, pos domain.Position, venueTruth []domain.VenuePosition) bool {
	logger := m.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("token", pos.TokenSymbol))

	// Orphan reconciliation: a local position the venue no longer reports
	// closed outside our control. Finalize at entry with zero P&L so history
	// distinguishes it from risk-triggered closes.
	if matchVenue(venueTruth, pos) == nil {
		if err := m.positions.CloseOpen(ctx, pos.ID, pos.EntryPrice, nil, 0,
			domain.CloseReasonReconciled, time.Now().UTC()); err != nil &&
			!errors.Is(err, domain.ErrAlreadyClosed) {
			logger.WarnContext(ctx, "orphan close failed", slog.String("error", err.Error()))
			return false
		}
		logger.InfoContext(ctx, "orphan position reconciled")
		if m.metrics != nil {
			m.metrics.PositionsClosed.WithLabelValues(string(m.venue), string(domain.CloseReasonReconciled)).Inc()
		}
		return true
	}

	price, err := m.adapter.MarkPrice(ctx, pos.TokenSymbol)
	if err != nil {
		// A price failure is never a close signal; try again next cycle.
		logger.DebugContext(ctx, "mark price unavailable, skipping evaluation")
		return false
	}

	decision := EvaluateExit(pos, price, m.riskCfg.HardStopPct)

	if err := m.positions.UpdateMark(ctx, pos.ID, price, decision.WaterMark); err != nil &&
		!errors.Is(err, domain.ErrNotFound) {
		logger.WarnContext(ctx, "mark update failed", slog.String("error", err.Error()))
	}

	if !decision.Close {
		return false
	}

	logger.InfoContext(ctx, "exit condition fired",
		slog.String("reason", string(decision.Reason)),
		slog.Float64("price", price),
		slog.Float64("entry_price", pos.EntryPrice))

	result, err := m.closer.ClosePosition(ctx, pos.ID, decision.Reason)
	if err != nil {
		logger.WarnContext(ctx, "close dispatch failed", slog.String("error", err.Error()))
		return false
	}
	if result.State != executor.StateConfirmed {
		logger.WarnContext(ctx, "close not confirmed",
			slog.String("state", string(result.State)),
			slog.String("reason", result.Reason))
		return result.State == executor.StateRejected
	}
	return true
}

// matchLocal finds the local record for a venue position: by venue-native
// trade id first, falling back to token+side.
func matchLocal(local []domain.Position, vp domain.VenuePosition) *domain.Position {
	token := domain.CanonicalToken(vp.Token)
	for i := range local {
		p := &local[i]
		if vp.NativeTradeID != "" && p.VenueTradeID != nil && *p.VenueTradeID == vp.NativeTradeID {
			return p
		}
	}
	for i := range local {
		p := &local[i]
		if p.TokenSymbol == token && p.Side == vp.Side {
			return p
		}
	}
	return nil
}

// matchVenue finds the venue counterpart of a local position.
func matchVenue(venueTruth []domain.VenuePosition, pos domain.Position) *domain.VenuePosition {
	for i := range venueTruth {
		vp := &venueTruth[i]
		if pos.VenueTradeID != nil && vp.NativeTradeID != "" && vp.NativeTradeID == *pos.VenueTradeID {
			return vp
		}
	}
	for i := range venueTruth {
		vp := &venueTruth[i]
		if domain.CanonicalToken(vp.Token) == pos.TokenSymbol && vp.Side == pos.Side {
			return vp
		}
	}
	return nil
}
