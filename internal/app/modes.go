package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/executor"
	"github.com/alanyoungcy/venuebot/internal/monitor"
	"github.com/alanyoungcy/venuebot/internal/server"
	"github.com/alanyoungcy/venuebot/internal/server/handler"
)

// ExecuteMode serves the signal ingestion and execution API. Signals arrive
// over HTTP and are dispatched to venues; no lifecycle polling runs.
func (a *App) ExecuteMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting execute mode")

	g, ctx := errgroup.WithContext(ctx)

	coord := a.buildCoordinator(deps)
	a.startPriceFeed(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, coord)

	return g.Wait()
}

// MonitorMode runs the position lifecycle loops for the configured venues.
// Exits found by the monitors are still dispatched through the coordinator so
// fee and P&L bookkeeping stay in one place.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	coord := a.buildCoordinator(deps)
	a.startPriceFeed(ctx, g, deps)
	if err := a.startMonitors(ctx, g, deps, coord); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, coord)
	}

	return g.Wait()
}

// FullMode runs everything: the execution API, all venue monitors, the price
// feed, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	coord := a.buildCoordinator(deps)
	a.startPriceFeed(ctx, g, deps)
	if err := a.startMonitors(ctx, g, deps, coord); err != nil {
		return err
	}
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, coord)

	return g.Wait()
}

// buildCoordinator assembles the execution coordinator from wired
// dependencies.
func (a *App) buildCoordinator(deps *Dependencies) *executor.Coordinator {
	validator := executor.NewValidator(deps.Statuses, deps.Registry)
	return executor.NewCoordinator(
		deps.Signals,
		deps.Deployments,
		deps.Positions,
		deps.Fees,
		deps.Adapters,
		deps.Gateway,
		validator,
		a.cfg.Module,
		a.cfg.Risk,
		a.cfg.Spot.RouterAddress,
		deps.Notifier,
		deps.Metrics,
		a.logger,
	)
}

// startMonitors launches one lifecycle loop per configured venue. A venue
// named in the config without a wired adapter is a configuration error.
func (a *App) startMonitors(ctx context.Context, g *errgroup.Group, deps *Dependencies, coord *executor.Coordinator) error {
	interval := time.Duration(a.cfg.Monitor.IntervalSec) * time.Second
	lockTTL := time.Duration(a.cfg.Monitor.LockTTLSec) * time.Second

	for _, name := range a.cfg.Monitor.Venues {
		adapter, ok := deps.Adapters[domain.Venue(name)]
		if !ok {
			return fmt.Errorf("app: monitor venue %s has no configured adapter", name)
		}
		mon := monitor.New(
			adapter,
			deps.Deployments,
			deps.Positions,
			coord,
			deps.Locks,
			a.cfg.Risk,
			interval, lockTTL,
			deps.Metrics,
			a.logger,
		)
		g.Go(func() error {
			return mon.Run(ctx)
		})
	}
	return nil
}

// startPriceFeed launches the off-chain venue mark-price stream when wired.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.HLFeed == nil {
		return
	}
	g.Go(func() error {
		return deps.HLFeed.Run(ctx)
	})
}

// startArchiver launches the cold-storage archival loop when enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// startHTTPServer adds the admin API server to the errgroup along with a
// goroutine that shuts it down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, coord *executor.Coordinator) {
	srv := server.NewServer(
		server.Config{
			Port:   a.cfg.Server.Port,
			APIKey: a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Signals:   handler.NewSignalHandler(deps.Signals, coord, a.logger),
			Positions: handler.NewPositionHandler(deps.Positions, coord, a.logger),
		},
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
