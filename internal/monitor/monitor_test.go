package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/executor"
)

// --- fakes ---

type stubAdapter struct {
	venue     domain.Venue
	positions []domain.VenuePosition
	posErr    error
	markPrice float64
	markErr   error

	listCalls int
}

func (s *stubAdapter) Venue() domain.Venue { return s.venue }

func (s *stubAdapter) OpenPosition(_ context.Context, _ domain.OpenRequest) (domain.OpenResult, error) {
	return domain.OpenResult{}, nil
}

func (s *stubAdapter) ClosePosition(_ context.Context, _ domain.CloseRequest) (domain.CloseResult, error) {
	return domain.CloseResult{}, nil
}

func (s *stubAdapter) MarkPrice(_ context.Context, _ string) (float64, error) {
	if s.markErr != nil {
		return 0, s.markErr
	}
	return s.markPrice, nil
}

func (s *stubAdapter) OpenPositions(_ context.Context, _ string) ([]domain.VenuePosition, error) {
	s.listCalls++
	if s.posErr != nil {
		return nil, s.posErr
	}
	return s.positions, nil
}

func (s *stubAdapter) FreeCollateral(_ context.Context, _ string) (float64, error) {
	return 0, nil
}

type stubDeployments struct {
	active []domain.Deployment
}

func (s *stubDeployments) Create(_ context.Context, _ domain.Deployment) error { return nil }
func (s *stubDeployments) GetByID(_ context.Context, id string) (domain.Deployment, error) {
	for _, d := range s.active {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.Deployment{}, domain.ErrNotFound
}
func (s *stubDeployments) ListActive(_ context.Context, _ domain.Venue) ([]domain.Deployment, error) {
	return s.active, nil
}
func (s *stubDeployments) UpdateStatus(_ context.Context, _ string, _ domain.DeploymentStatus) error {
	return nil
}

type memPositions struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositions(positions ...domain.Position) *memPositions {
	s := &memPositions{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *memPositions) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.positions {
		if existing.Open() && existing.DeploymentID == p.DeploymentID && existing.TokenSymbol == p.TokenSymbol {
			return domain.ErrAlreadyExists
		}
	}
	s.positions[p.ID] = p
	return nil
}

func (s *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositions) GetOpenByToken(_ context.Context, deploymentID, token string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Open() && p.DeploymentID == deploymentID && p.TokenSymbol == token {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memPositions) ListOpenByDeployment(_ context.Context, deploymentID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Open() && p.DeploymentID == deploymentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListOpenByVenue(_ context.Context, venue domain.Venue) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Open() && p.Venue == venue {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListClosedBefore(_ context.Context, _ time.Time, _ domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositions) UpdateMark(_ context.Context, id string, currentPrice float64, waterMark *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.CurrentPrice = currentPrice
	if waterMark != nil {
		p.Trailing.WaterMark = waterMark
	}
	s.positions[id] = p
	return nil
}

func (s *memPositions) CloseOpen(_ context.Context, id string, exitPrice float64, exitTxRef *string, pnl float64, reason domain.CloseReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Open() {
		return domain.ErrAlreadyClosed
	}
	p.ExitPrice = &exitPrice
	p.ExitTxRef = exitTxRef
	p.RealizedPnL = &pnl
	p.CloseReason = &reason
	p.ClosedAt = &at
	s.positions[id] = p
	return nil
}

type stubLocks struct {
	err      error
	acquired int
}

func (s *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return func() {}, nil
}

type recordingCloser struct {
	store  *memPositions
	calls  []domain.CloseReason
	result executor.ExecutionResult
	err    error
}

func (c *recordingCloser) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (executor.ExecutionResult, error) {
	c.calls = append(c.calls, reason)
	if c.err != nil {
		return executor.ExecutionResult{}, c.err
	}
	if c.store != nil {
		pos, err := c.store.GetByID(ctx, positionID)
		if err == nil {
			_ = c.store.CloseOpen(ctx, positionID, pos.CurrentPrice, nil, 0, reason, time.Now().UTC())
		}
	}
	res := c.result
	if res.State == "" {
		res.State = executor.StateConfirmed
	}
	res.PositionID = positionID
	return res, nil
}

// --- harness ---

func testRisk() config.RiskConfig {
	return config.RiskConfig{HardStopPct: 0.10, ActivationPct: 0.03, TrailPct: 0.01}
}

func newTestMonitor(adapter *stubAdapter, positions *memPositions, closer *recordingCloser, locks *stubLocks) *Monitor {
	deployments := &stubDeployments{active: []domain.Deployment{{
		ID:     "dep-1",
		Venue:  adapter.venue,
		Wallet: "0xwallet",
		Status: domain.DeploymentActive,
	}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(adapter, deployments, positions, closer, locks, testRisk(), time.Minute, 5*time.Minute, nil, logger)
}

// --- tests ---

func TestCycleSkipsWhenLockHeld(t *testing.T) {
	adapter := &stubAdapter{venue: domain.VenueHyperliquid}
	locks := &stubLocks{err: domain.ErrLockHeld}
	m := newTestMonitor(adapter, newMemPositions(), &recordingCloser{}, locks)

	m.cycle(context.Background())

	if adapter.listCalls != 0 {
		t.Errorf("adapter consulted %d times while lock held elsewhere, want 0", adapter.listCalls)
	}
}

func TestCycleDiscoversUntrackedPosition(t *testing.T) {
	adapter := &stubAdapter{
		venue: domain.VenueHyperliquid,
		positions: []domain.VenuePosition{{
			NativeTradeID: "hl-77",
			Token:         "ETH",
			Side:          domain.SideLong,
			EntryPrice:    2000,
			Qty:           0.5,
		}},
		markPrice: 2000,
	}
	store := newMemPositions()
	m := newTestMonitor(adapter, store, &recordingCloser{store: store}, &stubLocks{})

	m.cycle(context.Background())

	open, _ := store.ListOpenByDeployment(context.Background(), "dep-1")
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1 discovered", len(open))
	}
	p := open[0]
	if p.Source != domain.PositionSourceDiscovered {
		t.Errorf("Source = %v, want discovered", p.Source)
	}
	if p.VenueTradeID == nil || *p.VenueTradeID != "hl-77" {
		t.Errorf("VenueTradeID = %v, want hl-77", p.VenueTradeID)
	}
	if !p.Trailing.Enabled || p.Trailing.TrailPct != 0.01 {
		t.Errorf("Trailing = %+v, want configured defaults", p.Trailing)
	}

	// A second cycle hits the uniqueness barrier and stays idempotent.
	m.cycle(context.Background())
	open, _ = store.ListOpenByDeployment(context.Background(), "dep-1")
	if len(open) != 1 {
		t.Errorf("open positions after re-cycle = %d, want 1", len(open))
	}
}

func TestCycleReconcilesOrphan(t *testing.T) {
	// Local record, no venue counterpart: the position closed outside our
	// control and is finalized at entry with zero P&L.
	pos := domain.Position{
		ID:           "pos-1",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.5,
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &stubAdapter{venue: domain.VenueHyperliquid}
	store := newMemPositions(pos)
	closer := &recordingCloser{store: store}
	m := newTestMonitor(adapter, store, closer, &stubLocks{})

	m.cycle(context.Background())

	closed, _ := store.GetByID(context.Background(), "pos-1")
	if closed.Open() {
		t.Fatal("orphan still open")
	}
	if closed.CloseReason == nil || *closed.CloseReason != domain.CloseReasonReconciled {
		t.Errorf("CloseReason = %v, want RECONCILED", closed.CloseReason)
	}
	if closed.ExitPrice == nil || *closed.ExitPrice != 2000 {
		t.Errorf("ExitPrice = %v, want entry price", closed.ExitPrice)
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 0 {
		t.Errorf("RealizedPnL = %v, want 0", closed.RealizedPnL)
	}
	if len(closer.calls) != 0 {
		t.Errorf("orphan reconciliation dispatched %d venue closes, want 0", len(closer.calls))
	}
}

func TestCycleDispatchesHardStopClose(t *testing.T) {
	pos := domain.Position{
		ID:           "pos-1",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.5,
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &stubAdapter{
		venue: domain.VenueHyperliquid,
		positions: []domain.VenuePosition{{
			Token: "ETH", Side: domain.SideLong, EntryPrice: 2000, Qty: 0.5,
		}},
		markPrice: 1800, // exactly entry*(1-0.10)
	}
	store := newMemPositions(pos)
	closer := &recordingCloser{store: store}
	m := newTestMonitor(adapter, store, closer, &stubLocks{})

	m.cycle(context.Background())

	if len(closer.calls) != 1 || closer.calls[0] != domain.CloseReasonHardStop {
		t.Fatalf("closer calls = %v, want one HARD_STOP_LOSS", closer.calls)
	}
}

func TestCyclePriceFailureIsNotACloseSignal(t *testing.T) {
	pos := domain.Position{
		ID:           "pos-1",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.5,
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &stubAdapter{
		venue: domain.VenueHyperliquid,
		positions: []domain.VenuePosition{{
			Token: "ETH", Side: domain.SideLong, EntryPrice: 2000, Qty: 0.5,
		}},
		markErr: domain.ErrPriceUnavailable,
	}
	store := newMemPositions(pos)
	closer := &recordingCloser{store: store}
	m := newTestMonitor(adapter, store, closer, &stubLocks{})

	m.cycle(context.Background())

	if len(closer.calls) != 0 {
		t.Errorf("closer calls = %v, want none on price failure", closer.calls)
	}
	still, _ := store.GetByID(context.Background(), "pos-1")
	if !still.Open() {
		t.Error("position closed despite unavailable mark price")
	}
}

func TestCycleUpdatesWaterMark(t *testing.T) {
	pos := domain.Position{
		ID:           "pos-1",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.5,
		Trailing:     domain.TrailingParams{Enabled: true, ActivationPct: 0.03, TrailPct: 0.01},
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &stubAdapter{
		venue: domain.VenueHyperliquid,
		positions: []domain.VenuePosition{{
			Token: "ETH", Side: domain.SideLong, EntryPrice: 2000, Qty: 0.5,
		}},
		markPrice: 2060, // activation threshold
	}
	store := newMemPositions(pos)
	m := newTestMonitor(adapter, store, &recordingCloser{store: store}, &stubLocks{})

	m.cycle(context.Background())

	updated, _ := store.GetByID(context.Background(), "pos-1")
	if !updated.Open() {
		t.Fatal("activation must not close the position")
	}
	if updated.CurrentPrice != 2060 {
		t.Errorf("CurrentPrice = %v, want 2060", updated.CurrentPrice)
	}
	if updated.Trailing.WaterMark == nil || *updated.Trailing.WaterMark != 2060 {
		t.Errorf("WaterMark = %v, want 2060", updated.Trailing.WaterMark)
	}
}
