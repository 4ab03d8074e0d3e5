package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
)

// --- in-memory fakes ---

type fakeStatuses map[string]domain.VenueStatus

func statusKey(venue domain.Venue, token string) string {
	return string(venue) + ":" + token
}

func (f fakeStatuses) Get(_ context.Context, venue domain.Venue, token string) (domain.VenueStatus, error) {
	s, ok := f[statusKey(venue, token)]
	if !ok {
		return domain.VenueStatus{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeRegistry map[string]domain.TokenInfo

func (f fakeRegistry) Get(_ context.Context, chain, token string) (domain.TokenInfo, error) {
	ti, ok := f[chain+":"+token]
	if !ok {
		return domain.TokenInfo{}, domain.ErrNotFound
	}
	return ti, nil
}

func (f fakeRegistry) ListByChain(_ context.Context, chain string) ([]domain.TokenInfo, error) {
	var out []domain.TokenInfo
	for k, ti := range f {
		if strings.HasPrefix(k, chain+":") {
			out = append(out, ti)
		}
	}
	return out, nil
}

type fakeAdapter struct {
	venue      domain.Venue
	free       float64
	freeErr    error
	openResult domain.OpenResult
	openErr    error
	closeRes   domain.CloseResult
	closeErr   error
	markPrice  float64
	markErr    error
	positions  []domain.VenuePosition
	posErr     error

	opens  []domain.OpenRequest
	closes []domain.CloseRequest
}

func (f *fakeAdapter) Venue() domain.Venue { return f.venue }

func (f *fakeAdapter) OpenPosition(_ context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	f.opens = append(f.opens, req)
	if f.openErr != nil {
		return domain.OpenResult{}, f.openErr
	}
	return f.openResult, nil
}

func (f *fakeAdapter) ClosePosition(_ context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	f.closes = append(f.closes, req)
	if f.closeErr != nil {
		return domain.CloseResult{}, f.closeErr
	}
	return f.closeRes, nil
}

func (f *fakeAdapter) MarkPrice(_ context.Context, _ string) (float64, error) {
	if f.markErr != nil {
		return 0, f.markErr
	}
	return f.markPrice, nil
}

func (f *fakeAdapter) OpenPositions(_ context.Context, _ string) ([]domain.VenuePosition, error) {
	if f.posErr != nil {
		return nil, f.posErr
	}
	return f.positions, nil
}

func (f *fakeAdapter) FreeCollateral(_ context.Context, _ string) (float64, error) {
	if f.freeErr != nil {
		return 0, f.freeErr
	}
	return f.free, nil
}

type fakeSignalStore struct {
	mu      sync.Mutex
	signals map[string]domain.Signal
}

func newFakeSignalStore(sigs ...domain.Signal) *fakeSignalStore {
	s := &fakeSignalStore{signals: make(map[string]domain.Signal)}
	for _, sig := range sigs {
		s.signals[sig.ID] = sig
	}
	return s
}

func (s *fakeSignalStore) Create(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.signals[sig.ID] = sig
	return nil
}

func (s *fakeSignalStore) GetByID(_ context.Context, id string) (domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, domain.ErrNotFound
	}
	return sig, nil
}

func (s *fakeSignalStore) MarkExecuted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if sig.ExecutedAt != nil {
		return domain.ErrSignalConsumed
	}
	sig.ExecutedAt = &at
	s.signals[id] = sig
	return nil
}

type fakeDeploymentStore struct {
	deployments map[string]domain.Deployment
}

func (s *fakeDeploymentStore) Create(_ context.Context, _ domain.Deployment) error { return nil }

func (s *fakeDeploymentStore) GetByID(_ context.Context, id string) (domain.Deployment, error) {
	d, ok := s.deployments[id]
	if !ok {
		return domain.Deployment{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *fakeDeploymentStore) ListActive(_ context.Context, venue domain.Venue) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for _, d := range s.deployments {
		if d.Venue == venue && d.Status == domain.DeploymentActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDeploymentStore) UpdateStatus(_ context.Context, id string, status domain.DeploymentStatus) error {
	d, ok := s.deployments[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	s.deployments[id] = d
	return nil
}

type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	// createErr forces the next Create to fail with this error.
	createErr error
}

func newFakePositionStore(positions ...domain.Position) *fakePositionStore {
	s := &fakePositionStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *fakePositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.positions {
		if existing.Open() && existing.DeploymentID == p.DeploymentID && existing.TokenSymbol == p.TokenSymbol {
			return domain.ErrAlreadyExists
		}
	}
	s.positions[p.ID] = p
	return nil
}

func (s *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) GetOpenByToken(_ context.Context, deploymentID, token string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Open() && p.DeploymentID == deploymentID && p.TokenSymbol == token {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListOpenByDeployment(_ context.Context, deploymentID string) ([]domain.Position, error) {
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

func (s *fakePositionStore) ListOpenByVenue(_ context.Context, venue domain.Venue) ([]domain.Position, error) {
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

func (s *fakePositionStore) ListClosedBefore(_ context.Context, before time.Time, _ domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) UpdateMark(_ context.Context, id string, currentPrice float64, waterMark *float64) error {
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

func (s *fakePositionStore) CloseOpen(_ context.Context, id string, exitPrice float64, exitTxRef *string, pnl float64, reason domain.CloseReason, at time.Time) error {
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

type fakeFeeStore struct {
	mu     sync.Mutex
	events []domain.FeeEvent
}

func (s *fakeFeeStore) Append(_ context.Context, e domain.FeeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *fakeFeeStore) ListBefore(_ context.Context, before time.Time, _ domain.ListOpts) ([]domain.FeeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeeEvent
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- test harness ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type coordinatorFixture struct {
	coord     *Coordinator
	signals   *fakeSignalStore
	positions *fakePositionStore
	fees      *fakeFeeStore
	adapter   *fakeAdapter
}

func newCoordinatorFixture(t *testing.T, sig domain.Signal, adapter *fakeAdapter, positions ...domain.Position) *coordinatorFixture {
	t.Helper()

	signals := newFakeSignalStore(sig)
	deployments := &fakeDeploymentStore{deployments: map[string]domain.Deployment{
		"dep-1": {
			ID:      "dep-1",
			AgentID: "agent-1",
			Venue:   adapter.venue,
			Wallet:  "0xwallet",
			Status:  domain.DeploymentActive,
		},
	}}
	posStore := newFakePositionStore(positions...)
	fees := &fakeFeeStore{}

	statuses := fakeStatuses{
		statusKey(adapter.venue, "ETH"): {
			Venue:          adapter.venue,
			TokenSymbol:    "ETH",
			Enabled:        true,
			MinNotionalUSD: 10,
			MaxLeverage:    20,
			SlippageBps:    50,
		},
	}
	validator := NewValidator(statuses, fakeRegistry{})

	coord := NewCoordinator(
		signals,
		deployments,
		posStore,
		fees,
		map[domain.Venue]domain.VenueAdapter{adapter.venue: adapter},
		nil,
		validator,
		config.ModuleConfig{ProfitSharePct: 0.20},
		config.RiskConfig{HardStopPct: 0.10, ActivationPct: 0.03, TrailPct: 0.01},
		"",
		nil,
		nil,
		discardLogger(),
	)
	return &coordinatorFixture{
		coord:     coord,
		signals:   signals,
		positions: posStore,
		fees:      fees,
		adapter:   adapter,
	}
}

func testSignal() domain.Signal {
	return domain.Signal{
		ID:          "sig-1",
		AgentID:     "agent-1",
		Deployment:  "dep-1",
		Venue:       domain.VenueHyperliquid,
		TokenSymbol: "ETH",
		Side:        domain.SideLong,
		Sizing:      domain.Sizing{Kind: domain.SizingPercentage, Value: 50, Leverage: 2},
		CreatedAt:   time.Now().UTC(),
	}
}

// --- tests ---

func TestExecuteSignalConfirmed(t *testing.T) {
	adapter := &fakeAdapter{
		venue:      domain.VenueHyperliquid,
		free:       1000,
		openResult: domain.OpenResult{TxRef: "order-42", EntryPrice: 2000, Qty: 0.25},
	}
	f := newCoordinatorFixture(t, testSignal(), adapter)

	result, err := f.coord.ExecuteSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.State != StateConfirmed {
		t.Fatalf("State = %v, want CONFIRMED (%s)", result.State, result.Reason)
	}
	if result.TxRef != "order-42" {
		t.Errorf("TxRef = %q, want order-42", result.TxRef)
	}

	// Percentage sizing reads the live balance: 50% of 1000.
	if len(adapter.opens) != 1 {
		t.Fatalf("opens = %d, want 1", len(adapter.opens))
	}
	if got := adapter.opens[0].CollateralUSD; got != 500 {
		t.Errorf("CollateralUSD = %v, want 500", got)
	}

	pos, err := f.positions.GetByID(context.Background(), result.PositionID)
	if err != nil {
		t.Fatalf("position not persisted: %v", err)
	}
	if pos.VenueTradeID == nil || *pos.VenueTradeID != "order-42" {
		t.Errorf("VenueTradeID = %v, want order-42", pos.VenueTradeID)
	}
	if pos.Source != domain.PositionSourceAutomated {
		t.Errorf("Source = %v, want automated", pos.Source)
	}

	sig, _ := f.signals.GetByID(context.Background(), "sig-1")
	if sig.ExecutedAt == nil {
		t.Error("signal not marked executed after confirmed fill")
	}
}

func TestExecuteSignalVenueFailureLeavesNoTrace(t *testing.T) {
	adapter := &fakeAdapter{
		venue:   domain.VenueHyperliquid,
		free:    1000,
		openErr: &domain.VenueError{Venue: domain.VenueHyperliquid, Reason: "order rejected"},
	}
	f := newCoordinatorFixture(t, testSignal(), adapter)

	result, err := f.coord.ExecuteSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("venue failures are terminal results, not errors: %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %v, want FAILED", result.State)
	}

	// No position row and an unconsumed signal: the attempt is retryable.
	open, _ := f.positions.ListOpenByDeployment(context.Background(), "dep-1")
	if len(open) != 0 {
		t.Errorf("open positions = %d, want 0", len(open))
	}
	sig, _ := f.signals.GetByID(context.Background(), "sig-1")
	if sig.ExecutedAt != nil {
		t.Error("signal consumed despite failed execution")
	}
}

func TestExecuteSignalAlreadyConsumed(t *testing.T) {
	sig := testSignal()
	at := time.Now().UTC()
	sig.ExecutedAt = &at
	adapter := &fakeAdapter{venue: domain.VenueHyperliquid, free: 1000}
	f := newCoordinatorFixture(t, sig, adapter)

	result, err := f.coord.ExecuteSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.State != StateRejected {
		t.Fatalf("State = %v, want REJECTED", result.State)
	}
	if len(adapter.opens) != 0 {
		t.Error("consumed signal must not reach the venue")
	}
}

func TestExecuteSignalDiscoveryRecordedFirst(t *testing.T) {
	// Another record already holds the (deployment, token) open slot: the
	// coordinator treats the uniqueness collision as discovery winning the
	// race and still reports success.
	existing := domain.Position{
		ID:           "pos-existing",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.25,
		Source:       domain.PositionSourceDiscovered,
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &fakeAdapter{
		venue:      domain.VenueHyperliquid,
		free:       1000,
		openResult: domain.OpenResult{TxRef: "order-43", EntryPrice: 2000, Qty: 0.25},
	}
	f := newCoordinatorFixture(t, testSignal(), adapter, existing)

	result, err := f.coord.ExecuteSignal(context.Background(), "sig-1")
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.State != StateConfirmed {
		t.Fatalf("State = %v, want CONFIRMED", result.State)
	}
	open, _ := f.positions.ListOpenByDeployment(context.Background(), "dep-1")
	if len(open) != 1 {
		t.Errorf("open positions = %d, want 1", len(open))
	}
}

func TestClosePositionRoundTrip(t *testing.T) {
	pos := domain.Position{
		ID:           "pos-1",
		DeploymentID: "dep-1",
		Venue:        domain.VenueHyperliquid,
		TokenSymbol:  "ETH",
		Side:         domain.SideLong,
		EntryPrice:   2000,
		Qty:          0.25,
		OpenedAt:     time.Now().UTC(),
	}
	adapter := &fakeAdapter{
		venue:    domain.VenueHyperliquid,
		free:     1000,
		closeRes: domain.CloseResult{TxRef: "order-close", ExitPrice: 2000},
	}
	f := newCoordinatorFixture(t, testSignal(), adapter, pos)

	result, err := f.coord.ClosePosition(context.Background(), "pos-1", domain.CloseReasonManual)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if result.State != StateConfirmed {
		t.Fatalf("State = %v, want CONFIRMED (%s)", result.State, result.Reason)
	}

	// Only the tracked quantity is closed.
	if len(adapter.closes) != 1 || adapter.closes[0].Qty != 0.25 {
		t.Fatalf("closes = %+v, want one close of qty 0.25", adapter.closes)
	}

	closed, _ := f.positions.GetByID(context.Background(), "pos-1")
	if closed.Open() {
		t.Fatal("position still open")
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 0 {
		t.Errorf("RealizedPnL = %v, want 0 for an exit at entry", closed.RealizedPnL)
	}
	if closed.CloseReason == nil || *closed.CloseReason != domain.CloseReasonManual {
		t.Errorf("CloseReason = %v, want MANUAL", closed.CloseReason)
	}

	// Closing again is rejected without a second venue call.
	result, err = f.coord.ClosePosition(context.Background(), "pos-1", domain.CloseReasonManual)
	if err != nil {
		t.Fatalf("second ClosePosition: %v", err)
	}
	if result.State != StateRejected {
		t.Fatalf("State = %v, want REJECTED on double close", result.State)
	}
	if len(adapter.closes) != 1 {
		t.Errorf("closes = %d, want 1 after idempotent re-close", len(adapter.closes))
	}
}

func TestClosePositionProfitShare(t *testing.T) {
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
	realized := 50.0
	adapter := &fakeAdapter{
		venue:    domain.VenueHyperliquid,
		free:     1000,
		closeRes: domain.CloseResult{TxRef: "order-close", ExitPrice: 2100, RealizedPnL: &realized},
	}
	f := newCoordinatorFixture(t, testSignal(), adapter, pos)

	result, err := f.coord.ClosePosition(context.Background(), "pos-1", domain.CloseReasonTrailingStop)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if result.State != StateConfirmed {
		t.Fatalf("State = %v, want CONFIRMED", result.State)
	}

	// The venue-reported P&L wins over the locally computed one.
	closed, _ := f.positions.GetByID(context.Background(), "pos-1")
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 50 {
		t.Fatalf("RealizedPnL = %v, want venue-reported 50", closed.RealizedPnL)
	}

	// 20% of the positive P&L lands in the fee log.
	if len(f.fees.events) != 1 {
		t.Fatalf("fee events = %d, want 1", len(f.fees.events))
	}
	e := f.fees.events[0]
	if e.Kind != domain.FeeEventProfitShare || e.AmountUSD != 10 {
		t.Errorf("fee event = %+v, want PROFIT_SHARE of 10", e)
	}
}
