package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/gateway"
	"github.com/alanyoungcy/venuebot/internal/metrics"
)

// State is a trade request's position in the execution state machine.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateValidated State = "VALIDATED"
	StateRouted    State = "ROUTED"
	StateSubmitted State = "SUBMITTED"
	StateConfirmed State = "CONFIRMED"
	StateRejected  State = "REJECTED"
	StateFailed    State = "FAILED"
)

// ExecutionResult is the terminal outcome of ExecuteSignal or ClosePosition.
type ExecutionResult struct {
	State      State
	Reason     string
	PositionID string
	TxRef      string
}

// Notifier is the slice of the notification system the coordinator uses.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Coordinator drives a trade request through validation, venue dispatch, and
// position persistence. One Coordinator serves all venues; dispatch happens
// at a single point through the adapter map.
type Coordinator struct {
	signals     domain.SignalStore
	deployments domain.DeploymentStore
	positions   domain.PositionStore
	fees        domain.FeeEventStore
	adapters    map[domain.Venue]domain.VenueAdapter
	gw          *gateway.Gateway
	validator   *Validator
	moduleCfg   config.ModuleConfig
	riskCfg     config.RiskConfig
	spotRouter  string
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewCoordinator wires a Coordinator. notifier may be nil.
func NewCoordinator(
	signals domain.SignalStore,
	deployments domain.DeploymentStore,
	positions domain.PositionStore,
	fees domain.FeeEventStore,
	adapters map[domain.Venue]domain.VenueAdapter,
	gw *gateway.Gateway,
	validator *Validator,
	moduleCfg config.ModuleConfig,
	riskCfg config.RiskConfig,
	spotRouter string,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		signals:     signals,
		deployments: deployments,
		positions:   positions,
		fees:        fees,
		adapters:    adapters,
		gw:          gw,
		validator:   validator,
		moduleCfg:   moduleCfg,
		riskCfg:     riskCfg,
		spotRouter:  spotRouter,
		notifier:    notifier,
		metrics:     m,
		logger:      logger.With(slog.String("component", "coordinator")),
	}
}

// ExecuteSignal consumes a signal and opens the position it describes. The
// signal stays unconsumed unless the venue confirms a fill; a failed attempt
// can be retried with a fresh signal.
func (c *Coordinator) ExecuteSignal(ctx context.Context, signalID string) (ExecutionResult, error) {
	started := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ExecuteDuration.Observe(time.Since(started).Seconds())
		}
	}()

	sig, err := c.signals.GetByID(ctx, signalID)
	if err != nil {
		return ExecutionResult{State: StateFailed}, fmt.Errorf("executor: load signal %s: %w", signalID, err)
	}
	if sig.ExecutedAt != nil {
		return ExecutionResult{State: StateRejected, Reason: "signal already consumed"}, nil
	}

	dep, err := c.deployments.GetByID(ctx, sig.Deployment)
	if err != nil {
		return ExecutionResult{State: StateFailed}, fmt.Errorf("executor: load deployment %s: %w", sig.Deployment, err)
	}
	if dep.Status != domain.DeploymentActive {
		return ExecutionResult{State: StateRejected, Reason: fmt.Sprintf("deployment is %s", dep.Status)}, nil
	}

	adapter, ok := c.adapters[sig.Venue]
	if !ok {
		return ExecutionResult{State: StateFailed, Reason: fmt.Sprintf("no adapter for venue %s", sig.Venue)}, nil
	}

	token := domain.CanonicalToken(sig.TokenSymbol)
	logger := c.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("deployment_id", dep.ID),
		slog.String("venue", string(sig.Venue)),
		slog.String("token", token))

	verdict, err := c.validator.Validate(ctx, sig, dep, token, adapter)
	if err != nil {
		if domain.IsValidation(err) {
			logger.InfoContext(ctx, "signal rejected", slog.String("reason", err.Error()))
			if c.metrics != nil {
				c.metrics.TradesRejected.WithLabelValues(string(sig.Venue)).Inc()
			}
			return ExecutionResult{State: StateRejected, Reason: err.Error()}, nil
		}
		return ExecutionResult{State: StateFailed}, err
	}

	slippage := verdict.SlippageBps
	if slippage <= 0 {
		slippage = 100
	}

	// Routed: idempotent module setup plus the flat platform fee, all
	// non-fatal. The trade proceeds even if fee collection fails; billing is
	// reconciled out-of-band from the fee log.
	if sig.Venue.OnChain() {
		c.prepareModule(ctx, logger, dep, sig.Venue)
	}

	result, err := adapter.OpenPosition(ctx, domain.OpenRequest{
		Wallet:        dep.Wallet,
		Module:        dep.ModuleAddress,
		ChainID:       dep.ChainID,
		Token:         token,
		Side:          sig.Side,
		CollateralUSD: verdict.NotionalUSD,
		Leverage:      sig.Sizing.Leverage,
		SlippageBps:   slippage,
	})
	if err != nil {
		logger.WarnContext(ctx, "open failed", slog.String("error", err.Error()))
		if c.metrics != nil {
			c.metrics.TradesFailed.WithLabelValues(string(sig.Venue)).Inc()
		}
		if domain.IsVenueFailure(err) {
			return ExecutionResult{State: StateFailed, Reason: err.Error()}, nil
		}
		return ExecutionResult{State: StateFailed}, err
	}

	// Confirmed fill: persist the position, then consume the signal. Only a
	// real venue reference ever reaches the store.
	pos := domain.Position{
		ID:           uuid.New().String(),
		DeploymentID: dep.ID,
		SignalID:     sig.ID,
		Venue:        sig.Venue,
		TokenSymbol:  token,
		Side:         sig.Side,
		EntryPrice:   result.EntryPrice,
		Qty:          result.Qty,
		CurrentPrice: result.EntryPrice,
		EntryTxRef:   result.TxRef,
		Trailing:     c.trailingFor(sig),
		Source:       domain.PositionSourceAutomated,
		OpenedAt:     time.Now().UTC(),
	}
	if !sig.Venue.OnChain() {
		ref := result.TxRef
		pos.VenueTradeID = &ref
	}

	if err := c.positions.Create(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// The monitor discovered the fill first; its record wins.
			logger.InfoContext(ctx, "position already recorded by discovery")
		} else {
			logger.ErrorContext(ctx, "position persist failed", slog.String("error", err.Error()))
			return ExecutionResult{State: StateFailed, TxRef: result.TxRef},
				fmt.Errorf("executor: persist position: %w", err)
		}
	}

	if err := c.signals.MarkExecuted(ctx, sig.ID, time.Now().UTC()); err != nil &&
		!errors.Is(err, domain.ErrSignalConsumed) {
		logger.WarnContext(ctx, "mark executed failed", slog.String("error", err.Error()))
	}

	// Charge the flat fee after the confirmed fill; additive to the trade
	// amount, never netted out of it.
	if sig.Venue.OnChain() && c.moduleCfg.TradeFeeUSD > 0 {
		c.chargeTradeFee(ctx, logger, dep, pos)
	}

	logger.InfoContext(ctx, "trade confirmed",
		slog.String("tx", result.TxRef),
		slog.Float64("entry_price", result.EntryPrice),
		slog.Float64("qty", result.Qty))

	if c.metrics != nil {
		c.metrics.TradesExecuted.WithLabelValues(string(sig.Venue)).Inc()
	}
	c.notify(ctx, "trade_executed", "Trade executed",
		fmt.Sprintf("%s %s on %s: %.4f @ %.4f (tx %s)",
			sig.Side, token, sig.Venue, result.Qty, result.EntryPrice, result.TxRef))

	return ExecutionResult{State: StateConfirmed, PositionID: pos.ID, TxRef: result.TxRef}, nil
}

// ClosePosition closes an open position for the given reason. It is
// idempotent: closing an already-closed position reports success without a
// second venue call.
func (c *Coordinator) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (ExecutionResult, error) {
	pos, err := c.positions.GetByID(ctx, positionID)
	if err != nil {
		return ExecutionResult{State: StateFailed}, fmt.Errorf("executor: load position %s: %w", positionID, err)
	}
	if !pos.Open() {
		return ExecutionResult{State: StateRejected, Reason: "position already closed", PositionID: pos.ID}, nil
	}

	dep, err := c.deployments.GetByID(ctx, pos.DeploymentID)
	if err != nil {
		return ExecutionResult{State: StateFailed}, fmt.Errorf("executor: load deployment %s: %w", pos.DeploymentID, err)
	}

	adapter, ok := c.adapters[pos.Venue]
	if !ok {
		return ExecutionResult{State: StateFailed, Reason: fmt.Sprintf("no adapter for venue %s", pos.Venue)}, nil
	}

	logger := c.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("venue", string(pos.Venue)),
		slog.String("token", pos.TokenSymbol),
		slog.String("reason", string(reason)))

	// The tracked quantity bounds the close. The wallet may hold more of the
	// token for other reasons; that surplus is not ours to sell.
	result, err := adapter.ClosePosition(ctx, domain.CloseRequest{
		Wallet:      dep.Wallet,
		Module:      dep.ModuleAddress,
		ChainID:     dep.ChainID,
		Token:       pos.TokenSymbol,
		Side:        pos.Side,
		Qty:         pos.Qty,
		SlippageBps: 100,
	})
	if err != nil {
		logger.WarnContext(ctx, "close failed", slog.String("error", err.Error()))
		if domain.IsVenueFailure(err) {
			return ExecutionResult{State: StateFailed, Reason: err.Error(), PositionID: pos.ID}, nil
		}
		return ExecutionResult{State: StateFailed, PositionID: pos.ID}, err
	}

	pnl := domain.PnL(pos.Side, pos.EntryPrice, result.ExitPrice, pos.Qty)
	if result.RealizedPnL != nil {
		pnl = *result.RealizedPnL
	}

	txRef := result.TxRef
	now := time.Now().UTC()
	if err := c.positions.CloseOpen(ctx, pos.ID, result.ExitPrice, &txRef, pnl, reason, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			logger.InfoContext(ctx, "position was finalized concurrently")
			return ExecutionResult{State: StateConfirmed, PositionID: pos.ID, TxRef: txRef}, nil
		}
		return ExecutionResult{State: StateFailed, PositionID: pos.ID, TxRef: txRef},
			fmt.Errorf("executor: finalize position: %w", err)
	}

	if pnl > 0 {
		c.distributeProfitShare(ctx, logger, dep, pos, pnl)
	}

	logger.InfoContext(ctx, "position closed",
		slog.String("tx", txRef),
		slog.Float64("exit_price", result.ExitPrice),
		slog.Float64("pnl", pnl))

	if c.metrics != nil {
		c.metrics.PositionsClosed.WithLabelValues(string(pos.Venue), string(reason)).Inc()
	}
	c.notify(ctx, "position_closed", "Position closed",
		fmt.Sprintf("%s %s on %s closed (%s): P&L %.2f USD",
			pos.Side, pos.TokenSymbol, pos.Venue, reason, pnl))

	return ExecutionResult{State: StateConfirmed, PositionID: pos.ID, TxRef: txRef}, nil
}

// trailingFor resolves the position's trailing parameters: the signal's
// directive when present, the configured defaults otherwise.
func (c *Coordinator) trailingFor(sig domain.Signal) domain.TrailingParams {
	if t := sig.Risk.Trailing; t != nil {
		return *t
	}
	return domain.TrailingParams{
		Enabled:       true,
		ActivationPct: c.riskCfg.ActivationPct,
		TrailPct:      c.riskCfg.TrailPct,
	}
}

// prepareModule runs the idempotent per-deployment setup calls. Every
// failure here is logged and swallowed: capital tracking may already be
// initialized, and an existing allowance makes the approval redundant.
func (c *Coordinator) prepareModule(ctx context.Context, logger *slog.Logger, dep domain.Deployment, venue domain.Venue) {
	module := common.HexToAddress(dep.ModuleAddress)

	if err := c.gw.InitializeCapitalTracking(ctx, dep.ChainID, module); err != nil {
		logger.WarnContext(ctx, "capital tracking init skipped", slog.String("error", err.Error()))
	}

	if venue == domain.VenueSpot && c.spotRouter != "" {
		funding, ok := c.moduleCfg.FundingToken[strconv.FormatInt(dep.ChainID, 10)]
		if !ok {
			logger.WarnContext(ctx, "no funding token configured for chain",
				slog.Int64("chain_id", dep.ChainID))
			return
		}
		if err := c.gw.ApproveTokenForRouter(ctx, dep.ChainID, module,
			common.HexToAddress(funding), common.HexToAddress(c.spotRouter)); err != nil {
			logger.WarnContext(ctx, "router approval skipped", slog.String("error", err.Error()))
		}
	}
}

// chargeTradeFee collects the flat platform fee and records it in the fee
// log. Both steps are non-fatal.
func (c *Coordinator) chargeTradeFee(ctx context.Context, logger *slog.Logger, dep domain.Deployment, pos domain.Position) {
	module := common.HexToAddress(dep.ModuleAddress)
	if err := c.gw.ChargeTradeFee(ctx, dep.ChainID, module, c.moduleCfg.TradeFeeUSD); err != nil {
		logger.WarnContext(ctx, "trade fee collection failed", slog.String("error", err.Error()))
		return
	}

	if c.metrics != nil {
		c.metrics.FeeChargedUSD.Add(c.moduleCfg.TradeFeeUSD)
	}
	if err := c.fees.Append(ctx, domain.FeeEvent{
		DeploymentID: dep.ID,
		PositionID:   pos.ID,
		Kind:         domain.FeeEventTradeFee,
		AmountUSD:    c.moduleCfg.TradeFeeUSD,
		TxRef:        pos.EntryTxRef,
	}); err != nil {
		logger.WarnContext(ctx, "fee event append failed", slog.String("error", err.Error()))
	}
}

// distributeProfitShare sends the profit-share cut on profitable closes.
// Non-fatal: the position is already finalized and the share can be
// reconciled from the fee log.
func (c *Coordinator) distributeProfitShare(ctx context.Context, logger *slog.Logger, dep domain.Deployment, pos domain.Position, pnl float64) {
	share := pnl * c.moduleCfg.ProfitSharePct
	if share <= 0 || c.moduleCfg.ProfitSharePct <= 0 {
		return
	}

	if pos.Venue.OnChain() {
		if dep.ProfitReceiver == "" {
			return
		}
		if err := c.gw.DistributeProfitShare(ctx, dep.ChainID,
			common.HexToAddress(dep.ModuleAddress), common.HexToAddress(dep.ProfitReceiver), share); err != nil {
			logger.WarnContext(ctx, "profit share distribution failed", slog.String("error", err.Error()))
			return
		}
	}

	if c.metrics != nil {
		c.metrics.ProfitShareUSD.Add(share)
	}
	if err := c.fees.Append(ctx, domain.FeeEvent{
		DeploymentID: dep.ID,
		PositionID:   pos.ID,
		Kind:         domain.FeeEventProfitShare,
		AmountUSD:    share,
	}); err != nil {
		logger.WarnContext(ctx, "fee event append failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) notify(ctx context.Context, event, title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, event, title, message); err != nil {
		c.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
	}
}
