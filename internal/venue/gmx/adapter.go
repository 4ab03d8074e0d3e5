// Package gmx implements the on-chain perp venue. Orders route through the
// deployment's execution module; pricing and position state come from the
// perp reader contract.
package gmx

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/gateway"
)

// readerABI is the perp reader surface. Prices and USD sizes use the
// venue's 1e30 fixed-point convention.
const readerABI = `[
  {"type":"function","name":"markPrice","stateMutability":"view","inputs":[{"name":"market","type":"address"}],"outputs":[{"name":"price","type":"uint256"}]},
  {"type":"function","name":"positions","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"markets","type":"address[]"},{"name":"isLong","type":"bool[]"},{"name":"sizeUsd","type":"uint256[]"},{"name":"collateralUsd","type":"uint256[]"},{"name":"entryPrice","type":"uint256[]"},{"name":"pnlUsd","type":"int256[]"}]}
]`

// Adapter implements domain.VenueAdapter for the on-chain perp venue.
type Adapter struct {
	gw           *gateway.Gateway
	registry     domain.TokenRegistryStore
	cfg          config.GMXConfig
	chainID      int64
	fundingToken common.Address
	reader       abi.ABI
	logger       *slog.Logger
}

// New creates a GMX Adapter bound to one chain.
func New(gw *gateway.Gateway, registry domain.TokenRegistryStore, cfg config.GMXConfig, chainID int64, fundingToken string, logger *slog.Logger) (*Adapter, error) {
	reader, err := abi.JSON(strings.NewReader(readerABI))
	if err != nil {
		return nil, fmt.Errorf("gmx: parse reader abi: %w", err)
	}

	return &Adapter{
		gw:           gw,
		registry:     registry,
		cfg:          cfg,
		chainID:      chainID,
		fundingToken: common.HexToAddress(fundingToken),
		reader:       reader,
		logger:       logger.With(slog.String("component", "venue.gmx")),
	}, nil
}

// Venue reports the venue this adapter serves.
func (a *Adapter) Venue() domain.Venue { return domain.VenueGMX }

func (a *Adapter) chainKey() string {
	return strconv.FormatInt(a.chainID, 10)
}

func (a *Adapter) market(ctx context.Context, token string) (common.Address, error) {
	ti, err := a.registry.Get(ctx, a.chainKey(), token)
	if err != nil || ti.MarketAddress == "" {
		return common.Address{}, &domain.VenueError{
			Venue:  domain.VenueGMX,
			Reason: fmt.Sprintf("no perp market registered for %s on chain %d", token, a.chainID),
			Err:    err,
		}
	}
	return common.HexToAddress(ti.MarketAddress), nil
}

// MarkPrice reads the market's mark from the reader contract.
func (a *Adapter) MarkPrice(ctx context.Context, token string) (float64, error) {
	market, err := a.market(ctx, token)
	if err != nil {
		return 0, domain.ErrPriceUnavailable
	}

	calldata, err := a.reader.Pack("markPrice", market)
	if err != nil {
		return 0, domain.ErrPriceUnavailable
	}
	out, err := a.gw.Call(ctx, a.chainID, common.HexToAddress(a.cfg.ReaderAddress), calldata)
	if err != nil {
		return 0, domain.ErrPriceUnavailable
	}

	vals, err := a.reader.Unpack("markPrice", out)
	if err != nil || len(vals) != 1 {
		return 0, domain.ErrPriceUnavailable
	}

	price := fromPrice30(vals[0].(*big.Int))
	if price <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// OpenPosition submits a market-increase order through the module.
func (a *Adapter) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	if req.CollateralUSD < a.cfg.MinCollateral {
		return domain.OpenResult{}, &domain.VenueError{
			Venue:  domain.VenueGMX,
			Reason: fmt.Sprintf("collateral %.2f below venue minimum %.2f", req.CollateralUSD, a.cfg.MinCollateral),
		}
	}

	market, err := a.market(ctx, req.Token)
	if err != nil {
		return domain.OpenResult{}, err
	}
	mark, err := a.MarkPrice(ctx, req.Token)
	if err != nil {
		return domain.OpenResult{}, &domain.VenueError{Venue: domain.VenueGMX, Reason: "mark price unavailable", Err: err}
	}

	isLong := req.Side == domain.SideLong
	sizeUSD := req.CollateralUSD * req.Leverage
	acceptable := acceptablePrice(mark, isLong, req.SlippageBps)

	txHash, err := a.gw.SubmitPerpOrder(ctx, req.ChainID, common.HexToAddress(req.Module),
		market, isLong,
		gateway.ToUSDC(req.CollateralUSD),
		toPrice30(sizeUSD),
		toPrice30(acceptable),
		a.executionFeeWei())
	if err != nil {
		return domain.OpenResult{}, &domain.VenueError{Venue: domain.VenueGMX, Reason: "submitPerpOrder failed", Err: err}
	}

	a.logger.InfoContext(ctx, "perp position opened",
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("tx", txHash),
		slog.Float64("size_usd", sizeUSD))

	return domain.OpenResult{
		TxRef:      txHash,
		EntryPrice: mark,
		Qty:        sizeUSD / mark,
	}, nil
}

// ClosePosition submits a market-decrease order for the tracked quantity.
func (a *Adapter) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	market, err := a.market(ctx, req.Token)
	if err != nil {
		return domain.CloseResult{}, err
	}
	mark, err := a.MarkPrice(ctx, req.Token)
	if err != nil {
		return domain.CloseResult{}, &domain.VenueError{Venue: domain.VenueGMX, Reason: "mark price unavailable", Err: err}
	}

	isLong := req.Side == domain.SideLong
	// Closing inverts the acceptable-price direction.
	acceptable := acceptablePrice(mark, !isLong, req.SlippageBps)
	sizeUSD := req.Qty * mark

	txHash, err := a.gw.ClosePerpOrder(ctx, req.ChainID, common.HexToAddress(req.Module),
		market, isLong,
		toPrice30(sizeUSD),
		toPrice30(acceptable),
		a.executionFeeWei())
	if err != nil {
		return domain.CloseResult{}, &domain.VenueError{Venue: domain.VenueGMX, Reason: "closePerpOrder failed", Err: err}
	}

	a.logger.InfoContext(ctx, "perp position closed",
		slog.String("token", req.Token),
		slog.String("side", string(req.Side)),
		slog.String("tx", txHash))

	return domain.CloseResult{TxRef: txHash, ExitPrice: mark}, nil
}

// OpenPositions reads the reader's account positions and maps markets back
// to canonical token symbols through the registry.
func (a *Adapter) OpenPositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error) {
	calldata, err := a.reader.Pack("positions", common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("gmx: pack positions: %w", err)
	}
	out, err := a.gw.Call(ctx, a.chainID, common.HexToAddress(a.cfg.ReaderAddress), calldata)
	if err != nil {
		return nil, fmt.Errorf("gmx: read positions: %w", err)
	}

	vals, err := a.reader.Unpack("positions", out)
	if err != nil || len(vals) != 6 {
		return nil, fmt.Errorf("gmx: unpack positions: %w", err)
	}

	markets := vals[0].([]common.Address)
	isLong := vals[1].([]bool)
	sizeUsd := vals[2].([]*big.Int)
	entryPrice := vals[4].([]*big.Int)
	pnlUsd := vals[5].([]*big.Int)

	tokenByMarket, err := a.tokenByMarket(ctx)
	if err != nil {
		return nil, err
	}

	var positions []domain.VenuePosition
	for i := range markets {
		token, ok := tokenByMarket[markets[i]]
		if !ok {
			a.logger.WarnContext(ctx, "unregistered perp market",
				slog.String("market", markets[i].Hex()))
			continue
		}

		side := domain.SideShort
		if isLong[i] {
			side = domain.SideLong
		}
		entry := fromPrice30(entryPrice[i])
		size := fromPrice30(sizeUsd[i])
		if entry <= 0 || size <= 0 {
			continue
		}

		positions = append(positions, domain.VenuePosition{
			NativeTradeID: fmt.Sprintf("%s:%s:%s", markets[i].Hex(), side, wallet),
			Token:         token,
			Side:          side,
			EntryPrice:    entry,
			Qty:           size / entry,
			UnrealizedPnL: fromPrice30(pnlUsd[i]),
		})
	}
	return positions, nil
}

// FreeCollateral reads the safe's funding-asset balance.
func (a *Adapter) FreeCollateral(ctx context.Context, wallet string) (float64, error) {
	return a.gw.FundingBalance(ctx, a.chainID, a.fundingToken, common.HexToAddress(wallet))
}

func (a *Adapter) tokenByMarket(ctx context.Context) (map[common.Address]string, error) {
	tokens, err := a.registry.ListByChain(ctx, a.chainKey())
	if err != nil {
		return nil, fmt.Errorf("gmx: list registry tokens: %w", err)
	}
	out := make(map[common.Address]string, len(tokens))
	for _, ti := range tokens {
		if ti.MarketAddress != "" {
			out[common.HexToAddress(ti.MarketAddress)] = ti.TokenSymbol
		}
	}
	return out, nil
}

func (a *Adapter) executionFeeWei() *big.Int {
	fee := new(big.Float).Mul(big.NewFloat(a.cfg.ExecutionFeeETH), big.NewFloat(1e18))
	out, _ := fee.Int(nil)
	return out
}

// acceptablePrice pads the mark in the direction that lets a market order
// fill: up for increases of longs, down for increases of shorts.
func acceptablePrice(mark float64, up bool, slippageBps int) float64 {
	adj := mark * float64(slippageBps) / 10000
	if up {
		return mark + adj
	}
	return mark - adj
}

var price30 = new(big.Float).SetFloat64(1e30)

func toPrice30(v float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), price30)
	out, _ := scaled.Int(nil)
	return out
}

func fromPrice30(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), price30).Float64()
	return f
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
