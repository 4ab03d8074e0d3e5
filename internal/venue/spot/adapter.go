// Package spot implements the on-chain spot DEX venue. Opens swap the
// funding asset into the target token through the deployment's execution
// module; closes swap the tracked quantity back.
package spot

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/venuebot/internal/config"
	"github.com/alanyoungcy/venuebot/internal/domain"
	"github.com/alanyoungcy/venuebot/internal/gateway"
)

// quoterABI is the Uniswap V3 quoter surface used for pricing.
const quoterABI = `[
  {"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"amountIn","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// routerABI is the Uniswap V3 router surface the swap calldata targets. The
// module forwards this calldata to the router after its own checks.
const routerABI = `[
  {"type":"function","name":"exactInputSingle","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// dustNotionalUSD is the minimum holding treated as a discoverable position.
const dustNotionalUSD = 1.0

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// Adapter implements domain.VenueAdapter for the spot DEX on one chain.
type Adapter struct {
	gw           *gateway.Gateway
	registry     domain.TokenRegistryStore
	cfg          config.SpotConfig
	chainID      int64
	fundingToken common.Address
	quoter       abi.ABI
	router       abi.ABI
	logger       *slog.Logger
}

// New creates a spot Adapter bound to one chain.
func New(gw *gateway.Gateway, registry domain.TokenRegistryStore, cfg config.SpotConfig, chainID int64, fundingToken string, logger *slog.Logger) (*Adapter, error) {
	quoter, err := abi.JSON(strings.NewReader(quoterABI))
	if err != nil {
		return nil, fmt.Errorf("spot: parse quoter abi: %w", err)
	}
	router, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("spot: parse router abi: %w", err)
	}

	return &Adapter{
		gw:           gw,
		registry:     registry,
		cfg:          cfg,
		chainID:      chainID,
		fundingToken: common.HexToAddress(fundingToken),
		quoter:       quoter,
		router:       router,
		logger:       logger.With(slog.String("component", "venue.spot")),
	}, nil
}

// Venue reports the venue this adapter serves.
func (a *Adapter) Venue() domain.Venue { return domain.VenueSpot }

func (a *Adapter) chainKey() string {
	return strconv.FormatInt(a.chainID, 10)
}

func (a *Adapter) tokenInfo(ctx context.Context, token string) (domain.TokenInfo, error) {
	ti, err := a.registry.Get(ctx, a.chainKey(), token)
	if err != nil {
		return domain.TokenInfo{}, &domain.VenueError{
			Venue:  domain.VenueSpot,
			Reason: fmt.Sprintf("token %s is not registered on chain %d", token, a.chainID),
			Err:    err,
		}
	}
	return ti, nil
}

// quote asks the quoter how much tokenOut one gets for amountIn of tokenIn.
func (a *Adapter) quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	calldata, err := a.quoter.Pack("quoteExactInputSingle",
		tokenIn, tokenOut, big.NewInt(int64(a.cfg.PoolFeeBps)), amountIn, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("spot: pack quote: %w", err)
	}

	out, err := a.gw.Call(ctx, a.chainID, common.HexToAddress(a.cfg.QuoterAddress), calldata)
	if err != nil {
		return nil, fmt.Errorf("spot: quote: %w", err)
	}

	vals, err := a.quoter.Unpack("quoteExactInputSingle", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("spot: unpack quote: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// MarkPrice quotes one whole token into the funding asset.
func (a *Adapter) MarkPrice(ctx context.Context, token string) (float64, error) {
	ti, err := a.tokenInfo(ctx, token)
	if err != nil {
		return 0, domain.ErrPriceUnavailable
	}

	one := tokenUnits(1, ti.Decimals)
	out, err := a.quote(ctx, common.HexToAddress(ti.Address), a.fundingToken, one)
	if err != nil {
		return 0, domain.ErrPriceUnavailable
	}
	return gateway.FromUSDC(out), nil
}

// OpenPosition swaps funding asset into the target token. Spot holds the
// asset itself, so only LONG is expressible.
func (a *Adapter) OpenPosition(ctx context.Context, req domain.OpenRequest) (domain.OpenResult, error) {
	if req.Side != domain.SideLong {
		return domain.OpenResult{}, &domain.VenueError{
			Venue:  domain.VenueSpot,
			Reason: "spot venue cannot open SHORT positions",
		}
	}

	ti, err := a.tokenInfo(ctx, req.Token)
	if err != nil {
		return domain.OpenResult{}, err
	}
	tokenAddr := common.HexToAddress(ti.Address)
	amountIn := gateway.ToUSDC(req.CollateralUSD)

	quoted, err := a.quote(ctx, a.fundingToken, tokenAddr, amountIn)
	if err != nil {
		return domain.OpenResult{}, &domain.VenueError{Venue: domain.VenueSpot, Reason: "quote failed", Err: err}
	}
	minOut := applySlippage(quoted, req.SlippageBps)

	swapData, err := a.swapCalldata(a.fundingToken, tokenAddr, common.HexToAddress(req.Wallet), amountIn, minOut)
	if err != nil {
		return domain.OpenResult{}, err
	}

	txHash, amountOut, err := a.gw.ExecuteTrade(ctx, req.ChainID, common.HexToAddress(req.Module),
		a.fundingToken, tokenAddr, amountIn, minOut, swapData)
	if err != nil {
		return domain.OpenResult{}, &domain.VenueError{Venue: domain.VenueSpot, Reason: "executeTrade failed", Err: err}
	}

	qty := fromTokenUnits(amountOut, ti.Decimals)
	if qty <= 0 {
		return domain.OpenResult{}, &domain.VenueError{Venue: domain.VenueSpot, Reason: "swap returned zero output"}
	}

	a.logger.InfoContext(ctx, "spot position opened",
		slog.String("token", req.Token),
		slog.String("tx", txHash),
		slog.Float64("qty", qty))

	return domain.OpenResult{
		TxRef:      txHash,
		EntryPrice: req.CollateralUSD / qty,
		Qty:        qty,
	}, nil
}

// ClosePosition swaps the tracked quantity back into the funding asset. The
// tracked quantity bounds the swap; tokens held outside the position are
// never touched.
func (a *Adapter) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseResult, error) {
	ti, err := a.tokenInfo(ctx, req.Token)
	if err != nil {
		return domain.CloseResult{}, err
	}
	tokenAddr := common.HexToAddress(ti.Address)
	amountIn := toTokenUnits(req.Qty, ti.Decimals)

	quoted, err := a.quote(ctx, tokenAddr, a.fundingToken, amountIn)
	if err != nil {
		return domain.CloseResult{}, &domain.VenueError{Venue: domain.VenueSpot, Reason: "quote failed", Err: err}
	}
	minOut := applySlippage(quoted, req.SlippageBps)

	swapData, err := a.swapCalldata(tokenAddr, a.fundingToken, common.HexToAddress(req.Wallet), amountIn, minOut)
	if err != nil {
		return domain.CloseResult{}, err
	}

	txHash, amountOut, err := a.gw.ExecuteTrade(ctx, req.ChainID, common.HexToAddress(req.Module),
		tokenAddr, a.fundingToken, amountIn, minOut, swapData)
	if err != nil {
		return domain.CloseResult{}, &domain.VenueError{Venue: domain.VenueSpot, Reason: "executeTrade failed", Err: err}
	}

	proceeds := gateway.FromUSDC(amountOut)
	exitPrice := 0.0
	if req.Qty > 0 {
		exitPrice = proceeds / req.Qty
	}

	a.logger.InfoContext(ctx, "spot position closed",
		slog.String("token", req.Token),
		slog.String("tx", txHash),
		slog.Float64("proceeds_usd", proceeds))

	return domain.CloseResult{TxRef: txHash, ExitPrice: exitPrice}, nil
}

// OpenPositions reports the wallet's registry-token holdings as positions.
// Spot has no native position concept, so the balance itself is the truth;
// entry price is unknowable here and reported as the current mark.
func (a *Adapter) OpenPositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error) {
	tokens, err := a.registry.ListByChain(ctx, a.chainKey())
	if err != nil {
		return nil, fmt.Errorf("spot: list registry tokens: %w", err)
	}

	owner := common.HexToAddress(wallet)
	var out []domain.VenuePosition
	for _, ti := range tokens {
		if common.HexToAddress(ti.Address) == a.fundingToken {
			continue
		}
		raw, err := a.gw.TokenBalance(ctx, a.chainID, common.HexToAddress(ti.Address), owner)
		if err != nil {
			a.logger.WarnContext(ctx, "balance read failed",
				slog.String("token", ti.TokenSymbol), slog.String("error", err.Error()))
			continue
		}
		qty := fromTokenUnits(raw, ti.Decimals)
		if qty <= 0 {
			continue
		}

		price, err := a.MarkPrice(ctx, ti.TokenSymbol)
		if err != nil {
			continue
		}
		if qty*price < dustNotionalUSD {
			continue
		}

		out = append(out, domain.VenuePosition{
			Token:      ti.TokenSymbol,
			Side:       domain.SideLong,
			EntryPrice: price,
			Qty:        qty,
		})
	}
	return out, nil
}

// FreeCollateral reads the safe's funding-asset balance.
func (a *Adapter) FreeCollateral(ctx context.Context, wallet string) (float64, error) {
	return a.gw.FundingBalance(ctx, a.chainID, a.fundingToken, common.HexToAddress(wallet))
}

func (a *Adapter) swapCalldata(tokenIn, tokenOut, recipient common.Address, amountIn, minOut *big.Int) ([]byte, error) {
	deadline := time.Now().Add(time.Duration(a.cfg.DeadlineSec) * time.Second).Unix()
	data, err := a.router.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(int64(a.cfg.PoolFeeBps)),
		Recipient:         recipient,
		Deadline:          big.NewInt(deadline),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, fmt.Errorf("spot: pack swap calldata: %w", err)
	}
	return data, nil
}

// applySlippage reduces amount by bps.
func applySlippage(amount *big.Int, bps int) *big.Int {
	factor := big.NewInt(int64(10000 - bps))
	out := new(big.Int).Mul(amount, factor)
	return out.Div(out, big.NewInt(10000))
}

func toTokenUnits(qty float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(pow10(decimals))
	scaled := new(big.Float).Mul(big.NewFloat(qty), scale)
	out, _ := scaled.Int(nil)
	return out
}

func tokenUnits(whole int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pow10(decimals))
}

func fromTokenUnits(raw *big.Int, decimals int) float64 {
	scale := new(big.Float).SetInt(pow10(decimals))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return f
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Compile-time interface check.
var _ domain.VenueAdapter = (*Adapter)(nil)
