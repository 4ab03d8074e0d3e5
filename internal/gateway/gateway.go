// Package gateway submits on-chain calls to per-deployment execution modules.
// The executor key never holds user funds; every trade routes through the
// deployment's module contract, which enforces that funds stay in the user's
// safe.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/venuebot/internal/crypto"
)

// moduleABI is the execution-module contract interface. executeTrade covers
// spot swaps; submitPerpOrder/closePerpOrder cover the on-chain perp venue.
const moduleABI = `[
  {"type":"function","name":"executeTrade","stateMutability":"nonpayable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"},{"name":"swapData","type":"bytes"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
  {"type":"function","name":"submitPerpOrder","stateMutability":"payable","inputs":[{"name":"market","type":"address"},{"name":"isLong","type":"bool"},{"name":"collateral","type":"uint256"},{"name":"sizeDeltaUsd","type":"uint256"},{"name":"acceptablePrice","type":"uint256"}],"outputs":[{"name":"orderKey","type":"bytes32"}]},
  {"type":"function","name":"closePerpOrder","stateMutability":"payable","inputs":[{"name":"market","type":"address"},{"name":"isLong","type":"bool"},{"name":"sizeDeltaUsd","type":"uint256"},{"name":"acceptablePrice","type":"uint256"}],"outputs":[{"name":"orderKey","type":"bytes32"}]},
  {"type":"function","name":"initializeCapitalTracking","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"approveTokenForDex","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"spender","type":"address"}],"outputs":[]},
  {"type":"function","name":"chargeTradeFee","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"distributeProfitShare","stateMutability":"nonpayable","inputs":[{"name":"receiver","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getSafeStats","stateMutability":"view","inputs":[],"outputs":[{"name":"totalDeposited","type":"uint256"},{"name":"totalWithdrawn","type":"uint256"},{"name":"currentBalance","type":"uint256"}]},
  {"type":"event","name":"TradeExecuted","inputs":[{"name":"tokenIn","type":"address","indexed":true},{"name":"tokenOut","type":"address","indexed":true},{"name":"amountIn","type":"uint256","indexed":false},{"name":"amountOut","type":"uint256","indexed":false}]}
]`

// erc20ABI is the minimal ERC-20 surface the gateway reads.
const erc20ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// usdcDecimals is the funding-asset precision on every supported chain.
const usdcDecimals = 6

// SafeStats mirrors the module's capital-tracking counters, in funding-asset
// units.
type SafeStats struct {
	TotalDepositedUSD float64
	TotalWithdrawnUSD float64
	CurrentBalanceUSD float64
}

// Gateway signs and submits module calls. One Gateway serves all chains; each
// call names the chain and module address of the deployment it acts for.
type Gateway struct {
	clients        map[int64]*ethclient.Client
	transactors    map[int64]*bind.TransactOpts
	signer         *crypto.Signer
	nonces         *NonceManager
	module         abi.ABI
	erc20          abi.ABI
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Gateway over the given RPC endpoints, keyed by chain ID.
func New(ctx context.Context, rpcs map[int64]string, signer *crypto.Signer, confirmTimeout time.Duration, logger *slog.Logger) (*Gateway, error) {
	module, err := abi.JSON(strings.NewReader(moduleABI))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse module abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse erc20 abi: %w", err)
	}

	g := &Gateway{
		clients:        make(map[int64]*ethclient.Client, len(rpcs)),
		transactors:    make(map[int64]*bind.TransactOpts, len(rpcs)),
		signer:         signer,
		nonces:         NewNonceManager(),
		module:         module,
		erc20:          erc20,
		confirmTimeout: confirmTimeout,
		logger:         logger.With(slog.String("component", "gateway")),
	}

	for chainID, url := range rpcs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("gateway: dial chain %d: %w", chainID, err)
		}
		opts, err := signer.Transactor(chainID)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.clients[chainID] = client
		g.transactors[chainID] = opts
	}

	return g, nil
}

// Close releases all RPC connections.
func (g *Gateway) Close() {
	for _, c := range g.clients {
		c.Close()
	}
}

// ExecutorAddress returns the signing address used for all module calls.
func (g *Gateway) ExecutorAddress() common.Address {
	return g.signer.Address()
}

func (g *Gateway) client(chainID int64) (*ethclient.Client, error) {
	c, ok := g.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("gateway: no RPC configured for chain %d", chainID)
	}
	return c, nil
}

// ExecuteTrade calls executeTrade on the module and waits for confirmation.
// It returns the confirmed tx hash and the amountOut reported by the
// TradeExecuted event.
func (g *Gateway) ExecuteTrade(ctx context.Context, chainID int64, module common.Address, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, swapData []byte) (string, *big.Int, error) {
	calldata, err := g.module.Pack("executeTrade", tokenIn, tokenOut, amountIn, minAmountOut, swapData)
	if err != nil {
		return "", nil, fmt.Errorf("gateway: pack executeTrade: %w", err)
	}

	receipt, err := g.transact(ctx, chainID, module, calldata, nil)
	if err != nil {
		return "", nil, err
	}

	amountOut, err := g.parseTradeExecuted(receipt)
	if err != nil {
		return "", nil, err
	}
	return receipt.TxHash.Hex(), amountOut, nil
}

// SubmitPerpOrder opens an on-chain perp position through the module. The
// executionFee rides along as msg.value to pay the venue's keeper.
func (g *Gateway) SubmitPerpOrder(ctx context.Context, chainID int64, module common.Address, market common.Address, isLong bool, collateral, sizeDeltaUsd, acceptablePrice, executionFee *big.Int) (string, error) {
	calldata, err := g.module.Pack("submitPerpOrder", market, isLong, collateral, sizeDeltaUsd, acceptablePrice)
	if err != nil {
		return "", fmt.Errorf("gateway: pack submitPerpOrder: %w", err)
	}

	receipt, err := g.transact(ctx, chainID, module, calldata, executionFee)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// ClosePerpOrder closes an on-chain perp position through the module.
func (g *Gateway) ClosePerpOrder(ctx context.Context, chainID int64, module common.Address, market common.Address, isLong bool, sizeDeltaUsd, acceptablePrice, executionFee *big.Int) (string, error) {
	calldata, err := g.module.Pack("closePerpOrder", market, isLong, sizeDeltaUsd, acceptablePrice)
	if err != nil {
		return "", fmt.Errorf("gateway: pack closePerpOrder: %w", err)
	}

	receipt, err := g.transact(ctx, chainID, module, calldata, executionFee)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// InitializeCapitalTracking snapshots the safe balance inside the module.
// Callers treat failures as non-fatal; a module deployed before capital
// tracking existed simply reverts here.
func (g *Gateway) InitializeCapitalTracking(ctx context.Context, chainID int64, module common.Address) error {
	calldata, err := g.module.Pack("initializeCapitalTracking")
	if err != nil {
		return fmt.Errorf("gateway: pack initializeCapitalTracking: %w", err)
	}
	_, err = g.transact(ctx, chainID, module, calldata, nil)
	return err
}

// ApproveTokenForRouter grants the venue router an allowance from the safe.
// Callers treat failures as non-fatal; an existing allowance makes the call
// redundant.
func (g *Gateway) ApproveTokenForRouter(ctx context.Context, chainID int64, module common.Address, token, spender common.Address) error {
	calldata, err := g.module.Pack("approveTokenForDex", token, spender)
	if err != nil {
		return fmt.Errorf("gateway: pack approveTokenForDex: %w", err)
	}
	_, err = g.transact(ctx, chainID, module, calldata, nil)
	return err
}

// ChargeTradeFee collects the flat platform fee from the safe, in funding
// asset units. Fee failures never block the trade itself.
func (g *Gateway) ChargeTradeFee(ctx context.Context, chainID int64, module common.Address, amountUSD float64) error {
	calldata, err := g.module.Pack("chargeTradeFee", ToUSDC(amountUSD))
	if err != nil {
		return fmt.Errorf("gateway: pack chargeTradeFee: %w", err)
	}
	_, err = g.transact(ctx, chainID, module, calldata, nil)
	return err
}

// DistributeProfitShare transfers the profit-share cut to the receiver.
func (g *Gateway) DistributeProfitShare(ctx context.Context, chainID int64, module common.Address, receiver common.Address, amountUSD float64) error {
	calldata, err := g.module.Pack("distributeProfitShare", receiver, ToUSDC(amountUSD))
	if err != nil {
		return fmt.Errorf("gateway: pack distributeProfitShare: %w", err)
	}
	_, err = g.transact(ctx, chainID, module, calldata, nil)
	return err
}

// GetSafeStats reads the module's capital-tracking counters.
func (g *Gateway) GetSafeStats(ctx context.Context, chainID int64, module common.Address) (SafeStats, error) {
	client, err := g.client(chainID)
	if err != nil {
		return SafeStats{}, err
	}

	calldata, err := g.module.Pack("getSafeStats")
	if err != nil {
		return SafeStats{}, fmt.Errorf("gateway: pack getSafeStats: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &module, Data: calldata}, nil)
	if err != nil {
		return SafeStats{}, fmt.Errorf("gateway: call getSafeStats: %w", err)
	}

	vals, err := g.module.Unpack("getSafeStats", out)
	if err != nil || len(vals) != 3 {
		return SafeStats{}, fmt.Errorf("gateway: unpack getSafeStats: %w", err)
	}

	return SafeStats{
		TotalDepositedUSD: FromUSDC(vals[0].(*big.Int)),
		TotalWithdrawnUSD: FromUSDC(vals[1].(*big.Int)),
		CurrentBalanceUSD: FromUSDC(vals[2].(*big.Int)),
	}, nil
}

// TokenBalance reads an ERC-20 balance for the given owner.
func (g *Gateway) TokenBalance(ctx context.Context, chainID int64, token, owner common.Address) (*big.Int, error) {
	client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}

	calldata, err := g.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("gateway: pack balanceOf: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: call balanceOf: %w", err)
	}

	vals, err := g.erc20.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("gateway: unpack balanceOf: %w", err)
	}
	return vals[0].(*big.Int), nil
}

// FundingBalance reads the safe's free funding-asset balance in USD units.
func (g *Gateway) FundingBalance(ctx context.Context, chainID int64, fundingToken, safe common.Address) (float64, error) {
	raw, err := g.TokenBalance(ctx, chainID, fundingToken, safe)
	if err != nil {
		return 0, err
	}
	return FromUSDC(raw), nil
}

// Call performs a read-only contract call with arbitrary calldata. Venue
// adapters use it against their pricing contracts (quoter, reader).
func (g *Gateway) Call(ctx context.Context, chainID int64, to common.Address, calldata []byte) ([]byte, error) {
	client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// transact builds, signs, submits and waits for a module transaction. The
// nonce critical section covers acquisition only; waiting for the mine
// happens in parallel across trades.
func (g *Gateway) transact(ctx context.Context, chainID int64, to common.Address, calldata []byte, value *big.Int) (*types.Receipt, error) {
	client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}
	opts := g.transactors[chainID]
	from := g.signer.Address()

	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: estimate gas for %s: %w", to.Hex(), err)
	}

	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: suggest tip cap: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: latest header: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for base-fee drift while the
	// tx is pending.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	nonce, err := g.nonces.Acquire(ctx, client, chainID, from)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      calldata,
	})

	signed, err := opts.Signer(from, tx)
	if err != nil {
		return nil, fmt.Errorf("gateway: sign tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		if strings.Contains(err.Error(), "nonce") {
			g.nonces.Reset(chainID, from)
		}
		return nil, fmt.Errorf("gateway: send tx: %w", err)
	}

	g.logger.InfoContext(ctx, "transaction submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.Int64("chain_id", chainID),
		slog.String("to", to.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, client, signed)
	if err != nil {
		return nil, fmt.Errorf("gateway: wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("gateway: transaction reverted: %s", signed.Hash().Hex())
	}
	return receipt, nil
}

// parseTradeExecuted extracts amountOut from the TradeExecuted event in the
// receipt logs.
func (g *Gateway) parseTradeExecuted(receipt *types.Receipt) (*big.Int, error) {
	ev := g.module.Events["TradeExecuted"]
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("gateway: unpack TradeExecuted: %w", err)
		}
		if len(vals) != 2 {
			return nil, fmt.Errorf("gateway: unexpected TradeExecuted arity %d", len(vals))
		}
		return vals[1].(*big.Int), nil
	}
	return nil, fmt.Errorf("gateway: no TradeExecuted event in %s", receipt.TxHash.Hex())
}

// ToUSDC converts a USD amount to raw funding-asset units.
func ToUSDC(amount float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e6))
	out, _ := scaled.Int(nil)
	return out
}

// FromUSDC converts raw funding-asset units back to a USD amount.
func FromUSDC(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return f
}
