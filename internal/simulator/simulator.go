package simulator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"mevpipe/internal/metrics"
	"mevpipe/pkg/abis"
	"mevpipe/pkg/chain"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	swapDeadline      = 300 * time.Second
	receiptPollEvery  = 10 * time.Millisecond
	receiptWait       = 5 * time.Second
	preciseSettleWait = 100 * time.Millisecond

	// Default gas price for replay when the sandbox's fee data is zero.
	defaultReplayGasPriceWei = 25e9
)

// ErrUnsupportedCycle is returned when tokenB is the wrapped native token and
// tokenA is not; that orientation is not built.
var ErrUnsupportedCycle = errors.New("simulator: token-to-token cycle not supported")

// The sandbox's deterministic first account.
const testAccountKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// maxUint256 approves the sell router for the maximum possible amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Config holds the simulator's venue and token tables plus replay settings.
type Config struct {
	WrappedNative   string
	Venues          map[string]models.Venue
	Decimals        map[string]uint8
	DefaultGasLimit uint64
	FastSimulation  bool
	BalanceWei      *big.Int
}

// Simulator replays opportunity bundles against the sandbox, one bundle at a
// time, transactions strictly sequential and nonce-consecutive.
type Simulator struct {
	cfg     Config
	chain   *chain.Client
	sandbox *Sandbox
	metrics *metrics.Metrics

	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	account common.Address
}

// NewSimulator creates a simulator around an unstarted sandbox.
func NewSimulator(cfg Config, chainClient *chain.Client, sandbox *Sandbox, m *metrics.Metrics) (*Simulator, error) {
	key, err := crypto.HexToECDSA(testAccountKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parsing test account key: %w", err)
	}
	return &Simulator{
		cfg:     cfg,
		chain:   chainClient,
		sandbox: sandbox,
		metrics: m,
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Account returns the replay wallet address.
func (s *Simulator) Account() common.Address {
	return s.account
}

// Start launches the sandbox pinned near the real chain's head and connects
// to it. Startup failures are fatal to this stage.
func (s *Simulator) Start(ctx context.Context) error {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching head block: %w", err)
	}

	if err := s.sandbox.Start(ctx, head); err != nil {
		return err
	}

	eth, err := ethclient.DialContext(ctx, s.sandbox.Endpoint())
	if err != nil {
		s.sandbox.Stop()
		return fmt.Errorf("dialing sandbox: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		s.sandbox.Stop()
		return fmt.Errorf("reading sandbox chain id: %w", err)
	}

	s.eth = eth
	s.chainID = chainID

	log.Info().
		Str("endpoint", s.sandbox.Endpoint()).
		Str("chain_id", chainID.String()).
		Str("account", s.account.Hex()).
		Msg("Simulator ready")
	return nil
}

// Stop tears down the sandbox.
func (s *Simulator) Stop() {
	if s.eth != nil {
		s.eth.Close()
	}
	s.sandbox.Stop()
}

// Reset repins the sandbox to a fresh fork and re-funds the replay wallet.
func (s *Simulator) Reset(ctx context.Context) error {
	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching head block: %w", err)
	}
	return s.sandbox.Reset(ctx, head, s.account, s.cfg.BalanceWei)
}

// BuildBundle constructs the cross-venue cycle for an opportunity at the
// given trade amount (human units of tokenA).
//
// When tokenA is the wrapped native token the cycle is native -> tokenB on
// the buy venue, approve, tokenB -> native on the sell venue. Otherwise a
// native -> tokenA leg is prepended and the cycle still settles back to
// native. When tokenB is the wrapped native token and tokenA is not, no
// bundle is built and ErrUnsupportedCycle is returned.
func (s *Simulator) BuildBundle(opp *models.Opportunity, amount decimal.Decimal) (*models.Bundle, error) {
	buyVenue, ok := s.cfg.Venues[opp.BuyVenue]
	if !ok {
		return nil, fmt.Errorf("unknown buy venue %q", opp.BuyVenue)
	}
	sellVenue, ok := s.cfg.Venues[opp.SellVenue]
	if !ok {
		return nil, fmt.Errorf("unknown sell venue %q", opp.SellVenue)
	}

	native := common.HexToAddress(s.cfg.WrappedNative)
	tokenA := common.HexToAddress(opp.TokenA)
	tokenB := common.HexToAddress(opp.TokenB)
	aIsNative := models.SameAddress(opp.TokenA, s.cfg.WrappedNative)
	bIsNative := models.SameAddress(opp.TokenB, s.cfg.WrappedNative)

	if !aIsNative && bIsNative {
		return nil, ErrUnsupportedCycle
	}

	decA := s.decimals(opp.TokenA)
	decB := s.decimals(opp.TokenB)

	amountWei := amount.Shift(int32(decA)).BigInt()
	if amountWei.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount rounds to zero")
	}

	// Offline estimate of the buy leg's output. Approximate: a known source
	// of sell-leg failures when the pool moves between build and replay.
	estTokenB := amount.Mul(decimal.NewFromFloat(opp.BuyPrice)).Round(int32(decB)).Shift(int32(decB)).BigInt()
	if estTokenB.Sign() <= 0 {
		return nil, fmt.Errorf("estimated output rounds to zero")
	}

	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	sellRouter := common.HexToAddress(sellVenue.Router)

	var txs []models.TxRequest

	if !aIsNative {
		// Fund the tokenA leg from native first.
		fundData, err := abis.V2Router.Pack("swapExactAVAXForTokens",
			big.NewInt(0), []common.Address{native, tokenA}, s.account, deadline)
		if err != nil {
			return nil, fmt.Errorf("packing funding swap: %w", err)
		}
		txs = append(txs, models.TxRequest{
			To:    buyVenue.Router,
			Value: amountWei,
			Data:  fundData,
			Gas:   s.cfg.DefaultGasLimit,
		})
	}

	// Leg 1: buy tokenB on the buy venue.
	if aIsNative {
		buyData, err := abis.V2Router.Pack("swapExactAVAXForTokens",
			big.NewInt(0), []common.Address{tokenA, tokenB}, s.account, deadline)
		if err != nil {
			return nil, fmt.Errorf("packing buy swap: %w", err)
		}
		txs = append(txs, models.TxRequest{
			To:    buyVenue.Router,
			Value: amountWei,
			Data:  buyData,
			Gas:   s.cfg.DefaultGasLimit,
		})
	} else {
		buyData, err := abis.V2Router.Pack("swapExactTokensForTokens",
			amountWei, big.NewInt(0), []common.Address{tokenA, tokenB}, s.account, deadline)
		if err != nil {
			return nil, fmt.Errorf("packing buy swap: %w", err)
		}
		txs = append(txs, models.TxRequest{
			To:    buyVenue.Router,
			Value: big.NewInt(0),
			Data:  buyData,
			Gas:   s.cfg.DefaultGasLimit,
		})
	}

	// Leg 2: approve the sell router for the maximum possible amount.
	approveData, err := abis.ERC20.Pack("approve", sellRouter, maxUint256)
	if err != nil {
		return nil, fmt.Errorf("packing approve: %w", err)
	}
	txs = append(txs, models.TxRequest{
		To:    models.NormalizeAddress(tokenB.Hex()),
		Value: big.NewInt(0),
		Data:  approveData,
		Gas:   100000,
	})

	// Leg 3: sell tokenB back to native on the sell venue.
	sellData, err := abis.V2Router.Pack("swapExactTokensForAVAX",
		estTokenB, big.NewInt(0), []common.Address{tokenB, native}, s.account, deadline)
	if err != nil {
		return nil, fmt.Errorf("packing sell swap: %w", err)
	}
	txs = append(txs, models.TxRequest{
		To:    sellVenue.Router,
		Value: big.NewInt(0),
		Data:  sellData,
		Gas:   s.cfg.DefaultGasLimit,
	})

	// Expected profit in native wei, from the mid-price gap.
	margin := (opp.SellPrice - opp.BuyPrice) / opp.BuyPrice
	expectedProfit := amount.Mul(decimal.NewFromFloat(margin)).Shift(int32(decA)).BigInt()

	return &models.Bundle{
		Txs:            txs,
		ExpectedProfit: expectedProfit,
		Description: fmt.Sprintf("%s/%s buy %s sell %s amount %s",
			opp.TokenA, opp.TokenB, opp.BuyVenue, opp.SellVenue, amount.String()),
	}, nil
}

// SimulateBundle replays a bundle with consecutive nonces, waiting for each
// receipt before the next transaction. A missing receipt or status 0 aborts
// the bundle. The 150 ms budget is recorded, never enforced by abort.
func (s *Simulator) SimulateBundle(ctx context.Context, bundle *models.Bundle) *models.SimulationResult {
	start := time.Now()
	result := &models.SimulationResult{Profit: big.NewInt(0)}

	defer func() {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		if s.metrics != nil {
			s.metrics.RecordSimulation(result.GasUsed, time.Since(start), result.Success)
		}
	}()

	if s.eth == nil || !s.sandbox.Running() {
		result.Error = ErrSandboxNotReady.Error()
		return result
	}

	nonce, err := s.eth.PendingNonceAt(ctx, s.account)
	if err != nil {
		result.Error = fmt.Sprintf("fetching nonce: %v", err)
		return result
	}

	gasPrice := s.replayGasPrice(ctx)

	var initialBalance *big.Int
	if !s.cfg.FastSimulation {
		initialBalance, err = s.eth.BalanceAt(ctx, s.account, nil)
		if err != nil {
			result.Error = fmt.Sprintf("reading initial balance: %v", err)
			return result
		}
	}

	totalValue := big.NewInt(0)
	gasCost := big.NewInt(0)

	for i, txr := range bundle.Txs {
		tx := types.NewTransaction(
			nonce+uint64(i),
			common.HexToAddress(txr.To),
			txr.Value,
			txr.Gas,
			gasPrice,
			txr.Data,
		)
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
		if err != nil {
			result.Error = fmt.Sprintf("signing tx %d: %v", i, err)
			return result
		}
		if err := s.eth.SendTransaction(ctx, signed); err != nil {
			result.Error = fmt.Sprintf("broadcasting tx %d: %v", i, err)
			return result
		}

		receipt, err := s.waitReceipt(ctx, signed.Hash())
		if err != nil {
			result.Error = fmt.Sprintf("tx %d: %v", i, err)
			return result
		}

		result.GasUsed += receipt.GasUsed
		gasCost.Add(gasCost, new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), gasPrice))
		totalValue.Add(totalValue, txr.Value)

		if receipt.Status == types.ReceiptStatusFailed {
			result.Error = fmt.Sprintf("tx %d reverted", i)
			return result
		}
	}

	if s.cfg.FastSimulation {
		// profit = expected - gas - value spent; avoids a second balance read.
		profit := new(big.Int).Set(bundle.ExpectedProfit)
		profit.Sub(profit, gasCost)
		profit.Sub(profit, totalValue)
		result.Profit = profit
	} else {
		time.Sleep(preciseSettleWait)
		finalBalance, err := s.eth.BalanceAt(ctx, s.account, nil)
		if err != nil {
			result.Error = fmt.Sprintf("reading final balance: %v", err)
			return result
		}
		result.Profit = new(big.Int).Sub(finalBalance, initialBalance)
	}

	result.Success = true

	log.Info().
		Str("bundle", bundle.Description).
		Uint64("gas_used", result.GasUsed).
		Str("profit_wei", result.Profit.String()).
		Int64("execution_ms", result.ExecutionTimeMs).
		Msg("Bundle simulated")
	return result
}

// replayGasPrice takes the sandbox's fee data, defaulting to 25 gwei when the
// sandbox reports zero (it is launched with --gas-price 0).
func (s *Simulator) replayGasPrice(ctx context.Context) *big.Int {
	price, err := s.eth.SuggestGasPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		return big.NewInt(defaultReplayGasPriceWei)
	}
	return price
}

// waitReceipt polls for a receipt until it lands or the wait expires.
func (s *Simulator) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(receiptWait)
	for time.Now().Before(deadline) {
		receipt, err := s.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollEvery):
		}
	}
	return nil, fmt.Errorf("no receipt for %s", hash.Hex())
}

func (s *Simulator) decimals(token string) uint8 {
	if dec, ok := s.cfg.Decimals[models.NormalizeAddress(token)]; ok {
		return dec
	}
	return 18
}
