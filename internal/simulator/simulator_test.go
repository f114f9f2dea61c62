package simulator

import (
	"math/big"
	"net"
	"testing"
	"time"

	"mevpipe/pkg/abis"
	"mevpipe/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	wavax = "0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7"
	usdc  = "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e"
	dai   = "0xd586e7f844cea2f87f50152665bcbc2c279d8d70"
)

var testVenues = map[string]models.Venue{
	"traderjoe": {
		Name:    "traderjoe",
		Factory: "0x9Ad6C38BE94206cA50bb0d90783181662f0Cfa10",
		Router:  "0x60aE616a2155Ee3d9A68541Ba4544862310933d4",
		Family:  models.FamilyConstantProductV2,
	},
	"pangolin": {
		Name:    "pangolin",
		Factory: "0xefa94DE7a4656D787667C749f7E1223D71E9FD88",
		Router:  "0xE54Ca86531e17Ef3616d22Ca28b0D458b6C89106",
		Family:  models.FamilyConstantProductV2,
	},
}

func testSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(Config{
		WrappedNative:   wavax,
		Venues:          testVenues,
		Decimals:        map[string]uint8{wavax: 18, usdc: 6, dai: 18},
		DefaultGasLimit: 300000,
		FastSimulation:  true,
		BalanceWei:      new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)),
	}, nil, NewSandbox(SandboxConfig{Host: "127.0.0.1", BasePort: 18545}), nil)
	require.NoError(t, err)
	return sim
}

func nativeOpp() *models.Opportunity {
	return &models.Opportunity{
		TokenA:        wavax,
		TokenB:        usdc,
		BuyVenue:      "traderjoe",
		SellVenue:     "pangolin",
		BuyPrice:      42.0,
		SellPrice:     42.3,
		PriceGap:      0.3,
		ProfitPercent: 0.714,
		EstimatedGas:  300000,
		MinTrade:      decimal.RequireFromString("1.05"),
		MaxTrade:      decimal.NewFromInt(10),
		DetectedAt:    time.Now(),
	}
}

func TestBuildBundleNativeCycle(t *testing.T) {
	sim := testSimulator(t)

	bundle, err := sim.BuildBundle(nativeOpp(), decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Len(t, bundle.Txs, 3)

	buySelector := abis.V2Router.Methods["swapExactAVAXForTokens"].ID
	approveSelector := abis.ERC20.Methods["approve"].ID
	sellSelector := abis.V2Router.Methods["swapExactTokensForAVAX"].ID

	// Leg 1: native -> USDC on TraderJoe, funded by the tx value.
	buy := bundle.Txs[0]
	require.Equal(t, models.NormalizeAddress(testVenues["traderjoe"].Router), models.NormalizeAddress(buy.To))
	require.Equal(t, new(big.Int).SetUint64(1e18), buy.Value)
	require.Equal(t, buySelector, buy.Data[:4])

	// Leg 2: approve the sell router on the USDC contract.
	approve := bundle.Txs[1]
	require.Equal(t, usdc, models.NormalizeAddress(approve.To))
	require.Equal(t, approveSelector, approve.Data[:4])
	require.Equal(t, big.NewInt(0), approve.Value)

	// Leg 3: USDC -> native on Pangolin, sized by the offline estimate
	// trade * buyPrice = 42 USDC.
	sell := bundle.Txs[2]
	require.Equal(t, models.NormalizeAddress(testVenues["pangolin"].Router), models.NormalizeAddress(sell.To))
	require.Equal(t, sellSelector, sell.Data[:4])

	args, err := abis.V2Router.Methods["swapExactTokensForAVAX"].Inputs.Unpack(sell.Data[4:])
	require.NoError(t, err)
	estTokenB := args[0].(*big.Int)
	require.Equal(t, big.NewInt(42000000), estTokenB)

	require.True(t, bundle.ExpectedProfit.Sign() > 0)
}

func TestBuildBundleApprovesMax(t *testing.T) {
	sim := testSimulator(t)

	bundle, err := sim.BuildBundle(nativeOpp(), decimal.NewFromInt(1))
	require.NoError(t, err)

	args, err := abis.ERC20.Methods["approve"].Inputs.Unpack(bundle.Txs[1].Data[4:])
	require.NoError(t, err)
	require.Equal(t, maxUint256, args[1].(*big.Int))
}

func TestBuildBundleNonNativeTokenAPrependsFunding(t *testing.T) {
	sim := testSimulator(t)

	opp := nativeOpp()
	opp.TokenA = dai
	opp.TokenB = usdc
	opp.BuyPrice = 1.0
	opp.SellPrice = 1.01

	bundle, err := sim.BuildBundle(opp, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.Len(t, bundle.Txs, 4)

	// Funding leg first: native -> DAI.
	fund := bundle.Txs[0]
	require.Equal(t, abis.V2Router.Methods["swapExactAVAXForTokens"].ID, fund.Data[:4])

	// Then the token-to-token buy leg.
	buy := bundle.Txs[1]
	require.Equal(t, abis.V2Router.Methods["swapExactTokensForTokens"].ID, buy.Data[:4])
	require.Equal(t, big.NewInt(0), buy.Value)
}

func TestBuildBundleUnsupportedCycle(t *testing.T) {
	sim := testSimulator(t)

	opp := nativeOpp()
	opp.TokenA = usdc
	opp.TokenB = wavax

	_, err := sim.BuildBundle(opp, decimal.NewFromInt(100))
	require.ErrorIs(t, err, ErrUnsupportedCycle)
}

func TestBuildBundleUnknownVenue(t *testing.T) {
	sim := testSimulator(t)

	opp := nativeOpp()
	opp.BuyVenue = "sushiswap"

	_, err := sim.BuildBundle(opp, decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestBuildBundleZeroAmount(t *testing.T) {
	sim := testSimulator(t)

	_, err := sim.BuildBundle(nativeOpp(), decimal.Zero)
	require.Error(t, err)
}

func TestProbePortIncrementsOnCollision(t *testing.T) {
	// Occupy the base port so the probe has to move past it.
	l, err := net.Listen("tcp", "127.0.0.1:19545")
	require.NoError(t, err)
	defer l.Close()

	port, err := probePort("127.0.0.1", 19545)
	require.NoError(t, err)
	require.Equal(t, 19546, port)
}

func TestProbePortFree(t *testing.T) {
	port, err := probePort("127.0.0.1", 29545)
	require.NoError(t, err)
	require.Equal(t, 29545, port)
}
