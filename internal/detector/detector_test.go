package detector

import (
	"context"
	"math/big"
	"testing"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	wavax = "0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7"
	usdc  = "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e"
)

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func testDetector() *Detector {
	return NewDetector(Config{
		Pairs:         [][2]string{{wavax, usdc}},
		WrappedNative: wavax,
		Decimals:      map[string]uint8{wavax: 18, usdc: 6},
	}, nil, cache.NewClient(cache.Config{Addr: "127.0.0.1:1"}, "mev:"), nil, nil)
}

func record(venue string, reserve0, reserve1 *big.Int) *models.PoolReserves {
	return &models.PoolReserves{
		Pair: models.PairDescriptor{
			Venue:       venue,
			TokenA:      wavax,
			TokenB:      usdc,
			Token0:      wavax,
			Token1:      usdc,
			PairAddress: "0x2222222222222222222222222222222222222222",
		},
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		BlockNumber: 100,
		FetchedAt:   time.Now(),
	}
}

func snapshotOf(recs ...*models.PoolReserves) map[string]*models.PoolReserves {
	snap := make(map[string]*models.PoolReserves, len(recs))
	for _, r := range recs {
		snap[r.Pair.Key()] = r
	}
	return snap
}

func TestDetectCrossVenueGap(t *testing.T) {
	d := testDetector()

	// TraderJoe at 42 USDC/WAVAX, Pangolin at 42.3: buy cheap, sell dear.
	tj := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(42), exp10(12)))
	png := record("pangolin", exp10(24), new(big.Int).Mul(big.NewInt(423), exp10(11)))

	opps := d.evaluate(snapshotOf(tj, png), time.Now())
	require.Len(t, opps, 1)

	opp := opps[0]
	require.Equal(t, "traderjoe", opp.BuyVenue)
	require.Equal(t, "pangolin", opp.SellVenue)
	require.InDelta(t, 0.714, opp.ProfitPercent, 0.01)
	require.InDelta(t, 42.0, opp.BuyPrice, 1e-9)
	require.InDelta(t, 42.3, opp.SellPrice, 1e-9)
	require.True(t, opp.BuyPrice <= opp.SellPrice)
	require.True(t, opp.MinTrade.LessThan(opp.MaxTrade))
	// Native clamp: well under 2% of the 1M-unit reserve.
	require.True(t, opp.MaxTrade.LessThanOrEqual(decimal.NewFromInt(20000)))
	require.True(t, opp.Valid())
}

func TestEqualPricesYieldNothing(t *testing.T) {
	d := testDetector()

	reserve1 := new(big.Int).Mul(big.NewInt(42), exp10(12))
	tj := record("traderjoe", exp10(24), reserve1)
	png := record("pangolin", exp10(24), new(big.Int).Set(reserve1))

	opps := d.evaluate(snapshotOf(tj, png), time.Now())
	require.Empty(t, opps)
}

func TestSingleVenueYieldsNothing(t *testing.T) {
	d := testDetector()

	tj := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(42), exp10(12)))
	opps := d.evaluate(snapshotOf(tj), time.Now())
	require.Empty(t, opps)
}

func TestMinTradeAboveMaxTradeRejected(t *testing.T) {
	d := testDetector()

	// A 1-unit pool with a 0.2% gap: the gas floor pushes min-trade far
	// above the 10% shallow-pool max-trade.
	tj := record("traderjoe", exp10(18), big.NewInt(42000000))
	png := record("pangolin", exp10(18), big.NewInt(42084000))

	opps := d.evaluate(snapshotOf(tj, png), time.Now())
	require.Empty(t, opps)
}

func TestSubThresholdProfitRejected(t *testing.T) {
	d := testDetector()

	// 0.05% gap is below the 0.1% existence gate.
	tj := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(4200000), exp10(6)))
	png := record("pangolin", exp10(24), new(big.Int).Mul(big.NewInt(4202100), exp10(6)))

	opps := d.evaluate(snapshotOf(tj, png), time.Now())
	require.Empty(t, opps)
}

func TestEmptyPoolExcluded(t *testing.T) {
	d := testDetector()

	tj := record("traderjoe", big.NewInt(0), big.NewInt(0))
	png := record("pangolin", exp10(24), new(big.Int).Mul(big.NewInt(423), exp10(11)))

	opps := d.evaluate(snapshotOf(tj, png), time.Now())
	require.Empty(t, opps)
}

func TestHysteresisRewritePolicy(t *testing.T) {
	prev := &models.Opportunity{ProfitPercent: 0.71}

	// No prior entry: always write.
	require.True(t, shouldRewrite(nil, &models.Opportunity{ProfitPercent: 0.71}))

	// 0.02 pp delta: suppressed.
	require.False(t, shouldRewrite(prev, &models.Opportunity{ProfitPercent: 0.73}))

	// 0.14 pp delta: rewritten.
	require.True(t, shouldRewrite(prev, &models.Opportunity{ProfitPercent: 0.85}))

	// Just past the threshold: rewritten.
	require.True(t, shouldRewrite(prev, &models.Opportunity{ProfitPercent: 0.82}))
}

func TestGetCurrentOpportunitiesCacheDown(t *testing.T) {
	d := testDetector()

	opps := d.GetCurrentOpportunities(context.Background())
	require.Empty(t, opps)
}
