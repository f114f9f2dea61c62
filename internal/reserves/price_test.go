package reserves

import (
	"math/big"
	"testing"
	"time"

	"mevpipe/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	wavax = "0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7"
	usdc  = "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e"
)

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

func exp10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func TestMidPriceDecimalAdjustment(t *testing.T) {
	// 1e24 wei WAVAX (1M units) vs 42e12 USDC base units (42M units):
	// price should be 42 USDC per WAVAX.
	rec := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(42), exp10(12)))

	price, err := MidPrice(rec, wavax, usdc, 18, 6)
	require.NoError(t, err)
	require.InDelta(t, 42.0, price, 1e-9)
}

func TestMidPriceReversedDirection(t *testing.T) {
	rec := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(42), exp10(12)))

	price, err := MidPrice(rec, usdc, wavax, 6, 18)
	require.NoError(t, err)
	require.InDelta(t, 1.0/42.0, price, 1e-12)
}

func TestMidPriceSymmetryLaw(t *testing.T) {
	rec := record("traderjoe", exp10(24), new(big.Int).Mul(big.NewInt(42), exp10(12)))

	forward, err := MidPrice(rec, wavax, usdc, 18, 6)
	require.NoError(t, err)
	backward, err := MidPrice(rec, usdc, wavax, 6, 18)
	require.NoError(t, err)

	require.InEpsilon(t, 1.0, forward*backward, 1e-12)
}

func TestMidPriceReversedTokenOrder(t *testing.T) {
	// On-chain order has USDC as token0.
	rec := record("pangolin", new(big.Int).Mul(big.NewInt(42), exp10(12)), exp10(24))
	rec.Pair.Token0 = usdc
	rec.Pair.Token1 = wavax

	price, err := MidPrice(rec, wavax, usdc, 18, 6)
	require.NoError(t, err)
	require.InDelta(t, 42.0, price, 1e-9)
}

func TestMidPriceUnknownDirection(t *testing.T) {
	rec := record("traderjoe", exp10(24), exp10(12))

	_, err := MidPrice(rec, "0x3333333333333333333333333333333333333333", usdc, 18, 6)
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestMidPriceEmptyPool(t *testing.T) {
	rec := record("traderjoe", big.NewInt(0), big.NewInt(0))

	_, err := MidPrice(rec, wavax, usdc, 18, 6)
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestMaxTradeBinning(t *testing.T) {
	tests := []struct {
		name     string
		reserve  *big.Int
		isNative bool
		want     string
	}{
		// 1M units, deep pool: 2% = 20000, clamped to 10 for native.
		{"deep native clamped", exp10(24), true, "10"},
		// 1M units non-native: 2% = 20000, clamped to 1000.
		{"deep other clamped", exp10(24), false, "1000"},
		// 500 units: 5% = 25.
		{"mid pool", new(big.Int).Mul(big.NewInt(500), exp10(18)), false, "25"},
		// 50 units: 10% = 5.
		{"shallow pool", new(big.Int).Mul(big.NewInt(50), exp10(18)), false, "5"},
		// 0.001 units: 10% = 0.0001, clamped up to 0.001.
		{"dust pool", exp10(15), false, "0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record("traderjoe", tt.reserve, exp10(12))
			got := MaxTradeAmount(rec, wavax, 18, tt.isNative)
			require.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s want %s", got.String(), tt.want)
		})
	}
}

func TestMaxTradeEmptyPoolDisables(t *testing.T) {
	rec := record("traderjoe", big.NewInt(0), big.NewInt(0))
	require.True(t, MaxTradeAmount(rec, wavax, 18, true).IsZero())
}

func TestMaxTradeUnknownTokenDisables(t *testing.T) {
	rec := record("traderjoe", exp10(24), exp10(12))
	require.True(t, MaxTradeAmount(rec, "0x4444444444444444444444444444444444444444", 18, false).IsZero())
}
