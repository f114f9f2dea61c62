package reserves

import (
	"math"
	"math/big"

	"mevpipe/pkg/models"

	"github.com/shopspring/decimal"
)

// MidPrice derives the mid-price of tokenB per tokenA from a reserves record,
// decimal-adjusted. Prices are floats because they are used only for
// comparison; bundle construction uses integer amounts.
func MidPrice(rec *models.PoolReserves, tokenA, tokenB string, decA, decB uint8) (float64, error) {
	if rec.Empty() {
		return 0, ErrNoPrice
	}

	var rIn, rOut *big.Int
	switch {
	case models.SameAddress(rec.Pair.Token0, tokenA) && models.SameAddress(rec.Pair.Token1, tokenB):
		rIn, rOut = rec.Reserve0, rec.Reserve1
	case models.SameAddress(rec.Pair.Token1, tokenA) && models.SameAddress(rec.Pair.Token0, tokenB):
		rIn, rOut = rec.Reserve1, rec.Reserve0
	default:
		return 0, ErrNoPrice
	}

	ratio := new(big.Float).Quo(new(big.Float).SetInt(rOut), new(big.Float).SetInt(rIn))
	price, _ := ratio.Float64()
	return price * math.Pow10(int(decA)-int(decB)), nil
}

// Trade size clamps, in human units of the input token.
var (
	minTradeClamp       = decimal.RequireFromString("0.001")
	maxTradeClampNative = decimal.NewFromInt(10)
	maxTradeClampOther  = decimal.NewFromInt(1000)
)

// MaxTradeAmount bins the pool's tokenA-side reserve into a bounded trade
// size in human units. Deep pools trade a smaller fraction; the result is
// clamped to [0.001, 10] for the wrapped native token and [0.001, 1000]
// otherwise. A zero result disables the pair.
func MaxTradeAmount(rec *models.PoolReserves, tokenA string, decA uint8, isNative bool) decimal.Decimal {
	if rec.Empty() {
		return decimal.Zero
	}

	var reserve *big.Int
	switch {
	case models.SameAddress(rec.Pair.Token0, tokenA):
		reserve = rec.Reserve0
	case models.SameAddress(rec.Pair.Token1, tokenA):
		reserve = rec.Reserve1
	default:
		return decimal.Zero
	}

	human := decimal.NewFromBigInt(reserve, -int32(decA))

	var fraction decimal.Decimal
	switch {
	case human.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		fraction = decimal.RequireFromString("0.02")
	case human.GreaterThanOrEqual(decimal.NewFromInt(100)):
		fraction = decimal.RequireFromString("0.05")
	default:
		fraction = decimal.RequireFromString("0.10")
	}

	amount := human.Mul(fraction)

	upper := maxTradeClampOther
	if isNative {
		upper = maxTradeClampNative
	}
	if amount.GreaterThan(upper) {
		amount = upper
	}
	if amount.LessThan(minTradeClamp) {
		amount = minTradeClamp
	}
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	return amount
}
