package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a detected cross-venue price gap. Prices are mid-prices in
// tokenB per tokenA, decimal-adjusted. Invariants: BuyPrice <= SellPrice,
// MinTrade <= MaxTrade, both trade bounds positive.
type Opportunity struct {
	TokenA        string          `json:"token_a"`
	TokenB        string          `json:"token_b"`
	BuyVenue      string          `json:"buy_venue"`
	SellVenue     string          `json:"sell_venue"`
	BuyPrice      float64         `json:"buy_price"`
	SellPrice     float64         `json:"sell_price"`
	PriceGap      float64         `json:"price_gap"`
	ProfitPercent float64         `json:"profit_percent"`
	EstimatedGas  uint64          `json:"estimated_gas"`
	MinTrade      decimal.Decimal `json:"min_trade"`
	MaxTrade      decimal.Decimal `json:"max_trade"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// Key returns the stable publication key component
// <tokenA>-<tokenB>-<buyVenue>-<sellVenue>. Later writes for the same key
// overwrite earlier ones only past the hysteresis threshold.
func (o *Opportunity) Key() string {
	return fmt.Sprintf("%s-%s-%s-%s",
		NormalizeAddress(o.TokenA), NormalizeAddress(o.TokenB), o.BuyVenue, o.SellVenue)
}

// Valid checks the opportunity invariants.
func (o *Opportunity) Valid() bool {
	if o.BuyPrice > o.SellPrice {
		return false
	}
	if o.MinTrade.Sign() <= 0 || o.MaxTrade.Sign() <= 0 {
		return false
	}
	return o.MinTrade.LessThanOrEqual(o.MaxTrade)
}
