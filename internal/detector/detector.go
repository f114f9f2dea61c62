package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/internal/metrics"
	"mevpipe/internal/persistence"
	"mevpipe/internal/reserves"
	"mevpipe/pkg/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	tickInterval = 2 * time.Second

	// Gate thresholds, in percent of the buy price.
	minProfitPercent     = 0.1
	publishProfitPercent = 0.5
	hysteresisDeltaPP    = 0.1

	// Flat gas model for opportunity sizing.
	estimatedGasUnits = 300000
	gasPriceWei       = 25e9

	opportunityTTL = 60 * time.Second
)

// Config holds the detector's pair table and token metadata.
type Config struct {
	Pairs         [][2]string
	WrappedNative string
	Decimals      map[string]uint8
}

// Detector compares mid-prices across venues every tick and publishes
// opportunities that clear all gates, with hysteresis on rewrites.
type Detector struct {
	cfg     Config
	view    *reserves.View
	cache   *cache.Client
	store   *persistence.Store
	metrics *metrics.Metrics
}

// NewDetector creates a detector reading from the given reserve view.
func NewDetector(cfg Config, view *reserves.View, cacheClient *cache.Client, store *persistence.Store, m *metrics.Metrics) *Detector {
	return &Detector{
		cfg:     cfg,
		view:    view,
		cache:   cacheClient,
		store:   store,
		metrics: m,
	}
}

// Run ticks every 2 seconds until the context is canceled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	log.Info().
		Int("pairs", len(d.cfg.Pairs)).
		Float64("min_profit_percent", minProfitPercent).
		Msg("Starting detector")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.DetectOnce(ctx)
		}
	}
}

// DetectOnce runs a single detection pass over the current reserves snapshot
// and publishes the results. Returns the opportunities passing all gates.
func (d *Detector) DetectOnce(ctx context.Context) []*models.Opportunity {
	snap := d.view.Snapshot()
	opportunities := d.evaluate(snap, time.Now())

	for _, opp := range opportunities {
		d.publish(ctx, opp)
	}
	return opportunities
}

// evaluate runs the pairwise venue comparison over one snapshot. Pure with
// respect to the cache; publication gating happens in publish.
func (d *Detector) evaluate(snap map[string]*models.PoolReserves, now time.Time) []*models.Opportunity {
	var out []*models.Opportunity

	for _, pair := range d.cfg.Pairs {
		tokenA := models.NormalizeAddress(pair[0])
		tokenB := models.NormalizeAddress(pair[1])

		// Collect the venues holding this pair.
		byVenue := make(map[string]*models.PoolReserves)
		for _, rec := range snap {
			if rec.Pair.TokenA == tokenA && rec.Pair.TokenB == tokenB && !rec.Empty() {
				byVenue[rec.Pair.Venue] = rec
			}
		}
		if len(byVenue) < 2 {
			continue
		}

		venues := lo.Keys(byVenue)
		sort.Strings(venues)

		for i := 0; i < len(venues); i++ {
			for j := i + 1; j < len(venues); j++ {
				if d.metrics != nil {
					d.metrics.Comparisons.Inc()
				}
				opp := d.compare(tokenA, tokenB, byVenue[venues[i]], byVenue[venues[j]], now)
				if opp != nil {
					out = append(out, opp)
				}
			}
		}
	}
	return out
}

// compare builds an opportunity from one unordered venue pair, or nil when
// any gate rejects it.
func (d *Detector) compare(tokenA, tokenB string, rec1, rec2 *models.PoolReserves, now time.Time) *models.Opportunity {
	decA := d.decimals(tokenA)
	decB := d.decimals(tokenB)

	p1, err := reserves.MidPrice(rec1, tokenA, tokenB, decA, decB)
	if err != nil {
		return nil
	}
	p2, err := reserves.MidPrice(rec2, tokenA, tokenB, decA, decB)
	if err != nil {
		return nil
	}

	buyRec, sellRec := rec1, rec2
	buyPrice, sellPrice := p1, p2
	if p2 < p1 {
		buyRec, sellRec = rec2, rec1
		buyPrice, sellPrice = p2, p1
	}

	gap := sellPrice - buyPrice
	if buyPrice <= 0 || gap <= 0 {
		return nil
	}
	profitPercent := gap / buyPrice * 100
	if profitPercent <= minProfitPercent {
		return nil
	}

	isNative := models.SameAddress(tokenA, d.cfg.WrappedNative)

	// Flat gas estimate, converted from native units to tokenA. When tokenA
	// is not the wrapped native token the buy price serves as a rough
	// change-of-basis.
	gasNative := float64(estimatedGasUnits) * gasPriceWei / 1e18
	gasInTokenA := gasNative
	if !isNative {
		gasInTokenA = gasNative / buyPrice
	}
	if math.IsInf(gasInTokenA, 0) || math.IsNaN(gasInTokenA) {
		return nil
	}

	maxTrade := decimal.Min(
		reserves.MaxTradeAmount(buyRec, tokenA, decA, isNative),
		reserves.MaxTradeAmount(sellRec, tokenA, decA, isNative),
	)
	if maxTrade.Sign() <= 0 {
		return nil
	}

	margin := gap / buyPrice
	minTrade := decimal.Max(
		decimal.NewFromFloat(gasInTokenA/margin),
		maxTrade.Mul(decimal.RequireFromString("0.01")),
	)
	if minTrade.GreaterThan(maxTrade) {
		return nil
	}

	opp := &models.Opportunity{
		TokenA:        tokenA,
		TokenB:        tokenB,
		BuyVenue:      buyRec.Pair.Venue,
		SellVenue:     sellRec.Pair.Venue,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		PriceGap:      gap,
		ProfitPercent: profitPercent,
		EstimatedGas:  estimatedGasUnits,
		MinTrade:      minTrade,
		MaxTrade:      maxTrade,
		DetectedAt:    now,
	}

	if d.metrics != nil {
		d.metrics.OpportunitiesFound.Inc()
	}
	d.logOpportunity(opp)
	return opp
}

// shouldRewrite applies the hysteresis policy: a stable key is overwritten
// only when no prior entry exists or the profit moved by at least 0.1
// percentage points.
func shouldRewrite(prev, next *models.Opportunity) bool {
	if prev == nil {
		return true
	}
	return math.Abs(next.ProfitPercent-prev.ProfitPercent) >= hysteresisDeltaPP
}

// publish writes an opportunity under its stable key, gated by hysteresis.
// Only opportunities above the publication threshold reach the cache.
func (d *Detector) publish(ctx context.Context, opp *models.Opportunity) {
	if opp.ProfitPercent <= publishProfitPercent {
		return
	}

	key := "opportunity:" + opp.Key()

	var prev *models.Opportunity
	if existing, err := d.cache.Get(ctx, key); err == nil && existing != "" {
		var p models.Opportunity
		if err := json.Unmarshal([]byte(existing), &p); err == nil {
			prev = &p
		}
	}

	if !shouldRewrite(prev, opp) {
		if d.metrics != nil {
			d.metrics.OpportunitiesGated.Inc()
		}
		return
	}

	payload, err := json.Marshal(opp)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to marshal opportunity")
		return
	}
	if err := d.cache.SetWithTTL(ctx, key, string(payload), opportunityTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Opportunity write failed")
		return
	}

	if d.store != nil {
		if err := d.store.SaveOpportunity(opp); err != nil {
			log.Warn().Err(err).Msg("Opportunity history write failed")
		}
	}
}

// GetCurrentOpportunities returns the published set, sorted by profit percent
// descending. A down cache yields an empty slice.
func (d *Detector) GetCurrentOpportunities(ctx context.Context) []*models.Opportunity {
	keys, err := d.cache.KeysByPrefix(ctx, "opportunity:")
	if err != nil {
		log.Warn().Err(err).Msg("Opportunity scan failed")
		return nil
	}

	var out []*models.Opportunity
	for _, k := range keys {
		payload, err := d.cache.Get(ctx, k)
		if err != nil || payload == "" {
			continue
		}
		var opp models.Opportunity
		if err := json.Unmarshal([]byte(payload), &opp); err != nil {
			continue
		}
		out = append(out, &opp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ProfitPercent > out[j].ProfitPercent
	})
	return out
}

func (d *Detector) decimals(token string) uint8 {
	if dec, ok := d.cfg.Decimals[models.NormalizeAddress(token)]; ok {
		return dec
	}
	return 18
}

func (d *Detector) logOpportunity(opp *models.Opportunity) {
	log.Info().
		Str("token_a", opp.TokenA).
		Str("token_b", opp.TokenB).
		Str("buy", opp.BuyVenue).
		Str("sell", opp.SellVenue).
		Float64("buy_price", opp.BuyPrice).
		Float64("sell_price", opp.SellPrice).
		Str("profit_percent", fmt.Sprintf("%.4f", opp.ProfitPercent)).
		Str("min_trade", opp.MinTrade.String()).
		Str("max_trade", opp.MaxTrade.String()).
		Msg("ARBITRAGE OPPORTUNITY DETECTED")
}
