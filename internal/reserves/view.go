package reserves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/internal/metrics"
	"mevpipe/pkg/abis"
	"mevpipe/pkg/chain"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/forta-network/go-multicall"
	"github.com/rs/zerolog/log"
)

const (
	refreshInterval = 5 * time.Second
	mirrorTTL       = 60 * time.Second
)

// ErrNoPrice is returned when a reserves record cannot quote the requested
// direction (token mismatch or empty pool).
var ErrNoPrice = errors.New("reserves: no price for direction")

// Config holds the venue and pair tables the view watches.
type Config struct {
	Venues        []models.Venue
	Pairs         [][2]string
	WrappedNative string
	Decimals      map[string]uint8
}

// View maintains the live reserves map across all venues and pairs. It owns
// the pair descriptors and the records; the detector only reads.
type View struct {
	cfg     Config
	chain   *chain.Client
	cache   *cache.Client
	caller  *multicall.Caller
	metrics *metrics.Metrics

	mu          sync.RWMutex
	descriptors []models.PairDescriptor
	records     map[string]*models.PoolReserves
}

// NewView creates a reserve view. rpcURL is dialed a second time for the
// multicall batcher, which manages its own connection.
func NewView(ctx context.Context, cfg Config, rpcURL string, chainClient *chain.Client, cacheClient *cache.Client, m *metrics.Metrics) (*View, error) {
	caller, err := multicall.Dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing multicall: %w", err)
	}
	return &View{
		cfg:     cfg,
		chain:   chainClient,
		cache:   cacheClient,
		caller:  caller,
		metrics: m,
		records: make(map[string]*models.PoolReserves),
	}, nil
}

// Discover resolves pair contracts through each venue's factory. Pairs the
// factory does not know (zero address) are skipped; discovery failures are
// logged and skipped, never fatal. Running discovery twice with unchanged
// factories yields the same descriptor set.
func (v *View) Discover(ctx context.Context) error {
	var descriptors []models.PairDescriptor

	for _, venue := range v.cfg.Venues {
		factory := common.HexToAddress(venue.Factory)
		for _, pair := range v.cfg.Pairs {
			tokenA := common.HexToAddress(pair[0])
			tokenB := common.HexToAddress(pair[1])

			pairAddr, err := v.getPair(ctx, factory, tokenA, tokenB)
			if err != nil {
				log.Warn().Err(err).
					Str("venue", venue.Name).
					Str("token_a", pair[0]).
					Str("token_b", pair[1]).
					Msg("Pair discovery failed, skipping")
				continue
			}
			if pairAddr == (common.Address{}) {
				log.Debug().
					Str("venue", venue.Name).
					Str("token_a", pair[0]).
					Str("token_b", pair[1]).
					Msg("Factory has no pair")
				continue
			}

			token0, token1, err := v.tokenOrder(ctx, pairAddr)
			if err != nil {
				log.Warn().Err(err).Str("pair", pairAddr.Hex()).Msg("Token order lookup failed, skipping")
				continue
			}

			d := models.PairDescriptor{
				Venue:       venue.Name,
				TokenA:      models.NormalizeAddress(pair[0]),
				TokenB:      models.NormalizeAddress(pair[1]),
				Token0:      token0,
				Token1:      token1,
				PairAddress: models.NormalizeAddress(pairAddr.Hex()),
			}
			descriptors = append(descriptors, d)

			log.Info().
				Str("venue", venue.Name).
				Str("pair", d.PairAddress).
				Str("token0", token0).
				Str("token1", token1).
				Msg("Pair discovered")
		}
	}

	v.mu.Lock()
	v.descriptors = descriptors
	v.mu.Unlock()

	if v.metrics != nil {
		v.metrics.PairsTracked.Set(float64(len(descriptors)))
	}

	// Initial fetch so the detector has records before the first tick.
	v.refresh(ctx)
	return nil
}

// Run refreshes reserves for every discovered descriptor every 5 seconds.
func (v *View) Run(ctx context.Context) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v.refresh(ctx)
		}
	}
}

type reservesOutput struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// refresh reads getReserves() for all descriptors in one multicall round and
// replaces each cached record wholesale. Readers may observe a mix of old and
// new records across keys, never a half-updated record for one key.
func (v *View) refresh(ctx context.Context) {
	start := time.Now()

	v.mu.RLock()
	descriptors := v.descriptors
	v.mu.RUnlock()

	if len(descriptors) == 0 {
		return
	}

	block, err := v.chain.BlockNumber(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Block number fetch failed, skipping refresh")
		if v.metrics != nil {
			v.metrics.RefreshErrors.Inc()
		}
		return
	}

	calls := make([]*multicall.Call, 0, len(descriptors))
	batched := make([]models.PairDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		contract, err := multicall.NewContract(abis.PairJSON, d.PairAddress)
		if err != nil {
			log.Warn().Err(err).Str("pair", d.PairAddress).Msg("Multicall contract build failed")
			continue
		}
		calls = append(calls, contract.NewCall(new(reservesOutput), "getReserves"))
		batched = append(batched, d)
	}

	results, err := v.caller.Call(nil, calls...)
	if err != nil {
		log.Warn().Err(err).Msg("Reserve multicall failed, skipping refresh")
		if v.metrics != nil {
			v.metrics.RefreshErrors.Inc()
		}
		return
	}

	now := time.Now()
	for i, c := range results {
		if i >= len(batched) {
			break
		}
		out, ok := c.Outputs.(*reservesOutput)
		if !ok || out.Reserve0 == nil || out.Reserve1 == nil {
			continue
		}
		d := batched[i]
		rec := &models.PoolReserves{
			Pair:        d,
			Reserve0:    out.Reserve0,
			Reserve1:    out.Reserve1,
			BlockNumber: block,
			FetchedAt:   now,
		}

		v.mu.Lock()
		v.records[d.Key()] = rec
		v.mu.Unlock()

		v.mirror(ctx, rec)
	}

	if v.metrics != nil {
		v.metrics.RecordRefresh(time.Since(start))
	}

	log.Debug().
		Int("pairs", len(results)).
		Uint64("block", block).
		Dur("elapsed", time.Since(start)).
		Msg("Reserves refreshed")
}

// mirror best-effort copies one record to the cache.
func (v *View) mirror(ctx context.Context, rec *models.PoolReserves) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := fmt.Sprintf("reserves:%s", rec.Pair.Key())
	if err := v.cache.SetWithTTL(ctx, key, string(payload), mirrorTTL); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Reserve mirror write failed")
	}
}

// Descriptors returns the discovered pair descriptors.
func (v *View) Descriptors() []models.PairDescriptor {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.descriptors
}

// Snapshot returns a point-in-time copy of the reserves map. The copy is
// shallow: records are immutable once published.
func (v *View) Snapshot() map[string]*models.PoolReserves {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := make(map[string]*models.PoolReserves, len(v.records))
	for k, r := range v.records {
		snap[k] = r
	}
	return snap
}

// getPair calls the factory's getPair view.
func (v *View) getPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	data, err := abis.V2Factory.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, fmt.Errorf("packing getPair: %w", err)
	}
	raw, err := v.chain.CallContract(ctx, factory, data)
	if err != nil {
		return common.Address{}, err
	}
	values, err := abis.V2Factory.Unpack("getPair", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpacking getPair: %w", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPair return type")
	}
	return addr, nil
}

// tokenOrder reads the pair's on-chain token0/token1 ordering.
func (v *View) tokenOrder(ctx context.Context, pair common.Address) (string, string, error) {
	token0, err := v.pairToken(ctx, pair, "token0")
	if err != nil {
		return "", "", err
	}
	token1, err := v.pairToken(ctx, pair, "token1")
	if err != nil {
		return "", "", err
	}
	return token0, token1, nil
}

func (v *View) pairToken(ctx context.Context, pair common.Address, method string) (string, error) {
	data, err := abis.V2Pair.Pack(method)
	if err != nil {
		return "", fmt.Errorf("packing %s: %w", method, err)
	}
	raw, err := v.chain.CallContract(ctx, pair, data)
	if err != nil {
		return "", err
	}
	values, err := abis.V2Pair.Unpack(method, raw)
	if err != nil {
		return "", fmt.Errorf("unpacking %s: %w", method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected %s return type", method)
	}
	return models.NormalizeAddress(addr.Hex()), nil
}
