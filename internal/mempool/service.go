package mempool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/internal/metrics"
	"mevpipe/pkg/chain"
	"mevpipe/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
)

const (
	reconnectBackoff = 5 * time.Second
	maxDedupEntries  = 10000
	swapQueueKey     = "swap_queue"
	swapQueueLimit   = 1000
	sweepInterval    = 5 * time.Minute
)

// Service ingests pending transactions: subscribes to hashes, enriches each
// with decoded swap metadata, deduplicates, and publishes to the cache.
type Service struct {
	wsURL   string
	chain   *chain.Client
	cache   *cache.Client
	decoder *Decoder
	metrics *metrics.Metrics

	routers map[string]models.Venue
	ttl     time.Duration

	// Dedup set, owned exclusively by this service. Cleared wholesale when it
	// grows past maxDedupEntries.
	mu   sync.Mutex
	seen map[string]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the ingestor.
func NewService(
	wsURL string,
	chainClient *chain.Client,
	cacheClient *cache.Client,
	routers map[string]models.Venue,
	ttl time.Duration,
	m *metrics.Metrics,
) *Service {
	return &Service{
		wsURL:   wsURL,
		chain:   chainClient,
		cache:   cacheClient,
		decoder: NewDecoder(),
		metrics: m,
		routers: routers,
		ttl:     ttl,
		seen:    make(map[string]struct{}),
	}
}

// Start launches the subscription loop and the periodic cache sweep.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop(runCtx)
	}()
}

// Stop terminates the subscription and waits for in-flight work.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// runLoop reconnects forever with a fixed backoff. Subscription errors are
// never fatal to the stage.
func (s *Service) runLoop(ctx context.Context) {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error().Err(err).Dur("backoff", reconnectBackoff).Msg("Subscription dropped, reconnecting")
		}
		if s.metrics != nil {
			s.metrics.SetWSConnected(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// runOnce runs one subscription until the connection drops or the context is
// canceled.
func (s *Service) runOnce(ctx context.Context) error {
	client := NewWSClient(s.wsURL)

	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	if err := client.Subscribe(ctx); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SetWSConnected(true)
	}

	go client.StartPingLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.ReadMessages(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case hash := <-client.Hashes():
			s.processHash(ctx, hash)
		}
	}
}

// processHash enriches one pending transaction and publishes it. The dedup
// short-circuit is the primary latency optimization.
func (s *Service) processHash(ctx context.Context, hashHex string) {
	start := time.Now()

	if s.metrics != nil {
		s.metrics.TxsReceived.Inc()
	}

	s.mu.Lock()
	if _, dup := s.seen[hashHex]; dup {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.TxsDeduped.Inc()
		}
		return
	}
	s.mu.Unlock()

	tx, _, err := s.chain.TransactionByHash(ctx, common.HexToHash(hashHex))
	if err != nil || tx == nil {
		// Propagation race: the node advertised a hash it cannot serve yet.
		return
	}

	s.recordSeen(hashHex)

	enriched := s.enrich(hashHex, tx)
	s.publish(ctx, enriched)

	if s.metrics != nil {
		s.metrics.TxsEnriched.Inc()
		s.metrics.RecordEnrichLatency(time.Since(start))
	}
}

// recordSeen adds a hash to the dedup set, clearing it wholesale when it
// grows past the cap. A rare re-ingest is cheaper than unbounded memory.
func (s *Service) recordSeen(hashHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) >= maxDedupEntries {
		s.seen = make(map[string]struct{}, maxDedupEntries)
		log.Debug().Msg("Dedup set cleared")
	}
	s.seen[hashHex] = struct{}{}
}

// enrich builds the cached record, attaching a decoded swap when the
// recipient is a known router and the calldata parses.
func (s *Service) enrich(hashHex string, tx *types.Transaction) *models.PendingTx {
	rec := &models.PendingTx{
		Hash:       hashHex,
		Value:      tx.Value(),
		Gas:        tx.Gas(),
		Nonce:      tx.Nonce(),
		Input:      hexutil.Encode(tx.Data()),
		IngestedAt: time.Now(),
	}

	if from, err := chain.Sender(tx); err == nil {
		rec.From = models.NormalizeAddress(from.Hex())
	}

	if tx.Type() == types.DynamicFeeTxType {
		rec.MaxFeePerGas = tx.GasFeeCap()
		rec.MaxPriorityFeePerGas = tx.GasTipCap()
	} else {
		rec.GasPrice = tx.GasPrice()
	}

	to := tx.To()
	if to == nil {
		// Contract creation: stored without decoded swap.
		return rec
	}
	rec.To = models.NormalizeAddress(to.Hex())

	venue, known := s.routers[rec.To]
	if !known {
		return rec
	}

	swap, err := s.decoder.Decode(venue, tx.Value(), tx.Data())
	if err != nil {
		// Parse failures are non-fatal; the transaction is stored bare.
		log.Info().Err(err).Str("tx", hashHex).Str("router", venue.Name).Msg("Calldata did not decode")
		return rec
	}
	rec.Swap = swap
	return rec
}

// publish writes the enriched record to the cache. Cache errors are logged
// and swallowed; the pipeline must not stop on cache unavailability.
func (s *Service) publish(ctx context.Context, rec *models.PendingTx) {
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("tx", rec.Hash).Msg("Failed to marshal enriched transaction")
		return
	}

	if err := s.cache.SetWithTTL(ctx, "tx:"+rec.Hash, string(payload), s.ttl); err != nil {
		log.Warn().Err(err).Str("tx", rec.Hash).Msg("Cache write failed")
	}

	if !rec.IsSwap() {
		return
	}

	if s.metrics != nil {
		s.metrics.SwapsDecoded.Inc()
	}

	if err := s.cache.SetWithTTL(ctx, "swaps:"+rec.Hash, string(payload), s.ttl); err != nil {
		log.Warn().Err(err).Str("tx", rec.Hash).Msg("Cache swap write failed")
		return
	}
	if err := s.cache.ListPushLeft(ctx, swapQueueKey, rec.Hash); err != nil {
		log.Warn().Err(err).Msg("Cache queue push failed")
		return
	}
	if err := s.cache.ListTrim(ctx, swapQueueKey, 0, swapQueueLimit-1); err != nil {
		log.Warn().Err(err).Msg("Cache queue trim failed")
	}
}

// GetPendingSwaps returns up to n decoded swaps, newest first. A down cache
// yields an empty slice, never an error.
func (s *Service) GetPendingSwaps(ctx context.Context, n int64) []*models.PendingTx {
	hashes, err := s.cache.ListRange(ctx, swapQueueKey, 0, n-1)
	if err != nil {
		log.Warn().Err(err).Msg("Cache queue read failed")
		return nil
	}

	swaps := make([]*models.PendingTx, 0, len(hashes))
	for _, h := range hashes {
		payload, err := s.cache.Get(ctx, "swaps:"+h)
		if err != nil || payload == "" {
			continue
		}
		var rec models.PendingTx
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		swaps = append(swaps, &rec)
	}
	return swaps
}

// DedupSize returns the current dedup set size.
func (s *Service) DedupSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// sweepLoop deletes expired keys under the pipeline prefix every 5 minutes.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.cache.SweepExpired(ctx, "")
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("Cache sweep complete")
			}
		}
	}
}
