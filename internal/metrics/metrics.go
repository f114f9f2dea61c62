package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the arbitrage pipeline. Each stage
// runs in its own process and touches only its own collectors.
type Metrics struct {
	// Mempool ingestor metrics
	TxsReceived   prometheus.Counter
	TxsDeduped    prometheus.Counter
	TxsEnriched   prometheus.Counter
	SwapsDecoded  prometheus.Counter
	EnrichLatency prometheus.Histogram
	WSConnected   prometheus.Gauge

	// Reserve view metrics
	PairsTracked   prometheus.Gauge
	RefreshLatency prometheus.Histogram
	RefreshErrors  prometheus.Counter

	// Detector metrics
	Comparisons        prometheus.Counter
	OpportunitiesFound prometheus.Counter
	OpportunitiesGated prometheus.Counter

	// Simulator metrics
	SimulationsRun    prometheus.Counter
	SimulationsFailed prometheus.Counter
	SimulationGas     prometheus.Histogram
	SimulationTime    prometheus.Histogram

	server *http.Server
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TxsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_txs_received_total",
				Help: "Total pending transaction hashes delivered by the subscription",
			},
		),
		TxsDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_txs_deduped_total",
				Help: "Total hashes dropped by the dedup short-circuit",
			},
		),
		TxsEnriched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_txs_enriched_total",
				Help: "Total transactions enriched and written to the cache",
			},
		),
		SwapsDecoded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_swaps_decoded_total",
				Help: "Total transactions with a decoded router swap call",
			},
		),
		EnrichLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mev_enrich_latency_seconds",
				Help:    "Per-transaction latency from subscription callback to cache write",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
			},
		),
		WSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mev_websocket_connected",
				Help: "WebSocket subscription status (1=connected, 0=disconnected)",
			},
		),
		PairsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mev_pairs_tracked",
				Help: "Number of discovered pair descriptors",
			},
		),
		RefreshLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mev_reserve_refresh_latency_seconds",
				Help:    "Time to refresh reserves for all tracked pairs",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		),
		RefreshErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_reserve_refresh_errors_total",
				Help: "Total reserve refresh rounds that failed",
			},
		),
		Comparisons: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_venue_comparisons_total",
				Help: "Total pairwise venue comparisons evaluated",
			},
		),
		OpportunitiesFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_opportunities_found_total",
				Help: "Total opportunities passing all gates",
			},
		),
		OpportunitiesGated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_opportunities_gated_total",
				Help: "Total publications suppressed by hysteresis",
			},
		),
		SimulationsRun: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_simulations_run_total",
				Help: "Total bundles replayed against the sandbox",
			},
		),
		SimulationsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mev_simulations_failed_total",
				Help: "Total bundle replays that aborted or reverted",
			},
		),
		SimulationGas: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mev_simulation_gas_used",
				Help:    "Gas used per simulated bundle",
				Buckets: prometheus.ExponentialBuckets(50000, 2, 8), // 50k to ~6.4M
			},
		),
		SimulationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mev_simulation_time_seconds",
				Help:    "Wall-clock time per simulated bundle",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 8), // 10ms to ~1.3s
			},
		),
	}

	prometheus.MustRegister(
		m.TxsReceived,
		m.TxsDeduped,
		m.TxsEnriched,
		m.SwapsDecoded,
		m.EnrichLatency,
		m.WSConnected,
		m.PairsTracked,
		m.RefreshLatency,
		m.RefreshErrors,
		m.Comparisons,
		m.OpportunitiesFound,
		m.OpportunitiesGated,
		m.SimulationsRun,
		m.SimulationsFailed,
		m.SimulationGas,
		m.SimulationTime,
	)

	return m
}

// StartServer starts the HTTP server for Prometheus metrics.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", port).Str("path", path).Msg("Starting metrics server")
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully stops the metrics server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}

// RecordEnrichLatency records one transaction's enrichment latency.
func (m *Metrics) RecordEnrichLatency(d time.Duration) {
	m.EnrichLatency.Observe(d.Seconds())
}

// SetWSConnected sets the WebSocket subscription status.
func (m *Metrics) SetWSConnected(connected bool) {
	if connected {
		m.WSConnected.Set(1)
	} else {
		m.WSConnected.Set(0)
	}
}

// RecordRefresh records one refresh round.
func (m *Metrics) RecordRefresh(d time.Duration) {
	m.RefreshLatency.Observe(d.Seconds())
}

// RecordSimulation records one bundle replay.
func (m *Metrics) RecordSimulation(gasUsed uint64, d time.Duration, success bool) {
	m.SimulationsRun.Inc()
	if !success {
		m.SimulationsFailed.Inc()
	}
	m.SimulationGas.Observe(float64(gasUsed))
	m.SimulationTime.Observe(d.Seconds())
}
