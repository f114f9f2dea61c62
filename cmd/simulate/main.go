package main

import (
	"context"
	"encoding/json"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/internal/config"
	"mevpipe/internal/metrics"
	"mevpipe/internal/simulator"
	"mevpipe/pkg/chain"
	"mevpipe/pkg/models"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pollInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// .env file is optional
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg.Logging)
	log.Info().Str("network", cfg.Network).Msg("Starting bundle simulator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("Bundle simulator shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
	}

	network := cfg.ActiveNetwork()

	chainClient, err := chain.NewClient(network.RPCURL)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	id, err := chainClient.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Int64() != network.ChainID {
		log.Fatal().Int64("node", id.Int64()).Int64("config", network.ChainID).Msg("Chain ID mismatch")
	}

	cacheClient := cache.NewClient(cache.Config{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	}, cfg.MEV.CacheKeyPrefix)
	defer cacheClient.Close()

	venues := make(map[string]models.Venue, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues[v.Name] = v
	}
	decimals := make(map[string]uint8, len(cfg.Tokens))
	for addr, t := range cfg.Tokens {
		decimals[models.NormalizeAddress(addr)] = t.Decimals
	}

	// Per-account sandbox funding, in wei.
	balanceWei := new(big.Int).Mul(big.NewInt(cfg.Sandbox.BalanceAVAX), big.NewInt(1e18))

	sandbox := simulator.NewSandbox(simulator.SandboxConfig{
		Binary:      cfg.Sandbox.Binary,
		Host:        cfg.Sandbox.Host,
		BasePort:    cfg.Sandbox.BasePort,
		Accounts:    cfg.Sandbox.Accounts,
		BalanceAVAX: cfg.Sandbox.BalanceAVAX,
		ForkURL:     network.RPCURL,
	})

	sim, err := simulator.NewSimulator(simulator.Config{
		WrappedNative:   cfg.WrappedNative,
		Venues:          venues,
		Decimals:        decimals,
		DefaultGasLimit: cfg.MEV.DefaultGasLimit,
		FastSimulation:  cfg.MEV.FastSimulation,
		BalanceWei:      balanceWei,
	}, chainClient, sandbox, m)
	if err != nil {
		return err
	}

	if fees, err := chainClient.SuggestFeeData(ctx); err == nil {
		log.Info().
			Str("gas_price", fees.GasPrice.String()).
			Msg("Chain fee data")
	}

	// Sandbox startup failure is fatal to this stage only.
	if err := sim.Start(ctx); err != nil {
		return err
	}
	defer sim.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			simulateBest(ctx, cfg, cacheClient, sim)
		}
	}
}

// simulateBest replays the highest-profit published opportunity, then resets
// the sandbox so the next bundle starts from a clean fork.
func simulateBest(ctx context.Context, cfg *config.Config, cacheClient *cache.Client, sim *simulator.Simulator) {
	opps := fetchOpportunities(ctx, cacheClient)
	if len(opps) == 0 {
		return
	}
	opp := opps[0]

	bundle, err := sim.BuildBundle(opp, opp.MaxTrade)
	if err != nil {
		log.Warn().Err(err).Str("key", opp.Key()).Msg("Bundle construction rejected")
		return
	}

	result := sim.SimulateBundle(ctx, bundle)
	if result.Success {
		// Profit floor in native wei.
		thresholdWei, _ := new(big.Float).Mul(
			big.NewFloat(cfg.MEV.MinProfitThreshold), big.NewFloat(1e18)).Int(nil)
		log.Info().
			Str("key", opp.Key()).
			Str("profit_wei", result.Profit.String()).
			Bool("above_threshold", result.Profit.Cmp(thresholdWei) >= 0).
			Uint64("gas_used", result.GasUsed).
			Int64("execution_ms", result.ExecutionTimeMs).
			Bool("over_budget", result.ExecutionTimeMs > cfg.MEV.SimulationTimeoutMs).
			Msg("Simulation complete")
	} else {
		log.Warn().
			Str("key", opp.Key()).
			Str("error", result.Error).
			Uint64("gas_used", result.GasUsed).
			Msg("Simulation failed")
	}

	if err := sim.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("Sandbox reset failed")
	}
}

// fetchOpportunities scans the published set, best first. A down cache
// yields an empty slice.
func fetchOpportunities(ctx context.Context, cacheClient *cache.Client) []*models.Opportunity {
	keys, err := cacheClient.KeysByPrefix(ctx, "opportunity:")
	if err != nil {
		log.Warn().Err(err).Msg("Opportunity scan failed")
		return nil
	}

	var opps []*models.Opportunity
	for _, k := range keys {
		payload, err := cacheClient.Get(ctx, k)
		if err != nil || payload == "" {
			continue
		}
		var opp models.Opportunity
		if err := json.Unmarshal([]byte(payload), &opp); err != nil {
			continue
		}
		opps = append(opps, &opp)
	}

	sort.Slice(opps, func(i, j int) bool {
		return opps[i].ProfitPercent > opps[j].ProfitPercent
	})
	return opps
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
