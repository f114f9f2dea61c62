package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mevpipe/internal/cache"
	"mevpipe/internal/config"
	"mevpipe/internal/detector"
	"mevpipe/internal/metrics"
	"mevpipe/internal/persistence"
	"mevpipe/internal/reserves"
	"mevpipe/pkg/chain"
	"mevpipe/pkg/models"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

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
	log.Info().Str("network", cfg.Network).Msg("Starting arbitrage detector")

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

	log.Info().Msg("Arbitrage detector shutdown complete")
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

	store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

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

	decimals := tokenDecimals(cfg)

	view, err := reserves.NewView(ctx, reserves.Config{
		Venues:        cfg.Venues,
		Pairs:         cfg.Pairs,
		WrappedNative: cfg.WrappedNative,
		Decimals:      decimals,
	}, network.RPCURL, chainClient, cacheClient, m)
	if err != nil {
		return err
	}

	log.Info().Msg("Starting pair discovery...")
	if err := view.Discover(ctx); err != nil {
		return err
	}

	descriptors := view.Descriptors()
	log.Info().Int("pairs", len(descriptors)).Msg("Discovery complete")
	if err := store.SavePairs(descriptors); err != nil {
		log.Warn().Err(err).Msg("Failed to persist discovered pairs")
	}

	det := detector.NewDetector(detector.Config{
		Pairs:         cfg.Pairs,
		WrappedNative: cfg.WrappedNative,
		Decimals:      decimals,
	}, view, cacheClient, store, m)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msg("Starting reserve refresh loop...")
		return view.Run(gCtx)
	})

	g.Go(func() error {
		log.Info().Msg("Starting detection loop...")
		return det.Run(gCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func tokenDecimals(cfg *config.Config) map[string]uint8 {
	decimals := make(map[string]uint8, len(cfg.Tokens))
	for addr, t := range cfg.Tokens {
		decimals[models.NormalizeAddress(addr)] = t.Decimals
	}
	return decimals
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
