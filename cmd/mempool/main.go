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
	"mevpipe/internal/mempool"
	"mevpipe/internal/metrics"
	"mevpipe/pkg/chain"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
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
	log.Info().Str("network", cfg.Network).Msg("Starting mempool ingestor")

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

	log.Info().Msg("Mempool ingestor shutdown complete")
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

	if err := verifyChainID(ctx, chainClient, network.ChainID); err != nil {
		return err
	}

	cacheClient := cache.NewClient(cache.Config{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	}, cfg.MEV.CacheKeyPrefix)
	defer cacheClient.Close()

	svc := mempool.NewService(
		network.WSURL,
		chainClient,
		cacheClient,
		cfg.Routers(),
		cfg.MEV.MempoolTTL,
		m,
	)

	svc.Start(ctx)
	log.Info().Int("routers", len(cfg.Routers())).Msg("Ingestion started")

	<-ctx.Done()
	svc.Stop()
	return ctx.Err()
}

func verifyChainID(ctx context.Context, c *chain.Client, want int64) error {
	id, err := c.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Int64() != want {
		log.Fatal().Int64("node", id.Int64()).Int64("config", want).Msg("Chain ID mismatch")
	}
	return nil
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
