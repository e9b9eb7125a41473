// Package main provides a one-shot sync entry point.
// Executes: provider fetch → aggregation → persistence, then prints counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-pnl-engine/internal/aggregator"
	"solana-pnl-engine/internal/cache"
	"solana-pnl-engine/internal/config"
	"solana-pnl-engine/internal/engine"
	"solana-pnl-engine/internal/provider"
	"solana-pnl-engine/internal/storage"
	chstore "solana-pnl-engine/internal/storage/clickhouse"
	"solana-pnl-engine/internal/storage/memory"
	"solana-pnl-engine/internal/storage/migrations"
	pgstore "solana-pnl-engine/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("PNLENGINE_CONFIG"), "Path to TOML config file (optional)")
	token := flag.String("token", "", "Token mint to sync")
	wallet := flag.String("wallet", "", "Wallet address to sync")
	from := flag.Int64("from", 0, "Window start (unix seconds, 0 resumes after latest stored trade)")
	to := flag.Int64("to", 0, "Window end (unix seconds, 0 means now)")
	flag.Parse()

	logger := log.New(os.Stdout, "[sync] ", log.LstdFlags)

	if *token == "" && *wallet == "" {
		logger.Fatal("--token or --wallet is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling sync...\n", sig)
		cancel()
	}()

	tradeStore, candleStore, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	agg := aggregator.New(createSources(cfg), aggregator.Config{
		Primary:           cfg.Providers.Primary,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BackoffBase:       time.Duration(cfg.Retry.BackoffBaseMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		ProviderTimeout:   time.Duration(cfg.Aggregator.ProviderTimeoutMs) * time.Millisecond,
		ConflictTolerance: cfg.Aggregator.ConflictTolerance,
	}, log.New(os.Stdout, "[aggregator] ", log.LstdFlags), nil)

	resultCache := cache.New(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second, nil)

	eng := engine.New(tradeStore, candleStore, agg, resultCache,
		log.New(os.Stdout, "[engine] ", log.LstdFlags), nil)

	start := time.Now()
	res, err := eng.Sync(ctx, *token, *wallet, *from, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sync error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sync completed in %v:\n", time.Since(start))
	fmt.Printf("  Window:     [%d, %d]\n", res.From, res.To)
	fmt.Printf("  Fetched:    %d\n", res.Fetched)
	fmt.Printf("  Ingested:   %d\n", res.Ingested)
	fmt.Printf("  Duplicates: %d\n", res.Duplicates)
	if len(res.Warnings) > 0 {
		fmt.Printf("  Warnings:   %d\n", len(res.Warnings))
		for _, w := range res.Warnings {
			fmt.Printf("    [%s] %s\n", w.Kind, w.Detail)
		}
	}
}

// createStores wires trade and candle storage per config.
func createStores(ctx context.Context, cfg *config.Config) (storage.TradeStore, storage.CandleStore, func(), error) {
	if cfg.Storage.UseMemory {
		return memory.NewTradeStore(), memory.NewCandleStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	tradeStore := pgstore.NewTradeStore(pool)

	if cfg.Storage.ClickhouseDSN == "" {
		return tradeStore, memory.NewCandleStore(), pool.Close, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return tradeStore, chstore.NewCandleStore(conn), cleanup, nil
}

// createSources builds the enabled provider adapters.
func createSources(cfg *config.Config) []provider.TradeSource {
	var sources []provider.TradeSource
	if cfg.Providers.Birdeye.Enabled {
		sources = append(sources, provider.NewBirdeye(provider.BirdeyeConfig{
			APIKey:       cfg.Providers.Birdeye.APIKey,
			BaseURL:      cfg.Providers.Birdeye.BaseURL,
			MinInterval:  time.Duration(cfg.Providers.Birdeye.MinIntervalMs) * time.Millisecond,
			MaxPerMinute: cfg.Providers.Birdeye.MaxPerMinute,
		}))
	}
	if cfg.Providers.Solscan.Enabled {
		sources = append(sources, provider.NewSolscan(provider.SolscanConfig{
			APIToken:     cfg.Providers.Solscan.APIToken,
			BaseURL:      cfg.Providers.Solscan.BaseURL,
			MaxPerMinute: cfg.Providers.Solscan.MaxPerMinute,
		}))
	}
	if cfg.Providers.Helius.Enabled {
		sources = append(sources, provider.NewHelius(provider.HeliusConfig{
			APIKey:       cfg.Providers.Helius.APIKey,
			BaseURL:      cfg.Providers.Helius.BaseURL,
			MinInterval:  time.Duration(cfg.Providers.Helius.MinIntervalMs) * time.Millisecond,
			MaxPerMinute: cfg.Providers.Helius.MaxPerMinute,
		}))
	}
	return sources
}
