// Package main runs the unified PnL engine server:
// - HTTP API: candles, wallet PnL, on-demand sync
// - Optional live trade stream feeding the trade store
// - Prometheus metrics and status endpoints
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"solana-pnl-engine/internal/aggregator"
	"solana-pnl-engine/internal/cache"
	"solana-pnl-engine/internal/config"
	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/engine"
	"solana-pnl-engine/internal/observability"
	"solana-pnl-engine/internal/provider"
	"solana-pnl-engine/internal/storage"
	chstore "solana-pnl-engine/internal/storage/clickhouse"
	"solana-pnl-engine/internal/storage/memory"
	"solana-pnl-engine/internal/storage/migrations"
	pgstore "solana-pnl-engine/internal/storage/postgres"
)

// Server holds the engine and request-serving state.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	logger  *log.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	started   time.Time
	syncRuns  int
	lastSync  time.Time
	streaming bool
}

func main() {
	configPath := flag.String("config", os.Getenv("PNLENGINE_CONFIG"), "Path to TOML config file (optional)")
	streamEndpoint := flag.String("stream-endpoint", os.Getenv("PNLENGINE_STREAM_ENDPOINT"), "WebSocket endpoint for live trade stream (optional)")
	streamTokens := flag.String("stream-tokens", os.Getenv("PNLENGINE_STREAM_TOKENS"), "Comma-separated token mints to stream")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("")

	tradeStore, candleStore, cleanup, err := createStores(ctx, cfg, metrics)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	sources := createSources(cfg)
	logger.Printf("Providers enabled: %d (primary: %s)", len(sources), cfg.Providers.Primary)

	agg := aggregator.New(sources, aggregator.Config{
		Primary:           cfg.Providers.Primary,
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BackoffBase:       time.Duration(cfg.Retry.BackoffBaseMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		ProviderTimeout:   time.Duration(cfg.Aggregator.ProviderTimeoutMs) * time.Millisecond,
		ConflictTolerance: cfg.Aggregator.ConflictTolerance,
	}, log.New(os.Stdout, "[aggregator] ", log.LstdFlags|log.Lshortfile), metrics)

	resultCache := cache.New(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second, metrics)

	eng := engine.New(tradeStore, candleStore, agg, resultCache,
		log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile), metrics)

	server := &Server{
		cfg:     cfg,
		engine:  eng,
		logger:  logger,
		metrics: metrics,
		started: time.Now(),
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go server.startMetricsServer(cfg.Server.MetricsAddr)

	if *streamEndpoint != "" {
		go func() {
			if err := server.runStream(ctx, *streamEndpoint, splitList(*streamTokens)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("Stream error: %v", err)
			}
		}()
	}

	err = server.runHTTPServer(ctx, cfg.Server.Addr)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores wires trade and candle storage per config. Migrations run at
// startup when the database backends are selected.
func createStores(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (storage.TradeStore, storage.CandleStore, func(), error) {
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
	tradeStore := pgstore.NewTradeStore(pool.WithMetrics(metrics))

	// Candles live in ClickHouse when a DSN is given, otherwise in memory.
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
	return tradeStore, chstore.NewCandleStore(conn.WithMetrics(metrics)), cleanup, nil
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

// runStream connects the live trade feed and pipes it into the engine until
// the context is cancelled.
func (s *Server) runStream(ctx context.Context, endpoint string, tokens []string) error {
	stream, err := provider.NewTradeStream(ctx, endpoint, provider.BirdeyeName, tokens, nil)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer stream.Close()

	s.mu.Lock()
	s.streaming = true
	s.mu.Unlock()
	s.logger.Printf("Streaming live trades from %s (%d tokens)", endpoint, len(tokens))

	return s.engine.WatchStream(ctx, stream.Trades())
}

// runHTTPServer serves the API until the context is cancelled.
func (s *Server) runHTTPServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/candles/{token}", s.handleCandles)
	mux.HandleFunc("GET /api/pnl/{wallet}", s.handlePnL)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// startMetricsServer serves Prometheus metrics on a separate listener.
func (s *Server) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	s.logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("Metrics server error: %v", err)
	}
}

// apiResponse is the JSON envelope for all API endpoints.
type apiResponse struct {
	Success  bool             `json:"success"`
	Data     any              `json:"data,omitempty"`
	Warnings []domain.Warning `json:"warnings,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}
	from, err := parseInt64Query(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseInt64Query(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.engine.GetCandles(r.Context(), token, interval, from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: res.Candles, Warnings: res.Warnings})
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	token := r.URL.Query().Get("token")
	asOf, err := parseInt64Query(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.engine.GetWalletPnL(r.Context(), wallet, token, asOf)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: res, Warnings: res.Warnings})
}

// syncRequest is the POST /api/sync body.
type syncRequest struct {
	Token  string `json:"token"`
	Wallet string `json:"wallet"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request body: %w", err))
		return
	}

	res, err := s.engine.Sync(r.Context(), req.Token, req.Wallet, req.From, req.To)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	s.syncRuns++
	s.lastSync = time.Now()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: res, Warnings: res.Warnings})
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Started   time.Time `json:"started"`
	SyncRuns  int       `json:"sync_runs"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	Streaming bool      `json:"streaming"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).String(),
		Started:   s.started,
		SyncRuns:  s.syncRuns,
		LastSync:  s.lastSync,
		Streaming: s.streaming,
	})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInterval), errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, aggregator.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseInt64Query(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiResponse{Success: false, Error: err.Error()})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
