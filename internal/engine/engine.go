// Package engine ties the aggregator, stores, candle builder, lot matcher
// and cache together behind the operations the API exposes.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"solana-pnl-engine/internal/aggregator"
	"solana-pnl-engine/internal/cache"
	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/idhash"
	"solana-pnl-engine/internal/observability"
	"solana-pnl-engine/internal/ohlcv"
	"solana-pnl-engine/internal/pnl"
	"solana-pnl-engine/internal/provider"
	"solana-pnl-engine/internal/storage"
)

// Engine executes the exposed operations against the configured stores and
// providers.
type Engine struct {
	trades  storage.TradeStore
	candles storage.CandleStore
	agg     *aggregator.Aggregator
	matcher *pnl.Matcher
	cache   *cache.Cache
	logger  *log.Logger
	metrics *observability.Metrics
}

// New creates an Engine. metrics may be nil.
func New(
	trades storage.TradeStore,
	candles storage.CandleStore,
	agg *aggregator.Aggregator,
	c *cache.Cache,
	logger *log.Logger,
	metrics *observability.Metrics,
) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		trades:  trades,
		candles: candles,
		agg:     agg,
		matcher: pnl.NewMatcher(metrics),
		cache:   c,
		logger:  logger,
		metrics: metrics,
	}
}

// CandleResult is the get-candles payload.
type CandleResult struct {
	Candles  []*domain.Candle `json:"candles"`
	Warnings []domain.Warning `json:"warnings,omitempty"`
}

// GetCandles returns the contiguous candle series for a token over
// [from, to]. Results are cached; a miss reads the candle store and falls
// back to rebuilding from stored trades.
func (e *Engine) GetCandles(ctx context.Context, token, intervalName string, from, to int64) (*CandleResult, error) {
	interval, err := domain.ParseInterval(intervalName)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("%w: token required", storage.ErrInvalidInput)
	}

	key := cache.Key{Kind: cache.KindCandles, Token: token, Interval: interval.Name, From: from, To: to}

	v, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, string, error) {
		stored, err := e.candles.GetByToken(ctx, token, interval.Name, interval.BucketStart(from), interval.BucketStart(to))
		if err != nil {
			return nil, "", fmt.Errorf("read candles: %w", err)
		}
		if coversWindow(stored, interval, to) {
			return &CandleResult{Candles: stored}, candleFingerprint(stored), nil
		}

		trades, err := e.trades.GetByToken(ctx, token, from, to)
		if err != nil {
			return nil, "", fmt.Errorf("read trades: %w", err)
		}
		trades = aggregator.Dedup(trades, e.agg.Primary())
		built, err := ohlcv.Build(token, interval, trades, from, to)
		if err != nil {
			return nil, "", err
		}
		if len(built) > 0 {
			if err := e.candles.InsertBulk(ctx, built); err != nil {
				return nil, "", fmt.Errorf("persist candles: %w", err)
			}
			if e.metrics != nil {
				e.metrics.CandlesBuilt.Add(float64(len(built)))
			}
		}
		return &CandleResult{Candles: built}, tradeFingerprint(trades), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CandleResult), nil
}

// coversWindow reports whether stored candles form a contiguous bucket
// sequence reaching the window's last bucket. Syncs over disjoint windows
// persist separate candle islands; serving those as-is would return a gapped
// series, so anything short of full coverage falls back to a rebuild from
// trades.
func coversWindow(stored []*domain.Candle, interval domain.Interval, to int64) bool {
	if len(stored) == 0 {
		return false
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].BucketStart != stored[i-1].BucketStart+interval.Seconds {
			return false
		}
	}
	return stored[len(stored)-1].BucketStart == interval.BucketStart(to)
}

// tradeFingerprint hashes the identity of the trades a result was computed
// from, so cache entries can be checked for staleness without comparing
// payloads.
func tradeFingerprint(trades []*domain.CanonicalTrade) string {
	keys := make([]string, len(trades))
	for i, t := range trades {
		keys[i] = fmt.Sprintf("%s:%d", t.ProvenanceID, t.Timestamp)
	}
	return idhash.ComputeFingerprint(keys)
}

// candleFingerprint hashes stored candles the same way for results served
// straight from the candle store.
func candleFingerprint(candles []*domain.Candle) string {
	keys := make([]string, len(candles))
	for i, c := range candles {
		keys[i] = fmt.Sprintf("%d:%d:%g", c.BucketStart, c.TradeCount, c.Volume)
	}
	return idhash.ComputeFingerprint(keys)
}

// PositionPnL is one wallet+token position in a PnL report.
type PositionPnL struct {
	Token      string                  `json:"token"`
	Events     []domain.PnLEvent       `json:"events"`
	Snapshot   domain.PositionSnapshot `json:"snapshot"`
	Realized   float64                 `json:"realized"`
	Unrealized float64                 `json:"unrealized"`
	MarkPrice  float64                 `json:"mark_price"`
}

// WalletPnL is the get-wallet-pnl payload.
type WalletPnL struct {
	Wallet          string           `json:"wallet"`
	AsOf            int64            `json:"as_of"`
	Positions       []PositionPnL    `json:"positions"`
	TotalRealized   float64          `json:"total_realized"`
	TotalUnrealized float64          `json:"total_unrealized"`
	Warnings        []domain.Warning `json:"warnings,omitempty"`
}

// GetWalletPnL replays a wallet's trade history up to asOf and reports
// realized and unrealized PnL per token. An empty token covers every token
// the wallet traded.
func (e *Engine) GetWalletPnL(ctx context.Context, wallet, token string, asOf int64) (*WalletPnL, error) {
	if wallet == "" {
		return nil, fmt.Errorf("%w: wallet required", storage.ErrInvalidInput)
	}
	if asOf == 0 {
		asOf = time.Now().Unix()
	}

	key := cache.Key{Kind: cache.KindPnL, Token: token, Wallet: wallet, To: asOf}

	v, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, string, error) {
		return e.computeWalletPnL(ctx, wallet, token, asOf)
	})
	if err != nil {
		return nil, err
	}
	return v.(*WalletPnL), nil
}

func (e *Engine) computeWalletPnL(ctx context.Context, wallet, token string, asOf int64) (*WalletPnL, string, error) {
	var trades []*domain.CanonicalTrade
	var err error
	if token != "" {
		trades, err = e.trades.GetByWalletToken(ctx, wallet, token, 0, asOf)
	} else {
		trades, err = e.trades.GetByWallet(ctx, wallet, 0, asOf)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read wallet trades: %w", err)
	}
	trades = aggregator.Dedup(trades, e.agg.Primary())

	byToken := make(map[string][]*domain.CanonicalTrade)
	for _, t := range trades {
		byToken[t.Token] = append(byToken[t.Token], t)
	}

	tokens := make([]string, 0, len(byToken))
	for tok := range byToken {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	report := &WalletPnL{Wallet: wallet, AsOf: asOf}
	for _, tok := range tokens {
		// Replay returns the snapshot taken under the same ledger lock, so
		// a concurrent replay for the same wallet+token cannot slip between
		// the events and the open-lot view they pair with.
		events, snap, warnings, err := e.matcher.Replay(wallet, tok, byToken[tok])
		if err != nil {
			return nil, "", fmt.Errorf("replay %s: %w", tok, err)
		}
		report.Warnings = append(report.Warnings, warnings...)

		mark, err := e.markPrice(ctx, tok, asOf, byToken[tok])
		if err != nil {
			return nil, "", err
		}

		pos := PositionPnL{
			Token:     tok,
			Events:    events,
			Snapshot:  snap,
			MarkPrice: mark,
		}
		for _, ev := range events {
			pos.Realized += ev.Realized
		}
		pos.Unrealized = snap.Unrealized(mark)

		report.Positions = append(report.Positions, pos)
		report.TotalRealized += pos.Realized
		report.TotalUnrealized += pos.Unrealized
	}

	return report, tradeFingerprint(trades), nil
}

// markPrice returns the price of the last stored trade for the token at or
// before asOf, falling back to the wallet's own last trade when the token
// has no wider history.
func (e *Engine) markPrice(ctx context.Context, token string, asOf int64, walletTrades []*domain.CanonicalTrade) (float64, error) {
	trades, err := e.trades.GetByToken(ctx, token, 0, asOf)
	if err != nil {
		return 0, fmt.Errorf("read token trades: %w", err)
	}
	trades = aggregator.Dedup(trades, e.agg.Primary())
	if len(trades) > 0 {
		return trades[len(trades)-1].Price, nil
	}
	if len(walletTrades) > 0 {
		return walletTrades[len(walletTrades)-1].Price, nil
	}
	return 0, nil
}

// SyncResult is the sync payload.
type SyncResult struct {
	Token      string           `json:"token,omitempty"`
	Wallet     string           `json:"wallet,omitempty"`
	From       int64            `json:"from"`
	To         int64            `json:"to"`
	Fetched    int              `json:"fetched"`
	Ingested   int              `json:"ingested"`
	Duplicates int              `json:"duplicates"`
	Warnings   []domain.Warning `json:"warnings,omitempty"`
}

// Sync fetches trades from the providers for a token and/or wallet over
// [from, to], persists the new ones, rebuilds affected candles and drops
// stale cache entries. A zero from resumes after the newest stored trade of
// the token.
func (e *Engine) Sync(ctx context.Context, token, wallet string, from, to int64) (*SyncResult, error) {
	if token == "" && wallet == "" {
		return nil, fmt.Errorf("%w: token or wallet required", storage.ErrInvalidInput)
	}
	if to == 0 {
		to = time.Now().Unix()
	}
	if from == 0 && token != "" {
		if latest, err := e.trades.LatestTimestamp(ctx, token); err == nil {
			from = latest + 1
		}
	}

	res, err := e.agg.Fetch(ctx, provider.TradeQuery{Token: token, Wallet: wallet, From: from, To: to})
	if err != nil {
		if e.metrics != nil {
			e.metrics.SyncRunsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	inserted, err := e.trades.Append(ctx, res.Trades)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SyncRunsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("persist trades: %w", err)
	}
	if e.metrics != nil {
		e.metrics.TradesIngested.Add(float64(inserted))
	}

	// A wallet-scoped sync ingests trades across many tokens; every one of
	// those tokens has stored candles and cached results to refresh, not
	// just the token named in the request.
	byToken := make(map[string][]*domain.CanonicalTrade)
	for _, t := range res.Trades {
		byToken[t.Token] = append(byToken[t.Token], t)
	}
	if inserted > 0 {
		for tok, tokTrades := range byToken {
			if err := e.rebuildCandles(ctx, tok, tokTrades); err != nil {
				return nil, err
			}
		}
	}

	if token != "" {
		e.cache.InvalidateToken(token)
	}
	for tok := range byToken {
		if tok != token {
			e.cache.InvalidateToken(tok)
		}
	}
	if wallet != "" {
		e.cache.InvalidateWallet(wallet)
	}
	for _, t := range res.Trades {
		if t.Wallet != "" && t.Wallet != wallet {
			e.cache.InvalidateWallet(t.Wallet)
		}
	}

	if e.metrics != nil {
		e.metrics.SyncRunsTotal.WithLabelValues("ok").Inc()
	}
	e.logger.Printf("[engine] sync token=%s wallet=%s window=[%d,%d] fetched=%d ingested=%d",
		token, wallet, from, to, len(res.Trades), inserted)

	return &SyncResult{
		Token:      token,
		Wallet:     wallet,
		From:       from,
		To:         to,
		Fetched:    len(res.Trades),
		Ingested:   inserted,
		Duplicates: len(res.Trades) - inserted,
		Warnings:   res.Warnings,
	}, nil
}

// rebuildCandles rebuilds every supported interval over the window the new
// trades touch, widened to bucket boundaries.
func (e *Engine) rebuildCandles(ctx context.Context, token string, newTrades []*domain.CanonicalTrade) error {
	var lo, hi int64
	for i, t := range newTrades {
		if i == 0 || t.Timestamp < lo {
			lo = t.Timestamp
		}
		if t.Timestamp > hi {
			hi = t.Timestamp
		}
	}
	if hi == 0 {
		return nil
	}

	for _, interval := range domain.SupportedIntervals {
		from := interval.BucketStart(lo)
		to := interval.BucketStart(hi) + interval.Seconds - 1

		trades, err := e.trades.GetByToken(ctx, token, from, to)
		if err != nil {
			return fmt.Errorf("read trades for rebuild: %w", err)
		}
		trades = aggregator.Dedup(trades, e.agg.Primary())
		built, err := ohlcv.Build(token, interval, trades, from, to)
		if err != nil {
			return err
		}
		if len(built) == 0 {
			continue
		}
		if err := e.candles.InsertBulk(ctx, built); err != nil {
			return fmt.Errorf("persist rebuilt candles: %w", err)
		}
		if e.metrics != nil {
			e.metrics.CandlesBuilt.Add(float64(len(built)))
		}
	}
	return nil
}

// WatchStream consumes a live trade channel, persisting trades and
// invalidating affected cache entries until the channel closes or ctx is
// done.
func (e *Engine) WatchStream(ctx context.Context, trades <-chan *domain.CanonicalTrade) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-trades:
			if !ok {
				return nil
			}
			inserted, err := e.trades.Append(ctx, []*domain.CanonicalTrade{t})
			if err != nil {
				e.logger.Printf("[engine] stream append failed: %v", err)
				continue
			}
			if inserted == 0 {
				continue
			}
			if e.metrics != nil {
				e.metrics.TradesIngested.Inc()
			}
			// Stored candles serve the fast read path, so they must be
			// rebuilt here too; dropping only the result cache would
			// resurface pre-stream candles on the next read.
			if err := e.rebuildCandles(ctx, t.Token, []*domain.CanonicalTrade{t}); err != nil {
				e.logger.Printf("[engine] stream candle rebuild failed: %v", err)
			}
			e.cache.InvalidateToken(t.Token)
			if t.Wallet != "" {
				e.cache.InvalidateWallet(t.Wallet)
			}
		}
	}
}
