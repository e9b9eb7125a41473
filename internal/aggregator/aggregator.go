// Package aggregator fans a trade query out to all configured providers,
// merges the results into one deterministic trade list, and surfaces
// cross-source disagreements as warnings instead of silently picking a side.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/observability"
	"solana-pnl-engine/internal/provider"
)

// ErrSourceUnavailable means every configured provider failed for this query.
var ErrSourceUnavailable = errors.New("no trade source available")

// Default configuration values.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffBase       = 500 * time.Millisecond
	DefaultBackoffMax        = 5 * time.Second
	DefaultProviderTimeout   = 30 * time.Second
	DefaultConflictTolerance = 1e-6

	// conflictPrecision is the decimal precision amounts are rounded to
	// before comparison; finer differences are provider float noise.
	conflictPrecision = 8
)

// Config configures aggregation behavior.
type Config struct {
	// Primary names the provider whose values win on duplicate trades.
	Primary string
	// MaxAttempts bounds fetch attempts per provider. Only transient
	// failures are retried.
	MaxAttempts int
	// BackoffBase is the initial delay between retry attempts.
	BackoffBase time.Duration
	// BackoffMax caps the exponential retry delay.
	BackoffMax time.Duration
	// ProviderTimeout bounds each provider's total fetch time.
	ProviderTimeout time.Duration
	// ConflictTolerance is the relative difference above which two sources
	// reporting the same trade count as a data conflict.
	ConflictTolerance float64
}

// fill replaces zero values with defaults.
func (c *Config) fill() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.ConflictTolerance == 0 {
		c.ConflictTolerance = DefaultConflictTolerance
	}
}

// Result is a merged, deterministically ordered trade list plus any
// cross-source warnings raised while merging.
type Result struct {
	Trades   []*domain.CanonicalTrade
	Warnings []domain.Warning
}

// Aggregator queries multiple trade sources concurrently and merges their
// output.
type Aggregator struct {
	sources []provider.TradeSource
	config  Config
	logger  *log.Logger
	metrics *observability.Metrics
}

// New creates an Aggregator. metrics may be nil.
func New(sources []provider.TradeSource, config Config, logger *log.Logger, metrics *observability.Metrics) *Aggregator {
	config.fill()
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		sources: sources,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch queries all sources concurrently and merges the results. A provider
// failure degrades the result rather than failing the call; only when every
// provider fails does Fetch return ErrSourceUnavailable.
func (a *Aggregator) Fetch(ctx context.Context, q provider.TradeQuery) (*Result, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrSourceUnavailable)
	}

	perSource := make([][]*domain.CanonicalTrade, len(a.sources))
	perErr := make([]error, len(a.sources))

	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			trades, err := a.fetchWithRetry(ctx, src, q)
			perSource[i] = trades
			perErr[i] = err
			return nil
		})
	}
	g.Wait()

	var all []*domain.CanonicalTrade
	failures := 0
	var failErrs []error
	for i, src := range a.sources {
		if perErr[i] != nil {
			failures++
			failErrs = append(failErrs, fmt.Errorf("%s: %w", src.Name(), perErr[i]))
			a.logger.Printf("[aggregator] provider %s failed: %v", src.Name(), perErr[i])
			continue
		}
		if a.metrics != nil {
			a.metrics.ProviderTradesTotal.WithLabelValues(src.Name()).Add(float64(len(perSource[i])))
		}
		all = append(all, perSource[i]...)
	}

	if failures == len(a.sources) {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(failErrs...))
	}

	trades, warnings := a.merge(all)
	SortTrades(trades)

	return &Result{Trades: trades, Warnings: warnings}, nil
}

// fetchWithRetry calls one provider with bounded retries and exponential
// backoff. Permanent and rate-limited failures abort immediately.
func (a *Aggregator) fetchWithRetry(ctx context.Context, src provider.TradeSource, q provider.TradeQuery) ([]*domain.CanonicalTrade, error) {
	delay := a.config.BackoffBase

	var lastErr error
	for attempt := 1; attempt <= a.config.MaxAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, a.config.ProviderTimeout)
		start := time.Now()
		trades, err := src.FetchTrades(fetchCtx, q)
		cancel()

		if a.metrics != nil {
			a.metrics.ProviderFetchLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		}

		if err == nil {
			return trades, nil
		}
		lastErr = err

		var ue *provider.UpstreamError
		if errors.As(err, &ue) {
			if a.metrics != nil {
				a.metrics.ProviderFetchErrors.WithLabelValues(src.Name(), string(ue.Kind)).Inc()
			}
			if !ue.Retryable() {
				return nil, err
			}
		} else if ctx.Err() != nil {
			return nil, err
		}

		if attempt == a.config.MaxAttempts {
			break
		}

		a.logger.Printf("[aggregator] provider %s attempt %d/%d failed, retrying in %v: %v",
			src.Name(), attempt, a.config.MaxAttempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > a.config.BackoffMax {
			delay = a.config.BackoffMax
		}
	}

	return nil, lastErr
}

// merge deduplicates trades by provenance ID. When multiple sources report
// the same trade, the preferred record wins and field disagreements beyond
// tolerance become warnings.
func (a *Aggregator) merge(all []*domain.CanonicalTrade) ([]*domain.CanonicalTrade, []domain.Warning) {
	byProv := make(map[string][]*domain.CanonicalTrade)
	var order []string
	for _, t := range all {
		if _, seen := byProv[t.ProvenanceID]; !seen {
			order = append(order, t.ProvenanceID)
		}
		byProv[t.ProvenanceID] = append(byProv[t.ProvenanceID], t)
	}

	tolerance := decimal.NewFromFloat(a.config.ConflictTolerance)

	var merged []*domain.CanonicalTrade
	var warnings []domain.Warning

	for _, prov := range order {
		group := byProv[prov]
		chosen := a.preferred(group)
		merged = append(merged, chosen)

		if len(group) == 1 {
			continue
		}
		if a.metrics != nil {
			a.metrics.DuplicatesMerged.Add(float64(len(group) - 1))
		}

		for _, other := range group {
			if other == chosen {
				continue
			}
			for _, c := range compareRecords(chosen, other, tolerance) {
				warnings = append(warnings, domain.NewConflictWarning(prov, chosen.Source, other.Source, c))
				if a.metrics != nil {
					a.metrics.DataConflicts.Inc()
				}
			}
		}
	}

	return merged, warnings
}

// Primary returns the configured primary provider name.
func (a *Aggregator) Primary() string { return a.config.Primary }

// Dedup collapses trades sharing a provenance ID down to one record each,
// using the same preference order as merge. Stored trades are keyed by
// (source, provenance_id), so the same transaction can persist once per
// source when the winning provider changes between syncs; every read that
// feeds candle building or ledger replay must collapse those rows first.
// Input order is preserved for the surviving records.
func Dedup(trades []*domain.CanonicalTrade, primary string) []*domain.CanonicalTrade {
	if len(trades) < 2 {
		return trades
	}

	best := make(map[string]*domain.CanonicalTrade, len(trades))
	var order []string
	for _, t := range trades {
		cur, seen := best[t.ProvenanceID]
		if !seen {
			order = append(order, t.ProvenanceID)
			best[t.ProvenanceID] = t
			continue
		}
		if betterRecord(t, cur, primary) {
			best[t.ProvenanceID] = t
		}
	}

	if len(order) == len(trades) {
		return trades
	}
	out := make([]*domain.CanonicalTrade, 0, len(order))
	for _, prov := range order {
		out = append(out, best[prov])
	}
	return out
}

// preferred picks which duplicate record to keep: the primary provider's
// record, then the most complete one, then the lexically smallest source
// name so the choice is stable.
func (a *Aggregator) preferred(group []*domain.CanonicalTrade) *domain.CanonicalTrade {
	best := group[0]
	for _, t := range group[1:] {
		if betterRecord(t, best, a.config.Primary) {
			best = t
		}
	}
	return best
}

func betterRecord(t, best *domain.CanonicalTrade, primary string) bool {
	if (t.Source == primary) != (best.Source == primary) {
		return t.Source == primary
	}
	if tc, bc := t.FieldCompleteness(), best.FieldCompleteness(); tc != bc {
		return tc > bc
	}
	return t.Source < best.Source
}

// compareRecords lists field-level disagreements between two duplicate
// records beyond the relative tolerance.
func compareRecords(a, b *domain.CanonicalTrade, tolerance decimal.Decimal) []string {
	var conflicts []string
	if a.Side != b.Side && a.Side != "" && b.Side != "" {
		conflicts = append(conflicts, fmt.Sprintf("side %s vs %s", a.Side, b.Side))
	}
	if exceedsTolerance(a.Price, b.Price, tolerance) {
		conflicts = append(conflicts, fmt.Sprintf("price %v vs %v", a.Price, b.Price))
	}
	if exceedsTolerance(a.BaseAmount, b.BaseAmount, tolerance) {
		conflicts = append(conflicts, fmt.Sprintf("base_amount %v vs %v", a.BaseAmount, b.BaseAmount))
	}
	if exceedsTolerance(a.QuoteAmount, b.QuoteAmount, tolerance) {
		conflicts = append(conflicts, fmt.Sprintf("quote_amount %v vs %v", a.QuoteAmount, b.QuoteAmount))
	}
	if a.Timestamp != b.Timestamp {
		conflicts = append(conflicts, fmt.Sprintf("timestamp %d vs %d", a.Timestamp, b.Timestamp))
	}
	return conflicts
}

// exceedsTolerance reports whether two values differ by more than the
// relative tolerance after rounding to canonical precision. Zero values are
// skipped: a missing field is incompleteness, not a conflict.
func exceedsTolerance(x, y float64, tolerance decimal.Decimal) bool {
	if x == 0 || y == 0 {
		return false
	}
	dx := decimal.NewFromFloat(x).Round(conflictPrecision)
	dy := decimal.NewFromFloat(y).Round(conflictPrecision)
	if dx.Equal(dy) {
		return false
	}
	denom := decimal.Max(dx.Abs(), dy.Abs())
	return dx.Sub(dy).Abs().Div(denom).GreaterThan(tolerance)
}
