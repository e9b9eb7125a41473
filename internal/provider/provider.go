// Package provider contains upstream data-source adapters. Each adapter
// translates one provider's wire shape and units into domain.CanonicalTrade;
// cross-source reasoning lives in the aggregator.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"solana-pnl-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout = 15 * time.Second
)

// ErrorKind classifies upstream failures so the aggregator can decide whether
// to retry a provider or treat it as unavailable for this call.
type ErrorKind string

const (
	// ErrorKindTransient covers network failures, timeouts and 5xx responses.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers auth failures, malformed responses and
	// unknown tokens. Never retried.
	ErrorKindPermanent ErrorKind = "permanent"
	// ErrorKindRateLimited covers 429 responses. Not retried by the engine.
	ErrorKindRateLimited ErrorKind = "rate_limited"
)

// UpstreamError is a classified provider failure.
type UpstreamError struct {
	Provider string
	Kind     ErrorKind
	Status   int // HTTP status, 0 for transport errors
	Msg      string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the bounded retry policy applies.
func (e *UpstreamError) Retryable() bool { return e.Kind == ErrorKindTransient }

// TradeQuery selects trades by token or wallet within [From, To] seconds
// (inclusive). Exactly one of Token/Wallet may be empty.
type TradeQuery struct {
	Token  string
	Wallet string
	From   int64
	To     int64
}

// TradeSource fetches trades from one upstream provider.
type TradeSource interface {
	// Name returns the provider identifier used in provenance and config.
	Name() string

	// FetchTrades returns canonical trades for the query. Records may be
	// unordered; the aggregator enforces deterministic ordering.
	// Fails with *UpstreamError on network/auth/rate-limit failure.
	FetchTrades(ctx context.Context, q TradeQuery) ([]*domain.CanonicalTrade, error)
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusBadRequest:
		return ErrorKindPermanent
	case status >= 500:
		return ErrorKindTransient
	default:
		return ErrorKindTransient
	}
}

// getJSON performs an HTTP GET and decodes the JSON body into out,
// returning a classified *UpstreamError on failure.
func getJSON(ctx context.Context, client *http.Client, name string, req *http.Request, out interface{}) error {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		kind := ErrorKindTransient
		if errors.Is(err, context.Canceled) {
			kind = ErrorKindPermanent
		}
		return &UpstreamError{Provider: name, Kind: kind, Msg: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &UpstreamError{Provider: name, Kind: ErrorKindTransient, Msg: "read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{
			Provider: name,
			Kind:     classifyStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Msg:      truncate(string(body), 200),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		// A 200 with an undecodable body is a provider contract violation,
		// not a retry candidate.
		return &UpstreamError{Provider: name, Kind: ErrorKindPermanent, Msg: "malformed response", Err: err}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// normalizeAmount divides a raw integer amount by 10^decimals.
func normalizeAmount(raw float64, decimals int) float64 {
	if raw == 0 {
		return 0
	}
	div := 1.0
	for i := 0; i < decimals; i++ {
		div *= 10
	}
	return raw / div
}
