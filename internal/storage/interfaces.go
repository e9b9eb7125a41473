package storage

import (
	"context"

	"solana-pnl-engine/internal/domain"
)

// TradeStore provides access to canonical trade storage. Trades are
// append-only; (source, provenance_id) identifies a record.
type TradeStore interface {
	// Append inserts trades, silently skipping records whose
	// (source, provenance_id) already exists. Returns the number of
	// newly inserted trades, so sync can report ingested vs duplicate.
	Append(ctx context.Context, trades []*domain.CanonicalTrade) (int, error)

	// GetByToken retrieves trades for a token within [from, to] (inclusive),
	// ordered by (timestamp, provenance_id) ASC.
	GetByToken(ctx context.Context, token string, from, to int64) ([]*domain.CanonicalTrade, error)

	// GetByWallet retrieves trades for a wallet within [from, to] (inclusive),
	// ordered by (timestamp, provenance_id) ASC.
	GetByWallet(ctx context.Context, wallet string, from, to int64) ([]*domain.CanonicalTrade, error)

	// GetByWalletToken retrieves one position's trades within [from, to]
	// (inclusive), ordered by (timestamp, provenance_id) ASC.
	GetByWalletToken(ctx context.Context, wallet, token string, from, to int64) ([]*domain.CanonicalTrade, error)

	// LatestTimestamp returns the newest trade timestamp stored for a token,
	// or ErrNotFound when the token has no trades. Sync uses it to resume
	// incrementally.
	LatestTimestamp(ctx context.Context, token string) (int64, error)
}

// CandleStore provides access to candle storage. Candles are rebuilt from
// trades, so inserting an existing (token, interval, bucket_start) replaces
// the old row.
type CandleStore interface {
	// InsertBulk upserts candles.
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByToken retrieves candles for a token and interval within
	// [from, to] by bucket start (inclusive), ordered by bucket_start ASC.
	GetByToken(ctx context.Context, token, interval string, from, to int64) ([]*domain.Candle, error)
}
