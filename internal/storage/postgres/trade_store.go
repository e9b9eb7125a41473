package postgres

import (
	"context"
	"fmt"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Append inserts trades, skipping records whose (source, provenance_id)
// already exists. Returns the number of newly inserted rows.
func (s *TradeStore) Append(ctx context.Context, trades []*domain.CanonicalTrade) (inserted int, err error) {
	if len(trades) == 0 {
		return 0, nil
	}

	done := s.pool.track("append_trades")
	defer func() { done(err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO trades (
			token, wallet, side, base_amount, quote_amount, price, timestamp, source, provenance_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, provenance_id) DO NOTHING
	`

	for _, t := range trades {
		if t == nil || t.ProvenanceID == "" || t.Source == "" {
			return 0, storage.ErrInvalidInput
		}
		tag, err := tx.Exec(ctx, query,
			t.Token,
			t.Wallet,
			t.Side,
			t.BaseAmount,
			t.QuoteAmount,
			t.Price,
			t.Timestamp,
			t.Source,
			t.ProvenanceID,
		)
		if err != nil {
			// The conflict clause only absorbs (source, provenance_id)
			// collisions; any other unique violation is a real conflict.
			if isDuplicateKeyError(err) {
				return 0, storage.ErrDuplicateKey
			}
			return 0, fmt.Errorf("insert trade: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

const tradeColumns = `token, wallet, side, base_amount, quote_amount, price, timestamp, source, provenance_id`

// GetByToken retrieves trades for a token within [from, to], ordered by
// (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByToken(ctx context.Context, token string, from, to int64) ([]*domain.CanonicalTrade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE token = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, provenance_id ASC
	`
	return s.query(ctx, "get_by_token", query, token, from, to)
}

// GetByWallet retrieves trades for a wallet within [from, to], ordered by
// (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByWallet(ctx context.Context, wallet string, from, to int64) ([]*domain.CanonicalTrade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE wallet = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, provenance_id ASC
	`
	return s.query(ctx, "get_by_wallet", query, wallet, from, to)
}

// GetByWalletToken retrieves one position's trades within [from, to],
// ordered by (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByWalletToken(ctx context.Context, wallet, token string, from, to int64) ([]*domain.CanonicalTrade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE wallet = $1 AND token = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp ASC, provenance_id ASC
	`
	return s.query(ctx, "get_by_wallet_token", query, wallet, token, from, to)
}

// LatestTimestamp returns the newest trade timestamp stored for a token.
func (s *TradeStore) LatestTimestamp(ctx context.Context, token string) (int64, error) {
	query := `
		SELECT timestamp
		FROM trades
		WHERE token = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	done := s.pool.track("latest_timestamp")
	var ts int64
	err := s.pool.QueryRow(ctx, query, token).Scan(&ts)
	if err != nil {
		if isNotFoundError(err) {
			done(nil)
			return 0, storage.ErrNotFound
		}
		done(err)
		return 0, fmt.Errorf("latest timestamp: %w", err)
	}
	done(nil)
	return ts, nil
}

func (s *TradeStore) query(ctx context.Context, operation, query string, args ...interface{}) (trades []*domain.CanonicalTrade, err error) {
	done := s.pool.track(operation)
	defer func() { done(err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.CanonicalTrade
		if err := rows.Scan(
			&t.Token,
			&t.Wallet,
			&t.Side,
			&t.BaseAmount,
			&t.QuoteAmount,
			&t.Price,
			&t.Timestamp,
			&t.Source,
			&t.ProvenanceID,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}

	return trades, nil
}
