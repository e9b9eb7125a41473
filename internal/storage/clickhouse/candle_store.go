package clickhouse

import (
	"context"
	"fmt"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse. The candles
// table is a ReplacingMergeTree keyed by (token, interval, bucket_start), so
// re-inserting a rebuilt candle replaces the old row on merge; reads use
// FINAL to collapse unmerged versions.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk upserts candles.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) (err error) {
	if len(candles) == 0 {
		return nil
	}

	done := s.conn.track("insert_candles")
	defer func() { done(err) }()

	for _, c := range candles {
		if c == nil || c.Token == "" || c.Interval == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			token, interval, bucket_start,
			open, high, low, close, volume, trade_count, filled
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Token, c.Interval, c.BucketStart,
			c.Open, c.High, c.Low, c.Close, c.Volume, uint32(c.TradeCount), c.Filled,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByToken retrieves candles within [from, to] by bucket start, ordered by
// bucket_start ASC.
func (s *CandleStore) GetByToken(ctx context.Context, token, interval string, from, to int64) ([]*domain.Candle, error) {
	query := `
		SELECT token, interval, bucket_start,
		       open, high, low, close, volume, trade_count, filled
		FROM candles FINAL
		WHERE token = ? AND interval = ? AND bucket_start >= ? AND bucket_start <= ?
		ORDER BY bucket_start ASC
	`

	done := s.conn.track("get_candles")
	rows, err := s.conn.Query(ctx, query, token, interval, from, to)
	if err != nil {
		done(err)
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	done(err)
	return candles, err
}

// chRows abstracts clickhouse rows for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var tradeCount uint32
		if err := rows.Scan(
			&c.Token, &c.Interval, &c.BucketStart,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &tradeCount, &c.Filled,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.TradeCount = int(tradeCount)
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return candles, nil
}
