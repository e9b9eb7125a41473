package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by token|interval|bucket_start
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

var _ storage.CandleStore = (*CandleStore)(nil)

func candleKey(token, interval string, bucketStart int64) string {
	return fmt.Sprintf("%s|%s|%d", token, interval, bucketStart)
}

// InsertBulk upserts candles.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.Token == "" || c.Interval == "" {
			return storage.ErrInvalidInput
		}
		copy := *c
		s.data[candleKey(c.Token, c.Interval, c.BucketStart)] = &copy
	}
	return nil
}

// GetByToken retrieves candles within [from, to] by bucket start, ordered by
// bucket_start ASC.
func (s *CandleStore) GetByToken(_ context.Context, token, interval string, from, to int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.Token == token && c.Interval == interval && c.BucketStart >= from && c.BucketStart <= to {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})

	return result, nil
}
