package memory

import (
	"context"
	"sort"
	"sync"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CanonicalTrade // keyed by source|provenance_id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.CanonicalTrade),
	}
}

var _ storage.TradeStore = (*TradeStore)(nil)

// tradeKey generates the unique key for a trade.
func tradeKey(source, provenanceID string) string {
	return source + "|" + provenanceID
}

// Append inserts trades, skipping existing (source, provenance_id) records.
func (s *TradeStore) Append(_ context.Context, trades []*domain.CanonicalTrade) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, t := range trades {
		if t == nil || t.ProvenanceID == "" || t.Source == "" {
			return inserted, storage.ErrInvalidInput
		}
		key := tradeKey(t.Source, t.ProvenanceID)
		if _, exists := s.data[key]; exists {
			continue
		}
		copy := *t
		s.data[key] = &copy
		inserted++
	}
	return inserted, nil
}

// GetByToken retrieves trades for a token within [from, to], ordered by
// (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByToken(_ context.Context, token string, from, to int64) ([]*domain.CanonicalTrade, error) {
	return s.filter(func(t *domain.CanonicalTrade) bool {
		return t.Token == token && t.Timestamp >= from && t.Timestamp <= to
	}), nil
}

// GetByWallet retrieves trades for a wallet within [from, to], ordered by
// (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByWallet(_ context.Context, wallet string, from, to int64) ([]*domain.CanonicalTrade, error) {
	return s.filter(func(t *domain.CanonicalTrade) bool {
		return t.Wallet == wallet && t.Timestamp >= from && t.Timestamp <= to
	}), nil
}

// GetByWalletToken retrieves one position's trades within [from, to],
// ordered by (timestamp, provenance_id) ASC.
func (s *TradeStore) GetByWalletToken(_ context.Context, wallet, token string, from, to int64) ([]*domain.CanonicalTrade, error) {
	return s.filter(func(t *domain.CanonicalTrade) bool {
		return t.Wallet == wallet && t.Token == token && t.Timestamp >= from && t.Timestamp <= to
	}), nil
}

// LatestTimestamp returns the newest trade timestamp for a token.
func (s *TradeStore) LatestTimestamp(_ context.Context, token string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	found := false
	for _, t := range s.data {
		if t.Token != token {
			continue
		}
		if !found || t.Timestamp > latest {
			latest = t.Timestamp
			found = true
		}
	}
	if !found {
		return 0, storage.ErrNotFound
	}
	return latest, nil
}

func (s *TradeStore) filter(keep func(*domain.CanonicalTrade) bool) []*domain.CanonicalTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CanonicalTrade
	for _, t := range s.data {
		if keep(t) {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].ProvenanceID < result[j].ProvenanceID
	})

	return result
}
