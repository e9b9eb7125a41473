package aggregator

import (
	"sort"

	"solana-pnl-engine/internal/domain"
)

// SortTrades orders trades by (timestamp ASC, provenance_id ASC). Every
// downstream consumer relies on this ordering being deterministic across
// runs and source mixes.
func SortTrades(trades []*domain.CanonicalTrade) {
	sort.Slice(trades, func(i, j int) bool {
		return compareTrades(trades[i], trades[j]) < 0
	})
}

// compareTrades returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareTrades(a, b *domain.CanonicalTrade) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.ProvenanceID != b.ProvenanceID {
		if a.ProvenanceID < b.ProvenanceID {
			return -1
		}
		return 1
	}
	return 0
}
