package domain

// CanonicalTrade is the normalized trade record produced by provider adapters.
// It is the append-only ground truth: once constructed it is never mutated.
// Uniqueness key: (Source, ProvenanceID). Cross-source identity: ProvenanceID,
// the on-chain transaction signature, used to detect the same event reported
// by multiple providers.
type CanonicalTrade struct {
	Token        string  // token mint address
	Wallet       string  // wallet address ("" for anonymous market trades)
	Side         string  // "buy" | "sell"
	BaseAmount   float64 // token amount (normalized, decimals applied)
	QuoteAmount  float64 // quote amount in SOL (always positive)
	Price        float64 // unit price, SOL per token
	Timestamp    int64   // Unix timestamp in seconds, UTC
	Source       string  // reporting provider name
	ProvenanceID string  // on-chain transaction signature
}

// Trade side constants
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// FieldCompleteness counts the populated numeric fields the conflict policy
// cares about. A record missing price or amounts loses dedup preference.
func (t *CanonicalTrade) FieldCompleteness() int {
	n := 0
	if t.Price > 0 {
		n++
	}
	if t.BaseAmount > 0 {
		n++
	}
	if t.QuoteAmount > 0 {
		n++
	}
	if t.Wallet != "" {
		n++
	}
	return n
}
