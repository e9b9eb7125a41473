package domain

// Lot is a discrete acquired quantity of a token at a specific cost basis,
// tracked until fully sold. Lots for a wallet+token form a FIFO queue owned
// exclusively by the lot matcher.
// Invariant: 0 <= RemainingAmount <= OpenedAmount.
type Lot struct {
	LotID           string  // deterministic hash, see idhash
	Wallet          string
	Token           string
	OpenedAmount    float64
	RemainingAmount float64
	UnitCost        float64 // cost basis in SOL per token
	OpenedAt        int64   // Unix timestamp in seconds
}

// PnLEvent records realized profit/loss for one closing (sell) trade.
// Exactly one event is produced per sell, aggregating all matched-lot
// contributions. Immutable once produced.
type PnLEvent struct {
	Wallet          string
	Token           string
	Realized        float64  // sum of q * (sellPrice - lot unit cost)
	MatchedLots     []string // ids of lots consumed, FIFO order
	ClosingTradeID  string   // provenance id of the sell trade
	Timestamp       int64    // sell trade timestamp, seconds
	Shortfall       bool     // sell exceeded tracked holdings
	ShortfallAmount float64  // unmatched quantity costed at zero basis
}

// PositionSnapshot is an immutable view of a wallet+token position handed to
// readers. OpenLots are copies; mutating them does not affect the ledger.
type PositionSnapshot struct {
	Wallet         string
	Token          string
	OpenLots       []Lot
	TotalRemaining float64
	AvgCost        float64 // remaining-amount-weighted unit cost
}

// Unrealized returns paper PnL of the open lots at the given mark price.
func (s *PositionSnapshot) Unrealized(markPrice float64) float64 {
	var total float64
	for _, lot := range s.OpenLots {
		total += lot.RemainingAmount * (markPrice - lot.UnitCost)
	}
	return total
}
