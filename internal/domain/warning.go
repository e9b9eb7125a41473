package domain

import "fmt"

// Warning kinds. Warnings represent degraded-but-usable data and ride along
// with result payloads instead of failing the call.
const (
	WarningDataConflict = "data_conflict"
	WarningShortfall    = "shortfall"
)

// Warning annotates a result with a non-fatal data-quality condition.
type Warning struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// NewConflictWarning describes a cross-provider value disagreement beyond
// tolerance for one transaction.
func NewConflictWarning(provenanceID, kept, dropped, field string) Warning {
	return Warning{
		Kind:   WarningDataConflict,
		Detail: fmt.Sprintf("tx %s: %s disagrees beyond tolerance, kept %s over %s", provenanceID, field, kept, dropped),
	}
}

// NewShortfallWarning describes a sell that exceeded tracked holdings.
func NewShortfallWarning(wallet, token, tradeID string, amount float64) Warning {
	return Warning{
		Kind:   WarningShortfall,
		Detail: fmt.Sprintf("wallet %s token %s: sell %s exceeds tracked holdings by %g, remainder costed at zero basis", wallet, token, tradeID, amount),
	}
}
