// Package pnl implements FIFO cost-basis lot matching. Buys open lots, sells
// consume the oldest lots first, and each sell yields exactly one realized
// PnL event.
package pnl

import (
	"fmt"
	"sync"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/idhash"
	"solana-pnl-engine/internal/observability"
)

// ledger is the FIFO lot queue plus realized events for one wallet+token.
// All access goes through its mutex; ledgers never share lots.
type ledger struct {
	mu     sync.Mutex
	lots   []*domain.Lot // FIFO: oldest first
	events []domain.PnLEvent
}

// Matcher owns all position ledgers. Each wallet+token pair maps to an
// isolated ledger so concurrent replays of different positions never
// contend.
type Matcher struct {
	mu      sync.Mutex
	ledgers map[string]*ledger
	metrics *observability.Metrics
}

// NewMatcher creates a Matcher. metrics may be nil.
func NewMatcher(metrics *observability.Metrics) *Matcher {
	return &Matcher{
		ledgers: make(map[string]*ledger),
		metrics: metrics,
	}
}

func ledgerKey(wallet, token string) string {
	return wallet + "|" + token
}

// getLedger returns the ledger for a wallet+token, creating it if needed.
func (m *Matcher) getLedger(wallet, token string) *ledger {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey(wallet, token)
	l, ok := m.ledgers[key]
	if !ok {
		l = &ledger{}
		m.ledgers[key] = l
	}
	return l
}

// Replay resets a wallet+token ledger, applies trades in order and returns
// the realized events together with the open-lot snapshot taken under the
// same ledger lock, so callers never pair one replay's events with another
// replay's lots. Trades must be ordered by (timestamp, provenance_id)
// ascending; replaying the same list always yields identical events and
// lots.
func (m *Matcher) Replay(wallet, token string, trades []*domain.CanonicalTrade) ([]domain.PnLEvent, domain.PositionSnapshot, []domain.Warning, error) {
	l := m.getLedger(wallet, token)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lots = nil
	l.events = nil

	var warnings []domain.Warning
	for _, t := range trades {
		if t.Wallet != wallet || t.Token != token {
			return nil, domain.PositionSnapshot{}, nil, fmt.Errorf("trade %s does not belong to position %s/%s", t.ProvenanceID, wallet, token)
		}
		switch t.Side {
		case domain.TradeSideBuy:
			l.applyBuy(t)
		case domain.TradeSideSell:
			ev := l.applySell(t)
			if ev.Shortfall {
				warnings = append(warnings, domain.NewShortfallWarning(wallet, token, t.ProvenanceID, ev.ShortfallAmount))
				if m.metrics != nil {
					m.metrics.ShortfallsDetected.Inc()
				}
			}
			if m.metrics != nil {
				m.metrics.PnLEventsComputed.Inc()
			}
		default:
			return nil, domain.PositionSnapshot{}, nil, fmt.Errorf("trade %s has unknown side %q", t.ProvenanceID, t.Side)
		}
	}

	events := make([]domain.PnLEvent, len(l.events))
	copy(events, l.events)
	return events, l.snapshotLocked(wallet, token), warnings, nil
}

// applyBuy opens a new lot at the trade's price.
func (l *ledger) applyBuy(t *domain.CanonicalTrade) {
	l.lots = append(l.lots, &domain.Lot{
		LotID:           idhash.ComputeLotID(t.Wallet, t.Token, t.ProvenanceID),
		Wallet:          t.Wallet,
		Token:           t.Token,
		OpenedAmount:    t.BaseAmount,
		RemainingAmount: t.BaseAmount,
		UnitCost:        t.Price,
		OpenedAt:        t.Timestamp,
	})
}

// applySell consumes lots oldest-first and records one realized event. A
// sell larger than tracked holdings realizes the unmatched remainder at zero
// cost basis and flags the event as a shortfall.
func (l *ledger) applySell(t *domain.CanonicalTrade) domain.PnLEvent {
	ev := domain.PnLEvent{
		Wallet:         t.Wallet,
		Token:          t.Token,
		ClosingTradeID: t.ProvenanceID,
		Timestamp:      t.Timestamp,
	}

	remaining := t.BaseAmount
	for remaining > 0 && len(l.lots) > 0 {
		lot := l.lots[0]

		q := remaining
		if q > lot.RemainingAmount {
			q = lot.RemainingAmount
		}

		ev.Realized += q * (t.Price - lot.UnitCost)
		ev.MatchedLots = append(ev.MatchedLots, lot.LotID)

		lot.RemainingAmount -= q
		remaining -= q

		if lot.RemainingAmount <= 0 {
			l.lots = l.lots[1:]
		}
	}

	if remaining > 0 {
		ev.Realized += remaining * t.Price
		ev.Shortfall = true
		ev.ShortfallAmount = remaining
	}

	l.events = append(l.events, ev)
	return ev
}

// Snapshot returns an immutable copy of a position's open lots as of its
// last replay. A position never replayed yields an empty snapshot.
func (m *Matcher) Snapshot(wallet, token string) domain.PositionSnapshot {
	l := m.getLedger(wallet, token)

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshotLocked(wallet, token)
}

// snapshotLocked copies the open lots. Callers hold the ledger mutex.
func (l *ledger) snapshotLocked(wallet, token string) domain.PositionSnapshot {
	snap := domain.PositionSnapshot{
		Wallet: wallet,
		Token:  token,
	}

	var costSum float64
	for _, lot := range l.lots {
		snap.OpenLots = append(snap.OpenLots, *lot)
		snap.TotalRemaining += lot.RemainingAmount
		costSum += lot.RemainingAmount * lot.UnitCost
	}
	if snap.TotalRemaining > 0 {
		snap.AvgCost = costSum / snap.TotalRemaining
	}

	return snap
}
