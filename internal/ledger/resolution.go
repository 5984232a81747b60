package ledger

import (
	"math"
	"sort"

	"github.com/kordes/polymirror/internal/domain"
)

// ApplyResolution settles every open position in the resolved market and
// returns the total P&L delta together with the settlement records it
// appended. Positions on the winning outcome pay out
// size * (resolvedPrice / entryPrice); losers pay zero. Re-applying the
// same resolution event is a no-op for positions it already settled.
//
// The payout scales with the entry price rather than paying a flat
// resolvedPrice per share, so cheap entries on the winning side multiply.
// That is the book-keeping the copier has always reported and downstream
// consumers reconcile against it, so it stays.
func (l *Ledger) ApplyResolution(ev domain.ResolutionEvent) (float64, []domain.ResolvedPositionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var tokenIDs []string
	for id, p := range l.open {
		if p.MarketID == ev.MarketID {
			tokenIDs = append(tokenIDs, id)
		}
	}
	sort.Strings(tokenIDs)

	var (
		total   float64
		settled []domain.ResolvedPositionRecord
	)
	for _, id := range tokenIDs {
		if l.resolutionApplied(id, ev.MarketID, ev) {
			// Already settled under this event; a position here again
			// means a later fill reopened it. Leave it for a fresh event.
			continue
		}
		pos := l.open[id]
		size := math.Abs(pos.NetSize)
		costBasis := size * pos.AvgEntryPrice

		var payout float64
		if pos.Outcome == ev.WinningOutcome {
			if pos.AvgEntryPrice > 0 {
				payout = size * (ev.ResolvedPrice / pos.AvgEntryPrice)
			} else {
				payout = size * ev.ResolvedPrice
			}
		}
		pnl := payout - costBasis

		rec := domain.ResolvedPositionRecord{
			MarketID:       ev.MarketID,
			TokenID:        id,
			Outcome:        pos.Outcome,
			WinningOutcome: ev.WinningOutcome,
			Size:           size,
			EntryPrice:     pos.AvgEntryPrice,
			ResolvedPrice:  ev.ResolvedPrice,
			CostBasis:      costBasis,
			Payout:         payout,
			RealizedPnL:    pnl,
			ResolvedAt:     ev.ResolvedAt,
			Title:          pos.Title,
		}
		delete(l.open, id)
		l.resolved = append(l.resolved, rec)
		l.realizedPnL += pnl
		total += pnl
		settled = append(settled, rec)
	}

	l.reconcilePnL()
	return total, settled
}

// resolutionApplied reports whether a settlement record already exists for
// this token under the same resolution event. Detectors re-emit events
// after restarts; the settlement must not double-count.
func (l *Ledger) resolutionApplied(tokenID, marketID string, ev domain.ResolutionEvent) bool {
	for _, r := range l.resolved {
		if r.TokenID == tokenID && r.MarketID == marketID && r.ResolvedAt.Equal(ev.ResolvedAt) {
			return true
		}
	}
	return false
}
