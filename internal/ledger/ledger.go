// Package ledger implements the per-account position ledger: it turns a
// stream of copied fills into net positions per outcome token, a bounded
// closed-trade history with realized P&L, market-resolution settlements,
// and time-windowed analytics.
//
// A Ledger is a self-contained, mutex-guarded aggregate. It performs no
// network I/O, holds no process-wide state, and never blocks: collaborators
// fetch everything they need before calling in.
package ledger

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

const (
	// maxClosedRecords bounds the closed-position history; oldest evicted.
	maxClosedRecords = 200

	// maxTradeHistory bounds the raw fill history; oldest evicted.
	maxTradeHistory = 1000

	// driftTolerance is how far the cached realizedPnL may stray from the
	// sum of its constituent records before it is recomputed.
	driftTolerance = 1e-6
)

// Ledger owns the position state for one account. All exported methods
// lock; unexported helpers assume the lock is held.
type Ledger struct {
	mu sync.Mutex

	open     map[string]domain.Position // keyed by token ID
	closed   []domain.ClosedPositionRecord
	resolved []domain.ResolvedPositionRecord
	history  []domain.TradeHistoryRecord

	// realizedPnL is a memoized projection of the closed and resolved
	// logs, reconciled against them whenever drift is detected.
	realizedPnL float64

	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty Ledger. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		open:   make(map[string]domain.Position),
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// FromSnapshot creates a Ledger from a persisted snapshot.
func FromSnapshot(snap domain.LedgerSnapshot, logger *slog.Logger) *Ledger {
	l := New(logger)
	l.RestoreSnapshot(snap)
	return l
}

// ---------------------------------------------------------------------------
// Read accessors
// ---------------------------------------------------------------------------

// OpenPositions returns copies of all live positions, oldest first.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenPosition returns the live position for a token, if any.
func (l *Ledger) OpenPosition(tokenID string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.open[tokenID]
	return p, ok
}

// ClosedPositions returns up to limit of the most recent closed records,
// newest first. limit <= 0 returns all retained records.
func (l *Ledger) ClosedPositions(limit int) []domain.ClosedPositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.closed)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.ClosedPositionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.closed[i])
	}
	return out
}

// ClosedBefore returns all retained closed records with ClosedAt strictly
// before the cutoff, oldest first. Used by the archiver.
func (l *Ledger) ClosedBefore(before time.Time) []domain.ClosedPositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.ClosedPositionRecord
	for _, c := range l.closed {
		if c.ClosedAt.Before(before) {
			out = append(out, c)
		}
	}
	return out
}

// ResolvedPositions returns copies of all resolution settlements, oldest
// first.
func (l *Ledger) ResolvedPositions() []domain.ResolvedPositionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.ResolvedPositionRecord, len(l.resolved))
	copy(out, l.resolved)
	return out
}

// HistoryBefore returns retained trade-history records with Timestamp
// strictly before the cutoff, oldest first. Used by the archiver.
func (l *Ledger) HistoryBefore(before time.Time) []domain.TradeHistoryRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.TradeHistoryRecord
	for _, h := range l.history {
		if h.Timestamp.Before(before) {
			out = append(out, h)
		}
	}
	return out
}

// HistoryLen returns the number of retained trade-history records.
func (l *Ledger) HistoryLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// MarketIDs returns the distinct market IDs with at least one live
// position. The resolution detector scans these.
func (l *Ledger) MarketIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{})
	for _, p := range l.open {
		seen[p.MarketID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RealizedPnL returns the aggregate realized P&L across closed and
// resolved positions, reconciling the cached total first.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reconcilePnL()
	return l.realizedPnL
}

// ---------------------------------------------------------------------------
// Snapshot / restore / reset
// ---------------------------------------------------------------------------

// Snapshot returns a deep copy of the full ledger state for persistence.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{
		OpenPositions:     make(map[string]domain.Position, len(l.open)),
		ClosedPositions:   make([]domain.ClosedPositionRecord, len(l.closed)),
		ResolvedPositions: make([]domain.ResolvedPositionRecord, len(l.resolved)),
		TradeHistory:      make([]domain.TradeHistoryRecord, len(l.history)),
		RealizedPnL:       l.realizedPnL,
	}
	for id, p := range l.open {
		snap.OpenPositions[id] = p
	}
	copy(snap.ClosedPositions, l.closed)
	copy(snap.ResolvedPositions, l.resolved)
	copy(snap.TradeHistory, l.history)
	return snap
}

// RestoreSnapshot replaces the ledger state with the snapshot's contents.
// The realized P&L invariant is re-checked so drift persisted by an older
// process heals on load.
func (l *Ledger) RestoreSnapshot(snap domain.LedgerSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open = make(map[string]domain.Position, len(snap.OpenPositions))
	for id, p := range snap.OpenPositions {
		if !p.Live() {
			continue
		}
		l.open[id] = p
	}
	l.closed = append([]domain.ClosedPositionRecord(nil), snap.ClosedPositions...)
	l.resolved = append([]domain.ResolvedPositionRecord(nil), snap.ResolvedPositions...)
	l.history = append([]domain.TradeHistoryRecord(nil), snap.TradeHistory...)
	l.realizedPnL = snap.RealizedPnL
	l.reconcilePnL()
}

// Reset clears all four collections and the realized P&L total.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open = make(map[string]domain.Position)
	l.closed = nil
	l.resolved = nil
	l.history = nil
	l.realizedPnL = 0
}

// ---------------------------------------------------------------------------
// internal helpers (lock held)
// ---------------------------------------------------------------------------

// reconcilePnL recomputes realizedPnL from the append-only logs and
// corrects the cached total when float accumulation has drifted. The logs
// are the source of truth; the field is only a memoized projection.
func (l *Ledger) reconcilePnL() {
	var sum float64
	for _, c := range l.closed {
		sum += c.RealizedPnL
	}
	for _, r := range l.resolved {
		sum += r.RealizedPnL
	}
	if math.Abs(sum-l.realizedPnL) > driftTolerance {
		l.logger.Warn("ledger: realized pnl drift corrected",
			slog.Float64("cached", l.realizedPnL),
			slog.Float64("recomputed", sum),
		)
		l.realizedPnL = sum
	}
}

// appendClosed appends a closed record, evicting the oldest beyond the
// retention bound.
func (l *Ledger) appendClosed(rec domain.ClosedPositionRecord) {
	if len(l.closed) >= maxClosedRecords {
		l.closed = l.closed[len(l.closed)-maxClosedRecords+1:]
	}
	l.closed = append(l.closed, rec)
}

// appendHistory appends a trade-history record, evicting the oldest
// beyond the retention bound.
func (l *Ledger) appendHistory(rec domain.TradeHistoryRecord) {
	if len(l.history) >= maxTradeHistory {
		l.history = l.history[len(l.history)-maxTradeHistory+1:]
	}
	l.history = append(l.history, rec)
}
