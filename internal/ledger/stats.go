package ledger

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// StatsForWindow aggregates activity over [start, end): copy volume,
// largest single fill, fill count, peak concurrent exposure and the
// realized P&L of positions closed inside the window. Resolution payouts
// are excluded from the window P&L; they settle on the market's schedule,
// not the trader's.
func (l *Ledger) StatsForWindow(start, end time.Time) domain.WindowStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := domain.WindowStats{Start: start, End: end}

	trades := make([]domain.TradeHistoryRecord, 0, len(l.history))
	for _, t := range l.history {
		if t.Timestamp.Before(start) || !t.Timestamp.Before(end) {
			continue
		}
		trades = append(trades, t)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

	for _, t := range trades {
		stats.Volume += t.CopyValue
		if t.CopyValue > stats.MaxTradeValue {
			stats.MaxTradeValue = t.CopyValue
		}
	}
	stats.TradeCount = len(trades)
	stats.PeakExposure = l.peakExposure(start, trades)

	for _, c := range l.closed {
		if !c.ClosedAt.Before(start) && c.ClosedAt.Before(end) {
			stats.RealizedPnL += c.RealizedPnL
		}
	}
	return stats
}

// peakExposure replays the window's fills over a scratch map of open
// notional keyed by market and outcome, seeded with positions that were
// already open when the window started, and returns the highest running
// total. The replay mirrors ApplyTrade's hedge rule: a BUY pays down the
// opposite outcome's notional before adding its own.
func (l *Ledger) peakExposure(start time.Time, trades []domain.TradeHistoryRecord) float64 {
	scratch := make(map[string]float64)

	for _, c := range l.closed {
		if c.OpenedAt.Before(start) && !c.ClosedAt.Before(start) {
			scratch[exposureKey(c.MarketID, seedOutcome(c))] += c.Size * c.EntryPrice
		}
	}
	for _, p := range l.open {
		if p.OpenedAt.Before(start) {
			scratch[exposureKey(p.MarketID, p.Outcome)] += p.Notional()
		}
	}

	peak := sumExposure(scratch)
	for _, t := range trades {
		key := exposureKey(t.MarketID, t.Outcome)
		value := t.CopyValue

		if t.Side == domain.SideBuy {
			if oppKey, ok := oppositeExposure(scratch, t.MarketID, key); ok {
				reduced := math.Min(scratch[oppKey], value)
				scratch[oppKey] -= reduced
				if scratch[oppKey] <= domain.Epsilon {
					delete(scratch, oppKey)
				}
				value -= reduced
			}
			if value > 0 {
				scratch[key] += value
			}
		} else {
			scratch[key] -= value
			if scratch[key] <= domain.Epsilon {
				delete(scratch, key)
			}
		}

		if total := sumExposure(scratch); total > peak {
			peak = total
		}
	}
	return peak
}

func exposureKey(marketID, outcome string) string {
	return marketID + ":" + outcome
}

// seedOutcome recovers the held side's outcome from a closed record. Hedge
// records label the outcome "closed → bought"; the notional that was at
// risk belonged to the closed side.
func seedOutcome(c domain.ClosedPositionRecord) string {
	if closed, _, ok := strings.Cut(c.Outcome, " → "); ok {
		return closed
	}
	return c.Outcome
}

// oppositeExposure finds a scratch entry on the same market with a
// different outcome and notional left to pay down.
func oppositeExposure(scratch map[string]float64, marketID, selfKey string) (string, bool) {
	prefix := marketID + ":"
	for key, notional := range scratch {
		if key == selfKey || !strings.HasPrefix(key, prefix) {
			continue
		}
		if notional > domain.Epsilon {
			return key, true
		}
	}
	return "", false
}

func sumExposure(scratch map[string]float64) float64 {
	var total float64
	for _, v := range scratch {
		total += v
	}
	return total
}

// RealizedPnLSince sums the realized P&L of closed records with ClosedAt
// at or after start. Resolution settlements are not counted.
func (l *Ledger) RealizedPnLSince(start time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, c := range l.closed {
		if !c.ClosedAt.Before(start) {
			total += c.RealizedPnL
		}
	}
	return total
}

// UnrealizedPnL marks every open position against the supplied prices.
// Longs earn (current - entry) * netSize, shorts (entry - current) * |netSize|.
// Positions without a current price are skipped rather than guessed at.
func (l *Ledger) UnrealizedPnL(prices domain.CurrentPriceMap) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for id, p := range l.open {
		cur, ok := prices[id]
		if !ok {
			continue
		}
		if p.IsLong() {
			total += (cur - p.AvgEntryPrice) * p.NetSize
		} else {
			total += (p.AvgEntryPrice - cur) * math.Abs(p.NetSize)
		}
	}
	return total
}
