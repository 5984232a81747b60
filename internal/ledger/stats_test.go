package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/polymirror/internal/domain"
)

func tradeAt(tr domain.Trade, at time.Time) domain.Trade {
	tr.Timestamp = at
	return tr
}

func TestStatsForWindowAggregates(t *testing.T) {
	l := newTestLedger()

	first := buy(upToken, "Up", 100, 0.50)
	second := buy("tok-b", "Yes", 75, 0.40)
	second.MarketID = "0xbeef"
	outside := buy("tok-c", "Yes", 10, 0.50)
	outside.MarketID = "0xdead"

	l.ApplyTrade(tradeAt(first, t0.Add(100*time.Second)), 100) // value 50
	l.ApplyTrade(tradeAt(second, t0.Add(200*time.Second)), 75) // value 30
	l.ApplyTrade(tradeAt(outside, t0.Add(400*time.Second)), 10)

	stats := l.StatsForWindow(t0, t0.Add(300*time.Second))

	assert.InDelta(t, 80, stats.Volume, 1e-9)
	assert.InDelta(t, 50, stats.MaxTradeValue, 1e-9)
	assert.Equal(t, 2, stats.TradeCount)
	assert.InDelta(t, 80, stats.PeakExposure, 1e-9)
	assert.InDelta(t, 0, stats.RealizedPnL, 1e-12)
}

func TestStatsForWindowBoundsAreHalfOpen(t *testing.T) {
	l := newTestLedger()

	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), t0), 10)
	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), t0.Add(300*time.Second)), 10)

	stats := l.StatsForWindow(t0, t0.Add(300*time.Second))
	assert.Equal(t, 1, stats.TradeCount)
}

func TestStatsForWindowClosedPnL(t *testing.T) {
	l := newTestLedger()

	l.setClock(t0.Add(10 * time.Second))
	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), t0.Add(10*time.Second)), 10)
	l.setClock(t0.Add(20 * time.Second))
	l.ApplyTrade(tradeAt(sell(upToken, "Up", 10, 0.60), t0.Add(20*time.Second)), 10)

	// A resolution inside the window must not leak into the window P&L.
	other := buy("tok-b", "Yes", 10, 0.50)
	other.MarketID = "0xbeef"
	l.setClock(t0.Add(30 * time.Second))
	l.ApplyTrade(tradeAt(other, t0.Add(30*time.Second)), 10)
	l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       "0xbeef",
		WinningOutcome: "Yes",
		ResolvedAt:     t0.Add(40 * time.Second),
		ResolvedPrice:  1.0,
	})

	stats := l.StatsForWindow(t0, t0.Add(time.Minute))
	assert.InDelta(t, 1.0, stats.RealizedPnL, 1e-9)

	later := l.StatsForWindow(t0.Add(time.Minute), t0.Add(2*time.Minute))
	assert.InDelta(t, 0, later.RealizedPnL, 1e-12)
}

func TestPeakExposureSeedsPreWindowOpenPositions(t *testing.T) {
	l := newTestLedger()

	before := t0.Add(-time.Hour)
	l.setClock(before)
	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), before), 10) // notional 5

	l.setClock(t0.Add(100 * time.Second))
	inWindow := buy("tok-b", "Yes", 10, 0.30)
	inWindow.MarketID = "0xbeef"
	l.ApplyTrade(tradeAt(inWindow, t0.Add(100*time.Second)), 10) // value 3

	stats := l.StatsForWindow(t0, t0.Add(300*time.Second))
	assert.Equal(t, 1, stats.TradeCount)
	assert.InDelta(t, 8, stats.PeakExposure, 1e-9)
}

func TestPeakExposureSeedsPositionsClosedInsideWindow(t *testing.T) {
	l := newTestLedger()

	before := t0.Add(-time.Hour)
	l.setClock(before)
	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), before), 10) // notional 5

	closeAt := t0.Add(50 * time.Second)
	l.setClock(closeAt)
	l.ApplyTrade(tradeAt(sell(upToken, "Up", 10, 0.60), closeAt), 10)

	stats := l.StatsForWindow(t0, t0.Add(300*time.Second))
	require.Empty(t, l.OpenPositions())
	// Exposure peaked at the seeded pre-window notional before the sell
	// flattened it.
	assert.InDelta(t, 5, stats.PeakExposure, 1e-9)
	assert.InDelta(t, 1.0, stats.RealizedPnL, 1e-9)
}

func TestPeakExposureHedgeAwareReplay(t *testing.T) {
	l := newTestLedger()

	l.setClock(t0.Add(10 * time.Second))
	l.ApplyTrade(tradeAt(buy(upToken, "Up", 10, 0.50), t0.Add(10*time.Second)), 10) // value 5

	l.setClock(t0.Add(20 * time.Second))
	l.ApplyTrade(tradeAt(buy(downToken, "Down", 10, 0.30), t0.Add(20*time.Second)), 10) // value 3

	stats := l.StatsForWindow(t0, t0.Add(time.Minute))
	// The Down buy pays the Up exposure down rather than stacking on top:
	// peak stays at the first leg's 5, not 8.
	assert.InDelta(t, 5, stats.PeakExposure, 1e-9)
	assert.InDelta(t, 5, stats.MaxTradeValue, 1e-9)
	assert.InDelta(t, 8, stats.Volume, 1e-9)
}

func TestStatsForWindowEmpty(t *testing.T) {
	l := newTestLedger()
	stats := l.StatsForWindow(t0, t0.Add(time.Hour))

	assert.Zero(t, stats.TradeCount)
	assert.InDelta(t, 0, stats.Volume, 1e-12)
	assert.InDelta(t, 0, stats.PeakExposure, 1e-12)
	assert.Equal(t, t0, stats.Start)
	assert.Equal(t, t0.Add(time.Hour), stats.End)
}
