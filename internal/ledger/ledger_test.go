package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/polymirror/internal/domain"
)

var (
	t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	upToken   = "7129811452367"
	downToken = "7129811452368"
	marketID  = "0xc0ffee01"
)

func newTestLedger() *Ledger {
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.now = func() time.Time { return t0 }
	return l
}

func (l *Ledger) setClock(at time.Time) {
	l.now = func() time.Time { return at }
}

func buy(token, outcome string, size, price float64) domain.Trade {
	return domain.Trade{
		TransactionHash: fmt.Sprintf("0xtx-%s-%f", token, price),
		Timestamp:       t0,
		MarketID:        marketID,
		TokenID:         token,
		Outcome:         outcome,
		Side:            domain.SideBuy,
		Size:            size,
		Price:           price,
		Title:           "Will it rain tomorrow?",
	}
}

func sell(token, outcome string, size, price float64) domain.Trade {
	tr := buy(token, outcome, size, price)
	tr.Side = domain.SideSell
	return tr
}

func TestApplyTradeOpenIncreaseFullClose(t *testing.T) {
	l := newTestLedger()

	events := l.ApplyTrade(buy(upToken, "Up", 10, 0.60), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpened, events[0].Kind)
	require.NotNil(t, events[0].Position)
	assert.InDelta(t, 10, events[0].Position.NetSize, 1e-9)
	assert.InDelta(t, 0.60, events[0].Position.AvgEntryPrice, 1e-9)

	events = l.ApplyTrade(buy(upToken, "Up", 5, 0.70), 5)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventIncreased, events[0].Kind)

	pos, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, 15, pos.NetSize, 1e-9)
	assert.InDelta(t, 0.6333, pos.AvgEntryPrice, 1e-4)

	events = l.ApplyTrade(sell(upToken, "Up", 15, 0.80), 15)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventFullClose, events[0].Kind)
	require.NotNil(t, events[0].Closed)
	assert.Equal(t, domain.CloseFull, events[0].Closed.Kind)
	assert.InDelta(t, 2.5, events[0].Closed.RealizedPnL, 1e-9)
	assert.InDelta(t, 2.5, events[0].RealizedPnLDelta, 1e-9)

	_, ok = l.OpenPosition(upToken)
	assert.False(t, ok)
	assert.InDelta(t, 2.5, l.RealizedPnL(), 1e-9)

	closed := l.ClosedPositions(0)
	require.Len(t, closed, 1)
	assert.Equal(t, "Up", closed[0].Outcome)
	assert.InDelta(t, 15, closed[0].Size, 1e-9)
	assert.InDelta(t, 0.6333, closed[0].EntryPrice, 1e-4)
	assert.InDelta(t, 0.80, closed[0].ExitPrice, 1e-9)
}

func TestApplyTradePartialCloseKeepsEntry(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)

	events := l.ApplyTrade(sell(upToken, "Up", 4, 0.70), 4)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPartialClose, events[0].Kind)
	assert.InDelta(t, 0.8, events[0].Closed.RealizedPnL, 1e-9)

	pos, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, 6, pos.NetSize, 1e-9)
	assert.InDelta(t, 0.50, pos.AvgEntryPrice, 1e-9)
}

func TestApplyTradeSellBeyondHeldReverses(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)

	reversedAt := t0.Add(time.Hour)
	l.setClock(reversedAt)

	events := l.ApplyTrade(sell(upToken, "Up", 15, 0.60), 15)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventFullClose, events[0].Kind)
	assert.Equal(t, domain.EventOpened, events[1].Kind)

	require.NotNil(t, events[0].Closed)
	assert.InDelta(t, 10, events[0].Closed.Size, 1e-9)
	assert.InDelta(t, 1.0, events[0].Closed.RealizedPnL, 1e-9)

	pos, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, -5, pos.NetSize, 1e-9)
	assert.InDelta(t, 0.60, pos.AvgEntryPrice, 1e-9)
	assert.Equal(t, reversedAt, pos.OpenedAt)

	assert.InDelta(t, 1.0, l.RealizedPnL(), 1e-9)
}

func TestApplyTradeShortCover(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(sell(upToken, "Up", 10, 0.70), 10)

	pos, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, -10, pos.NetSize, 1e-9)

	events := l.ApplyTrade(buy(upToken, "Up", 10, 0.40), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventFullClose, events[0].Kind)
	assert.InDelta(t, 3.0, events[0].Closed.RealizedPnL, 1e-9)

	_, ok = l.OpenPosition(upToken)
	assert.False(t, ok)
}

func TestApplyTradeOppositeOutcomeBuyHedges(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.55), 10)

	events := l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHedgeClose, events[0].Kind)
	require.NotNil(t, events[0].Closed)

	rec := events[0].Closed
	assert.Equal(t, domain.CloseHedge, rec.Kind)
	assert.Equal(t, "Up → Down", rec.Outcome)
	assert.Equal(t, upToken, rec.TokenID)
	assert.InDelta(t, 10, rec.Size, 1e-9)
	assert.InDelta(t, 0.55, rec.EntryPrice, 1e-9)
	assert.InDelta(t, 0.40, rec.ExitPrice, 1e-9)
	assert.InDelta(t, 0.5, rec.RealizedPnL, 1e-9)

	_, ok := l.OpenPosition(upToken)
	assert.False(t, ok)

	down, ok := l.OpenPosition(downToken)
	require.True(t, ok)
	assert.InDelta(t, 10, down.NetSize, 1e-9)
	assert.InDelta(t, 0.40, down.AvgEntryPrice, 1e-9)

	assert.InDelta(t, 0.5, l.RealizedPnL(), 1e-9)
}

func TestApplyTradePartialHedgeLeavesRemainder(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 20, 0.55), 20)

	events := l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPartialHedge, events[0].Kind)
	assert.Equal(t, domain.ClosePartialHedge, events[0].Closed.Kind)
	assert.InDelta(t, 10, events[0].Closed.Size, 1e-9)
	assert.InDelta(t, 0.5, events[0].Closed.RealizedPnL, 1e-9)

	up, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, 10, up.NetSize, 1e-9)
	assert.InDelta(t, 0.55, up.AvgEntryPrice, 1e-9)

	down, ok := l.OpenPosition(downToken)
	require.True(t, ok)
	assert.InDelta(t, 10, down.NetSize, 1e-9)
}

func TestApplyTradeHedgeMergesExistingInventory(t *testing.T) {
	// Seeded directly: both sides held long, as a restart after partial
	// hedging would leave them.
	l := newTestLedger()
	l.RestoreSnapshot(domain.LedgerSnapshot{
		OpenPositions: map[string]domain.Position{
			downToken: {TokenID: downToken, MarketID: marketID, Outcome: "Down", NetSize: 10, AvgEntryPrice: 0.30, OpenedAt: t0},
			upToken:   {TokenID: upToken, MarketID: marketID, Outcome: "Up", NetSize: 5, AvgEntryPrice: 0.55, OpenedAt: t0},
		},
	})

	// Buying Down hedges the Up long and merges into the held Down.
	events := l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHedgeClose, events[0].Kind)
	assert.InDelta(t, 5, events[0].Closed.Size, 1e-9)
	assert.InDelta(t, 5*(1-0.55-0.40), events[0].Closed.RealizedPnL, 1e-9)

	down, ok := l.OpenPosition(downToken)
	require.True(t, ok)
	assert.InDelta(t, 20, down.NetSize, 1e-9)
	assert.InDelta(t, 0.35, down.AvgEntryPrice, 1e-9) // (10*0.30 + 10*0.40) / 20
}

func TestApplyTradeHedgeCoversShortOnBoughtToken(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(sell(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)

	// Buying Up hedges the Down long and covers the Up short in one fill.
	events := l.ApplyTrade(buy(upToken, "Up", 10, 0.45), 10)
	require.Len(t, events, 2)

	assert.Equal(t, domain.EventHedgeClose, events[0].Kind)
	require.NotNil(t, events[0].Closed)
	assert.Equal(t, "Down → Up", events[0].Closed.Outcome)
	assert.InDelta(t, 10*(1-0.40-0.45), events[0].Closed.RealizedPnL, 1e-9)

	assert.Equal(t, domain.EventFullClose, events[1].Kind)
	require.NotNil(t, events[1].Closed)
	assert.Equal(t, upToken, events[1].Closed.TokenID)
	assert.InDelta(t, 10, events[1].Closed.Size, 1e-9)
	assert.InDelta(t, 0.50, events[1].Closed.EntryPrice, 1e-9)
	assert.InDelta(t, 10*(0.50-0.45), events[1].Closed.RealizedPnL, 1e-9)

	// An exact cover leaves nothing open on either token.
	_, ok := l.OpenPosition(upToken)
	assert.False(t, ok)
	_, ok = l.OpenPosition(downToken)
	assert.False(t, ok)

	assert.InDelta(t, 1.5+0.5, l.RealizedPnL(), 1e-9)
}

func TestApplyTradeHedgePartialCoverKeepsShortEntry(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(sell(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)

	events := l.ApplyTrade(buy(upToken, "Up", 4, 0.45), 4)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPartialHedge, events[0].Kind)
	assert.Equal(t, domain.EventPartialClose, events[1].Kind)
	assert.InDelta(t, 4*(0.50-0.45), events[1].Closed.RealizedPnL, 1e-9)

	// The residual short keeps its original entry, never blended with the
	// buy price.
	up, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, -6, up.NetSize, 1e-9)
	assert.InDelta(t, 0.50, up.AvgEntryPrice, 1e-9)

	down, ok := l.OpenPosition(downToken)
	require.True(t, ok)
	assert.InDelta(t, 6, down.NetSize, 1e-9)
	assert.InDelta(t, 0.40, down.AvgEntryPrice, 1e-9)

	assert.InDelta(t, 4*(1-0.40-0.45)+0.2, l.RealizedPnL(), 1e-9)
}

func TestApplyTradeShortOppositeIsNotAHedge(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(sell(upToken, "Up", 10, 0.55), 10)

	events := l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpened, events[0].Kind)

	up, ok := l.OpenPosition(upToken)
	require.True(t, ok)
	assert.InDelta(t, -10, up.NetSize, 1e-9)
}

func TestApplyTradeDustIsIgnored(t *testing.T) {
	l := newTestLedger()

	assert.Nil(t, l.ApplyTrade(buy(upToken, "Up", 10, 0.60), 0))
	assert.Nil(t, l.ApplyTrade(buy(upToken, "Up", 10, 0.60), 1e-9))

	_, ok := l.OpenPosition(upToken)
	assert.False(t, ok)
	assert.Zero(t, l.HistoryLen())
	assert.InDelta(t, 0, l.RealizedPnL(), 1e-12)
}

func TestApplyResolutionWinnerPayoutScalesWithEntry(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 20, 0.65), 20)

	resolvedAt := t0.Add(24 * time.Hour)
	total, settled := l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Up",
		ResolvedAt:     resolvedAt,
		ResolvedPrice:  0.99,
	})

	require.Len(t, settled, 1)
	rec := settled[0]
	assert.InDelta(t, 13.0, rec.CostBasis, 1e-9)
	assert.InDelta(t, 30.4615, rec.Payout, 1e-3)
	assert.InDelta(t, 17.4615, rec.RealizedPnL, 1e-3)
	assert.InDelta(t, 17.4615, total, 1e-3)
	assert.Equal(t, "Up", rec.WinningOutcome)
	assert.Equal(t, resolvedAt, rec.ResolvedAt)

	_, ok := l.OpenPosition(upToken)
	assert.False(t, ok)
	assert.InDelta(t, 17.4615, l.RealizedPnL(), 1e-3)
}

func TestApplyResolutionLoserPaysZero(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(downToken, "Down", 10, 0.30), 10)

	total, settled := l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Up",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  1.0,
	})

	require.Len(t, settled, 1)
	assert.InDelta(t, 0, settled[0].Payout, 1e-9)
	assert.InDelta(t, -3.0, settled[0].RealizedPnL, 1e-9)
	assert.InDelta(t, -3.0, total, 1e-9)
}

func TestApplyResolutionSettlesBothSides(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(sell(upToken, "Up", 10, 0.55), 10)
	l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)

	total, settled := l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Down",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  1.0,
	})

	require.Len(t, settled, 2)
	assert.Empty(t, l.OpenPositions())

	// Down won: payout 10 * (1.0 / 0.40) = 25, cost 4. The short Up leg
	// settles as a plain loser of its cost basis.
	assert.InDelta(t, (25.0-4.0)+(0.0-5.5), total, 1e-9)
}

func TestApplyResolutionIdempotent(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 20, 0.65), 20)

	ev := domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Up",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  1.0,
	}

	first, settled := l.ApplyResolution(ev)
	require.Len(t, settled, 1)

	again, settledAgain := l.ApplyResolution(ev)
	assert.Zero(t, again)
	assert.Empty(t, settledAgain)
	assert.Len(t, l.ResolvedPositions(), 1)
	assert.InDelta(t, first, l.RealizedPnL(), 1e-9)
}

func TestApplyResolutionStaleEventSkipsReopenedPosition(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)

	ev := domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Up",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  1.0,
	}
	_, settled := l.ApplyResolution(ev)
	require.Len(t, settled, 1)

	// A late fill reopens the token; redelivering the old event must not
	// consume it, but a fresh event settles it.
	l.ApplyTrade(buy(upToken, "Up", 5, 0.80), 5)
	_, settled = l.ApplyResolution(ev)
	assert.Empty(t, settled)
	_, ok := l.OpenPosition(upToken)
	require.True(t, ok)

	fresh := ev
	fresh.ResolvedAt = ev.ResolvedAt.Add(time.Minute)
	_, settled = l.ApplyResolution(fresh)
	assert.Len(t, settled, 1)
	assert.Len(t, l.ResolvedPositions(), 2)
}

func TestApplyResolutionZeroEntryFallback(t *testing.T) {
	l := newTestLedger()
	l.RestoreSnapshot(domain.LedgerSnapshot{
		OpenPositions: map[string]domain.Position{
			upToken: {
				TokenID:  upToken,
				MarketID: marketID,
				Outcome:  "Up",
				NetSize:  10,
				OpenedAt: t0,
			},
		},
	})

	_, settled := l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Up",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  0.99,
	})
	require.Len(t, settled, 1)
	assert.InDelta(t, 9.9, settled[0].Payout, 1e-9)
}

func TestRealizedPnLMatchesRecordSums(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(sell(upToken, "Up", 6, 0.70), 6)
	l.ApplyTrade(buy(downToken, "Down", 4, 0.40), 4)
	l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: "Down",
		ResolvedAt:     t0.Add(time.Hour),
		ResolvedPrice:  1.0,
	})

	var sum float64
	for _, c := range l.ClosedPositions(0) {
		sum += c.RealizedPnL
	}
	for _, r := range l.ResolvedPositions() {
		sum += r.RealizedPnL
	}
	assert.InDelta(t, sum, l.RealizedPnL(), 1e-9)
}

func TestRestoreSnapshotHealsPnLDrift(t *testing.T) {
	l := newTestLedger()
	l.RestoreSnapshot(domain.LedgerSnapshot{
		ClosedPositions: []domain.ClosedPositionRecord{
			{TokenID: upToken, MarketID: marketID, Outcome: "Up", Size: 10, RealizedPnL: 2.5, OpenedAt: t0, ClosedAt: t0.Add(time.Minute), Kind: domain.CloseFull},
		},
		RealizedPnL: 99.0,
	})

	assert.InDelta(t, 2.5, l.RealizedPnL(), 1e-9)
}

func TestClosedRecordsBounded(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 205; i++ {
		token := fmt.Sprintf("tok-%d", i)
		l.ApplyTrade(buy(token, "Up", 1, 0.50), 1)
		l.ApplyTrade(sell(token, "Up", 1, 0.60), 1)
	}

	closed := l.ClosedPositions(0)
	assert.Len(t, closed, 200)
	// Newest first; the oldest five were evicted.
	assert.Equal(t, "tok-204", closed[0].TokenID)
	assert.Equal(t, "tok-5", closed[len(closed)-1].TokenID)

	// The cached total keeps the full history even after eviction trimmed
	// the records it came from, then reconciles down to the retained sum.
	assert.InDelta(t, 200*0.1, l.RealizedPnL(), 1e-6)
}

func TestTradeHistoryBounded(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 1005; i++ {
		tr := buy(fmt.Sprintf("tok-%d", i), "Up", 1, 0.50)
		tr.Timestamp = t0.Add(time.Duration(i) * time.Second)
		l.ApplyTrade(tr, 1)
	}
	assert.Equal(t, 1000, l.HistoryLen())

	// Oldest five evicted: nothing before t0+5s survives.
	assert.Empty(t, l.HistoryBefore(t0.Add(5*time.Second)))
	assert.Len(t, l.HistoryBefore(t0.Add(6*time.Second)), 1)
}

func TestRealizedPnLSince(t *testing.T) {
	l := newTestLedger()

	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(sell(upToken, "Up", 10, 0.60), 10) // +1.0 at t0

	later := t0.Add(time.Hour)
	l.setClock(later)
	l.ApplyTrade(buy(downToken, "Down", 10, 0.40), 10)
	l.ApplyTrade(sell(downToken, "Down", 10, 0.45), 10) // +0.5 at t0+1h

	assert.InDelta(t, 1.5, l.RealizedPnLSince(t0), 1e-9)
	assert.InDelta(t, 0.5, l.RealizedPnLSince(later), 1e-9)
	assert.InDelta(t, 0, l.RealizedPnLSince(later.Add(time.Second)), 1e-12)
}

func TestUnrealizedPnL(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(sell(downToken, "Down", 10, 0.60), 10)

	prices := domain.CurrentPriceMap{
		upToken:   0.70,
		downToken: 0.40,
	}
	// Long: (0.70-0.50)*10 = 2.0. Short: (0.60-0.40)*10 = 2.0.
	assert.InDelta(t, 4.0, l.UnrealizedPnL(prices), 1e-9)

	// Tokens without a quote are skipped.
	assert.InDelta(t, 2.0, l.UnrealizedPnL(domain.CurrentPriceMap{upToken: 0.70}), 1e-9)
	assert.InDelta(t, 0, l.UnrealizedPnL(nil), 1e-12)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.55), 10)
	l.ApplyTrade(buy(downToken, "Down", 4, 0.40), 4) // partial hedge
	l.ApplyTrade(sell(downToken, "Down", 2, 0.45), 2)
	l.ApplyResolution(domain.ResolutionEvent{
		MarketID:       "0xother",
		WinningOutcome: "Yes",
		ResolvedAt:     t0,
		ResolvedPrice:  1.0,
	})

	snap := l.Snapshot()

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded domain.LedgerSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := FromSnapshot(decoded, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, snap, restored.Snapshot())
	assert.InDelta(t, l.RealizedPnL(), restored.RealizedPnL(), 1e-9)
	assert.Equal(t, l.OpenPositions(), restored.OpenPositions())
}

func TestResetClearsEverything(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)
	l.ApplyTrade(sell(upToken, "Up", 5, 0.60), 5)

	l.Reset()

	assert.Empty(t, l.OpenPositions())
	assert.Empty(t, l.ClosedPositions(0))
	assert.Empty(t, l.ResolvedPositions())
	assert.Zero(t, l.HistoryLen())
	assert.InDelta(t, 0, l.RealizedPnL(), 1e-12)
}

func TestMarketIDs(t *testing.T) {
	l := newTestLedger()
	l.ApplyTrade(buy(upToken, "Up", 10, 0.50), 10)

	other := buy("tok-z", "Yes", 5, 0.30)
	other.MarketID = "0xbeef"
	l.ApplyTrade(other, 5)

	assert.Equal(t, []string{"0xbeef", marketID}, l.MarketIDs())
}
