package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

// ApplyTrade applies one copied fill to the ledger and returns the
// position-lifecycle events it produced, in order. copySize is the
// follower's scaled size; fills at or below epsilon are dropped without
// touching any state.
//
// A BUY into the opposite outcome of a held long on the same market is a
// hedge and settles against that position first; everything else nets
// against the position on the fill's own token.
func (l *Ledger) ApplyTrade(trade domain.Trade, copySize float64) []domain.PositionEvent {
	if copySize <= domain.Epsilon {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	ts := trade.Timestamp
	if ts.IsZero() {
		ts = now
	}

	l.appendHistory(domain.TradeHistoryRecord{
		Timestamp: ts,
		MarketID:  trade.MarketID,
		TokenID:   trade.TokenID,
		Outcome:   trade.Outcome,
		Side:      trade.Side,
		Size:      trade.Size,
		Price:     trade.Price,
		CopySize:  copySize,
		CopyValue: copySize * trade.Price,
		Title:     trade.Title,
	})

	var events []domain.PositionEvent
	if trade.Side == domain.SideBuy {
		if oppID, ok := l.oppositeLong(trade.MarketID, trade.TokenID); ok {
			events = l.applyHedge(trade, copySize, oppID, now)
			l.reconcilePnL()
			return events
		}
	}
	events = l.applyNetting(trade, copySize, now)
	l.reconcilePnL()
	return events
}

// oppositeLong finds a live long position on the same market's other
// outcome. Only longs qualify: buying the complement of a short is not a
// hedge, it is plain exposure.
func (l *Ledger) oppositeLong(marketID, tokenID string) (string, bool) {
	for id, p := range l.open {
		if id == tokenID || p.MarketID != marketID {
			continue
		}
		if p.IsLong() && p.Live() {
			return id, true
		}
	}
	return "", false
}

// applyHedge settles a BUY against the held opposite-outcome long. In a
// binary market a matched pair of complementary shares redeems for 1, so
// the locked profit per share is 1 - oppositeEntry - fillPrice. The hedged
// size comes off the opposite position while the entire fill becomes
// inventory on the bought token.
func (l *Ledger) applyHedge(trade domain.Trade, copySize float64, oppID string, now time.Time) []domain.PositionEvent {
	opp := l.open[oppID]

	closing := math.Min(opp.NetSize, copySize)
	pnl := closing * (1 - opp.AvgEntryPrice - trade.Price)

	opp.NetSize -= closing
	kind, evKind := domain.ClosePartialHedge, domain.EventPartialHedge
	if !opp.Live() {
		kind, evKind = domain.CloseHedge, domain.EventHedgeClose
		delete(l.open, oppID)
	} else {
		opp.LastUpdate = now
		l.open[oppID] = opp
	}

	rec := domain.ClosedPositionRecord{
		TokenID:     oppID,
		MarketID:    trade.MarketID,
		Outcome:     opp.Outcome + " → " + trade.Outcome,
		Size:        closing,
		EntryPrice:  opp.AvgEntryPrice,
		ExitPrice:   trade.Price,
		RealizedPnL: pnl,
		OpenedAt:    opp.OpenedAt,
		ClosedAt:    now,
		Kind:        kind,
		Title:       trade.Title,
	}
	l.appendClosed(rec)
	l.realizedPnL += pnl

	var b strings.Builder
	fmt.Fprintf(&b, "Hedge %s → %s: closed %.2f @ %.4f, locked %+.2f",
		opp.Outcome, trade.Outcome, closing, trade.Price, pnl)
	if kind == domain.ClosePartialHedge {
		fmt.Fprintf(&b, " (%.2f %s remaining)", opp.NetSize, opp.Outcome)
	}

	// A short held on the bought token absorbs the fill as a cover, with
	// its own realized P&L; only a flat or long book takes the fill as
	// inventory.
	var follow []domain.PositionEvent
	if cur, ok := l.open[trade.TokenID]; ok && cur.Live() && cur.NetSize < 0 {
		follow = l.applyNetting(trade, copySize, now)
	} else {
		pos := l.mergeLong(trade, copySize, now)
		fmt.Fprintf(&b, "; holding %.2f %s @ %.4f", pos.NetSize, pos.Outcome, pos.AvgEntryPrice)
	}

	recCopy := rec
	events := []domain.PositionEvent{{
		Kind:             evKind,
		HumanMessage:     b.String(),
		Closed:           &recCopy,
		RealizedPnLDelta: pnl,
	}}
	return append(events, follow...)
}

// mergeLong folds a hedge BUY into the bought token's long inventory: a
// fresh position at the fill price, or a size-weighted merge when a long
// is already held. Shorts never reach here; the hedge path nets those
// through applyNetting.
func (l *Ledger) mergeLong(trade domain.Trade, copySize float64, now time.Time) domain.Position {
	cur, ok := l.open[trade.TokenID]
	if !ok || !cur.Live() {
		pos := newPosition(trade, copySize, now)
		l.open[trade.TokenID] = pos
		return pos
	}
	total := cur.NetSize + copySize
	cur.AvgEntryPrice = (cur.NetSize*cur.AvgEntryPrice + copySize*trade.Price) / total
	cur.NetSize = total
	cur.LastUpdate = now
	l.open[trade.TokenID] = cur
	return cur
}

// applyNetting applies the standard signed-size netting for a fill with no
// hedge, producing OPENED, INCREASED, PARTIAL_CLOSE or FULL_CLOSE events.
// A fill that overshoots the held size closes it entirely and reopens on
// the other side at the fill price.
func (l *Ledger) applyNetting(trade domain.Trade, copySize float64, now time.Time) []domain.PositionEvent {
	signed := copySize
	if trade.Side == domain.SideSell {
		signed = -copySize
	}

	cur, ok := l.open[trade.TokenID]
	if !ok || !cur.Live() {
		pos := newPosition(trade, signed, now)
		l.open[trade.TokenID] = pos
		posCopy := pos
		return []domain.PositionEvent{{
			Kind:         domain.EventOpened,
			HumanMessage: fmt.Sprintf("Opened %s%s %.2f @ %.4f%s", longShort(signed), pos.Outcome, math.Abs(signed), trade.Price, titleSuffix(trade.Title)),
			Position:     &posCopy,
		}}
	}

	if sameSign(cur.NetSize, signed) {
		total := math.Abs(cur.NetSize) + math.Abs(signed)
		cur.AvgEntryPrice = (math.Abs(cur.NetSize)*cur.AvgEntryPrice + math.Abs(signed)*trade.Price) / total
		cur.NetSize += signed
		cur.LastUpdate = now
		l.open[trade.TokenID] = cur
		posCopy := cur
		return []domain.PositionEvent{{
			Kind:         domain.EventIncreased,
			HumanMessage: fmt.Sprintf("Increased %s%s to %.2f, avg %.4f%s", longShort(cur.NetSize), cur.Outcome, math.Abs(cur.NetSize), cur.AvgEntryPrice, titleSuffix(trade.Title)),
			Position:     &posCopy,
		}}
	}

	// Opposite direction: realize against the held size first.
	closing := math.Min(math.Abs(cur.NetSize), math.Abs(signed))
	sign := 1.0
	if cur.NetSize < 0 {
		sign = -1
	}
	pnl := closing * (trade.Price - cur.AvgEntryPrice) * sign
	remaining := cur.NetSize + signed

	rec := domain.ClosedPositionRecord{
		TokenID:     trade.TokenID,
		MarketID:    cur.MarketID,
		Outcome:     cur.Outcome,
		Size:        closing,
		EntryPrice:  cur.AvgEntryPrice,
		ExitPrice:   trade.Price,
		RealizedPnL: pnl,
		OpenedAt:    cur.OpenedAt,
		ClosedAt:    now,
		Title:       cur.Title,
	}
	l.realizedPnL += pnl

	switch {
	case math.Abs(remaining) < domain.Epsilon:
		rec.Kind = domain.CloseFull
		l.appendClosed(rec)
		delete(l.open, trade.TokenID)
		recCopy := rec
		return []domain.PositionEvent{{
			Kind:             domain.EventFullClose,
			HumanMessage:     fmt.Sprintf("Closed %s%s %.2f @ %.4f, pnl %+.2f%s", longShort(cur.NetSize), cur.Outcome, closing, trade.Price, pnl, titleSuffix(cur.Title)),
			Closed:           &recCopy,
			RealizedPnLDelta: pnl,
		}}

	case !sameSign(remaining, cur.NetSize):
		// Reversal: the prior position is fully closed and the excess
		// reopens on the other side at the fill price.
		rec.Kind = domain.CloseFull
		l.appendClosed(rec)
		pos := domain.Position{
			TokenID:       trade.TokenID,
			MarketID:      cur.MarketID,
			Outcome:       cur.Outcome,
			NetSize:       remaining,
			AvgEntryPrice: trade.Price,
			OpenedAt:      now,
			LastUpdate:    now,
			Title:         cur.Title,
			DisplayName:   cur.DisplayName,
		}
		l.open[trade.TokenID] = pos
		recCopy := rec
		posCopy := pos
		return []domain.PositionEvent{
			{
				Kind:             domain.EventFullClose,
				HumanMessage:     fmt.Sprintf("Closed %s%s %.2f @ %.4f, pnl %+.2f%s", longShort(cur.NetSize), cur.Outcome, closing, trade.Price, pnl, titleSuffix(cur.Title)),
				Closed:           &recCopy,
				RealizedPnLDelta: pnl,
			},
			{
				Kind:         domain.EventOpened,
				HumanMessage: fmt.Sprintf("Reversed into %s%s %.2f @ %.4f%s", longShort(remaining), cur.Outcome, math.Abs(remaining), trade.Price, titleSuffix(cur.Title)),
				Position:     &posCopy,
			},
		}

	default:
		rec.Kind = domain.ClosePartial
		l.appendClosed(rec)
		cur.NetSize = remaining
		cur.LastUpdate = now
		l.open[trade.TokenID] = cur
		recCopy := rec
		return []domain.PositionEvent{{
			Kind:             domain.EventPartialClose,
			HumanMessage:     fmt.Sprintf("Partially closed %s%s %.2f @ %.4f, pnl %+.2f (%.2f remaining)%s", longShort(cur.NetSize), cur.Outcome, closing, trade.Price, pnl, math.Abs(remaining), titleSuffix(cur.Title)),
			Closed:           &recCopy,
			RealizedPnLDelta: pnl,
		}}
	}
}

func newPosition(trade domain.Trade, signed float64, now time.Time) domain.Position {
	display := trade.Outcome
	if trade.Title != "" {
		display = trade.Title + " · " + trade.Outcome
	}
	return domain.Position{
		TokenID:       trade.TokenID,
		MarketID:      trade.MarketID,
		Outcome:       trade.Outcome,
		NetSize:       signed,
		AvgEntryPrice: trade.Price,
		OpenedAt:      now,
		LastUpdate:    now,
		Title:         trade.Title,
		DisplayName:   display,
	}
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

func longShort(netSize float64) string {
	if netSize < 0 {
		return "short "
	}
	return ""
}

func titleSuffix(title string) string {
	if title == "" {
		return ""
	}
	return " (" + title + ")"
}
