package notify

import (
	"context"
	"fmt"

	"github.com/kordes/polymirror/internal/domain"
)

// Event kinds operators can filter on in config.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventHedge          = "hedge"
	EventResolution     = "resolution"
	EventCopier         = "copier"
	EventError          = "error"
)

// AllEvents lists every event kind, for config validation.
var AllEvents = []string{
	EventPositionOpened,
	EventPositionClosed,
	EventHedge,
	EventResolution,
	EventCopier,
	EventError,
}

// PositionEvent delivers one ledger transition for an account. The ledger
// already renders the human message; this only picks the event kind and
// title.
func (n *Notifier) PositionEvent(ctx context.Context, accountKey string, ev domain.PositionEvent) {
	var event, title string
	switch ev.Kind {
	case domain.EventOpened, domain.EventIncreased:
		event, title = EventPositionOpened, "Position opened"
	case domain.EventPartialClose, domain.EventFullClose:
		event, title = EventPositionClosed, "Position closed"
	case domain.EventHedgeClose, domain.EventPartialHedge:
		event, title = EventHedge, "Hedge detected"
	default:
		event, title = EventPositionClosed, "Position update"
	}
	n.Notify(ctx, event, title, fmt.Sprintf("[%s] %s", accountKey, ev.HumanMessage))
}

// Settlement delivers one account's settlement total for a resolved
// market.
func (n *Notifier) Settlement(ctx context.Context, accountKey string, ev domain.ResolutionEvent, total float64, settled []domain.ResolvedPositionRecord) {
	name := ev.MarketID
	if len(settled) > 0 && settled[0].Title != "" {
		name = settled[0].Title
	}
	msg := fmt.Sprintf("[%s] %s: %s won, %d settled, pnl %+.2f",
		accountKey, name, ev.WinningOutcome, len(settled), total)
	n.Notify(ctx, EventResolution, "Market resolved", msg)
}

// CopyError reports a pipeline failure: an order that could not be
// placed, a snapshot that could not be written.
func (n *Notifier) CopyError(ctx context.Context, scope string, err error) {
	n.Notify(ctx, EventError, "Copy error", fmt.Sprintf("%s: %v", scope, err))
}

// Lifecycle reports copier start, stop, and standby transitions.
func (n *Notifier) Lifecycle(ctx context.Context, message string) {
	n.Notify(ctx, EventCopier, "Copier", message)
}
