package domain

// EventKind names a position-lifecycle transition produced by applying a
// trade to the ledger.
type EventKind string

const (
	EventOpened       EventKind = "OPENED"
	EventIncreased    EventKind = "INCREASED"
	EventPartialClose EventKind = "PARTIAL_CLOSE"
	EventFullClose    EventKind = "FULL_CLOSE"
	EventHedgeClose   EventKind = "HEDGE_CLOSE"
	EventPartialHedge EventKind = "PARTIAL_HEDGE"
)

// PositionEvent is one lifecycle transition returned from ApplyTrade, in
// the order it happened. Exactly one of Position or Closed is set:
// Position for OPENED/INCREASED, Closed for the close kinds.
type PositionEvent struct {
	Kind             EventKind             `json:"kind"`
	HumanMessage     string                `json:"human_message"`
	Position         *Position             `json:"position,omitempty"`
	Closed           *ClosedPositionRecord `json:"closed,omitempty"`
	RealizedPnLDelta float64               `json:"realized_pnl_delta"`
}
