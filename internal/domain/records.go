package domain

import "time"

// CloseKind classifies how a closed-position record came to be.
type CloseKind string

const (
	CloseFull         CloseKind = "FULL_CLOSE"
	ClosePartial      CloseKind = "PARTIAL_CLOSE"
	CloseHedge        CloseKind = "HEDGE_CLOSE"
	ClosePartialHedge CloseKind = "PARTIAL_HEDGE"
)

// ClosedPositionRecord is one realized close. Records are append-only and
// immutable once written; their insertion order (by ClosedAt) is what
// windowed queries rely on. For hedge closes, Outcome carries both sides
// as "<closed outcome> → <bought outcome>".
type ClosedPositionRecord struct {
	TokenID     string    `json:"token_id"`
	MarketID    string    `json:"market_id"`
	Outcome     string    `json:"outcome"`
	Size        float64   `json:"size"` // closed quantity, unsigned
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	Kind        CloseKind `json:"kind"`
	Title       string    `json:"title,omitempty"`
}

// ResolvedPositionRecord is the settlement of one open position when its
// market resolved. Written exactly once per (TokenID, MarketID, ResolvedAt).
type ResolvedPositionRecord struct {
	MarketID       string    `json:"market_id"`
	TokenID        string    `json:"token_id"`
	Outcome        string    `json:"outcome"`
	WinningOutcome string    `json:"winning_outcome"`
	Size           float64   `json:"size"`
	EntryPrice     float64   `json:"entry_price"`
	ResolvedPrice  float64   `json:"resolved_price"`
	CostBasis      float64   `json:"cost_basis"`
	Payout         float64   `json:"payout"`
	RealizedPnL    float64   `json:"realized_pnl"`
	ResolvedAt     time.Time `json:"resolved_at"`
	Title          string    `json:"title,omitempty"`
}

// TradeHistoryRecord is the raw capture of one accepted copy fill. History
// feeds windowed analytics only; closed and resolved records remain the
// source of truth for P&L.
type TradeHistoryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	MarketID  string    `json:"market_id"`
	TokenID   string    `json:"token_id"`
	Outcome   string    `json:"outcome"`
	Side      Side      `json:"side"`
	Size      float64   `json:"size"`      // watched wallet's size
	Price     float64   `json:"price"`     // fill price
	CopySize  float64   `json:"copy_size"` // our sized quantity
	CopyValue float64   `json:"copy_value"`
	Title     string    `json:"title,omitempty"`
}
