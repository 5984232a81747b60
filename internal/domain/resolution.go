package domain

import "time"

// ResolutionEvent is the outcome of market-resolution detection: the
// market is finished, one side won, and the winning token settled at
// ResolvedPrice. The ledger only consumes this; detection lives with the
// resolution collaborator.
type ResolutionEvent struct {
	MarketID       string    `json:"market_id"`
	WinningOutcome string    `json:"winning_outcome"`
	ResolvedAt     time.Time `json:"resolved_at"`
	ResolvedPrice  float64   `json:"resolved_price"` // in (0,1]
}

// CurrentPriceMap supplies the latest known price per outcome token for
// unrealized P&L. Tokens absent from the map are skipped, never assumed
// zero.
type CurrentPriceMap map[string]float64
