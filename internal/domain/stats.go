package domain

import "time"

// WindowStats summarizes copy-trading activity inside [Start, End).
// RealizedPnL covers closed records only; resolution P&L is tracked
// separately and intentionally excluded here.
type WindowStats struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Volume        float64   `json:"volume"`          // sum of copy notional
	MaxTradeValue float64   `json:"max_trade_value"` // largest single copy notional
	TradeCount    int       `json:"trade_count"`
	PeakExposure  float64   `json:"peak_exposure"` // max concurrent open notional
	RealizedPnL   float64   `json:"realized_pnl"`
}
