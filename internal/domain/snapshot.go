package domain

// LedgerSnapshot is the full persisted state of one account's ledger: the
// four collections plus the cached realized P&L total. It is a single
// versionless document and must round-trip exactly through serialization.
type LedgerSnapshot struct {
	OpenPositions     map[string]Position      `json:"open_positions"` // keyed by token ID
	ClosedPositions   []ClosedPositionRecord   `json:"closed_positions"`
	ResolvedPositions []ResolvedPositionRecord `json:"resolved_positions"`
	TradeHistory      []TradeHistoryRecord     `json:"trade_history"`
	RealizedPnL       float64                  `json:"realized_pnl"`
}
