package domain

import "time"

// Side indicates the direction of a fill or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is a single observed fill by the watched wallet, normalized from
// the exchange activity feed. Trades are deduplicated by TransactionHash
// upstream of the ledger.
type Trade struct {
	TransactionHash string    `json:"transaction_hash"`
	Timestamp       time.Time `json:"timestamp"`
	MarketID        string    `json:"market_id"` // condition ID
	TokenID         string    `json:"token_id"`  // ERC-1155 outcome token ID
	Outcome         string    `json:"outcome"`   // one of the market's two labels
	Side            Side      `json:"side"`
	Size            float64   `json:"size"`  // tokens traded by the watched wallet
	Price           float64   `json:"price"` // fill price in (0,1]
	Title           string    `json:"title"` // market question, for display
}

// Value returns the notional of the original fill in settlement currency.
func (t Trade) Value() float64 {
	return t.Size * t.Price
}

// CopyOrder is the copier's instruction to the order placer: mirror this
// fill at the follower's size. It travels on a channel so order placement
// never runs under a ledger lock.
type CopyOrder struct {
	Trade      Trade
	CopySize   float64
	AccountKey string
}
