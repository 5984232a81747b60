package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a snapshot of bids and asks for an outcome token,
// used to read prices and to infer the winning side of a finished market.
type OrderbookSnapshot struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	BestBid   float64
	BestAsk   float64
	MidPrice  float64
	Timestamp time.Time
}

// PricePoint is a single observed price for an outcome token, either a
// last-trade print or a midpoint quote.
type PricePoint struct {
	TokenID   string
	Price     float64
	Timestamp time.Time
}
