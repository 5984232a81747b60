package domain

import (
	"math"
	"time"
)

// Epsilon is the dust threshold for position sizes. Any |netSize| below
// this is treated as no position at all, so float residue from repeated
// partial closes can never linger as a live holding.
const Epsilon = 1e-6

// Position is the net holding in one outcome token for one account.
// NetSize is signed: positive means long the outcome, negative short.
type Position struct {
	TokenID       string    `json:"token_id"`
	MarketID      string    `json:"market_id"`
	Outcome       string    `json:"outcome"`
	NetSize       float64   `json:"net_size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	OpenedAt      time.Time `json:"opened_at"`
	LastUpdate    time.Time `json:"last_update"`
	Title         string    `json:"title,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
}

// Live reports whether the position is above the dust threshold.
func (p Position) Live() bool {
	return math.Abs(p.NetSize) >= Epsilon
}

// IsLong reports whether the position is long its outcome.
func (p Position) IsLong() bool {
	return p.NetSize > 0
}

// Notional returns the cost basis of the position at its entry price.
func (p Position) Notional() float64 {
	return math.Abs(p.NetSize) * p.AvgEntryPrice
}
