package domain

import (
	"math/big"
	"time"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Till-Date
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order is a signed mirror order for submission to the CLOB.
type Order struct {
	ID          string
	MarketID    string
	TokenID     string
	Wallet      string
	Side        Side
	Type        OrderType
	PriceTicks  int64    // fixed-point: price * 1e6
	SizeUnits   int64    // fixed-point: size  * 1e6
	MakerAmount *big.Int // integer notional used in signed payload
	TakerAmount *big.Int // integer quantity used in signed payload
	Salt        string   // random salt used in signed payload
	NegRisk     bool
	Status      OrderStatus
	Signature   string // EIP-712 hex
	SourceTx    string // transaction hash of the copied fill
	CreatedAt   time.Time
}

// Price returns the float64 display price from fixed-point ticks.
func (o Order) Price() float64 {
	return float64(o.PriceTicks) / 1e6
}

// Size returns the float64 display size from fixed-point units.
func (o Order) Size() float64 {
	return float64(o.SizeUnits) / 1e6
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	Message     string
	ShouldRetry bool
	FilledPrice float64
	FeeUSD      float64
}
