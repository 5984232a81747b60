package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest outcome-token prices.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenIDs []string) (CurrentPriceMap, error)
}

// MarketCache provides fast market metadata lookups for the resolution
// detector, so Gamma is not hit on every scan.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id string) (Market, error)
	GetByToken(ctx context.Context, tokenID string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to keep a watched wallet
// copied by exactly one replica.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single journal entry with its Redis stream ID.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus moves ledger events between processes. Publish/Subscribe carry
// the live feed to the WebSocket hub; StreamAppend/StreamTail maintain the
// short journals a reconnecting dashboard reads to backfill recent
// activity.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}
