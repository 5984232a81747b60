package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kordes/polymirror/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each outcome token's price is stored as a hash at key "price:{tokenID}"
// with fields "price" and "ts" (Unix nanosecond timestamp). Keys expire
// after the configured TTL so a dead price feed reads as "no price" rather
// than a stale one; unrealized P&L treats missing tokens as unknown.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A ttl of
// zero disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(tokenID string) string {
	return "price:" + tokenID
}

// SetPrice stores the latest price and observation time for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error {
	key := priceKey(tokenID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tokenID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and its observation time for a token.
// It returns domain.ErrNotFound when no fresh price is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error) {
	key := priceKey(tokenID)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", tokenID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", tokenID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for multiple tokens using a pipeline.
// Tokens without a cached price are omitted from the result so unrealized
// P&L skips them instead of assuming zero.
func (pc *PriceCache) GetPrices(ctx context.Context, tokenIDs []string) (domain.CurrentPriceMap, error) {
	if len(tokenIDs) == 0 {
		return domain.CurrentPriceMap{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokenIDs))
	for _, id := range tokenIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(domain.CurrentPriceMap, len(tokenIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[id] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
