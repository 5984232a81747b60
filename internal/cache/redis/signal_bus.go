package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kordes/polymirror/internal/domain"
)

const (
	// streamMaxLen caps journal streams via XADD MAXLEN ~, keeping roughly
	// the newest entries without paying for exact trims.
	streamMaxLen int64 = 10000

	// subscribeBuffer is the per-subscription delivery buffer.
	subscribeBuffer = 128
)

// SignalBus moves ledger events between processes. Pub/Sub carries the live
// feed from the copier, the resolution detector, and the price refresher to
// the WebSocket hub; Streams hold the short journals a reconnecting
// dashboard reads to backfill recent activity.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish fans payload out to current subscribers of channel. Delivery is
// fire-and-forget; a process that is down simply misses the message.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription and returns its payload channel.
// Names with glob characters subscribe by pattern. The returned channel
// closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation so a bad channel or a dead
	// server fails here, not silently in the forwarding goroutine.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend appends payload to a journal stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamTail returns up to count of the newest journal entries, oldest
// first so callers can forward them in arrival order. A missing stream
// reads as empty.
func (sb *SignalBus) StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	raw, err := sb.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream tail %s: %w", stream, err)
	}

	msgs := make([]domain.StreamMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		payload, ok := raw[i].Values["payload"].(string)
		if !ok {
			continue
		}
		msgs = append(msgs, domain.StreamMessage{ID: raw[i].ID, Payload: []byte(payload)})
	}
	return msgs, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
