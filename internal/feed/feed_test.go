package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/polymirror/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]domain.Trade
	errs    []error
	calls   int
	since   []time.Time
}

func (f *fakeFetcher) GetTrades(_ context.Context, _ string, since time.Time, _ int) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.since = append(f.since, since)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}
func (noopLimiter) Wait(context.Context, string) error { return nil }

func fill(tx string, ts time.Time) domain.Trade {
	return domain.Trade{
		TransactionHash: tx,
		Timestamp:       ts,
		MarketID:        "0xmkt",
		TokenID:         "tok-up",
		Outcome:         "Up",
		Side:            domain.SideBuy,
		Size:            10,
		Price:           0.5,
	}
}

func TestPollerDeliversOldestFirst(t *testing.T) {
	base := time.Now().UTC()
	fetcher := &fakeFetcher{batches: [][]domain.Trade{{
		// API order: newest first.
		fill("0x3", base.Add(3*time.Second)),
		fill("0x2", base.Add(2*time.Second)),
		fill("0x1", base.Add(1*time.Second)),
	}}}

	out := make(chan domain.Trade, 8)
	p := NewPoller(fetcher, noopLimiter{}, NewDedup(time.Minute), "0xwallet", time.Hour, out, testLogger())
	p.SetCursor(base)

	p.deliver(context.Background(), fetcher.batches[0])

	require.Len(t, out, 3)
	assert.Equal(t, "0x1", (<-out).TransactionHash)
	assert.Equal(t, "0x2", (<-out).TransactionHash)
	assert.Equal(t, "0x3", (<-out).TransactionHash)
	assert.Equal(t, base.Add(3*time.Second), p.cursor)
}

func TestPollerSkipsSeenFills(t *testing.T) {
	base := time.Now().UTC()
	dedup := NewDedup(time.Minute)
	out := make(chan domain.Trade, 8)
	p := NewPoller(&fakeFetcher{}, noopLimiter{}, dedup, "0xwallet", time.Hour, out, testLogger())

	batch := []domain.Trade{fill("0xa", base), fill("0xb", base.Add(time.Second))}
	p.deliver(context.Background(), batch)
	p.deliver(context.Background(), batch)

	assert.Len(t, out, 2)
}

func TestPollRetriesThenSucceeds(t *testing.T) {
	base := time.Now().UTC()
	fetcher := &fakeFetcher{
		errs:    []error{errors.New("http 500"), nil},
		batches: [][]domain.Trade{nil, {fill("0xr", base)}},
	}

	out := make(chan domain.Trade, 8)
	p := NewPoller(fetcher, noopLimiter{}, NewDedup(time.Minute), "0xwallet", time.Hour, out, testLogger())
	p.SetCursor(base.Add(-time.Minute))

	require.NoError(t, p.poll(context.Background()))
	assert.Equal(t, 2, fetcher.calls)
	assert.Len(t, out, 1)
}

func TestPollGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	fetcher := &fakeFetcher{errs: []error{boom, boom, boom, boom}}

	out := make(chan domain.Trade, 1)
	p := NewPoller(fetcher, noopLimiter{}, NewDedup(time.Minute), "0xwallet", time.Hour, out, testLogger())

	err := p.poll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, maxAttempts, fetcher.calls)
}

func TestDedupTTLAndSweep(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	assert.False(t, d.Seen("x"))
	assert.True(t, d.Seen("x"))

	time.Sleep(15 * time.Millisecond)
	assert.False(t, d.Seen("x")) // expired, counts as new

	d.Forget("x")
	assert.False(t, d.Seen("x"))

	time.Sleep(15 * time.Millisecond)
	d.Sweep()
	assert.Zero(t, d.Len())
}

type fakeStream struct {
	handler func(domain.Trade)
	closed  bool
}

func (s *fakeStream) OnTrade(h func(domain.Trade)) { s.handler = h }
func (s *fakeStream) Connect(context.Context) error {
	return nil
}
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func TestLiveFeedForwardsAndDedups(t *testing.T) {
	stream := &fakeStream{}
	dedup := NewDedup(time.Minute)
	out := make(chan domain.Trade, 2)
	lf := NewLiveFeed(stream, dedup, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lf.Run(ctx) }()

	// Wait for the handler registration from Run.
	require.Eventually(t, func() bool { return stream.handler != nil }, time.Second, time.Millisecond)

	base := time.Now().UTC()
	stream.handler(fill("0xws", base))
	stream.handler(fill("0xws", base)) // duplicate

	assert.Len(t, out, 1)
	assert.True(t, dedup.Seen("0xws"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, stream.closed)
}

func TestLiveFeedFullChannelForgetsFill(t *testing.T) {
	stream := &fakeStream{}
	dedup := NewDedup(time.Minute)
	out := make(chan domain.Trade, 1)
	lf := NewLiveFeed(stream, dedup, out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lf.Run(ctx)
	require.Eventually(t, func() bool { return stream.handler != nil }, time.Second, time.Millisecond)

	base := time.Now().UTC()
	stream.handler(fill("0x1", base))
	stream.handler(fill("0x2", base)) // channel full, dropped

	// The dropped fill must be claimable by the poller again.
	assert.False(t, dedup.Seen("0x2"))
}
