package service

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
	"github.com/kordes/polymirror/internal/registry"
)

type memStore struct {
	mu    sync.Mutex
	snaps map[string]domain.LedgerSnapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]domain.LedgerSnapshot)}
}

func (m *memStore) Save(_ context.Context, key string, snap domain.LedgerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[key] = snap
	return nil
}

func (m *memStore) Load(_ context.Context, key string) (domain.LedgerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[key]
	if !ok {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, key)
	return nil
}

func (m *memStore) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.snaps))
	for k := range m.snaps {
		keys = append(keys, k)
	}
	return keys, nil
}

type fakePriceCache struct {
	prices map[string]float64
	err    error
}

func (f *fakePriceCache) SetPrice(_ context.Context, tokenID string, price float64, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	if f.prices == nil {
		f.prices = make(map[string]float64)
	}
	f.prices[tokenID] = price
	return nil
}

func (f *fakePriceCache) GetPrice(_ context.Context, tokenID string) (float64, time.Time, error) {
	p, ok := f.prices[tokenID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (f *fakePriceCache) GetPrices(_ context.Context, tokenIDs []string) (domain.CurrentPriceMap, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(domain.CurrentPriceMap)
	for _, id := range tokenIDs {
		if p, ok := f.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeMidpoints struct {
	mids  map[string]float64
	calls []string
}

func (f *fakeMidpoints) GetMidpoint(_ context.Context, tokenID string) (float64, error) {
	f.calls = append(f.calls, tokenID)
	mid, ok := f.mids[tokenID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return mid, nil
}

type fakeBus struct {
	channels []string
	payloads [][]byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamTail(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fill(account, tx, token string, side domain.Side, size, price float64) domain.Trade {
	return domain.Trade{
		TransactionHash: tx,
		Timestamp:       time.Now().UTC(),
		MarketID:        "0xc0ffee01",
		TokenID:         token,
		Outcome:         "Up",
		Side:            side,
		Size:            size,
		Price:           price,
	}
}

func seedOpen(t *testing.T, reg *registry.Registry, account string) {
	t.Helper()
	_, err := reg.ApplyTrade(context.Background(), account, fill(account, "0x1", "tok-a", domain.SideBuy, 10, 0.60), 10)
	require.NoError(t, err)
}

func seedClosed(t *testing.T, reg *registry.Registry, account string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tok := "tok-closed"
		open := fill(account, "0xo", tok, domain.SideBuy, 5, 0.40)
		open.TransactionHash = open.TransactionHash + string(rune('a'+i))
		_, err := reg.ApplyTrade(context.Background(), account, open, 5)
		require.NoError(t, err)

		closeTr := fill(account, "0xc", tok, domain.SideSell, 5, 0.50)
		closeTr.TransactionHash = closeTr.TransactionHash + string(rune('a'+i))
		_, err = reg.ApplyTrade(context.Background(), account, closeTr, 5)
		require.NoError(t, err)
	}
}

func TestAccountsListsRegisteredKeys(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-b")
	seedOpen(t, reg, "acct-a")

	svc := NewLedgerService(reg, nil, testLogger())
	assert.Equal(t, []string{"acct-a", "acct-b"}, svc.Accounts(context.Background()))
}

func TestPositionsForUnknownAccount(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	svc := NewLedgerService(reg, nil, testLogger())

	_, err := svc.Positions(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionsReturnsOpen(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")

	svc := NewLedgerService(reg, nil, testLogger())
	positions, err := svc.Positions(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "tok-a", positions[0].TokenID)
}

func TestClosedRespectsLimit(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedClosed(t, reg, "acct-1", 3)

	svc := NewLedgerService(reg, nil, testLogger())

	all, err := svc.Closed(context.Background(), "acct-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := svc.Closed(context.Background(), "acct-1", 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestResolvedReturnsSettlements(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")
	_, _, err := reg.ApplyResolution(context.Background(), "acct-1", domain.ResolutionEvent{
		MarketID:       "0xc0ffee01",
		WinningOutcome: "Up",
		ResolvedAt:     time.Now().UTC(),
		ResolvedPrice:  1.0,
	})
	require.NoError(t, err)

	svc := NewLedgerService(reg, nil, testLogger())
	resolved, err := svc.Resolved(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "Up", resolved[0].WinningOutcome)
}

func TestPnLRealizedOnly(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedClosed(t, reg, "acct-1", 1)

	svc := NewLedgerService(reg, nil, testLogger())
	report, err := svc.PnL(context.Background(), "acct-1", false)
	require.NoError(t, err)

	// 5 shares bought at 0.40 and sold at 0.50.
	assert.InDelta(t, 0.5, report.RealizedPnL, 1e-9)
	assert.Zero(t, report.UnrealizedPnL)
	assert.InDelta(t, 0.5, report.TotalPnL, 1e-9)
}

func TestPnLWithPricesAddsUnrealized(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")

	prices := &fakePriceCache{prices: map[string]float64{"tok-a": 0.75}}
	svc := NewLedgerService(reg, prices, testLogger())

	report, err := svc.PnL(context.Background(), "acct-1", true)
	require.NoError(t, err)
	// 10 shares, entry 0.60, marked 0.75.
	assert.InDelta(t, 1.5, report.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 1.5, report.TotalPnL, 1e-9)
	assert.Equal(t, 1, report.OpenPositions)
	assert.Equal(t, 1, report.PricedTokens)
}

func TestPnLSurvivesPriceCacheFailure(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")

	prices := &fakePriceCache{err: errors.New("redis down")}
	svc := NewLedgerService(reg, prices, testLogger())

	report, err := svc.PnL(context.Background(), "acct-1", true)
	require.NoError(t, err)
	assert.Zero(t, report.UnrealizedPnL)
	assert.Zero(t, report.PricedTokens)
}

func TestStatsCountsWindowActivity(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedClosed(t, reg, "acct-1", 2)

	svc := NewLedgerService(reg, nil, testLogger())
	stats, err := svc.Stats(context.Background(), "acct-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TradeCount)
	assert.InDelta(t, 1.0, stats.RealizedPnL, 1e-9)
}

func TestRefreshOnceWarmsCacheAndPublishes(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")

	mids := &fakeMidpoints{mids: map[string]float64{"tok-a": 0.64}}
	cache := &fakePriceCache{}
	bus := &fakeBus{}
	ps := NewPriceService(reg, mids, cache, bus, nil, time.Minute, testLogger())

	ps.RefreshOnce(context.Background())

	assert.Equal(t, []string{"tok-a"}, mids.calls)
	assert.InDelta(t, 0.64, cache.prices["tok-a"], 1e-9)
	require.Len(t, bus.channels, 1)
	assert.Equal(t, "prices", bus.channels[0])
	assert.Contains(t, string(bus.payloads[0]), `"token_id":"tok-a"`)
}

func TestRefreshOnceDedupsTokensAcrossAccounts(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	seedOpen(t, reg, "acct-1")
	seedOpen(t, reg, "acct-2")

	mids := &fakeMidpoints{mids: map[string]float64{"tok-a": 0.64}}
	cache := &fakePriceCache{}
	ps := NewPriceService(reg, mids, cache, nil, nil, time.Minute, testLogger())

	ps.RefreshOnce(context.Background())
	assert.Equal(t, []string{"tok-a"}, mids.calls)
}

func TestRefreshOnceSkipsFailedAndBogusMidpoints(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	_, err := reg.ApplyTrade(context.Background(), "acct-1", fill("acct-1", "0x1", "tok-a", domain.SideBuy, 10, 0.60), 10)
	require.NoError(t, err)
	_, err = reg.ApplyTrade(context.Background(), "acct-1", fill("acct-1", "0x2", "tok-b", domain.SideBuy, 10, 0.30), 10)
	require.NoError(t, err)

	// tok-a has no midpoint; tok-b reports a bogus 0.
	mids := &fakeMidpoints{mids: map[string]float64{"tok-b": 0}}
	cache := &fakePriceCache{}
	ps := NewPriceService(reg, mids, cache, nil, nil, time.Minute, testLogger())

	ps.RefreshOnce(context.Background())
	assert.Empty(t, cache.prices)
	assert.Len(t, mids.calls, 2)
}

func TestRefreshOnceNoHeldTokens(t *testing.T) {
	reg := registry.New(newMemStore(), testLogger())
	mids := &fakeMidpoints{}
	ps := NewPriceService(reg, mids, &fakePriceCache{}, nil, nil, time.Minute, testLogger())

	ps.RefreshOnce(context.Background())
	assert.Empty(t, mids.calls)
}
