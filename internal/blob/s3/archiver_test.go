package s3blob

import (
	"bytes"
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

type putCall struct {
	path        string
	contentType string
	body        []byte
}

type fakeWriter struct {
	mu         sync.Mutex
	err        error
	puts       []putCall
	multiparts []string
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{path: path, contentType: contentType, body: body})
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, _ io.Reader, _ int64) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multiparts = append(f.multiparts, path)
	return nil
}

func (f *fakeWriter) calls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]putCall, len(f.puts))
	copy(out, f.puts)
	return out
}

type auditEntry struct {
	event  string
	detail map[string]any
}

type fakeAudit struct {
	mu      sync.Mutex
	err     error
	entries []auditEntry
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{event: event, detail: detail})
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	oldDay    = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	cutoffDay = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func histRecord(at time.Time) domain.TradeHistoryRecord {
	return domain.TradeHistoryRecord{
		Timestamp: at,
		MarketID:  "0xc0ffee01",
		TokenID:   "71298114",
		Outcome:   "Up",
		Side:      domain.SideBuy,
		Size:      10,
		Price:     0.60,
		CopySize:  10,
		CopyValue: 6.0,
	}
}

func closedRecord(at time.Time) domain.ClosedPositionRecord {
	return domain.ClosedPositionRecord{
		TokenID:     "71298114",
		MarketID:    "0xc0ffee01",
		Outcome:     "Up",
		Size:        10,
		EntryPrice:  0.60,
		ExitPrice:   0.70,
		RealizedPnL: 1.0,
		ClosedAt:    at,
		Kind:        domain.CloseFull,
	}
}

// seedAccount hydrates one account from a snapshot with two aged records and
// one recent record per window.
func seedAccount(t *testing.T, store *memStore, reg *registry.Registry, key string) {
	t.Helper()
	recent := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), key, domain.LedgerSnapshot{
		TradeHistory: []domain.TradeHistoryRecord{
			histRecord(oldDay),
			histRecord(oldDay.Add(time.Hour)),
			histRecord(recent),
		},
		ClosedPositions: []domain.ClosedPositionRecord{
			closedRecord(oldDay.Add(2 * time.Hour)),
			closedRecord(recent),
		},
		RealizedPnL: 2.0,
	}))
	_, err := reg.Ledger(context.Background(), key)
	require.NoError(t, err)
}

func newArchiver(t *testing.T, writer *fakeWriter, audit domain.AuditStore) (*ArchiveImpl, *registry.Registry, *memStore) {
	t.Helper()
	store := newMemStore()
	reg := registry.New(store, testLogger())
	arch := NewArchiver(writer, reg, audit, Config{}, testLogger())
	return arch, reg, store
}

func TestArchiveTradeHistoryUploadsJSONL(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch, reg, store := newArchiver(t, writer, audit)
	seedAccount(t, store, reg, "mirror")

	count, err := arch.ArchiveTradeHistory(context.Background(), "mirror", cutoffDay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	puts := writer.calls()
	require.Len(t, puts, 1)
	assert.Equal(t, "archive/mirror/trades/2025-06.jsonl", puts[0].path)
	assert.Equal(t, "application/x-ndjson", puts[0].contentType)

	lines := bytes.Split(bytes.TrimSpace(puts[0].body), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"token_id":"71298114"`)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.trade_history", audit.entries[0].event)
	assert.Equal(t, int64(2), audit.entries[0].detail["count"])
	assert.Equal(t, "mirror", audit.entries[0].detail["account"])
}

func TestArchiveClosedPositions(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch, reg, store := newArchiver(t, writer, audit)
	seedAccount(t, store, reg, "mirror")

	count, err := arch.ArchiveClosedPositions(context.Background(), "mirror", cutoffDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	puts := writer.calls()
	require.Len(t, puts, 1)
	assert.Equal(t, "archive/mirror/closed/2025-06.jsonl", puts[0].path)
	assert.Contains(t, string(puts[0].body), `"kind":"FULL_CLOSE"`)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "archive.closed_positions", audit.entries[0].event)
}

func TestArchiveNothingAgedSkipsUpload(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{}
	arch, reg, store := newArchiver(t, writer, audit)
	seedAccount(t, store, reg, "mirror")

	count, err := arch.ArchiveTradeHistory(context.Background(), "mirror", oldDay.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.calls())
	assert.Empty(t, audit.entries)
}

func TestArchiveUnknownAccount(t *testing.T) {
	arch, _, _ := newArchiver(t, &fakeWriter{}, &fakeAudit{})

	_, err := arch.ArchiveTradeHistory(context.Background(), "ghost", cutoffDay)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = arch.ArchiveClosedPositions(context.Background(), "ghost", cutoffDay)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveAllSweepsEveryAccount(t *testing.T) {
	writer := &fakeWriter{}
	arch, reg, store := newArchiver(t, writer, &fakeAudit{})
	seedAccount(t, store, reg, "mirror")
	seedAccount(t, store, reg, "alt")

	require.NoError(t, arch.ArchiveAll(context.Background(), cutoffDay))

	paths := make(map[string]bool)
	for _, p := range writer.calls() {
		paths[p.path] = true
	}
	assert.True(t, paths["archive/mirror/trades/2025-06.jsonl"])
	assert.True(t, paths["archive/mirror/closed/2025-06.jsonl"])
	assert.True(t, paths["archive/alt/trades/2025-06.jsonl"])
	assert.True(t, paths["archive/alt/closed/2025-06.jsonl"])
}

func TestUploadFailurePropagates(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket gone")}
	audit := &fakeAudit{}
	arch, reg, store := newArchiver(t, writer, audit)
	seedAccount(t, store, reg, "mirror")

	_, err := arch.ArchiveTradeHistory(context.Background(), "mirror", cutoffDay)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
	assert.Empty(t, audit.entries)
}

func TestAuditFailureReturnsCount(t *testing.T) {
	writer := &fakeWriter{}
	audit := &fakeAudit{err: errors.New("pg down")}
	arch, reg, store := newArchiver(t, writer, audit)
	seedAccount(t, store, reg, "mirror")

	count, err := arch.ArchiveTradeHistory(context.Background(), "mirror", cutoffDay)
	require.Error(t, err)
	assert.Equal(t, int64(2), count)
	assert.Len(t, writer.calls(), 1)
}

func TestNilAuditIsSkipped(t *testing.T) {
	writer := &fakeWriter{}
	arch, reg, store := newArchiver(t, writer, nil)
	seedAccount(t, store, reg, "mirror")

	count, err := arch.ArchiveTradeHistory(context.Background(), "mirror", cutoffDay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunSweepsOnInterval(t *testing.T) {
	writer := &fakeWriter{}
	store := newMemStore()
	reg := registry.New(store, testLogger())
	arch := NewArchiver(writer, reg, nil, Config{Interval: 20 * time.Millisecond}, testLogger())
	seedAccount(t, store, reg, "mirror")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		arch.Run(ctx)
	}()

	// Default MaxAge is 30 days; the aged seed records sit well past it.
	require.Eventually(t, func() bool {
		return len(writer.calls()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("archiver did not stop")
	}
}
