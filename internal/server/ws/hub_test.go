package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/polymirror/internal/domain"
)

// fakeBus is an in-process SignalBus so hub tests need no Redis.
type fakeBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	entries map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:    make(map[string][]chan []byte),
		entries: make(map[string][][]byte),
	}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[channel] {
		ch <- payload
	}
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.subs[channel] = append(f.subs[channel], ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[stream] = append(f.entries[stream], payload)
	return nil
}

func (f *fakeBus) StreamTail(_ context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tail := f.entries[stream]
	if len(tail) > count {
		tail = tail[len(tail)-count:]
	}
	msgs := make([]domain.StreamMessage, 0, len(tail))
	for i, p := range tail {
		msgs = append(msgs, domain.StreamMessage{ID: strconv.Itoa(i) + "-0", Payload: p})
	}
	return msgs, nil
}

func (f *fakeBus) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Type    string          `json:"type"`
	Replay  bool            `json:"replay"`
	Payload json.RawMessage `json:"payload"`
}

// dialHub starts the hub, serves it over httptest and dials one client.
func dialHub(t *testing.T, bus *fakeBus) *websocket.Conn {
	t.Helper()

	hub := NewHub(bus, testLogger(), Config{Mode: "full", SourceWallet: "0xsource"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	// Wait for the hub's bus subscriptions before any publish.
	require.Eventually(t, func() bool {
		return bus.subscriberCount() == len(defaultChannels)
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestClientReceivesInitialStatus(t *testing.T) {
	conn := dialHub(t, newFakeBus())

	env := readEnvelope(t, conn)
	require.Equal(t, "status", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "full", payload["mode"])
	assert.Equal(t, "0xsource", payload["source_wallet"])
	assert.Equal(t, true, payload["ws_connected"])
}

func TestConnectReplaysJournalTail(t *testing.T) {
	bus := newFakeBus()
	require.NoError(t, bus.StreamAppend(context.Background(), "journal:positions",
		[]byte(`{"account":"mirror","kind":"OPENED"}`)))
	require.NoError(t, bus.StreamAppend(context.Background(), "journal:positions",
		[]byte(`{"account":"mirror","kind":"INCREASED"}`)))
	require.NoError(t, bus.StreamAppend(context.Background(), "journal:resolutions",
		[]byte(`{"market_id":"0xc0ffee01"}`)))

	conn := dialHub(t, bus)
	readEnvelope(t, conn) // status frame

	first := readEnvelope(t, conn)
	require.Equal(t, "positions", first.Type)
	assert.True(t, first.Replay)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(first.Payload, &payload))
	assert.Equal(t, "OPENED", payload["kind"])

	second := readEnvelope(t, conn)
	require.NoError(t, json.Unmarshal(second.Payload, &payload))
	assert.Equal(t, "INCREASED", payload["kind"])

	third := readEnvelope(t, conn)
	assert.Equal(t, "resolutions", third.Type)
	assert.True(t, third.Replay)
}

func TestBusMessagesReachClient(t *testing.T) {
	bus := newFakeBus()
	conn := dialHub(t, bus)

	// Drain the connect-time status frame.
	readEnvelope(t, conn)

	payload := []byte(`{"account":"mirror","kind":"OPENED"}`)
	require.NoError(t, bus.Publish(context.Background(), "positions", payload))

	env := readEnvelope(t, conn)
	assert.Equal(t, "positions", env.Type)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newFakeBus()
	conn := dialHub(t, bus)
	readEnvelope(t, conn)

	unsub := `{"action":"unsubscribe","channels":["prices"]}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(unsub)))

	// Give the read pump a beat to apply the subscription change.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "prices", []byte(`{"event":"midpoint"}`)))
	require.NoError(t, bus.Publish(context.Background(), "resolutions", []byte(`{"account":"mirror"}`)))

	// The prices frame is filtered out; the next delivery is the resolution.
	env := readEnvelope(t, conn)
	assert.Equal(t, "resolutions", env.Type)
}

func TestResubscribeRestoresDelivery(t *testing.T) {
	bus := newFakeBus()
	conn := dialHub(t, bus)
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"unsubscribe","channels":["positions"]}`)))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"subscribe","channels":["positions"]}`)))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "positions", []byte(`{"kind":"OPENED"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "positions", env.Type)
}

func TestEnvelopeCarriesChannelType(t *testing.T) {
	bus := newFakeBus()
	conn := dialHub(t, bus)
	readEnvelope(t, conn)

	require.NoError(t, bus.Publish(context.Background(), "resolutions",
		[]byte(`{"market_id":"0xc0ffee01","winning_outcome":"Up"}`)))

	env := readEnvelope(t, conn)
	require.Equal(t, "resolutions", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "Up", payload["winning_outcome"])
}
