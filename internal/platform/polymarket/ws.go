package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kordes/polymirror/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TradeHandler is called for every fill delivered on the user channel.
type TradeHandler func(domain.Trade)

// WSClient streams the authenticated CLOB user channel, which reports fills
// for the wallet behind the supplied API credentials in real time. It manages
// the connection lifecycle and re-subscribes after reconnects.
type WSClient struct {
	wsURL string
	auth  WSAuth
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// markets holds the condition IDs to re-subscribe to on reconnect.
	// Empty means all markets the wallet touches.
	markets []string

	tradeHandlers []TradeHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a user-channel client.
//
// wsURL is the user endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/user". auth carries the L2
// credentials obtained via ClobClient.DeriveAPIKey.
func NewWSClient(wsURL string, auth WSAuth) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		auth:  auth,
		done:  make(chan struct{}),
	}
}

// Connect dials the WebSocket and authenticates the user channel. Safe to
// call again after a drop; the subscription is replayed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return w.sendCommand(WSCommand{
		Type:    "user",
		Markets: w.markets,
		Auth:    &w.auth,
	})
}

// SetMarkets restricts the subscription to the given condition IDs. Must be
// called before Connect; an empty list subscribes to everything.
func (w *WSClient) SetMarkets(conditionIDs []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.markets = conditionIDs
}

// OnTrade registers a handler invoked for each confirmed fill. Handlers run
// on the read goroutine and must not block.
func (w *WSClient) OnTrade(handler func(domain.Trade)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// Close shuts down the connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages and dispatches fills to handlers. On disconnect it
// reconnects with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw message by event type. The user channel emits
// "trade" events for fills and "order" events for book-state changes; only
// confirmed fills reach the handlers.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable messages
	}

	eventType := envelope.EventType
	if eventType == "" {
		eventType = envelope.Type
	}
	if eventType != "trade" {
		return
	}

	var fill WSUserTrade
	if err := json.Unmarshal(raw, &fill); err != nil {
		return
	}
	// The channel replays MATCHED then MINED/CONFIRMED for the same fill;
	// dedup downstream keys on the transaction hash, so forward them all.
	if fill.Status == "FAILED" {
		return
	}

	trade := fill.ToDomainTrade()

	w.handlerMu.RLock()
	handlers := w.tradeHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(trade)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
