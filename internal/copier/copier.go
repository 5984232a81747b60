// Package copier is the middle of the mirror pipeline: it consumes the
// feed's trade stream, sizes each fill, applies it to every account ledger,
// fans the resulting events out to notifications and the signal bus, and
// hands one copy order per fill to the executor.
package copier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/registry"
	"github.com/kordes/polymirror/internal/sizing"
)

const (
	// lockTTL is the distributed lock lease; the lock manager refreshes it
	// while we run.
	lockTTL = 30 * time.Second

	// lockRetryEvery is how often a standby replica re-tries the lock.
	lockRetryEvery = 5 * time.Second

	// busChannel carries position events to the websocket hub.
	busChannel = "positions"

	// journalStream is the durable tail of the positions channel. The hub
	// replays it to fresh websocket clients.
	journalStream = "journal:positions"
)

// Events is the notification surface the copier drives.
type Events interface {
	PositionEvent(ctx context.Context, accountKey string, ev domain.PositionEvent)
	CopyError(ctx context.Context, scope string, err error)
}

// Config holds the copier's tunables.
type Config struct {
	// Wallet is the watched source wallet, used for the replica lock.
	Wallet string

	// PrimaryAccount is the ledger whose copy is also executed on the
	// exchange. Other resident accounts mirror on paper only.
	PrimaryAccount string

	// StaleAfter skips fills older than this by the time we see them.
	// Zero disables the check.
	StaleAfter time.Duration
}

// Copier runs the copy loop for one watched wallet.
type Copier struct {
	trades   <-chan domain.Trade
	orders   chan<- domain.CopyOrder
	registry *registry.Registry
	sizer    *sizing.Sizer
	events   Events
	bus      domain.SignalBus
	locks    domain.LockManager
	cfg      Config
	logger   *slog.Logger

	now        func() time.Time
	retryEvery time.Duration
}

// New creates a Copier. events, bus, and locks may be nil; orders may be
// nil to mirror on paper without execution.
func New(
	trades <-chan domain.Trade,
	orders chan<- domain.CopyOrder,
	reg *registry.Registry,
	sizer *sizing.Sizer,
	events Events,
	bus domain.SignalBus,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Copier {
	return &Copier{
		trades:     trades,
		orders:     orders,
		registry:   reg,
		sizer:      sizer,
		events:     events,
		bus:        bus,
		locks:      locks,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "copier")),
		now:        time.Now,
		retryEvery: lockRetryEvery,
	}
}

// Run copies fills until the context is cancelled. With a lock manager
// configured it first wins the per-wallet lock, so extra replicas idle in
// standby and take over when the holder dies.
func (c *Copier) Run(ctx context.Context) error {
	if c.locks != nil {
		unlock, err := c.acquireLock(ctx)
		if err != nil {
			return err
		}
		defer unlock()
	}

	c.logger.Info("copier started",
		slog.String("wallet", c.cfg.Wallet),
		slog.String("primary_account", c.cfg.PrimaryAccount),
	)
	defer c.logger.Info("copier stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-c.trades:
			if !ok {
				return nil
			}
			c.handle(ctx, tr)
		}
	}
}

// acquireLock blocks until this replica holds the wallet's copier lock.
func (c *Copier) acquireLock(ctx context.Context) (func(), error) {
	key := "copier:" + c.cfg.Wallet
	for {
		unlock, err := c.locks.Acquire(ctx, key, lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}

		c.logger.Info("copier lock held elsewhere, standing by",
			slog.String("wallet", c.cfg.Wallet),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryEvery):
		}
	}
}

// handle runs one fill through sizing, every account ledger, event fan-out,
// and order hand-off.
func (c *Copier) handle(ctx context.Context, tr domain.Trade) {
	log := c.logger.With(
		slog.String("tx", tr.TransactionHash),
		slog.String("token", tr.TokenID),
		slog.String("side", string(tr.Side)),
	)

	if c.cfg.StaleAfter > 0 && c.now().Sub(tr.Timestamp) > c.cfg.StaleAfter {
		log.Debug("stale fill, skipping",
			slog.Time("fill_time", tr.Timestamp),
			slog.Duration("stale_after", c.cfg.StaleAfter),
		)
		return
	}

	copySize, err := c.sizer.CopySize(tr)
	if err != nil {
		log.Warn("rejected fill", slog.String("error", err.Error()))
		return
	}
	if copySize <= 0 {
		log.Debug("fill sized to zero, skipping")
		return
	}

	for _, account := range c.accounts() {
		events, err := c.registry.ApplyTrade(ctx, account, tr, copySize)
		// Events are valid even when the snapshot write failed; the
		// in-memory ledger has advanced either way.
		c.dispatch(ctx, account, tr, events)
		if err != nil {
			log.Error("ledger apply failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			c.notifyError(ctx, "ledger "+account, err)
		}
	}

	if c.orders != nil {
		co := domain.CopyOrder{Trade: tr, CopySize: copySize, AccountKey: c.cfg.PrimaryAccount}
		select {
		case <-ctx.Done():
			return
		case c.orders <- co:
		}
	}
}

// accounts returns the ledgers to mirror into: every resident account,
// with the primary created on first use.
func (c *Copier) accounts() []string {
	keys := c.registry.Keys()
	for _, k := range keys {
		if k == c.cfg.PrimaryAccount {
			return keys
		}
	}
	return append(keys, c.cfg.PrimaryAccount)
}

// positionEventMsg is the JSON shape published on the positions channel.
type positionEventMsg struct {
	Account     string  `json:"account"`
	Kind        string  `json:"kind"`
	Message     string  `json:"message"`
	MarketID    string  `json:"market_id"`
	TokenID     string  `json:"token_id"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	Price       float64 `json:"price"`
	PnLDelta    float64 `json:"pnl_delta"`
	Timestamp   string  `json:"timestamp"`
	SourceTxRef string  `json:"source_tx"`
}

// dispatch forwards ledger events to the notifier and the signal bus.
func (c *Copier) dispatch(ctx context.Context, account string, tr domain.Trade, events []domain.PositionEvent) {
	for _, ev := range events {
		if c.events != nil {
			c.events.PositionEvent(ctx, account, ev)
		}
		if c.bus == nil {
			continue
		}

		msg := positionEventMsg{
			Account:     account,
			Kind:        string(ev.Kind),
			Message:     ev.HumanMessage,
			MarketID:    tr.MarketID,
			TokenID:     tr.TokenID,
			Outcome:     tr.Outcome,
			Price:       tr.Price,
			PnLDelta:    ev.RealizedPnLDelta,
			Timestamp:   c.now().UTC().Format(time.RFC3339Nano),
			SourceTxRef: tr.TransactionHash,
		}
		if ev.Position != nil {
			msg.Size = ev.Position.NetSize
		} else if ev.Closed != nil {
			msg.Size = ev.Closed.Size
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := c.bus.Publish(ctx, busChannel, payload); err != nil {
			c.logger.Debug("position event publish failed",
				slog.String("error", err.Error()),
			)
		}
		if err := c.bus.StreamAppend(ctx, journalStream, payload); err != nil {
			c.logger.Debug("position event journal failed",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Copier) notifyError(ctx context.Context, scope string, err error) {
	if c.events == nil {
		return
	}
	c.events.CopyError(ctx, scope, err)
}
