// Package feed watches a wallet's fills on the exchange and turns them into
// a single ordered stream of domain.Trade values. The Data API poller is the
// source of truth; the websocket user channel, when enabled, delivers the
// same fills earlier and the shared dedup keeps them from copying twice.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kordes/polymirror/internal/domain"
)

const (
	// maxAttempts bounds fetch retries within one poll cycle.
	maxAttempts = 3

	// baseBackoff and maxBackoff shape the retry delay between attempts.
	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second

	// sweepEvery is how often the dedup set is compacted.
	sweepEvery = 5 * time.Minute

	// limiterKey is the shared rate-limit bucket for Data API calls.
	limiterKey = "data-api:activity"
)

// TradeFetcher is the slice of the Data API client the poller needs.
type TradeFetcher interface {
	GetTrades(ctx context.Context, wallet string, since time.Time, limit int) ([]domain.Trade, error)
}

// Poller polls the Data API activity endpoint for the watched wallet and
// emits unseen fills oldest first. A cursor tracks the newest timestamp
// delivered so far; each fetch overlaps it by one interval and relies on
// dedup to drop the rows both windows contain.
type Poller struct {
	data     TradeFetcher
	limiter  domain.RateLimiter
	dedup    *Dedup
	wallet   string
	interval time.Duration
	limit    int
	out      chan<- domain.Trade
	logger   *slog.Logger

	cursor time.Time
}

// NewPoller creates a Poller for the given wallet that emits into out.
// interval defaults to 2s and limit to 100 when zero.
func NewPoller(
	data TradeFetcher,
	limiter domain.RateLimiter,
	dedup *Dedup,
	wallet string,
	interval time.Duration,
	out chan<- domain.Trade,
	logger *slog.Logger,
) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		data:     data,
		limiter:  limiter,
		dedup:    dedup,
		wallet:   wallet,
		interval: interval,
		limit:    100,
		out:      out,
		logger:   logger.With(slog.String("component", "feed_poller")),
	}
}

// SetCursor moves the starting point of the poll window, e.g. to replay a
// missed stretch after downtime. Must be called before Run.
func (p *Poller) SetCursor(t time.Time) {
	p.cursor = t
}

// Run polls until the context is cancelled. Only fills at or after the
// start-up cursor are delivered; older history is the archiver's business.
func (p *Poller) Run(ctx context.Context) error {
	if p.cursor.IsZero() {
		p.cursor = time.Now().UTC().Add(-p.interval)
	}

	p.logger.Info("activity poller started",
		slog.String("wallet", p.wallet),
		slog.Duration("interval", p.interval),
	)
	defer p.logger.Info("activity poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			p.dedup.Sweep()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("poll cycle failed",
					slog.String("wallet", p.wallet),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// poll runs one fetch cycle with bounded retries.
func (p *Poller) poll(ctx context.Context) error {
	backoff := baseBackoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx, limiterKey); err != nil {
			return err
		}

		trades, err := p.data.GetTrades(ctx, p.wallet, p.cursor, p.limit)
		if err == nil {
			p.deliver(ctx, trades)
			return nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		p.logger.Debug("fetch attempt failed, backing off",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

// deliver forwards unseen fills oldest first and advances the cursor. The
// API returns newest first; fills sharing a timestamp keep their relative
// API order after the stable sort.
func (p *Poller) deliver(ctx context.Context, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}

	ordered := make([]domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	for _, tr := range ordered {
		if tr.Timestamp.After(p.cursor) {
			p.cursor = tr.Timestamp
		}
		if p.dedup.Seen(tr.TransactionHash) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case p.out <- tr:
		}
	}
}
