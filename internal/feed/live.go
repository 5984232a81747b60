package feed

import (
	"context"
	"log/slog"

	"github.com/kordes/polymirror/internal/domain"
)

// UserStream is the slice of the websocket user-channel client the live
// feed drives.
type UserStream interface {
	OnTrade(func(domain.Trade))
	Connect(ctx context.Context) error
	Close() error
}

// LiveFeed bridges the websocket user channel into the shared trade stream.
// It lowers copy latency but never carries fills the poller would miss: a
// fill dropped here is forgotten in the dedup so the next poll redelivers it.
type LiveFeed struct {
	ws     UserStream
	dedup  *Dedup
	out    chan<- domain.Trade
	logger *slog.Logger
}

// NewLiveFeed creates a LiveFeed emitting into the same channel and dedup
// as the poller.
func NewLiveFeed(ws UserStream, dedup *Dedup, out chan<- domain.Trade, logger *slog.Logger) *LiveFeed {
	return &LiveFeed{
		ws:     ws,
		dedup:  dedup,
		out:    out,
		logger: logger.With(slog.String("component", "feed_live")),
	}
}

// Run connects the user channel and forwards fills until the context is
// cancelled. The handler runs on the websocket read goroutine, so the send
// is non-blocking; a full channel drops the fill back to the poller.
func (f *LiveFeed) Run(ctx context.Context) error {
	f.ws.OnTrade(func(tr domain.Trade) {
		if tr.TransactionHash == "" {
			return
		}
		if f.dedup.Seen(tr.TransactionHash) {
			return
		}
		select {
		case f.out <- tr:
		default:
			f.dedup.Forget(tr.TransactionHash)
			f.logger.Debug("trade channel full, deferring fill to poller",
				slog.String("tx", tr.TransactionHash),
			)
		}
	})

	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	f.logger.Info("user channel connected")

	<-ctx.Done()
	if err := f.ws.Close(); err != nil {
		f.logger.Debug("websocket close", slog.String("error", err.Error()))
	}
	return ctx.Err()
}
