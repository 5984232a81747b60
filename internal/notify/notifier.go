// Package notify fans ledger and copier events out to chat channels.
// Delivery is fire-and-forget: senders run off the caller's goroutine with
// their own timeout, and a failed send is logged, never returned to the
// pipeline that produced the event.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// sendTimeout bounds one dispatch across all senders.
const sendTimeout = 10 * time.Second

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches events to its senders, filtered by event kind.
// Operators usually want settlements and errors but not every position
// tick, so the allowed set comes from config; an empty set allows
// everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier delivering to the given senders. events
// lists the allowed event kinds; empty means no filter.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		timeout: sendTimeout,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders if the event kind passes the filter. It
// returns before delivery completes; the send inherits the caller's
// context values but not its cancellation, so events raised during
// shutdown still go out.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return
	}
	n.send(ctx, title, message)
}

// NotifyAll delivers regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) {
	n.send(ctx, title, message)
}

// Close waits for in-flight sends, up to the send timeout.
func (n *Notifier) Close() {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.timeout):
		n.logger.Warn("notifier closed with sends still in flight")
	}
}

func (n *Notifier) send(ctx context.Context, title, message string) {
	if len(n.senders) == 0 {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		n.dispatch(sendCtx, title, message)
	}()
}

// dispatch walks the senders in order. One sender failing does not stop
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
