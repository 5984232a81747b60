// Package resolution watches markets the ledgers hold and settles them
// when they finish. Polymarket does not push resolution, so the detector
// polls Gamma for market state and falls back to reading the order book:
// once one side's best bid pins near 1.0 the market is decided even if the
// API has not flagged a winner yet.
package resolution

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/platform/polymarket"
	"github.com/kordes/polymirror/internal/registry"
)

const (
	defaultCheckInterval = 2 * time.Minute

	// defaultMinWinnerBid is the best-bid threshold above which an outcome
	// counts as the winner of a finished market.
	defaultMinWinnerBid = 0.95

	// busChannel carries settlement notices to the websocket hub.
	busChannel = "resolutions"

	// journalStream is the durable tail of the resolutions channel, replayed
	// to fresh websocket clients.
	journalStream = "journal:resolutions"

	auditEvent = "market_resolved"
)

// MarketSource is the Gamma surface the detector reads.
type MarketSource interface {
	GetMarketResolution(ctx context.Context, conditionID string) (polymarket.MarketResolution, error)
}

// BookSource reads order books for winner inference.
type BookSource interface {
	GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Events is the notification surface for settlements.
type Events interface {
	Settlement(ctx context.Context, accountKey string, ev domain.ResolutionEvent, total float64, settled []domain.ResolvedPositionRecord)
}

// Config holds the detector's tunables.
type Config struct {
	// CheckInterval is how often held markets are scanned.
	CheckInterval time.Duration

	// MinWinnerBid overrides the winner-inference bid threshold.
	MinWinnerBid float64
}

// Detector scans held markets and applies settlements to every account
// ledger holding them.
type Detector struct {
	registry *registry.Registry
	gamma    MarketSource
	books    BookSource
	markets  domain.MarketCache
	events   Events
	bus      domain.SignalBus
	audit    domain.AuditStore
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// New creates a Detector. markets, events, bus, and audit may be nil.
func New(
	reg *registry.Registry,
	gamma MarketSource,
	books BookSource,
	markets domain.MarketCache,
	events Events,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Detector {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.MinWinnerBid <= 0 || cfg.MinWinnerBid >= 1 {
		cfg.MinWinnerBid = defaultMinWinnerBid
	}
	return &Detector{
		registry: reg,
		gamma:    gamma,
		books:    books,
		markets:  markets,
		events:   events,
		bus:      bus,
		audit:    audit,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "resolution")),
		now:      time.Now,
	}
}

// Run scans on a ticker until the context is cancelled. Call in a
// goroutine.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()

	d.logger.Info("resolution detector started",
		slog.Duration("check_interval", d.cfg.CheckInterval),
		slog.Float64("min_winner_bid", d.cfg.MinWinnerBid),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Scan(ctx)
		}
	}
}

// holding is one account's stake in a market, carried through winner
// inference so the book check can reuse held token ids.
type holding struct {
	account string
	tokenID string
	outcome string
}

// Scan checks every held market once and settles the finished ones. It is
// exported so the serve mode can trigger an on-demand pass.
func (d *Detector) Scan(ctx context.Context) {
	held := d.heldMarkets()
	if len(held) == 0 {
		return
	}

	for _, marketID := range sortedKeys(held) {
		if ctx.Err() != nil {
			return
		}
		ev, ok := d.decide(ctx, marketID, held[marketID])
		if !ok {
			continue
		}
		d.settle(ctx, ev, held[marketID])
	}
}

// heldMarkets maps market id to the account holdings across the whole
// registry.
func (d *Detector) heldMarkets() map[string][]holding {
	held := make(map[string][]holding)
	for _, key := range d.registry.Keys() {
		l, ok := d.registry.Peek(key)
		if !ok {
			continue
		}
		for _, pos := range l.OpenPositions() {
			held[pos.MarketID] = append(held[pos.MarketID], holding{
				account: key,
				tokenID: pos.TokenID,
				outcome: pos.Outcome,
			})
		}
	}
	return held
}

// decide reports whether the market has finished and which side won.
func (d *Detector) decide(ctx context.Context, marketID string, holdings []holding) (domain.ResolutionEvent, bool) {
	if d.cachedOpen(ctx, marketID) {
		return domain.ResolutionEvent{}, false
	}

	res, err := d.gamma.GetMarketResolution(ctx, marketID)
	if err != nil {
		d.logger.DebugContext(ctx, "market state fetch failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return domain.ResolutionEvent{}, false
	}

	now := d.now().UTC()
	finished := res.Closed || (res.EndDate != nil && now.After(*res.EndDate))
	d.cacheState(ctx, res, finished)

	// Gamma's explicit winner flag settles it outright.
	if res.WinnerIndex >= 0 {
		return event(marketID, res.Outcomes[res.WinnerIndex], now), true
	}
	if !finished {
		return domain.ResolutionEvent{}, false
	}

	// Finished but unflagged: Gamma's own outcome prices pin first.
	for i, p := range res.Prices {
		if p >= d.cfg.MinWinnerBid {
			return event(marketID, res.Outcomes[i], now), true
		}
	}

	// Last resort, read the book for the tokens we hold. A bid pinned
	// near 1.0 means that side won; an ask pinned near zero means the
	// other side did.
	return d.inferFromBooks(ctx, marketID, res, holdings, now)
}

func event(marketID, winner string, at time.Time) domain.ResolutionEvent {
	return domain.ResolutionEvent{
		MarketID:       marketID,
		WinningOutcome: winner,
		ResolvedAt:     at,
		ResolvedPrice:  1.0,
	}
}

func (d *Detector) inferFromBooks(ctx context.Context, marketID string, res polymarket.MarketResolution, holdings []holding, now time.Time) (domain.ResolutionEvent, bool) {
	if d.books == nil {
		return domain.ResolutionEvent{}, false
	}

	checked := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		if checked[h.tokenID] {
			continue
		}
		checked[h.tokenID] = true

		snap, err := d.books.GetBook(ctx, h.tokenID)
		if err != nil {
			d.logger.DebugContext(ctx, "book fetch failed",
				slog.String("token_id", h.tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if snap.BestBid >= d.cfg.MinWinnerBid {
			return event(marketID, h.outcome, now), true
		}
		if snap.BestAsk > 0 && snap.BestAsk <= 1-d.cfg.MinWinnerBid {
			if other, ok := otherOutcome(res.Outcomes, h.outcome); ok {
				return event(marketID, other, now), true
			}
		}
	}
	return domain.ResolutionEvent{}, false
}

// settle applies the event to every holding account and fans the totals
// out.
func (d *Detector) settle(ctx context.Context, ev domain.ResolutionEvent, holdings []holding) {
	d.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", ev.MarketID),
		slog.String("winning_outcome", ev.WinningOutcome),
		slog.Float64("resolved_price", ev.ResolvedPrice),
	)

	for _, account := range accountsOf(holdings) {
		total, settled, err := d.registry.ApplyResolution(ctx, account, ev)
		if err != nil {
			d.logger.ErrorContext(ctx, "settlement apply failed",
				slog.String("account", account),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
		if len(settled) == 0 {
			continue
		}

		d.logger.InfoContext(ctx, "account settled",
			slog.String("account", account),
			slog.String("market_id", ev.MarketID),
			slog.Int("positions", len(settled)),
			slog.Float64("pnl", total),
		)
		if d.events != nil {
			d.events.Settlement(ctx, account, ev, total, settled)
		}
		d.publish(ctx, account, ev, total, len(settled))
	}

	if d.audit != nil {
		detail := map[string]any{
			"market_id":       ev.MarketID,
			"winning_outcome": ev.WinningOutcome,
			"resolved_at":     ev.ResolvedAt.Format(time.RFC3339),
		}
		if err := d.audit.Log(ctx, auditEvent, detail); err != nil {
			d.logger.WarnContext(ctx, "audit write failed", slog.String("error", err.Error()))
		}
	}
	if d.markets != nil {
		// The market is settled; next scans should not trust a stale
		// open entry.
		_ = d.markets.Invalidate(ctx, ev.MarketID)
	}
}

// settlementMsg is the JSON shape published on the resolutions channel.
type settlementMsg struct {
	Account        string  `json:"account"`
	MarketID       string  `json:"market_id"`
	WinningOutcome string  `json:"winning_outcome"`
	Positions      int     `json:"positions"`
	PnL            float64 `json:"pnl"`
	ResolvedAt     string  `json:"resolved_at"`
}

func (d *Detector) publish(ctx context.Context, account string, ev domain.ResolutionEvent, total float64, positions int) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(settlementMsg{
		Account:        account,
		MarketID:       ev.MarketID,
		WinningOutcome: ev.WinningOutcome,
		Positions:      positions,
		PnL:            total,
		ResolvedAt:     ev.ResolvedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, busChannel, payload); err != nil {
		d.logger.DebugContext(ctx, "settlement publish failed", slog.String("error", err.Error()))
	}
	if err := d.bus.StreamAppend(ctx, journalStream, payload); err != nil {
		d.logger.DebugContext(ctx, "settlement journal failed", slog.String("error", err.Error()))
	}
}

// cachedOpen reports whether the market cache says this market is still
// open, which skips the Gamma call until the cache entry expires.
func (d *Detector) cachedOpen(ctx context.Context, marketID string) bool {
	if d.markets == nil {
		return false
	}
	m, err := d.markets.Get(ctx, marketID)
	if err != nil {
		return false
	}
	if m.Status != domain.MarketStatusActive {
		return false
	}
	return m.EndDate == nil || d.now().UTC().Before(*m.EndDate)
}

// cacheState writes the fetched market state back so still-open markets
// are not re-fetched every scan.
func (d *Detector) cacheState(ctx context.Context, res polymarket.MarketResolution, finished bool) {
	if d.markets == nil {
		return
	}
	status := domain.MarketStatusActive
	if finished {
		status = domain.MarketStatusClosed
	}
	m := domain.Market{
		ID:          res.ConditionID,
		ConditionID: res.ConditionID,
		Outcomes:    res.Outcomes,
		Status:      status,
		EndDate:     res.EndDate,
		UpdatedAt:   d.now().UTC(),
	}
	if err := d.markets.Set(ctx, m); err != nil {
		d.logger.DebugContext(ctx, "market cache write failed",
			slog.String("market_id", res.ConditionID),
			slog.String("error", err.Error()),
		)
	}
}

func otherOutcome(pair [2]string, outcome string) (string, bool) {
	switch outcome {
	case pair[0]:
		return pair[1], pair[1] != ""
	case pair[1]:
		return pair[0], pair[0] != ""
	}
	return "", false
}

func accountsOf(holdings []holding) []string {
	seen := make(map[string]bool, len(holdings))
	var accounts []string
	for _, h := range holdings {
		if seen[h.account] {
			continue
		}
		seen[h.account] = true
		accounts = append(accounts, h.account)
	}
	sort.Strings(accounts)
	return accounts
}

func sortedKeys(m map[string][]holding) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
