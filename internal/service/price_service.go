package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/registry"
)

const (
	defaultRefreshInterval = 30 * time.Second

	// midpointLimiterKey is the rate-limit bucket for CLOB midpoint reads.
	midpointLimiterKey = "clob:midpoint"

	// pricesChannel carries midpoint updates to the websocket hub.
	pricesChannel = "prices"
)

// MidpointSource reads the current midpoint for an outcome token.
type MidpointSource interface {
	GetMidpoint(ctx context.Context, tokenID string) (float64, error)
}

// PriceService keeps the price cache warm for every token the ledgers
// hold, so unrealized P&L and the dashboard read recent marks instead of
// hitting the exchange per request.
type PriceService struct {
	registry *registry.Registry
	clob     MidpointSource
	prices   domain.PriceCache
	bus      domain.SignalBus
	limiter  domain.RateLimiter
	interval time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// NewPriceService creates a PriceService. bus and limiter may be nil.
func NewPriceService(
	reg *registry.Registry,
	clob MidpointSource,
	prices domain.PriceCache,
	bus domain.SignalBus,
	limiter domain.RateLimiter,
	interval time.Duration,
	logger *slog.Logger,
) *PriceService {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &PriceService{
		registry: reg,
		clob:     clob,
		prices:   prices,
		bus:      bus,
		limiter:  limiter,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_service")),
	}
}

// Run refreshes held-token prices on a ticker until the context is
// cancelled. Call in a goroutine.
func (s *PriceService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("price service started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce fetches one midpoint per held token and writes it to the
// price cache. Fetch failures skip the token; the cache keeps its last
// mark.
func (s *PriceService) RefreshOnce(ctx context.Context) {
	tokens := s.heldTokens()
	if len(tokens) == 0 {
		return
	}

	var refreshed int
	for _, tokenID := range tokens {
		if ctx.Err() != nil {
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, midpointLimiterKey); err != nil {
				return
			}
		}

		mid, err := s.clob.GetMidpoint(ctx, tokenID)
		if err != nil {
			s.logger.DebugContext(ctx, "price_service: midpoint fetch failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if mid <= 0 || mid >= 1 {
			continue
		}

		ts := s.clock().UTC()
		if err := s.prices.SetPrice(ctx, tokenID, mid, ts); err != nil {
			s.logger.WarnContext(ctx, "price_service: cache write failed",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		refreshed++
		s.publish(ctx, domain.PricePoint{TokenID: tokenID, Price: mid, Timestamp: ts})
	}

	s.logger.DebugContext(ctx, "price_service: refresh pass done",
		slog.Int("held_tokens", len(tokens)),
		slog.Int("refreshed", refreshed),
	)
}

// heldTokens returns the distinct open-position tokens across every
// account, sorted for stable fetch order.
func (s *PriceService) heldTokens() []string {
	seen := make(map[string]bool)
	for _, key := range s.registry.Keys() {
		l, ok := s.registry.Peek(key)
		if !ok {
			continue
		}
		for _, pos := range l.OpenPositions() {
			seen[pos.TokenID] = true
		}
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (s *PriceService) publish(ctx context.Context, pt domain.PricePoint) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     "midpoint",
		"token_id":  pt.TokenID,
		"price":     pt.Price,
		"timestamp": pt.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, pricesChannel, payload); err != nil {
		s.logger.DebugContext(ctx, "price_service: publish failed",
			slog.String("token_id", pt.TokenID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PriceService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
