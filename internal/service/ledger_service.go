// Package service exposes read facades over the account registry for the
// status API. Handlers stay thin: every lookup, price join, and window
// computation lives here.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/ledger"
	"github.com/kordes/polymirror/internal/registry"
)

// defaultStatsWindow is used when a stats request names no window.
const defaultStatsWindow = 24 * time.Hour

// PnLReport is one account's profit summary. UnrealizedPnL only counts
// open positions whose token had a cached price; PricedTokens says how
// many of the open positions that was.
type PnLReport struct {
	AccountKey    string  `json:"account_key"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	OpenPositions int     `json:"open_positions"`
	PricedTokens  int     `json:"priced_tokens"`
}

// LedgerService reads account state for the status API. It never creates
// or mutates ledgers; unknown accounts come back as ErrNotFound.
type LedgerService struct {
	registry *registry.Registry
	prices   domain.PriceCache
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService. prices may be nil, in which
// case PnL reports skip the unrealized leg.
func NewLedgerService(reg *registry.Registry, prices domain.PriceCache, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		registry: reg,
		prices:   prices,
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
}

// Accounts returns the registered account keys, sorted.
func (s *LedgerService) Accounts(_ context.Context) []string {
	return s.registry.Keys()
}

// Positions returns the account's open positions.
func (s *LedgerService) Positions(_ context.Context, accountKey string) ([]domain.Position, error) {
	l, err := s.lookup(accountKey)
	if err != nil {
		return nil, err
	}
	return l.OpenPositions(), nil
}

// Closed returns the account's most recent closed records, newest first.
// limit <= 0 returns everything retained.
func (s *LedgerService) Closed(_ context.Context, accountKey string, limit int) ([]domain.ClosedPositionRecord, error) {
	l, err := s.lookup(accountKey)
	if err != nil {
		return nil, err
	}
	return l.ClosedPositions(limit), nil
}

// Resolved returns the account's settlement records.
func (s *LedgerService) Resolved(_ context.Context, accountKey string) ([]domain.ResolvedPositionRecord, error) {
	l, err := s.lookup(accountKey)
	if err != nil {
		return nil, err
	}
	return l.ResolvedPositions(), nil
}

// PnL returns the account's realized P&L, joined with unrealized P&L from
// cached prices when withPrices is set. A cold price cache degrades to a
// realized-only report rather than failing the request.
func (s *LedgerService) PnL(ctx context.Context, accountKey string, withPrices bool) (PnLReport, error) {
	l, err := s.lookup(accountKey)
	if err != nil {
		return PnLReport{}, err
	}

	report := PnLReport{
		AccountKey:    accountKey,
		RealizedPnL:   l.RealizedPnL(),
		OpenPositions: len(l.OpenPositions()),
	}
	if withPrices && s.prices != nil {
		open := l.OpenPositions()
		tokenIDs := make([]string, 0, len(open))
		for _, pos := range open {
			tokenIDs = append(tokenIDs, pos.TokenID)
		}
		prices, err := s.prices.GetPrices(ctx, tokenIDs)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger_service: price fetch failed",
				slog.String("account", accountKey),
				slog.String("error", err.Error()),
			)
		} else {
			report.UnrealizedPnL = l.UnrealizedPnL(prices)
			report.PricedTokens = len(prices)
		}
	}
	report.TotalPnL = report.RealizedPnL + report.UnrealizedPnL
	return report, nil
}

// Stats returns the account's windowed activity stats for the trailing
// window, defaulting to 24 hours.
func (s *LedgerService) Stats(_ context.Context, accountKey string, window time.Duration) (domain.WindowStats, error) {
	l, err := s.lookup(accountKey)
	if err != nil {
		return domain.WindowStats{}, err
	}
	if window <= 0 {
		window = defaultStatsWindow
	}
	end := time.Now().UTC()
	return l.StatsForWindow(end.Add(-window), end), nil
}

func (s *LedgerService) lookup(accountKey string) (*ledger.Ledger, error) {
	l, ok := s.registry.Peek(accountKey)
	if !ok {
		return nil, fmt.Errorf("ledger_service: account %q: %w", accountKey, domain.ErrNotFound)
	}
	return l, nil
}
