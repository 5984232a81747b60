// Package sizing scales a source wallet's fills down to the follower's
// copy size and rejects malformed fills before they reach the ledger.
package sizing

import (
	"fmt"
	"log/slog"

	"github.com/kordes/polymirror/internal/domain"
)

// Config holds the tunable copy-sizing parameters.
type Config struct {
	// Multiplier scales the source trade's size. 1.0 copies one-to-one.
	Multiplier float64

	// MaxTradeUSDC caps the copy notional per fill. The copy size is
	// reduced so copySize * price never exceeds it.
	MaxTradeUSDC float64

	// MinOrderUSDC is the exchange's minimum order notional. Fills whose
	// scaled copy would land below it are skipped rather than rejected.
	MinOrderUSDC float64
}

// Sizer computes follower copy sizes from source fills.
type Sizer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Sizer. Zero-valued config fields fall back to copying
// one-to-one with a 100 USDC cap.
func New(cfg Config, logger *slog.Logger) *Sizer {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1.0
	}
	if cfg.MaxTradeUSDC <= 0 {
		cfg.MaxTradeUSDC = 100.0
	}
	if cfg.MinOrderUSDC <= 0 {
		cfg.MinOrderUSDC = 1.0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sizer{cfg: cfg, logger: logger.With(slog.String("component", "sizing"))}
}

// CopySize validates the fill and returns the follower's size for it. A
// fill the follower should skip entirely comes back as zero with no
// error; malformed fills are rejected with ErrInvalidTrade so they never
// reach the ledger.
func (s *Sizer) CopySize(trade domain.Trade) (float64, error) {
	if !trade.Side.Valid() {
		return 0, fmt.Errorf("sizing: side %q: %w", trade.Side, domain.ErrInvalidTrade)
	}
	if trade.Size <= 0 {
		return 0, fmt.Errorf("sizing: size %.4f: %w", trade.Size, domain.ErrInvalidTrade)
	}
	if trade.Price <= 0 || trade.Price > 1 {
		return 0, fmt.Errorf("sizing: price %.4f: %w", trade.Price, domain.ErrInvalidTrade)
	}

	copySize := trade.Size * s.cfg.Multiplier
	if limit := s.cfg.MaxTradeUSDC / trade.Price; copySize > limit {
		s.logger.Info("sizing: copy size capped",
			slog.String("token_id", trade.TokenID),
			slog.Float64("uncapped", copySize),
			slog.Float64("capped", limit),
			slog.Float64("max_usdc", s.cfg.MaxTradeUSDC),
		)
		copySize = limit
	}
	if copySize <= domain.Epsilon {
		return 0, nil
	}
	if copySize*trade.Price < s.cfg.MinOrderUSDC {
		s.logger.Debug("sizing: copy below minimum notional, skipping",
			slog.String("token_id", trade.TokenID),
			slog.Float64("notional", copySize*trade.Price),
			slog.Float64("min_usdc", s.cfg.MinOrderUSDC),
		)
		return 0, nil
	}
	return copySize, nil
}
