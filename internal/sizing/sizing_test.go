package sizing

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kordes/polymirror/internal/domain"
)

func newTestSizer(cfg Config) *Sizer {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validTrade(size, price float64) domain.Trade {
	return domain.Trade{
		TokenID: "7129811452367",
		Side:    domain.SideBuy,
		Size:    size,
		Price:   price,
	}
}

func TestCopySizeAppliesMultiplier(t *testing.T) {
	s := newTestSizer(Config{Multiplier: 0.5, MaxTradeUSDC: 1000})

	got, err := s.CopySize(validTrade(40, 0.50))
	require.NoError(t, err)
	assert.InDelta(t, 20, got, 1e-9)
}

func TestCopySizeCapsNotional(t *testing.T) {
	s := newTestSizer(Config{Multiplier: 1.0, MaxTradeUSDC: 100})

	// 500 shares at 0.50 would be 250 USDC; the cap allows 200 shares.
	got, err := s.CopySize(validTrade(500, 0.50))
	require.NoError(t, err)
	assert.InDelta(t, 200, got, 1e-9)
	assert.InDelta(t, 100, got*0.50, 1e-9)
}

func TestCopySizeUnderCapPassesThrough(t *testing.T) {
	s := newTestSizer(Config{Multiplier: 1.0, MaxTradeUSDC: 100})

	got, err := s.CopySize(validTrade(50, 0.50))
	require.NoError(t, err)
	assert.InDelta(t, 50, got, 1e-9)
}

func TestCopySizeRejectsMalformedFills(t *testing.T) {
	s := newTestSizer(Config{})

	cases := []struct {
		name  string
		trade domain.Trade
	}{
		{"zero size", validTrade(0, 0.50)},
		{"negative size", validTrade(-5, 0.50)},
		{"zero price", validTrade(10, 0)},
		{"negative price", validTrade(10, -0.1)},
		{"price above one", validTrade(10, 1.5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CopySize(tc.trade)
			assert.ErrorIs(t, err, domain.ErrInvalidTrade)
		})
	}

	bad := validTrade(10, 0.50)
	bad.Side = "HOLD"
	_, err := s.CopySize(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidTrade)
}

func TestCopySizeBelowMinimumNotionalSkips(t *testing.T) {
	s := newTestSizer(Config{Multiplier: 0.01, MaxTradeUSDC: 100, MinOrderUSDC: 1.0})

	// 10 shares * 0.01 = 0.1 shares at 0.50 is a 0.05 USDC order.
	got, err := s.CopySize(validTrade(10, 0.50))
	require.NoError(t, err)
	assert.Zero(t, got)

	// At the boundary the copy goes through.
	got, err = s.CopySize(validTrade(200, 0.50))
	require.NoError(t, err)
	assert.InDelta(t, 2, got, 1e-9)
}

func TestCopySizeDustReturnsZero(t *testing.T) {
	s := newTestSizer(Config{Multiplier: 1e-9, MaxTradeUSDC: 100})

	got, err := s.CopySize(validTrade(1, 0.50))
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestNewDefaults(t *testing.T) {
	s := newTestSizer(Config{})

	got, err := s.CopySize(validTrade(500, 0.50))
	require.NoError(t, err)
	// Defaults: multiplier 1.0, cap 100 USDC.
	assert.InDelta(t, 200, got, 1e-9)
}
