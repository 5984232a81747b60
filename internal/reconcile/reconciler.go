// Package reconcile compares ledger state against the on-chain balances
// the subgraph reports for the follower wallet. It only observes: fills
// arriving through the feed are the one source of ledger correction, so a
// divergence here is logged loudly and left alone.
package reconcile

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/kordes/polymirror/internal/platform/goldsky"
	"github.com/kordes/polymirror/internal/registry"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultTolerance = 0.01
	fetchLimit       = 500
)

// BalanceSource is the subgraph surface the reconciler reads.
type BalanceSource interface {
	FetchUserBalances(ctx context.Context, wallet string, first int) ([]goldsky.UserBalance, error)
	FetchLatestBlock(ctx context.Context) (int64, error)
}

// DivergenceKind categorizes a ledger/chain mismatch.
type DivergenceKind string

const (
	// DivergenceMissingInLedger marks a token held on-chain with no open
	// ledger position.
	DivergenceMissingInLedger DivergenceKind = "missing_in_ledger"

	// DivergenceMissingOnChain marks an open ledger position with no
	// on-chain balance.
	DivergenceMissingOnChain DivergenceKind = "missing_on_chain"

	// DivergenceSizeDrift marks a shared token whose sizes disagree
	// beyond the tolerance.
	DivergenceSizeDrift DivergenceKind = "size_drift"
)

// Divergence is one mismatch found during a pass.
type Divergence struct {
	Account    string
	TokenID    string
	Kind       DivergenceKind
	LedgerSize float64
	ChainSize  float64
}

// Config holds the reconciler's tunables.
type Config struct {
	// Wallet is the follower wallet whose balances are fetched.
	Wallet string

	// Interval is how often a pass runs.
	Interval time.Duration

	// SizeTolerance is the share drift below which sizes count as equal.
	SizeTolerance float64
}

// Reconciler periodically diffs every account ledger against the follower
// wallet's on-chain balances.
type Reconciler struct {
	registry *registry.Registry
	chain    BalanceSource
	cfg      Config
	logger   *slog.Logger
}

// New creates a Reconciler.
func New(reg *registry.Registry, chain BalanceSource, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SizeTolerance <= 0 {
		cfg.SizeTolerance = defaultTolerance
	}
	return &Reconciler{
		registry: reg,
		chain:    chain,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Run reconciles on a ticker until the context is cancelled. Call in a
// goroutine.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		slog.String("wallet", r.cfg.Wallet),
		slog.Duration("interval", r.cfg.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			divergences, err := r.Check(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "reconcile pass failed", slog.String("error", err.Error()))
				continue
			}
			r.report(ctx, divergences)
		}
	}
}

// Check runs one pass and returns every divergence it found. The ledgers
// are never mutated.
func (r *Reconciler) Check(ctx context.Context) ([]Divergence, error) {
	balances, err := r.chain.FetchUserBalances(ctx, r.cfg.Wallet, fetchLimit)
	if err != nil {
		return nil, err
	}

	onChain := make(map[string]float64, len(balances))
	for _, b := range balances {
		onChain[b.TokenID] = b.Balance
	}

	if block, err := r.chain.FetchLatestBlock(ctx); err == nil {
		r.logger.DebugContext(ctx, "subgraph head",
			slog.Int64("block", block),
			slog.Int("chain_tokens", len(onChain)),
		)
	}

	var divergences []Divergence
	for _, account := range r.registry.Keys() {
		l, ok := r.registry.Peek(account)
		if !ok {
			continue
		}

		ledgerTokens := make(map[string]float64)
		for _, pos := range l.OpenPositions() {
			ledgerTokens[pos.TokenID] = math.Abs(pos.NetSize)
		}

		for _, tokenID := range sortedTokens(ledgerTokens) {
			size := ledgerTokens[tokenID]
			chainSize, held := onChain[tokenID]
			switch {
			case !held:
				divergences = append(divergences, Divergence{
					Account:    account,
					TokenID:    tokenID,
					Kind:       DivergenceMissingOnChain,
					LedgerSize: size,
				})
			case math.Abs(size-chainSize) > r.cfg.SizeTolerance:
				divergences = append(divergences, Divergence{
					Account:    account,
					TokenID:    tokenID,
					Kind:       DivergenceSizeDrift,
					LedgerSize: size,
					ChainSize:  chainSize,
				})
			}
		}

		for _, tokenID := range sortedTokens(onChain) {
			if _, ok := ledgerTokens[tokenID]; ok {
				continue
			}
			divergences = append(divergences, Divergence{
				Account:   account,
				TokenID:   tokenID,
				Kind:      DivergenceMissingInLedger,
				ChainSize: onChain[tokenID],
			})
		}
	}
	return divergences, nil
}

func (r *Reconciler) report(ctx context.Context, divergences []Divergence) {
	if len(divergences) == 0 {
		r.logger.DebugContext(ctx, "ledgers match chain")
		return
	}
	for _, d := range divergences {
		r.logger.WarnContext(ctx, "ledger diverges from chain",
			slog.String("account", d.Account),
			slog.String("token_id", d.TokenID),
			slog.String("kind", string(d.Kind)),
			slog.Float64("ledger_size", d.LedgerSize),
			slog.Float64("chain_size", d.ChainSize),
		)
	}
}

func sortedTokens(m map[string]float64) []string {
	tokens := make([]string, 0, len(m))
	for t := range m {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
