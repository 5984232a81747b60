// Package registry maps account keys to their position ledgers and keeps
// each ledger durable: every mutation that goes through the registry is
// followed by a synchronous snapshot write to the configured store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/ledger"
)

// Registry owns the account → ledger map. Ledgers are created empty on
// first reference and hydrated from the store when a snapshot exists.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger.Ledger

	store  domain.LedgerStore
	logger *slog.Logger
}

// New creates a Registry backed by the given store.
func New(store domain.LedgerStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ledgers: make(map[string]*ledger.Ledger),
		store:   store,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Ledger returns the ledger for an account key, loading a persisted
// snapshot on first reference and creating an empty ledger when none
// exists. Store errors other than "not found" are returned.
func (r *Registry) Ledger(ctx context.Context, accountKey string) (*ledger.Ledger, error) {
	r.mu.RLock()
	l, ok := r.ledgers[accountKey]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.ledgers[accountKey]; ok {
		return l, nil
	}

	snap, err := r.store.Load(ctx, accountKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		l = ledger.New(r.logger)
	case err != nil:
		return nil, fmt.Errorf("registry: load %s: %w", accountKey, err)
	default:
		l = ledger.FromSnapshot(snap, r.logger)
		r.logger.Info("registry: ledger hydrated",
			slog.String("account", accountKey),
			slog.Int("open_positions", len(snap.OpenPositions)),
		)
	}
	r.ledgers[accountKey] = l
	return l, nil
}

// Peek returns the in-memory ledger for a key without creating or loading
// one. Read-only surfaces use it so unknown keys stay unknown.
func (r *Registry) Peek(accountKey string) (*ledger.Ledger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[accountKey]
	return l, ok
}

// Keys returns the account keys currently resident in memory, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.ledgers))
	for k := range r.ledgers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadAll hydrates every account the store knows about. Called once at
// startup so read surfaces see pre-existing accounts immediately.
func (r *Registry) LoadAll(ctx context.Context) error {
	keys, err := r.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("registry: list keys: %w", err)
	}
	for _, key := range keys {
		if _, err := r.Ledger(ctx, key); err != nil {
			return err
		}
	}
	r.logger.Info("registry: ledgers loaded", slog.Int("accounts", len(keys)))
	return nil
}

// ApplyTrade applies a fill to the account's ledger and persists the new
// snapshot. The returned events are valid even when persistence fails:
// the in-memory state has already advanced and the caller decides whether
// to retry the write.
func (r *Registry) ApplyTrade(ctx context.Context, accountKey string, trade domain.Trade, copySize float64) ([]domain.PositionEvent, error) {
	l, err := r.Ledger(ctx, accountKey)
	if err != nil {
		return nil, err
	}
	events := l.ApplyTrade(trade, copySize)
	if len(events) == 0 {
		return nil, nil
	}
	return events, r.persist(ctx, accountKey, l)
}

// ApplyResolution settles a resolved market on the account's ledger and
// persists the new snapshot. As with ApplyTrade, the settlement stands
// even when the write fails.
func (r *Registry) ApplyResolution(ctx context.Context, accountKey string, ev domain.ResolutionEvent) (float64, []domain.ResolvedPositionRecord, error) {
	l, err := r.Ledger(ctx, accountKey)
	if err != nil {
		return 0, nil, err
	}
	total, settled := l.ApplyResolution(ev)
	if len(settled) == 0 {
		return total, settled, nil
	}
	return total, settled, r.persist(ctx, accountKey, l)
}

// Remove drops the account from memory and deletes its persisted
// snapshot. Unknown accounts are a no-op.
func (r *Registry) Remove(ctx context.Context, accountKey string) error {
	r.mu.Lock()
	_, ok := r.ledgers[accountKey]
	delete(r.ledgers, accountKey)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	if err := r.store.Delete(ctx, accountKey); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("registry: remove %s: %w", accountKey, err)
	}
	r.logger.Info("registry: ledger removed", slog.String("account", accountKey))
	return nil
}

// Reset clears the account's ledger and removes its persisted snapshot.
func (r *Registry) Reset(ctx context.Context, accountKey string) error {
	l, err := r.Ledger(ctx, accountKey)
	if err != nil {
		return err
	}
	l.Reset()
	if err := r.store.Delete(ctx, accountKey); err != nil {
		return fmt.Errorf("registry: delete %s: %w", accountKey, err)
	}
	r.logger.Info("registry: ledger reset", slog.String("account", accountKey))
	return nil
}

// Persist writes the account's current snapshot to the store.
func (r *Registry) Persist(ctx context.Context, accountKey string) error {
	l, ok := r.Peek(accountKey)
	if !ok {
		return fmt.Errorf("registry: persist %s: %w", accountKey, domain.ErrNotFound)
	}
	return r.persist(ctx, accountKey, l)
}

// PersistAll flushes every resident ledger, typically on shutdown.
func (r *Registry) PersistAll(ctx context.Context) error {
	var errs []error
	for _, key := range r.Keys() {
		if l, ok := r.Peek(key); ok {
			if err := r.persist(ctx, key, l); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) persist(ctx context.Context, accountKey string, l *ledger.Ledger) error {
	if err := r.store.Save(ctx, accountKey, l.Snapshot()); err != nil {
		r.logger.ErrorContext(ctx, "registry: persist failed",
			slog.String("account", accountKey),
			slog.Any("error", err),
		)
		return fmt.Errorf("registry: persist %s: %w", accountKey, err)
	}
	return nil
}
