package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kordes/polymirror/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Each account's
// full ledger state is a single JSONB document upserted atomically, so a
// snapshot is either fully written or not written at all and recovery never
// sees a torn ledger.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Save upserts the snapshot document for the account key.
func (s *LedgerStore) Save(ctx context.Context, accountKey string, snap domain.LedgerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", accountKey, err)
	}

	const query = `
		INSERT INTO ledger_snapshots (account_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, accountKey, data); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", accountKey, err)
	}
	return nil
}

// Load returns the snapshot for the account key, or domain.ErrNotFound if
// the account has never been persisted.
func (s *LedgerStore) Load(ctx context.Context, accountKey string) (domain.LedgerSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM ledger_snapshots WHERE account_key = $1`,
		accountKey,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerSnapshot{}, domain.ErrNotFound
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load snapshot %s: %w", accountKey, err)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot %s: %w", accountKey, err)
	}
	return snap, nil
}

// Delete removes the persisted snapshot for the account key. Deleting an
// absent key is not an error.
func (s *LedgerStore) Delete(ctx context.Context, accountKey string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_snapshots WHERE account_key = $1`,
		accountKey,
	); err != nil {
		return fmt.Errorf("postgres: delete snapshot %s: %w", accountKey, err)
	}
	return nil
}

// Keys lists all persisted account keys in stable order.
func (s *LedgerStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_key FROM ledger_snapshots ORDER BY account_key`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list account keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres: scan account key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list account keys rows: %w", err)
	}
	return keys, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
