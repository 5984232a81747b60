package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists per-account ledger snapshots. Implementations are
// swappable (Postgres row, JSON file per account) without the registry or
// ledger logic knowing which backend is in play.
type LedgerStore interface {
	// Save upserts the snapshot for the account key.
	Save(ctx context.Context, accountKey string, snap LedgerSnapshot) error
	// Load returns the snapshot for the account key, or ErrNotFound if the
	// account has never been persisted.
	Load(ctx context.Context, accountKey string) (LedgerSnapshot, error)
	// Delete removes the persisted snapshot for the account key. Deleting
	// an absent key is not an error.
	Delete(ctx context.Context, accountKey string) error
	// Keys lists all persisted account keys.
	Keys(ctx context.Context) ([]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log for operational events
// (archival runs, market resolutions, account resets).
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
