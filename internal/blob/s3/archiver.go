package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kordes/polymirror/internal/domain"
	"github.com/kordes/polymirror/internal/ledger"
)

const (
	// defaultInterval is how often the archive loop sweeps resident accounts.
	defaultInterval = 24 * time.Hour

	// defaultMaxAge is how long records stay hot before they are shipped to
	// object storage. The bounded in-memory windows may evict them sooner;
	// archiving preserves what eviction would discard.
	defaultMaxAge = 30 * 24 * time.Hour

	// multipartThreshold switches uploads to the multipart manager. Monthly
	// JSONL files for a busy wallet can outgrow a single put.
	multipartThreshold = 16 * 1024 * 1024

	// multipartPartSize is the part size for multipart uploads.
	multipartPartSize int64 = 8 * 1024 * 1024
)

// LedgerSource resolves resident accounts to their ledgers. The account
// registry satisfies it. Peek never creates an account.
type LedgerSource interface {
	Keys() []string
	Peek(accountKey string) (*ledger.Ledger, bool)
}

// Config tunes the archive sweep.
type Config struct {
	Interval time.Duration // sweep cadence, default 24h
	MaxAge   time.Duration // records older than this are archived, default 30d
}

// ArchiveImpl implements domain.Archiver by draining aged ledger windows,
// serializing them to JSONL, and uploading the result to object storage.
//
// Records are not removed from the ledger here; the bounded windows evict
// on their own schedule, and a re-run simply rewrites the month's object
// with the same content.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	ledgers LedgerSource
	audit   domain.AuditStore // optional
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiver creates an ArchiveImpl. The audit store may be nil when the
// deployment runs without Postgres.
func NewArchiver(writer domain.BlobWriter, ledgers LedgerSource, audit domain.AuditStore, cfg Config, logger *slog.Logger) *ArchiveImpl {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &ArchiveImpl{
		writer:  writer,
		ledgers: ledgers,
		audit:   audit,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// Run sweeps all resident accounts on a fixed interval until the context is
// cancelled. Failures are logged and retried on the next tick.
func (a *ArchiveImpl) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Duration("max_age", a.cfg.MaxAge),
	)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveAll(ctx, a.now().Add(-a.cfg.MaxAge)); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveAll archives trade history and closed positions older than the
// cutoff for every resident account.
func (a *ArchiveImpl) ArchiveAll(ctx context.Context, before time.Time) error {
	for _, key := range a.ledgers.Keys() {
		trades, err := a.ArchiveTradeHistory(ctx, key, before)
		if err != nil {
			return err
		}
		closed, err := a.ArchiveClosedPositions(ctx, key, before)
		if err != nil {
			return err
		}
		if trades > 0 || closed > 0 {
			a.logger.Info("account archived",
				slog.String("account", key),
				slog.Int64("trades", trades),
				slog.Int64("closed", closed),
			)
		}
	}
	return nil
}

// ArchiveTradeHistory uploads one account's trade fills older than the
// cutoff to archive/<account>/trades/YYYY-MM.jsonl and records the event in
// the audit log. Returns the number of archived records.
func (a *ArchiveImpl) ArchiveTradeHistory(ctx context.Context, accountKey string, before time.Time) (int64, error) {
	l, ok := a.ledgers.Peek(accountKey)
	if !ok {
		return 0, fmt.Errorf("s3blob: archive trade history: account %q: %w", accountKey, domain.ErrNotFound)
	}

	records := l.HistoryBefore(before)
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trade history marshal: %w", err)
	}

	path := archivePath(accountKey, "trades", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trade history upload: %w", err)
	}

	count := int64(len(records))
	if err := a.auditLog(ctx, "archive.trade_history", accountKey, path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

// ArchiveClosedPositions uploads one account's closed-position records older
// than the cutoff to archive/<account>/closed/YYYY-MM.jsonl and records the
// event in the audit log. Returns the number of archived records.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, accountKey string, before time.Time) (int64, error) {
	l, ok := a.ledgers.Peek(accountKey)
	if !ok {
		return 0, fmt.Errorf("s3blob: archive closed positions: account %q: %w", accountKey, domain.ErrNotFound)
	}

	records := l.ClosedBefore(before)
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath(accountKey, "closed", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}

	count := int64(len(records))
	if err := a.auditLog(ctx, "archive.closed_positions", accountKey, path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

// upload ships one archive object, switching to the multipart manager for
// payloads large enough to benefit.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// auditLog records an archive event. Skipped silently when no audit store is
// configured.
func (a *ArchiveImpl) auditLog(ctx context.Context, event, accountKey, path string, count int64, before time.Time) error {
	if a.audit == nil {
		return nil
	}
	err := a.audit.Log(ctx, event, map[string]any{
		"account": accountKey,
		"path":    path,
		"count":   count,
		"before":  before.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by
// account and the year-month of the cutoff time.
//
//	archive/mirror/trades/2025-01.jsonl
//	archive/mirror/closed/2025-01.jsonl
func archivePath(accountKey, kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", accountKey, kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
