package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored archive object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive objects. The archiver picks Put or
// PutMultipart by payload size.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads stored archives back for the status API's archive
// browser.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged ledger history to cold storage. The in-memory
// windows stay bounded either way; archiving preserves what eviction
// would otherwise discard.
type Archiver interface {
	ArchiveTradeHistory(ctx context.Context, accountKey string, before time.Time) (int64, error)
	ArchiveClosedPositions(ctx context.Context, accountKey string, before time.Time) (int64, error)
}
