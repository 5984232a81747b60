// Package file implements domain.LedgerStore on the local filesystem, one
// JSON document per account. It is the zero-dependency backend for single
// instance deployments; the Postgres backend covers everything else.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kordes/polymirror/internal/domain"
)

const snapshotExt = ".json"

// Store persists ledger snapshots as pretty-printed JSON files under a
// single directory. Writes go through a temp file followed by an atomic
// rename, so a crash mid-write leaves the previous snapshot intact.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create snapshot dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// path maps an account key to its snapshot file. Keys are flattened so a
// key like "team/primary" cannot escape the snapshot directory.
func (s *Store) path(accountKey string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, accountKey)
	return filepath.Join(s.dir, safe+snapshotExt)
}

// Save writes the snapshot for the account key atomically.
func (s *Store) Save(ctx context.Context, accountKey string, snap domain.LedgerSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal snapshot %s: %w", accountKey, err)
	}

	target := s.path(accountKey)

	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", accountKey, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write snapshot %s: %w", accountKey, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: sync snapshot %s: %w", accountKey, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close snapshot %s: %w", accountKey, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: rename snapshot %s: %w", accountKey, err)
	}
	return nil
}

// Load reads the snapshot for the account key. It returns domain.ErrNotFound
// when no snapshot file exists.
func (s *Store) Load(ctx context.Context, accountKey string) (domain.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerSnapshot{}, err
	}

	data, err := os.ReadFile(s.path(accountKey))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.LedgerSnapshot{}, domain.ErrNotFound
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("file: read snapshot %s: %w", accountKey, err)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("file: unmarshal snapshot %s: %w", accountKey, err)
	}
	return snap, nil
}

// Delete removes the snapshot file for the account key. Deleting an absent
// key is not an error.
func (s *Store) Delete(ctx context.Context, accountKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(accountKey)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: delete snapshot %s: %w", accountKey, err)
	}
	return nil
}

// Keys lists all persisted account keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file: read snapshot dir: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, snapshotExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*Store)(nil)
