package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same copy order from being submitted more than once
// within a time-to-live window, guarding against feed redeliveries racing
// the poller. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // dedup key -> last seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as duplicate when seen again
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window, recording
// it when new or expired.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup removes expired entries. Called periodically from the run loop to
// keep the map bounded.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
