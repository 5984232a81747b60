package feed

import (
	"sync"
	"time"
)

// Dedup remembers recently seen fill identifiers so a trade observed by both
// the poller and the live websocket feed is delivered exactly once. Entries
// expire after a TTL. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // transaction hash -> first seen
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup whose entries expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether key was already recorded within the TTL window and
// records it if not.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops a key so a later Seen returns false again. The live feed
// calls this when it had to drop a fill, leaving the poller to redeliver it.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Sweep removes expired entries. Call periodically to bound memory.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, first := range d.seen {
		if now.Sub(first) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of live entries, expired or not.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
