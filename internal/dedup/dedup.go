// Package dedup provides TTL-bounded in-memory identifier tracking for
// webhook event deduplication, own-message detection, and media path caching.
//
// State is intentionally process-local: the gateway only redelivers within a
// short window, so losing the maps on restart is acceptable and no
// exactly-once guarantee is promised.
package dedup

import (
	"sync"
	"time"
)

// DefaultTTL is the retention window for tracked identifiers.
const DefaultTTL = 24 * time.Hour

// Tracker remembers message identifiers for a bounded time window.
//
// One instance tracks processed inbound events; a second instance tracks the
// bot's own sent message IDs so replies to them can be detected.
type Tracker struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewTracker creates a tracker with the given retention window.
// A non-positive ttl falls back to DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate reports whether id was recorded within the retention window.
// Empty identifiers are never duplicates.
func (t *Tracker) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	first, ok := t.seen[id]
	if !ok {
		return false
	}
	if t.now().Sub(first) > t.ttl {
		delete(t.seen, id)
		return false
	}
	return true
}

// Record marks id as seen now. Empty identifiers are never recorded.
// Entries past the retention window are evicted opportunistically.
func (t *Tracker) Record(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	t.seen[id] = t.now()
}

// CheckAndRecord atomically checks for a prior record and records id when
// absent, returning true when id was already present. The check and the
// insert happen under one lock so two concurrent deliveries of the same
// event cannot both pass.
func (t *Tracker) CheckAndRecord(id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	if first, ok := t.seen[id]; ok && t.now().Sub(first) <= t.ttl {
		return true
	}
	t.seen[id] = t.now()
	return false
}

// Len returns the number of currently tracked identifiers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// evictLocked removes entries past the retention window. Caller holds mu.
func (t *Tracker) evictLocked() {
	cutoff := t.now().Add(-t.ttl)
	for id, first := range t.seen {
		if first.Before(cutoff) {
			delete(t.seen, id)
		}
	}
}

type pathEntry struct {
	path string
	at   time.Time
}

// PathCache remembers the gateway file path of auto-downloaded media per
// message identifier, with the same retention discipline as Tracker. A later
// reply quoting the media message resolves its bytes from this cache before
// falling back to the on-demand download API.
type PathCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	paths map[string]pathEntry
	now   func() time.Time
}

// NewPathCache creates a path cache with the given retention window.
// A non-positive ttl falls back to DefaultTTL.
func NewPathCache(ttl time.Duration) *PathCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PathCache{
		ttl:   ttl,
		paths: make(map[string]pathEntry),
		now:   time.Now,
	}
}

// Put stores the media path for a message identifier. Empty identifiers and
// paths are ignored.
func (c *PathCache) Put(id, path string) {
	if id == "" || path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
	c.paths[id] = pathEntry{path: path, at: c.now()}
}

// Get returns the cached media path for id when still within the window.
func (c *PathCache) Get(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.paths[id]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.at) > c.ttl {
		delete(c.paths, id)
		return "", false
	}
	return entry.path, true
}

// evictLocked removes entries past the retention window. Caller holds mu.
func (c *PathCache) evictLocked() {
	cutoff := c.now().Add(-c.ttl)
	for id, entry := range c.paths {
		if entry.at.Before(cutoff) {
			delete(c.paths, id)
		}
	}
}
