package dispatcher

import (
	"sync"
	"time"

	"github.com/streamvault/streamvault/internal/models"
)

// dedupKey identifies one logical platform event.
type dedupKey struct {
	channelID        models.ULID
	kind             EventKind
	platformStreamID string
}

// dedupCache suppresses repeat deliveries of the same event within a TTL.
// Both the TTL and the entry count are bounded so a long-lived service
// cannot accumulate entries without limit.
type dedupCache struct {
	mu         sync.Mutex
	entries    map[dedupKey]time.Time
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newDedupCache(ttl time.Duration, maxEntries int) *dedupCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &dedupCache{
		entries:    make(map[dedupKey]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Contains reports whether the key is present and unexpired. It never
// records the key; callers Mark only after the event is fully handled, so a
// failed delivery stays eligible for retry.
func (c *dedupCache) Contains(key dedupKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.entries[key]
	return ok && c.now().Sub(at) < c.ttl
}

// Mark records the key as handled.
func (c *dedupCache) Mark(key dedupKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxEntries {
		c.sweepLocked(now)
	}
	// Still full after sweeping expired entries: drop the oldest so the
	// bound holds even under a flood of distinct keys.
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = now
}

func (c *dedupCache) sweepLocked(now time.Time) {
	for k, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

func (c *dedupCache) evictOldestLocked() {
	var (
		oldestKey dedupKey
		oldestAt  time.Time
		found     bool
	)
	for k, at := range c.entries {
		if !found || at.Before(oldestAt) {
			oldestKey, oldestAt, found = k, at, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// Len returns the current entry count.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
