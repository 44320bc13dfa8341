// Package dedupe remembers recently indexed article links so a replayed or
// re-fetched entry is not embedded twice.
package dedupe

import (
	"sync"
	"time"
)

type entry struct {
	key string
	ts  time.Time
}

// Cache keeps a bounded set of recently seen keys, each valid for ttl.
type Cache struct {
	mu       sync.Mutex
	items    map[string]time.Time
	order    []entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache with the provided capacity and ttl.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		items:    make(map[string]time.Time, capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsSeen reports whether key was marked inside the ttl window.
func (c *Cache) IsSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seenLocked(key, c.now())
}

// MarkSeen records key.
func (c *Cache) MarkSeen(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) seenLocked(key string, now time.Time) bool {
	ts, ok := c.items[key]
	return ok && now.Sub(ts) <= c.ttl
}

func (c *Cache) markLocked(key string, now time.Time) {
	c.items[key] = now
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)
}

func (c *Cache) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.items) > c.capacity || c.order[0].ts.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		// A key marked again later has a newer entry further down the queue.
		if ts, ok := c.items[oldest.key]; ok && ts == oldest.ts {
			delete(c.items, oldest.key)
		}
	}
}
