// Package hnscache is the response cache for the Handshake resolution
// path. Unlike a conventional TTL cache (see resolvers.TTLCache), reads
// never evict: freshness decisions are pushed to an explicit sweep driven
// by blockchain height rather than wall-clock time, because a Handshake
// name-tree commitment is only as fresh as the next tree interval.
package hnscache

import (
	"sync"
	"time"
)

// TreeInterval is the default aging-window length, in blocks, matching the
// Handshake name-tree commitment cadence. Overridable per Cache.
const TreeInterval = 36

// PopularityThreshold is the access-count floor above which an expired
// entry is treated as "popular, prefetch" rather than dropped by a sweep.
const PopularityThreshold = 2

// Key identifies one cached answer.
type Key struct {
	Name  string
	Type  uint16
	Class uint16
}

type entry struct {
	bytes []byte
	// expiresAt is a wall-clock expiry computed at Put time from a TTL in
	// seconds. The cache never consults it on Get; only CleanupExpiredEntries
	// does.
	expiresAt            time.Time
	counter              int
	lastCountResetHeight uint32
	lastAccessHeight     uint32
}

// PrefetchHook is invoked asynchronously by CleanupExpiredEntries for each
// expired-but-popular entry it leaves in place.
type PrefetchHook func(name string, qtype, qclass uint16)

// Cache is the height-aware response cache. Zero value is not usable; use
// New.
type Cache struct {
	mu           sync.Mutex
	data         map[Key]*entry
	treeInterval uint32
}

// New creates a Cache with the given aging-window length in blocks. A
// value <= 0 falls back to TreeInterval.
func New(treeInterval int) *Cache {
	if treeInterval <= 0 {
		treeInterval = TreeInterval
	}
	return &Cache{
		data:         map[Key]*entry{},
		treeInterval: uint32(treeInterval),
	}
}

// Get looks up (name, qtype, qclass). Absent keys return (nil, false).
// Present keys are returned regardless of wall-clock expiry - the cache
// never performs lazy eviction on read. A read crossing an aging-window
// boundary resets the access counter before incrementing it.
func (c *Cache) Get(name string, qtype, qclass uint16, currentHeight uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[Key{Name: name, Type: qtype, Class: qclass}]
	if !ok {
		return nil, false
	}

	c.maybeResetWindow(e, currentHeight)
	e.counter++
	e.lastAccessHeight = currentHeight
	return e.bytes, true
}

// Put stores bytes for (name, qtype, qclass), overwriting any existing
// entry. The counter and both height fields reset to currentHeight.
func (c *Cache) Put(name string, qtype, qclass uint16, data []byte, ttlSec int, currentHeight uint32) {
	if ttlSec <= 0 {
		ttlSec = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[Key{Name: name, Type: qtype, Class: qclass}] = &entry{
		bytes:                data,
		expiresAt:            time.Now().Add(time.Duration(ttlSec) * time.Second),
		counter:              0,
		lastCountResetHeight: currentHeight,
		lastAccessHeight:     currentHeight,
	}
}

// Remove deletes the entry for (name, qtype, qclass), if any.
func (c *Cache) Remove(name string, qtype, qclass uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, Key{Name: name, Type: qtype, Class: qclass})
}

// CleanupExpiredEntries sweeps all entries. Non-expired entries are
// untouched. For each wall-clock-expired entry, the window-reset rule is
// applied and then the entry is partitioned: counter > PopularityThreshold
// means "popular" - prefetchHook is invoked (asynchronously, in its own
// goroutine) and the entry is left in place; counter <= PopularityThreshold
// means "unpopular" - the entry is dropped.
func (c *Cache) CleanupExpiredEntries(currentHeight uint32, prefetchHook PrefetchHook) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.data {
		if !now.After(e.expiresAt) {
			continue
		}
		c.maybeResetWindow(e, currentHeight)

		if e.counter > PopularityThreshold {
			if prefetchHook != nil {
				k := k
				go prefetchHook(k.Name, k.Type, k.Class)
			}
			continue
		}
		delete(c.data, k)
	}
}

// maybeResetWindow resets e's counter and lastCountResetHeight if
// currentHeight has advanced at least treeInterval blocks past the last
// reset. Caller must hold c.mu.
func (c *Cache) maybeResetWindow(e *entry, currentHeight uint32) {
	if currentHeight-e.lastCountResetHeight >= c.treeInterval {
		e.counter = 0
		e.lastCountResetHeight = currentHeight
	}
}

// Len reports the number of entries currently stored, for metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
