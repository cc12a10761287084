package ldap

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const lastKnownGoodMaxEntries = 100

type lastKnownGood struct {
	index    int
	recorded time.Time
}

// lastKnownGoodCache remembers, per server list, which slot last took over
// from the primary. New failover coordinators use it as a starting hint; it
// never steers an existing one.
type lastKnownGoodCache struct {
	mu         sync.Mutex
	entries    map[uint64]lastKnownGood
	maxEntries int
}

func newLastKnownGoodCache() *lastKnownGoodCache {
	return &lastKnownGoodCache{
		entries:    make(map[uint64]lastKnownGood),
		maxEntries: lastKnownGoodMaxEntries,
	}
}

// urlListKey hashes an ordered server list; order matters.
func urlListKey(urls []string) uint64 {
	d := xxhash.New()
	for _, u := range urls {
		_, _ = d.WriteString(u)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// get returns the hint for key if it was recorded less than maxAge ago.
func (c *lastKnownGoodCache) get(key uint64, now time.Time, maxAge time.Duration) (lastKnownGood, bool) {
	if c == nil {
		return lastKnownGood{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || now.Sub(e.recorded) >= maxAge {
		return lastKnownGood{}, false
	}
	return e, true
}

// record stores a hint, evicting an arbitrary entry when the cache is full.
func (c *lastKnownGoodCache) record(key uint64, index int, now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = lastKnownGood{index: index, recorded: now}
}

func (c *lastKnownGoodCache) forget(key uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *lastKnownGoodCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
