package asset

import (
	"container/list"
	"sync"

	"graphmirror/cas"
)

// DefaultCacheCapacity bounds the mirror-side asset cache when the caller
// does not choose a size.
const DefaultCacheCapacity = 4096

// Cache is the mirror-side bounded fingerprint -> asset map. Entries persist
// across synchronization calls so unchanged subtrees are never re-fetched.
// Eviction is recency-based, except that assets belonging to the promoted
// primary-branch snapshot are protected: the live working set must survive
// arbitrary churn from detached synchronizations.
//
// Content never invalidates an entry. An edited node arrives under a new
// fingerprint; the old entry simply ages out.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	entries   map[cas.Fingerprint]*list.Element
	lru       *list.List // front = most recent
	protected map[cas.Fingerprint]bool

	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	sum   cas.Fingerprint
	asset *Asset
}

// NewCache creates a cache bounded to capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity:  capacity,
		entries:   make(map[cas.Fingerprint]*list.Element),
		lru:       list.New(),
		protected: make(map[cas.Fingerprint]bool),
	}
}

// Get returns the cached asset for a fingerprint, refreshing its recency.
func (c *Cache) Get(sum cas.Fingerprint) (*Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[sum]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(el)
	return el.Value.(*cacheEntry).asset, true
}

// Add inserts an asset, evicting the least recently used unprotected
// entries if the cache is over capacity. Inserting an existing fingerprint
// refreshes recency only: content under a fingerprint never changes.
func (c *Cache) Add(a *Asset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[a.Sum]; ok {
		c.lru.MoveToFront(el)
		return
	}

	el := c.lru.PushFront(&cacheEntry{sum: a.Sum, asset: a})
	c.entries[a.Sum] = el

	for len(c.entries) > c.capacity {
		if !c.evictOneLocked() {
			break // everything left is protected
		}
	}
}

// evictOneLocked removes the least recently used unprotected entry.
func (c *Cache) evictOneLocked() bool {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		entry := el.Value.(*cacheEntry)
		if c.protected[entry.sum] {
			continue
		}
		c.lru.Remove(el)
		delete(c.entries, entry.sum)
		c.evictions++
		return true
	}
	return false
}

// Protect replaces the protected set. The caller passes the fingerprint
// closure of the promoted snapshot; the previous protected set is released
// in the same step so nothing stays pinned across promotions.
func (c *Cache) Protect(sums []cas.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.protected = make(map[cas.Fingerprint]bool, len(sums))
	for _, sum := range sums {
		c.protected[sum] = true
	}

	// Releasing protection may leave the cache over capacity.
	for len(c.entries) > c.capacity {
		if !c.evictOneLocked() {
			break
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Entries: len(c.entries)}
}
