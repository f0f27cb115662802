// Package peercache caches resolved peer descriptors.
//
// Peer resolution is a remote call; the cache turns repeated
// resolutions of the same identity into local lookups, bounded in
// memory (LRU) and staleness (TTL). Resolved routing information can
// go stale if the platform migrates an identity, so expired entries
// are treated as absent.
package peercache

import (
	"container/list"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

type entry struct {
	id          domain.PeerID
	descriptor  *domain.PeerDescriptor
	refreshedAt time.Time
}

// Metrics is a point-in-time snapshot of cache counters.
type Metrics struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     uint64  `json:"evictions"`
	Expirations   uint64  `json:"expirations"`
	TotalRequests uint64  `json:"total_requests"`
}

// Cache is a size- and TTL-bounded LRU cache of peer descriptors.
// Safe for concurrent use by parallel shard workers.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	ll    *list.List // front = most recently used
	items map[domain.PeerID]*list.Element

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	now func() time.Time
}

// New creates a cache holding at most maxSize descriptors, each valid
// for ttl after insertion or refresh.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		items:   make(map[domain.PeerID]*list.Element),
		now:     time.Now,
	}
}

// Get returns the cached descriptor for id, or nil if absent. An entry
// older than the TTL is removed and counted as both a miss and an
// expiration. A hit moves the entry to the most-recently-used position.
func (c *Cache) Get(id domain.PeerID) *domain.PeerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		c.misses++
		return nil
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.refreshedAt) > c.ttl {
		c.removeElement(el)
		c.misses++
		c.expirations++
		return nil
	}

	c.ll.MoveToFront(el)
	c.hits++
	return e.descriptor
}

// Set inserts or refreshes the descriptor for id at the
// most-recently-used position with a fresh timestamp, evicting the
// least-recently-used entry if the cache grows past its bound.
func (c *Cache) Set(id domain.PeerID, descriptor *domain.PeerDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.removeElement(el)
	}

	el := c.ll.PushFront(&entry{id: id, descriptor: descriptor, refreshedAt: c.now()})
	c.items[id] = el

	if c.ll.Len() > c.maxSize {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
}

// EvictExpired removes every entry older than the TTL and returns the
// count removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	var next *list.Element
	for el := c.ll.Front(); el != nil; el = next {
		next = el.Next()
		if now.Sub(el.Value.(*entry).refreshedAt) > c.ttl {
			c.removeElement(el)
			removed++
		}
	}

	c.expirations += uint64(removed)
	return removed
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[domain.PeerID]*list.Element)
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100.0
	}

	return Metrics{
		Size:          c.ll.Len(),
		MaxSize:       c.maxSize,
		Hits:          c.hits,
		Misses:        c.misses,
		HitRate:       rate,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		TotalRequests: total,
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).id)
}
