package enrich

import (
	"container/list"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCacheSize = 500
	DefaultCacheTTL  = time.Hour
)

// Cache is a size- and TTL-bounded memo of completed enrichment results,
// owned by one Chain. The least recently used entry is evicted when full.
type Cache struct {
	size int
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key     string
	result  Result
	expires time.Time
}

// NewCache returns a cache, or nil when size is zero (caching disabled).
func NewCache(size int, ttl time.Duration, now func() time.Time) *Cache {
	if size <= 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		size:    size,
		ttl:     ttl,
		now:     now,
		order:   list.New(),
		entries: make(map[string]*list.Element, size),
	}
}

// Get returns a live entry. Expired entries are dropped on read.
func (c *Cache) Get(key string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return Result{}, false
	}
	c.order.MoveToFront(el)
	return entry.result, true
}

// Put stores a result under key.
func (c *Cache) Put(key string, result Result) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.result = result
		entry.expires = expires
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, result: result, expires: expires})
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
