package cync

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DedupCacheConfig tunes DedupCache sizing and expiry.
type DedupCacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// DefaultDedupCacheConfig matches the defaults used by the reliable
// transport's receive path.
func DefaultDedupCacheConfig() DedupCacheConfig {
	return DedupCacheConfig{MaxSize: 1000, TTL: 300 * time.Second}
}

// DedupCache is a size-bounded, strictly LRU, TTL-expired set of
// dedup keys. It guards its own lock independently of the transport
// state lock: lookups are read-mostly and must stay fast regardless
// of what the state lock is doing.
type DedupCache struct {
	cfg     DedupCacheConfig
	mu      sync.Mutex
	ll      *list.List // front = most recently used
	index   map[string]*list.Element
	onEvict func()
}

// OnEvict registers a callback invoked whenever Add evicts the least
// recently used entry to stay within MaxSize. Intended for metrics
// wiring; fn may be nil.
func (c *DedupCache) OnEvict(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// NewDedupCache returns a cache ready for use. A zero MaxSize or TTL
// in cfg falls back to DefaultDedupCacheConfig's values.
func NewDedupCache(cfg DedupCacheConfig) *DedupCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDedupCacheConfig().MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultDedupCacheConfig().TTL
	}
	return &DedupCache{
		cfg:   cfg,
		ll:    list.New(),
		index: make(map[string]*list.Element),
	}
}

// Contains reports whether key is present and not expired, touching
// it as most-recently-used if so.
func (c *DedupCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	e := el.Value.(*dedupEntry)
	if time.Since(e.insertedAt) > c.cfg.TTL {
		c.ll.Remove(el)
		delete(c.index, key)
		return false
	}
	c.ll.MoveToFront(el)
	return true
}

// Lookup returns the correlation id stored for key, if present and
// unexpired, without mutating recency.
func (c *DedupCache) Lookup(key string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return uuid.UUID{}, false
	}
	e := el.Value.(*dedupEntry)
	if time.Since(e.insertedAt) > c.cfg.TTL {
		return uuid.UUID{}, false
	}
	return e.correlationID, true
}

// Add inserts key with the given correlation id, evicting the least
// recently used entry if the cache is at capacity.
func (c *DedupCache) Add(key string, correlationID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*dedupEntry).insertedAt = time.Now()
		return
	}
	e := &dedupEntry{dedupKey: key, correlationID: correlationID, insertedAt: time.Now()}
	el := c.ll.PushFront(e)
	c.index[key] = el
	for c.ll.Len() > c.cfg.MaxSize {
		c.evictOldest()
	}
}

func (c *DedupCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	delete(c.index, el.Value.(*dedupEntry).dedupKey)
	if c.onEvict != nil {
		c.onEvict()
	}
}

// CleanupExpired removes every entry whose TTL has elapsed. Intended
// to be called periodically by a background sweep; Contains also
// expires lazily so this is a memory bound, not a correctness
// requirement.
func (c *DedupCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	now := time.Now()
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*dedupEntry)
		if now.Sub(e.insertedAt) > c.cfg.TTL {
			c.ll.Remove(el)
			delete(c.index, e.dedupKey)
			removed++
		}
		el = prev
	}
	return removed
}

// Len returns the current number of entries, including any not yet
// lazily expired.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
