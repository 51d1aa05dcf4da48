package fetchcache

import (
	"time"

	"github.com/gravitational/trace"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTTL is how long a cached value stays valid.
	DefaultTTL = 5 * time.Minute

	// DefaultCapacity bounds the cache so long-lived sessions cannot grow it
	// without limit.
	DefaultCapacity = 512

	// DefaultCooldown is how long the breaker stays open after a total
	// failure.
	DefaultCooldown = 30 * time.Second
)

type entry[V any] struct {
	value    V
	cachedAt time.Time
}

// Cache is a bounded LRU whose entries expire after a TTL. Expired entries
// are treated as absent, never returned.
type Cache[V any] struct {
	ttl   time.Duration
	clock clockwork.Clock
	lru   *lru.Cache[string, entry[V]]
}

// NewCache creates a cache. Zero ttl or capacity select the defaults; onEvict
// may be nil.
func NewCache[V any](ttl time.Duration, capacity int, clock clockwork.Clock, onEvict func(key string, value V)) (*Cache[V], error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var evict func(string, entry[V])
	if onEvict != nil {
		evict = func(key string, e entry[V]) { onEvict(key, e.value) }
	}
	inner, err := lru.NewWithEvict[string, entry[V]](capacity, evict)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Cache[V]{ttl: ttl, clock: clock, lru: inner}, nil
}

// Get returns the cached value for key while it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.clock.Now().Sub(e.cachedAt) >= c.ttl {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Put stores the value under key, stamping it with the current time.
func (c *Cache[V]) Put(key string, value V) {
	c.lru.Add(key, entry[V]{value: value, cachedAt: c.clock.Now()})
}

// Remove drops the entry for key.
func (c *Cache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of entries, including ones that may have expired
// but were not read since.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
