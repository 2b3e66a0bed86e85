// Package cache provides a bounded in-memory TTL cache that evicts the
// least-hit entry when full.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Entry is a cached value and its bookkeeping.
type Entry[V any] struct {
	Value      V
	InsertedAt time.Time
	TTL        time.Duration
	Hits       int

	seq uint64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) >= e.TTL
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

// Observer receives cache events. Implementations must be safe for concurrent use.
type Observer interface {
	CacheHit(name string)
	CacheMiss(name string)
	CacheEviction(name string)
}

// Cache is a concurrent-safe TTL cache. Lookups of expired entries count
// as misses and delete the entry.
type Cache[V any] struct {
	name       string
	mu         sync.Mutex
	entries    map[string]*Entry[V]
	maxEntries int
	ttl        time.Duration
	seq        uint64
	clock      clockwork.Clock
	observer   Observer

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock    clockwork.Clock
	observer Observer
	name     string
}

// WithClock sets the clock used for TTL checks.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithObserver reports hits, misses and evictions to obs under the given name.
func WithObserver(name string, obs Observer) Option {
	return func(o *options) {
		o.name = name
		o.observer = obs
	}
}

// New creates a cache holding at most maxEntries values, each visible for ttl.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{clock: clockwork.NewRealClock()}
	for _, fn := range opts {
		fn(&o)
	}
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache[V]{
		name:       o.name,
		entries:    make(map[string]*Entry[V]),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      o.clock,
		observer:   o.observer,
	}
}

// Get returns a copy of the live entry for key and records a hit on it.
func (c *Cache[V]) Get(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.miss()
		return Entry[V]{}, false
	}
	if e.expired(c.clock.Now()) {
		delete(c.entries, key)
		c.miss()
		return Entry[V]{}, false
	}

	e.Hits++
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit(c.name)
	}
	return *e, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key, replacing any existing entry. When the
// cache is full, expired entries are dropped first and then the entry with
// the fewest hits is evicted (oldest first on ties).
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.purgeExpired(now)
		for len(c.entries) >= c.maxEntries {
			c.evictOne()
		}
	}

	c.seq++
	c.entries[key] = &Entry[V]{
		Value:      value,
		InsertedAt: now,
		TTL:        ttl,
		seq:        c.seq,
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[V])
}

// Len returns the number of stored entries, including ones not yet found expired.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns current cache performance statistics.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    c.Len(),
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		Evictions:  c.evictions.Load(),
		HitRate:    hitRate,
	}
}

func (c *Cache[V]) miss() {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss(c.name)
	}
}

// purgeExpired must be called with mu held.
func (c *Cache[V]) purgeExpired(now time.Time) {
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}
}

// evictOne must be called with mu held.
func (c *Cache[V]) evictOne() {
	var (
		victim string
		best   *Entry[V]
	)
	for k, e := range c.entries {
		if best == nil || e.Hits < best.Hits || (e.Hits == best.Hits && e.seq < best.seq) {
			victim, best = k, e
		}
	}
	if best == nil {
		return
	}
	delete(c.entries, victim)
	c.evictions.Add(1)
	if c.observer != nil {
		c.observer.CacheEviction(c.name)
	}
}
