// Package cache holds recent retrieval and tool results shared across
// sessions. It is injected into the orchestrator as a collaborator so
// sessions can be tested against a stub, and it is sharded so writers never
// block readers of unrelated keys.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

// Store is the cache contract the orchestrator depends on.
type Store interface {
	Get(key string) (any, bool)
	Put(key string, value any)
}

const defaultShardCount = 16

// Config bounds the cache.
type Config struct {
	// TTL is how long an entry stays valid after being written.
	TTL time.Duration
	// MaxEntriesPerShard bounds each shard; the least recently used entry is
	// evicted when the bound is hit.
	MaxEntriesPerShard int
}

// DefaultConfig matches the documented retention of speculative results.
func DefaultConfig() Config {
	return Config{
		TTL:                5 * time.Minute,
		MaxEntriesPerShard: 256,
	}
}

type entry struct {
	key      string
	value    any
	storedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

// Sharded is the concurrent Store implementation: per-shard locking with LRU
// bounding and TTL expiry on read.
type Sharded struct {
	config Config
	shards []*shard
	now    func() time.Time
}

// Option configures the cache.
type Option func(*Sharded)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Sharded) { c.now = now }
}

// NewSharded creates a cache with the given bounds.
func NewSharded(config Config, opts ...Option) *Sharded {
	c := &Sharded{
		config: config,
		shards: make([]*shard, defaultShardCount),
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries: map[string]*list.Element{},
			order:   list.New(),
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Sharded) shardFor(key string) *shard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached value for key if it exists and has not expired.
func (c *Sharded) Get(key string) (any, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	cached := element.Value.(*entry)
	if c.config.TTL > 0 && c.now().Sub(cached.storedAt) >= c.config.TTL {
		s.order.Remove(element)
		delete(s.entries, key)
		return nil, false
	}
	s.order.MoveToFront(element)
	return cached.value, true
}

// Put stores a value, refreshing its TTL and recency, and evicts the least
// recently used entry if the shard is over its bound.
func (c *Sharded) Put(key string, value any) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, ok := s.entries[key]; ok {
		cached := element.Value.(*entry)
		cached.value = value
		cached.storedAt = c.now()
		s.order.MoveToFront(element)
		return
	}

	s.entries[key] = s.order.PushFront(&entry{key: key, value: value, storedAt: c.now()})

	if c.config.MaxEntriesPerShard > 0 && s.order.Len() > c.config.MaxEntriesPerShard {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*entry).key)
		}
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Sharded) Sweep() int {
	if c.config.TTL <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.config.TTL)

	dropped := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, element := range s.entries {
			if element.Value.(*entry).storedAt.Before(cutoff) {
				s.order.Remove(element)
				delete(s.entries, key)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// Len returns the current number of cached entries.
func (c *Sharded) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.order.Len()
		s.mu.Unlock()
	}
	return total
}
