package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config is fixed once the cache is built.
type Config struct {
	DefaultTTL      time.Duration
	MaxEntries      int
	CleanupInterval time.Duration
}

type entry[T any] struct {
	key          string
	data         T
	expiresAt    time.Time
	lastAccessed time.Time
}

// Cache is a process-local TTL cache with least-recently-accessed eviction.
// One instance holds one value type.
type Cache[T any] struct {
	cfg     Config
	metrics Metrics
	now     func() time.Time

	stop chan struct{}
	once sync.Once

	wg      sync.WaitGroup
	mu      sync.Mutex
	entries map[string]*list.Element
	// order keeps the most recently accessed entry at the front.
	order *list.List
}

type Option[T any] func(*Cache[T])

func WithMetrics[T any](m Metrics) Option[T] {
	return func(c *Cache[T]) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}

/* New creates the cache and, when a cleanup interval is configured,
   starts the cleanup loop that removes expired entries.
*/
func New[T any](cfg Config, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		cfg:     cfg,
		metrics: NoopMetrics{},
		now:     time.Now,
		stop:    make(chan struct{}),
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go func(interval time.Duration) {
			defer c.wg.Done()
			c.cleanupLoop(interval)
		}(cfg.CleanupInterval)
	}

	return c
}

func (c *Cache[T]) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Cleanup()
		}
	}
}

/* Get returns the value stored under key. Expired entries are removed
   and reported as a miss.
*/
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.metrics.Miss()
		return zero, false
	}

	ent := el.Value.(*entry[T])
	now := c.now()
	if now.After(ent.expiresAt) {
		c.removeElement(el)
		c.metrics.Expire()
		c.metrics.Miss()
		return zero, false
	}

	ent.lastAccessed = now
	c.order.MoveToFront(el)
	c.metrics.Hit()
	return ent.data, true
}

// Set stores data with the default TTL.
func (c *Cache[T]) Set(key string, data T) {
	c.SetWithTTL(key, data, 0)
}

/* SetWithTTL stores data under key. A ttl of zero or less falls back to
   the default TTL. Inserting a new key into a full cache evicts the least
   recently accessed entry first.
*/
func (c *Cache[T]) SetWithTTL(key string, data T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry[T])
		ent.data = data
		ent.expiresAt = now.Add(ttl)
		ent.lastAccessed = now
		c.order.MoveToFront(el)
		return
	}

	if c.cfg.MaxEntries > 0 && len(c.entries) >= c.cfg.MaxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.metrics.Eviction()
		}
	}

	el := c.order.PushFront(&entry[T]{
		key:          key,
		data:         data,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	})
	c.entries[key] = el
}

// Delete reports whether key was present.
func (c *Cache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Has reports whether a live entry exists. It does not refresh recency.
func (c *Cache[T]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return !c.now().After(el.Value.(*entry[T]).expiresAt)
}

/* Cleanup removes every expired entry and returns how many were removed.
   Keys are collected first and deleted afterwards.
*/
func (c *Cache[T]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := make([]*list.Element, 0)
	for _, el := range c.entries {
		if now.After(el.Value.(*entry[T]).expiresAt) {
			expired = append(expired, el)
		}
	}

	for _, el := range expired {
		c.removeElement(el)
		c.metrics.Expire()
	}
	return len(expired)
}

func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (c *Cache[T]) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *Cache[T]) removeElement(el *list.Element) {
	ent := c.order.Remove(el).(*entry[T])
	delete(c.entries, ent.key)
}
