package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/kmikulski/libseries/series"
)

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration // how long entries stay valid
	MaxEntries      int           // maximum number of entries before eviction
	CleanupInterval time.Duration // how often expired entries are swept
}

// DefaultCacheConfig provides sensible defaults for expansion caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

type cacheEntry struct {
	dates      []time.Time
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache memoizes expansion results. Safe for concurrent use. Expansion is
// pure, so a cached result only goes stale through TTL, never through
// writes.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]*cacheEntry
	ttl         time.Duration
	maxEntries  int
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewCache creates an expansion cache and starts its cleanup loop. Call
// Stop when done.
func NewCache(config CacheConfig) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}

	c := &Cache{
		entries:     make(map[string]*cacheEntry),
		ttl:         config.TTL,
		maxEntries:  config.MaxEntries,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(config.CleanupInterval)
	return c
}

// Stop terminates the cleanup goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) get(key string) ([]time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	entry.accessedAt = time.Now()
	return entry.dates, true
}

func (c *Cache) put(key string, dates []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.entries[key] = &cacheEntry{
		dates:      dates,
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}
}

// evictOldestLocked removes the least recently accessed entry. Caller
// holds the write lock.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessedAt.Before(oldest) {
			oldestKey = key
			oldest = entry.accessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// cacheKey hashes everything expansion depends on.
func cacheKey(rec series.Recurrence, anchor, windowStart, windowEnd time.Time, loc *time.Location) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|", rec.Type, rec.Rule, rec.Interval, rec.Count)
	if rec.EndDate != nil {
		h.Write([]byte(rec.EndDate.Format(time.RFC3339Nano)))
	}
	h.Write([]byte{'|'})
	h.Write([]byte(anchor.Format(time.RFC3339Nano)))
	h.Write([]byte(windowStart.Format(time.RFC3339Nano)))
	h.Write([]byte(windowEnd.Format(time.RFC3339Nano)))
	if loc != nil {
		h.Write([]byte(loc.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Evaluator expands recurrence rules, optionally memoizing results.
// The zero value is usable and uncached.
type Evaluator struct {
	cache *Cache
}

// NewEvaluator creates an uncached evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// NewCachedEvaluator creates an evaluator backed by an expansion cache.
func NewCachedEvaluator(config CacheConfig) *Evaluator {
	return &Evaluator{cache: NewCache(config)}
}

// Stop releases the cache's cleanup goroutine, if any.
func (e *Evaluator) Stop() {
	if e.cache != nil {
		e.cache.Stop()
	}
}

// Expand behaves like the package-level Expand, consulting the cache first.
func (e *Evaluator) Expand(rec series.Recurrence, anchor, windowStart, windowEnd time.Time, loc *time.Location) ([]time.Time, error) {
	if e.cache == nil {
		return Expand(rec, anchor, windowStart, windowEnd, loc)
	}

	key := cacheKey(rec, anchor, windowStart, windowEnd, loc)
	if dates, ok := e.cache.get(key); ok {
		return dates, nil
	}
	dates, err := Expand(rec, anchor, windowStart, windowEnd, loc)
	if err != nil {
		return nil, err
	}
	e.cache.put(key, dates)
	return dates, nil
}
