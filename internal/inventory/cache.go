package inventory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is used when Cached is given a zero TTL.
const DefaultCacheTTL = 5 * time.Minute

// MaxCacheEntries bounds a MemoryCache (LRU eviction).
const MaxCacheEntries = 10000

// sharedCallTimeout bounds a collapsed upstream call once it is detached
// from the caller that started it.
const sharedCallTimeout = 30 * time.Second

// Cache stores probe answers. Only definite answers are stored; probe errors
// are never cached.
type Cache interface {
	Get(ctx context.Context, key string) (available, found bool, err error)
	Set(ctx context.Context, key string, available bool, ttl time.Duration) error
}

// Cached wraps probe so answers are served from cache for ttl. Keys are
// namespaced so several retailers can share one cache. Concurrent probes
// for the same key are collapsed into one upstream call.
func Cached(probe Probe, cache Cache, ttl time.Duration, namespace string) Probe {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	var group singleflight.Group

	return func(ctx context.Context, name string) (bool, error) {
		key := namespace + ":" + name

		// A cache read failure is treated as a miss.
		if available, found, err := cache.Get(ctx, key); err == nil && found {
			return available, nil
		}

		// The upstream call is shared by every waiter on key, so it must not
		// inherit the cancellation of whichever caller started it.
		ch := group.DoChan(key, func() (any, error) {
			callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
			defer cancel()

			available, err := probe(callCtx, name)
			if err != nil {
				return false, err
			}
			_ = cache.Set(callCtx, key, available, ttl)
			return available, nil
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return false, res.Err
			}
			return res.Val.(bool), nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// MemoryCache is an in-process Cache with TTL expiry and LRU eviction.
type MemoryCache struct {
	maxEntries int
	now        func() time.Time

	mu         sync.Mutex
	entries    map[string]memoryEntry
	accessList []string // Least recently used first
}

type memoryEntry struct {
	available bool
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries answers
// (0 = MaxCacheEntries).
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = MaxCacheEntries
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]memoryEntry),
	}
}

// Get implements Cache. Expired entries are dropped on read.
func (c *MemoryCache) Get(_ context.Context, key string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		c.forgetLocked(key)
		return false, false, nil
	}
	c.touchLocked(key)
	return entry.available, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, available bool, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = memoryEntry{available: available, expiresAt: c.now().Add(ttl)}
	c.touchLocked(key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	c.accessList = nil
}

func (c *MemoryCache) touchLocked(key string) {
	c.forgetLocked(key)
	c.accessList = append(c.accessList, key)
}

func (c *MemoryCache) forgetLocked(key string) {
	for i, k := range c.accessList {
		if k == key {
			c.accessList = append(c.accessList[:i], c.accessList[i+1:]...)
			return
		}
	}
}

func (c *MemoryCache) evictOldestLocked() {
	if len(c.accessList) == 0 {
		return
	}
	oldest := c.accessList[0]
	c.accessList = c.accessList[1:]
	delete(c.entries, oldest)
}
