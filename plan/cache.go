package plan

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds a cache created with a non-positive size.
const DefaultCacheSize = 256

// Cache stores compiled plans by key. Concurrent misses for the same key
// share one build. Failed builds are not stored.
// It is safe for concurrent use from multiple goroutines.
type Cache struct {
	plans  *lru.Cache[string, *Plan]
	flight singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding at most size plans.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	plans, err := lru.New[string, *Plan](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic("relq: " + err.Error())
	}
	return &Cache{plans: plans}
}

// Get returns the plan stored under key, building and storing it on a
// miss. hit reports whether the plan came from the cache, including
// plans built by a concurrent caller.
func (c *Cache) Get(key string, build func() (*Plan, error)) (p *Plan, hit bool, err error) {
	if p, ok := c.plans.Get(key); ok {
		c.hits.Add(1)
		return p, true, nil
	}
	v, err, shared := c.flight.Do(key, func() (any, error) {
		if p, ok := c.plans.Get(key); ok {
			return p, nil
		}
		p, err := build()
		if err != nil {
			return nil, err
		}
		c.plans.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v.(*Plan), shared, nil
}

// Purge drops every cached plan, for instance after the mapping changed.
func (c *Cache) Purge() { c.plans.Purge() }

// Len returns the number of cached plans.
func (c *Cache) Len() int { return c.plans.Len() }

// Stats returns the number of hits and misses since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
