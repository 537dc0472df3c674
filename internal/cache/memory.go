package cache

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often expired counters are dropped.
const sweepEvery = time.Minute

type counter struct {
	value   int64
	expires time.Time
}

// MemoryCache is a process-local Cache for single-instance deployments.
type MemoryCache struct {
	mu        sync.Mutex
	counters  map[string]*counter
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{counters: make(map[string]*counter), now: time.Now}
}

func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

func (c *MemoryCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= sweepEvery {
		for k, v := range c.counters {
			if !now.Before(v.expires) {
				delete(c.counters, k)
			}
		}
		c.lastSweep = now
	}

	ctr, ok := c.counters[key]
	if !ok || !now.Before(ctr.expires) {
		ctr = &counter{expires: now.Add(expiry)}
		c.counters[key] = ctr
	}
	ctr.value++
	return ctr.value, nil
}
