package process

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_active_version_cache_hits_total",
		Help: "Active version cache hits.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_active_version_cache_misses_total",
		Help: "Active version cache misses.",
	})
)

// activeVersionCache memoizes get_active_version lookups on the dispatch hot
// path. Entries are invalidated explicitly on activation and expire on TTL
// as a backstop for concurrent orchestrator replicas.
type activeVersionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	group   singleflight.Group
	now     func() time.Time
}

type cacheEntry struct {
	version   *Version
	expiresAt time.Time
}

func newActiveVersionCache(ttl time.Duration) *activeVersionCache {
	return &activeVersionCache{
		entries: map[string]cacheEntry{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached active version, loading through load on miss.
// Concurrent misses for the same process collapse into one load.
func (c *activeVersionCache) Get(ctx context.Context, processID string, load func(ctx context.Context) (*Version, error)) (*Version, error) {
	c.mu.RLock()
	e, ok := c.entries[processID]
	c.mu.RUnlock()

	if ok && c.now().Before(e.expiresAt) {
		cacheHits.Inc()
		return e.version, nil
	}
	cacheMisses.Inc()

	v, err, _ := c.group.Do(processID, func() (any, error) {
		version, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[processID] = cacheEntry{version: version, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return version, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Version), nil
}

func (c *activeVersionCache) Invalidate(processID string) {
	c.mu.Lock()
	delete(c.entries, processID)
	c.mu.Unlock()
}
