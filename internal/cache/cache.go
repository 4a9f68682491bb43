// Package cache implements the Redis-backed read-through cache (A5)
// sitting in front of the Registry's project lookup by owner/name on
// every git push and fetch (see Lookups). Grounded on the teacher's Cache/Stats
// shape (TTL'd entries, a Stats snapshot), rebuilt on a real backend —
// the teacher declares github.com/redis/go-redis/v9 in its go.mod but
// never imports it.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/portway/internal/metrics"
)

// Stats tracks this cache's hit/miss counters since process start.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache is a read-through wrapper over a Redis client: Get/Set on byte
// payloads, the caller owning marshaling of its own value type.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
	metrics *metrics.Metrics
}

// SetMetrics attaches a Metrics instance the cache reports hits and
// misses to, in addition to its own in-process Stats counters.
// Optional.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// New creates a Cache over a Redis connection string
// (e.g. "redis://localhost:6379/0") with the given entry TTL.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get looks up key and unmarshals its JSON payload into dest. The
// second return reports whether the key was present and unexpired.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.misses.Add(1)
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return true, json.Unmarshal(raw, dest)
}

// Set marshals value as JSON and stores it under key with this
// Cache's configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate removes a single key, for use after a write makes a cached
// entry stale.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Stats returns a snapshot of this cache's hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// DomainKey and ProjectKey build cache keys for the routing table by
// subdomain and the Registry by owner/project name. Lookups uses
// ProjectKey; no lookup in this package caches domains.
func DomainKey(name string) string { return "domain:" + name }

func ProjectKey(ownerName, projectName string) string { return "project:" + ownerName + "/" + projectName }
