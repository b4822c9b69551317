package cache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 10 * time.Minute

const invalidateAttempts = 3

var (
	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "user_cache_lookups_total", Help: "Response cache lookups by result"},
		[]string{"result"},
	)
	invalidateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "user_cache_invalidation_failures_total", Help: "Generation bumps that failed after retries"},
	)
)

func init() { prometheus.MustRegister(lookups, invalidateFailures) }

// Cache is a Redis response cache whose entries live under a generation number.
// InvalidateAll bumps the generation, so every older entry stops being reachable
// at once and expires on its own TTL.
//
// A bump that fails marks the cache stale: reads skip it and retry the bump
// until one succeeds, so an entry written before the lost bump is never served.
type Cache struct {
	RDB    redis.UniversalClient
	Prefix string
	TTL    time.Duration
	sf     singleflight.Group
	stale  atomic.Bool
}

func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "cache"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{RDB: rdb, Prefix: prefix, TTL: ttl}
}

func (c *Cache) genKey() string { return c.Prefix + ":gen" }

func (c *Cache) entryKey(gen int64, key string) string {
	return c.Prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	gen, err := c.RDB.Get(ctx, c.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns the cached bytes for key, ok=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	b, err := c.RDB.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, val []byte) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, c.entryKey(gen, key), val, c.TTL).Err()
}

// InvalidateAll bumps the generation, retrying briefly before giving up.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	err := c.RDB.Incr(ctx, c.genKey()).Err()
	for i := 1; err != nil && i < invalidateAttempts && ctx.Err() == nil; i++ {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
			err = c.RDB.Incr(ctx, c.genKey()).Err()
		}
	}
	if err == nil {
		c.stale.Store(false)
		return nil
	}
	c.stale.Store(true)
	invalidateFailures.Inc()
	return err
}

func (c *Cache) heal(ctx context.Context) bool {
	if err := c.RDB.Incr(ctx, c.genKey()).Err(); err != nil {
		return false
	}
	c.stale.Store(false)
	return true
}

// GetOrLoad serves key from cache or runs load once per generation+key,
// coalescing concurrent misses. Redis failures degrade to calling load.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if c.stale.Load() && !c.heal(ctx) {
		lookups.WithLabelValues("bypass").Inc()
		return load(ctx)
	}
	gen, err := c.generation(ctx)
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		return load(ctx)
	}
	full := c.entryKey(gen, key)
	if b, err := c.RDB.Get(ctx, full).Bytes(); err == nil {
		lookups.WithLabelValues("hit").Inc()
		return b, nil
	}
	lookups.WithLabelValues("miss").Inc()
	v, err, _ := c.sf.Do(full, func() (any, error) {
		b, e := load(ctx)
		if e != nil {
			return nil, e
		}
		_ = c.RDB.Set(ctx, full, b, c.TTL).Err()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
