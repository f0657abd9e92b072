// Package cache provides a keyed TTL cache whose refreshes are single-flight:
// concurrent callers that miss on the same key share one computation.
package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"fundingwatch/internal/metrics"
)

// ErrInvalidTTL is returned when GetOrFetch is called with a non-positive ttl.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// entry is replaced on refresh, never mutated in place.
type entry[V any] struct {
	value     V
	createdAt time.Time
	ttl       time.Duration
}

func (e entry[V]) valid(now time.Time) bool { return now.Sub(e.createdAt) < e.ttl }

type options struct {
	now func() time.Time
	log logrus.FieldLogger
}

// Option configures a Cache.
type Option func(*options)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for miss/stale/failure events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// Cache maps string keys to values of type V with a per-entry TTL.
type Cache[V any] struct {
	now func() time.Time
	log logrus.FieldLogger

	mu      sync.RWMutex
	entries map[string]entry[V]

	// flights holds at most one in-flight compute per key.
	flights singleflight.Group
}

// New returns an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		now:     o.now,
		log:     o.log.WithField("component", "cache"),
		entries: make(map[string]entry[V]),
	}
}

// GetOrFetch returns the cached value for key while it is valid. Otherwise it
// joins or starts the single in-flight compute for key and returns its result.
//
// When compute fails and an older entry for key exists, expired or not, the
// old value is returned with a nil error. Without a prior entry the error is
// returned to every caller sharing that compute.
//
// A caller whose ctx ends stops waiting; the compute itself keeps running so
// the other waiters still get a result.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	if ttl <= 0 {
		return zero, ErrInvalidTTL
	}
	if v, ok := c.lookup(key); ok {
		metrics.CacheEvent(metrics.CacheHit)
		c.log.WithField("key", key).Debug("cache hit")
		return v, nil
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		// A flight that finished after our lookup may already have stored it.
		if v, ok := c.lookup(key); ok {
			metrics.CacheEvent(metrics.CacheHit)
			return v, nil
		}
		return c.refresh(context.WithoutCancel(ctx), key, ttl, compute)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.CacheEvent(metrics.CacheShared)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) refresh(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error)) (V, error) {
	log := c.log.WithField("key", key)
	metrics.CacheEvent(metrics.CacheMiss)
	log.Info("cache miss, computing")

	start := c.now()
	v, err := compute(ctx)
	if err != nil {
		c.mu.RLock()
		prev, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			metrics.CacheEvent(metrics.CacheStale)
			log.WithError(err).WithField("age", c.now().Sub(prev.createdAt).String()).
				Warn("compute failed, serving stale value")
			return prev.value, nil
		}
		metrics.CacheEvent(metrics.CacheError)
		log.WithError(err).Error("compute failed")
		return v, err
	}

	now := c.now()
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, createdAt: now, ttl: ttl}
	c.mu.Unlock()
	log.WithFields(logrus.Fields{"ttl": ttl.String(), "took": now.Sub(start).String()}).Info("cache updated")
	return v, nil
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.valid(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Invalidate drops key. An in-flight compute for key is not cancelled.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.log.WithField("key", key).Debug("cache invalidated")
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
	c.log.Info("cache cleared")
}

// CleanupExpired removes expired entries and reports how many were dropped.
// Note that this also removes the stale fallback for those keys.
func (c *Cache[V]) CleanupExpired() int {
	now := c.now()
	c.mu.Lock()
	n := 0
	for k, e := range c.entries {
		if !e.valid(now) {
			delete(c.entries, k)
			n++
		}
	}
	c.mu.Unlock()
	if n > 0 {
		c.log.WithField("removed", n).Info("cleaned up expired cache entries")
	}
	return n
}

// EntryStats describes one entry.
type EntryStats struct {
	Key   string        `json:"key"`
	Age   time.Duration `json:"age"`
	TTL   time.Duration `json:"ttl"`
	Valid bool          `json:"valid"`
}

// Stats is a point-in-time summary of the cache.
type Stats struct {
	Total   int          `json:"total"`
	Valid   int          `json:"valid"`
	Expired int          `json:"expired"`
	Entries []EntryStats `json:"entries"`
}

// Stats reports entry counts and ages, ordered by key.
func (c *Cache[V]) Stats() Stats {
	now := c.now()
	c.mu.RLock()
	st := Stats{Total: len(c.entries), Entries: make([]EntryStats, 0, len(c.entries))}
	for k, e := range c.entries {
		ok := e.valid(now)
		if ok {
			st.Valid++
		} else {
			st.Expired++
		}
		st.Entries = append(st.Entries, EntryStats{Key: k, Age: now.Sub(e.createdAt), TTL: e.ttl, Valid: ok})
	}
	c.mu.RUnlock()
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Key < st.Entries[j].Key })
	return st
}
