package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"fundingwatch/internal/cache"
	"fundingwatch/internal/provider"
)

// lookup is a FetchOne outcome. Misses are cached too, so repeated symbol
// spellings that a source does not list cost one request per TTL.
type lookup struct {
	Quote   provider.Quote
	Missing bool
}

// Provider caches a source's responses for TTL. Concurrent identical calls
// share one upstream request, and a failed refresh serves the previous
// response when there is one.
type Provider struct {
	P   provider.Provider
	TTL time.Duration

	all *cache.Cache[[]provider.Quote]
	one *cache.Cache[lookup]
}

// New wraps p. A non-positive ttl disables caching.
func New(p provider.Provider, ttl time.Duration, log logrus.FieldLogger, opts ...cache.Option) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts = append([]cache.Option{cache.WithLogger(log.WithField("source", p.Name()))}, opts...)
	return &Provider{
		P:   p,
		TTL: ttl,
		all: cache.New[[]provider.Quote](opts...),
		one: cache.New[lookup](opts...),
	}
}

func (c *Provider) Name() string { return c.P.Name() }

func (c *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	if c.TTL <= 0 {
		return c.P.FetchAll(ctx)
	}
	return c.all.GetOrFetch(ctx, "all", c.TTL, c.P.FetchAll)
}

func (c *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	if c.TTL <= 0 {
		return c.P.FetchOne(ctx, symbol)
	}
	res, err := c.one.GetOrFetch(ctx, "one:"+symbol, c.TTL, func(ctx context.Context) (lookup, error) {
		q, err := c.P.FetchOne(ctx, symbol)
		if errors.Is(err, provider.ErrNoData) {
			return lookup{Missing: true}, nil
		}
		if err != nil {
			return lookup{}, err
		}
		return lookup{Quote: q}, nil
	})
	if err != nil {
		return provider.Quote{}, err
	}
	if res.Missing {
		return provider.Quote{}, provider.ErrNoData
	}
	return res.Quote, nil
}

// Purge drops expired responses and reports how many were removed.
func (c *Provider) Purge() int {
	return c.all.CleanupExpired() + c.one.CleanupExpired()
}
