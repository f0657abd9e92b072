package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"fundingwatch/internal/provider"
)

// Provider wraps a provider and gates every call through a limiter.
// Waiting callers give up as soon as their context is done.
type Provider struct {
	P provider.Provider
	L *rate.Limiter
}

// Every enforces a minimum interval between calls to p.
func Every(p provider.Provider, interval time.Duration) *Provider {
	if interval <= 0 {
		return &Provider{P: p}
	}
	return &Provider{P: p, L: rate.NewLimiter(rate.Every(interval), 1)}
}

func (r *Provider) Name() string { return r.P.Name() }

func (r *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.P.FetchAll(ctx)
}

func (r *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	if err := r.wait(ctx); err != nil {
		return provider.Quote{}, err
	}
	return r.P.FetchOne(ctx, symbol)
}

func (r *Provider) wait(ctx context.Context) error {
	if r.L == nil {
		return nil
	}
	return r.L.Wait(ctx)
}

// Purge forwards to a wrapped response cache so periodic cleanup still
// reaches it; it reports 0 otherwise.
func (r *Provider) Purge() int {
	if c, ok := r.P.(interface{ Purge() int }); ok {
		return c.Purge()
	}
	return 0
}
