package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"fundingwatch/internal/provider"
)

// PerMinute allows n calls per minute to p with bursts of up to burst calls.
// The bucket starts full. A burst below 1 is treated as 1.
func PerMinute(p provider.Provider, n, burst int) *Provider {
	if n <= 0 {
		return &Provider{P: p}
	}
	if burst < 1 {
		burst = 1
	}
	return &Provider{P: p, L: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), burst)}
}
