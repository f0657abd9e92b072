package registry_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"fundingwatch/internal/config"
	"fundingwatch/internal/httpx"
	"fundingwatch/internal/logger"
	"fundingwatch/internal/provider"
	providercache "fundingwatch/internal/provider/cache"
	"fundingwatch/internal/provider/providermock"
	"fundingwatch/internal/provider/ratelimit"
	"fundingwatch/internal/provider/registry"
)

func TestBuild_FollowsConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Exchanges.Binance.Enabled = false
	cfg.Exchanges.MEXC.Enabled = false

	sources := registry.Build(cfg, httpx.New(time.Second), logger.Discard())

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"BYBIT", "OKX", "GATE", "BINGX", "KUCOIN", "BITGET", "BITMART"}, names)
}

func TestDecorate(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	src := providermock.NewMockProvider(ctrl)
	src.EXPECT().Name().Return("GATE").AnyTimes()
	log := logger.Discard()

	cases := []struct {
		name  string
		ex    config.Exchange
		check func(t *testing.T, p provider.Provider)
	}{
		{"bare", config.Exchange{}, func(t *testing.T, p provider.Provider) {
			require.Same(t, src, p)
		}},
		{"token bucket and cache", config.Exchange{MaxRequestsPerMinute: 60, Burst: 5, MinRequestIntervalSec: 3, CacheTTLSeconds: 5}, func(t *testing.T, p provider.Provider) {
			rl, ok := p.(*ratelimit.Provider)
			require.True(t, ok)
			require.Equal(t, 5, rl.L.Burst())
			c, ok := rl.P.(*providercache.Provider)
			require.True(t, ok)
			require.Equal(t, 5*time.Second, c.TTL)
			require.Same(t, src, c.P)
		}},
		{"min interval only", config.Exchange{MinRequestIntervalSec: 2}, func(t *testing.T, p provider.Provider) {
			rl, ok := p.(*ratelimit.Provider)
			require.True(t, ok)
			require.Equal(t, 1, rl.L.Burst())
			require.Same(t, src, rl.P)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, registry.Decorate(src, tc.ex, log))
		})
	}
}

func TestDecorate_AbandonedCallsNeverReachSource(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: count every lookup that reaches the exchange
	var calls atomic.Int32
	src := providermock.NewMockProvider(ctrl)
	src.EXPECT().Name().Return("GATE").AnyTimes()
	src.EXPECT().FetchOne(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, sym string) (provider.Quote, error) {
		calls.Add(1)
		return provider.Quote{Source: "GATE", Symbol: sym}, nil
	}).AnyTimes()

	// two per second with a burst of one: only the first call gets a token
	p := registry.Decorate(src, config.Exchange{MaxRequestsPerMinute: 120, Burst: 1, CacheTTLSeconds: 5}, logger.Discard())

	// Act: every caller gives up after 20ms
	for i, sym := range []string{"A_USDT", "B_USDT", "C_USDT", "D_USDT"} {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		_, err := p.FetchOne(ctx, sym)
		cancel()
		if i == 0 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
		}
	}

	// Assert: tokens refill every 500ms; nothing abandoned fires later
	time.Sleep(1200 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
}
