package registry

import (
	"time"

	"github.com/sirupsen/logrus"

	"fundingwatch/internal/config"
	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/binance"
	"fundingwatch/internal/provider/bingx"
	"fundingwatch/internal/provider/bitget"
	"fundingwatch/internal/provider/bitmart"
	"fundingwatch/internal/provider/bybit"
	providercache "fundingwatch/internal/provider/cache"
	"fundingwatch/internal/provider/gateio"
	"fundingwatch/internal/provider/kucoin"
	"fundingwatch/internal/provider/mexc"
	"fundingwatch/internal/provider/okx"
	"fundingwatch/internal/provider/ratelimit"
)

// Build returns the enabled sources in a fixed order, each wrapped with its
// rate limit and response cache.
func Build(cfg config.Config, hc *httpx.Client, log logrus.FieldLogger) []provider.Provider {
	quote := cfg.Aggregator.QuoteCurrency
	ex := cfg.Exchanges

	var out []provider.Provider
	add := func(p provider.Provider, c config.Exchange) {
		out = append(out, Decorate(p, c, log))
	}
	if ex.Bybit.Enabled {
		add(bybit.New(bybit.Config{BaseURL: ex.Bybit.BaseURL, QuoteCurrency: quote}, hc), ex.Bybit)
	}
	if ex.Binance.Enabled {
		add(binance.New(binance.Config{BaseURL: ex.Binance.BaseURL, QuoteCurrency: quote}, hc.HTTP), ex.Binance)
	}
	if ex.OKX.Enabled {
		add(okx.New(okx.Config{BaseURL: ex.OKX.BaseURL, QuoteCurrency: quote, MaxContracts: ex.OKX.MaxContracts}, hc), ex.OKX)
	}
	if ex.Gate.Enabled {
		add(gateio.New(gateio.Config{BaseURL: ex.Gate.BaseURL, QuoteCurrency: quote}, hc), ex.Gate)
	}
	if ex.MEXC.Enabled {
		add(mexc.New(mexc.Config{BaseURL: ex.MEXC.BaseURL, QuoteCurrency: quote}, hc), ex.MEXC)
	}
	if ex.BingX.Enabled {
		add(bingx.New(bingx.Config{BaseURL: ex.BingX.BaseURL, QuoteCurrency: quote}, hc), ex.BingX)
	}
	if ex.KuCoin.Enabled {
		add(kucoin.New(kucoin.Config{BaseURL: ex.KuCoin.BaseURL, QuoteCurrency: quote, Timeout: hc.HTTP.Timeout}), ex.KuCoin)
	}
	if ex.Bitget.Enabled {
		add(bitget.New(bitget.Config{BaseURL: ex.Bitget.BaseURL, QuoteCurrency: quote}, hc), ex.Bitget)
	}
	if ex.BitMart.Enabled {
		add(bitmart.New(bitmart.Config{BaseURL: ex.BitMart.BaseURL, QuoteCurrency: quote}, hc), ex.BitMart)
	}

	names := make([]string, 0, len(out))
	for _, p := range out {
		names = append(names, p.Name())
	}
	log.WithField("sources", names).Info("sources configured")
	return out
}

// Decorate applies the response cache and then the limiter around it,
// preferring a token bucket when a per-minute rate is set. The limiter sits
// outside so a caller's context bounds its wait; the cache fetches under a
// detached context and must only ever reach an unthrottled source. Cache hits
// therefore spend tokens too.
func Decorate(p provider.Provider, c config.Exchange, log logrus.FieldLogger) provider.Provider {
	if c.CacheTTLSeconds > 0 {
		p = providercache.New(p, time.Duration(c.CacheTTLSeconds)*time.Second, log)
	}
	switch {
	case c.MaxRequestsPerMinute > 0:
		p = ratelimit.PerMinute(p, c.MaxRequestsPerMinute, c.Burst)
	case c.MinRequestIntervalSec > 0:
		p = ratelimit.Every(p, time.Duration(c.MinRequestIntervalSec)*time.Second)
	}
	return p
}
