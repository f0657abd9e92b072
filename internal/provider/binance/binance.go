package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"

	"fundingwatch/internal/provider"
)

// Binance rejects unknown symbols with -1121 "Invalid symbol."
const codeInvalidSymbol = -1121

// Config controls the Binance USD-M futures provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
}

// Provider reads the premium index, which carries mark price, last funding
// rate and next funding time for every USD-M perpetual.
type Provider struct {
	cfg    Config
	client *futures.Client
}

// New builds a provider on an unauthenticated go-binance futures client.
// hc may be nil to keep the library's default client.
func New(cfg Config, hc *http.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "BINANCE"
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	client := futures.NewClient("", "")
	if hc != nil {
		client.HTTPClient = hc
	}
	if cfg.BaseURL != "" {
		client.SetApiEndpoint(strings.TrimRight(cfg.BaseURL, "/"))
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	res, err := p.client.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: premium index: %w", err)
	}
	out := make([]provider.Quote, 0, len(res))
	for _, pi := range res {
		if !strings.HasSuffix(pi.Symbol, p.cfg.QuoteCurrency) || pi.NextFundingTime <= 0 {
			continue
		}
		q, err := p.quote(pi)
		if err != nil {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	res, err := p.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
			return provider.Quote{}, provider.ErrNoData
		}
		return provider.Quote{}, fmt.Errorf("binance: premium index %s: %w", symbol, err)
	}
	if len(res) == 0 {
		return provider.Quote{}, provider.ErrNoData
	}
	return p.quote(res[0])
}

func (p *Provider) quote(pi *futures.PremiumIndex) (provider.Quote, error) {
	rate, err := parseFloat(pi.LastFundingRate)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("binance: %s funding rate: %w", pi.Symbol, err)
	}
	price, err := parseFloat(pi.MarkPrice)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("binance: %s mark price: %w", pi.Symbol, err)
	}
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          pi.Symbol,
		Rate:            rate,
		Price:           price,
		NextFundingTime: provider.ParseEpoch(pi.NextFundingTime),
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
