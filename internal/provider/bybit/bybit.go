package bybit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
)

const defaultBaseURL = "https://api.bybit.com"

// Bybit answers 10001 ("params error") for symbols it does not list.
const codeParamsError = 10001

// Config controls the Bybit provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
}

// Provider reads funding data from Bybit's linear tickers endpoint, which
// carries rate, price and next funding time in one payload.
type Provider struct {
	cfg    Config
	client httpx.Doer
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "BYBIT"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// FetchAll returns every linear contract quoted in the configured currency
// that has a scheduled funding time.
func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	list, err := p.tickers(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]provider.Quote, 0, len(list))
	for _, t := range list {
		if !strings.HasSuffix(t.Symbol, p.cfg.QuoteCurrency) || t.NextFundingTime <= 0 {
			continue
		}
		out = append(out, p.quote(t))
	}
	return out, nil
}

func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	list, err := p.tickers(ctx, symbol)
	if err != nil {
		return provider.Quote{}, err
	}
	if len(list) == 0 {
		return provider.Quote{}, provider.ErrNoData
	}
	return p.quote(list[0]), nil
}

type tickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []ticker `json:"list"`
	} `json:"result"`
}

type ticker struct {
	Symbol          string          `json:"symbol"`
	LastPrice       provider.Float  `json:"lastPrice"`
	FundingRate     provider.Float  `json:"fundingRate"`
	NextFundingTime provider.Millis `json:"nextFundingTime"`
}

func (p *Provider) tickers(ctx context.Context, symbol string) ([]ticker, error) {
	q := url.Values{}
	q.Set("category", "linear")
	if symbol != "" {
		q.Set("symbol", symbol)
	}

	var res tickersResponse
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+"/v5/market/tickers?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("bybit: %w", err)
	}
	switch {
	case res.RetCode == 0:
		return res.Result.List, nil
	case symbol != "" && res.RetCode == codeParamsError:
		return nil, provider.ErrNoData
	default:
		return nil, fmt.Errorf("bybit: api error %d: %s", res.RetCode, res.RetMsg)
	}
}

func (p *Provider) quote(t ticker) provider.Quote {
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          t.Symbol,
		Rate:            float64(t.FundingRate),
		Price:           float64(t.LastPrice),
		NextFundingTime: t.NextFundingTime.Time(),
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}
