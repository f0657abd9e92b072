package bitmart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
)

const (
	defaultBaseURL = "https://api-cloud.bitmart.com"
	codeOK         = 1000
	perpetual      = 1
)

// Config controls the BitMart futures provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
}

type Provider struct {
	cfg    Config
	client httpx.Doer
	now    func() time.Time
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "BITMART"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

type contract struct {
	Symbol        string         `json:"symbol"`
	ProductType   int            `json:"product_type"`
	QuoteCurrency string         `json:"quote_currency"`
	LastPrice     provider.Float `json:"last_price"`
	FundingRate   provider.Float `json:"funding_rate"`
	// FundingTime is the next settlement, usually in milliseconds.
	FundingTime provider.Float `json:"funding_time"`
}

type detailsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Symbols []contract `json:"symbols"`
	} `json:"data"`
}

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	res, err := p.details(ctx, "")
	if err != nil {
		return nil, err
	}
	if res.Code != codeOK {
		return nil, fmt.Errorf("bitmart: api error %d: %s", res.Code, res.Message)
	}
	now := p.now()
	out := make([]provider.Quote, 0, len(res.Data.Symbols))
	for _, c := range res.Data.Symbols {
		if c.ProductType != perpetual || !strings.HasSuffix(c.Symbol, p.cfg.QuoteCurrency) {
			continue
		}
		out = append(out, p.quote(c, now))
	}
	return out, nil
}

// FetchOne expects the concatenated spelling, e.g. BTCUSDT.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.ContainsAny(sym, "_-") {
		return provider.Quote{}, provider.ErrNoData
	}
	res, err := p.details(ctx, sym)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusNotFound) {
			return provider.Quote{}, provider.ErrNoData
		}
		return provider.Quote{}, err
	}
	if res.Code != codeOK {
		return provider.Quote{}, provider.ErrNoData
	}
	for _, c := range res.Data.Symbols {
		if c.Symbol == sym && c.ProductType == perpetual {
			return p.quote(c, p.now()), nil
		}
	}
	return provider.Quote{}, provider.ErrNoData
}

func (p *Provider) details(ctx context.Context, symbol string) (detailsResponse, error) {
	u := p.cfg.BaseURL + "/contract/public/details"
	if symbol != "" {
		u += "?" + url.Values{"symbol": {symbol}}.Encode()
	}
	var res detailsResponse
	if err := httpx.GetJSON(ctx, p.client, u, &res); err != nil {
		return res, fmt.Errorf("bitmart: %w", err)
	}
	return res, nil
}

func (p *Provider) quote(c contract, now time.Time) provider.Quote {
	next := provider.ParseEpoch(int64(c.FundingTime))
	if next.IsZero() {
		next = provider.NextEightHourFunding(now)
	}
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          c.Symbol,
		Rate:            float64(c.FundingRate),
		Price:           float64(c.LastPrice),
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}
