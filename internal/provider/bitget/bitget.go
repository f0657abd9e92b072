package bitget

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
	defaultBaseURL = "https://api.bitget.com"
	codeOK         = "00000"
)

// Config controls the Bitget USDT-M futures provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
	// ProductType defaults to "<QUOTE>-FUTURES", e.g. USDT-FUTURES.
	ProductType string
}

type Provider struct {
	cfg    Config
	client httpx.Doer
	now    func() time.Time
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "BITGET"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.ProductType == "" {
		cfg.ProductType = cfg.QuoteCurrency + "-FUTURES"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

type ticker struct {
	Symbol      string         `json:"symbol"`
	LastPr      provider.Float `json:"lastPr"`
	MarkPrice   provider.Float `json:"markPrice"`
	FundingRate provider.Float `json:"fundingRate"`
}

type fundRate struct {
	Symbol      string          `json:"symbol"`
	FundingRate provider.Float  `json:"fundingRate"`
	NextUpdate  provider.Millis `json:"nextUpdate"`
}

type tickersResponse struct {
	Code string   `json:"code"`
	Msg  string   `json:"msg"`
	Data []ticker `json:"data"`
}

type fundRateResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data []fundRate `json:"data"`
}

// FetchAll reads every ticker in one request. Tickers carry no settlement
// time, so the 8-hour schedule is assumed.
func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	var res tickersResponse
	u := p.cfg.BaseURL + "/api/v2/mix/market/tickers?" + url.Values{"productType": {p.cfg.ProductType}}.Encode()
	if err := httpx.GetJSON(ctx, p.client, u, &res); err != nil {
		return nil, fmt.Errorf("bitget: %w", err)
	}
	if res.Code != codeOK {
		return nil, fmt.Errorf("bitget: api error %s: %s", res.Code, res.Msg)
	}
	next := provider.NextEightHourFunding(p.now())
	out := make([]provider.Quote, 0, len(res.Data))
	for _, t := range res.Data {
		if !strings.HasSuffix(t.Symbol, p.cfg.QuoteCurrency) {
			continue
		}
		out = append(out, provider.Quote{
			Source:          p.cfg.Name,
			Symbol:          t.Symbol,
			Rate:            float64(t.FundingRate),
			Price:           price(t),
			NextFundingTime: next,
			QuoteCurrency:   p.cfg.QuoteCurrency,
		})
	}
	return out, nil
}

// FetchOne expects the concatenated spelling, e.g. BTCUSDT. The price comes
// from a second, best-effort ticker request.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.ContainsAny(sym, "_-") {
		return provider.Quote{}, provider.ErrNoData
	}
	q := url.Values{"symbol": {sym}, "productType": {p.cfg.ProductType}}

	var res fundRateResponse
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+"/api/v2/mix/market/current-fund-rate?"+q.Encode(), &res); err != nil {
		// unknown symbols come back as 400 with code 40034
		var se *httpx.StatusError
		if errors.As(err, &se) && se.Code == http.StatusBadRequest {
			return provider.Quote{}, provider.ErrNoData
		}
		return provider.Quote{}, fmt.Errorf("bitget: %w", err)
	}
	if res.Code != codeOK || len(res.Data) == 0 || res.Data[0].Symbol == "" {
		return provider.Quote{}, provider.ErrNoData
	}
	fr := res.Data[0]

	next := fr.NextUpdate.Time()
	if next.IsZero() {
		next = provider.NextEightHourFunding(p.now())
	}
	quote := provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          fr.Symbol,
		Rate:            float64(fr.FundingRate),
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}

	var tr tickersResponse
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+"/api/v2/mix/market/ticker?"+q.Encode(), &tr); err == nil && tr.Code == codeOK && len(tr.Data) > 0 {
		quote.Price = price(tr.Data[0])
	}
	return quote, nil
}

func price(t ticker) float64 {
	if t.MarkPrice != 0 {
		return float64(t.MarkPrice)
	}
	return float64(t.LastPr)
}
