package bingx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
)

const defaultBaseURL = "https://open-api.bingx.com"

// Config controls the BingX perpetual swap provider.
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
		cfg.Name = "BINGX"
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

type premiumIndex struct {
	Symbol          string          `json:"symbol"`
	MarkPrice       provider.Float  `json:"markPrice"`
	LastFundingRate provider.Float  `json:"lastFundingRate"`
	NextFundingTime provider.Millis `json:"nextFundingTime"`
}

type response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	list, code, err := p.premiumIndex(ctx, "")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("bingx: api error %d", code)
	}
	suffix := "-" + p.cfg.QuoteCurrency
	out := make([]provider.Quote, 0, len(list))
	for _, pi := range list {
		if strings.HasSuffix(pi.Symbol, suffix) {
			out = append(out, p.quote(pi))
		}
	}
	return out, nil
}

// FetchOne expects the hyphenated spelling, e.g. BTC-USDT.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	list, code, err := p.premiumIndex(ctx, symbol)
	if err != nil {
		return provider.Quote{}, err
	}
	// BingX reports unknown symbols through a non-zero code.
	if code != 0 || len(list) == 0 || list[0].Symbol == "" {
		return provider.Quote{}, provider.ErrNoData
	}
	return p.quote(list[0]), nil
}

// premiumIndex returns a list for both the bulk and single-symbol shape.
func (p *Provider) premiumIndex(ctx context.Context, symbol string) ([]premiumIndex, int, error) {
	u := p.cfg.BaseURL + "/openApi/swap/v2/quote/premiumIndex"
	if symbol != "" {
		u += "?" + url.Values{"symbol": {symbol}}.Encode()
	}
	var res response
	if err := httpx.GetJSON(ctx, p.client, u, &res); err != nil {
		return nil, 0, fmt.Errorf("bingx: %w", err)
	}
	if res.Code != 0 {
		return nil, res.Code, nil
	}

	data := bytes.TrimSpace(res.Data)
	var list []premiumIndex
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
	case data[0] == '[':
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, 0, fmt.Errorf("bingx: decoding data: %w", err)
		}
	default:
		var one premiumIndex
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, 0, fmt.Errorf("bingx: decoding data: %w", err)
		}
		list = append(list, one)
	}
	return list, 0, nil
}

func (p *Provider) quote(pi premiumIndex) provider.Quote {
	next := pi.NextFundingTime.Time()
	if next.IsZero() {
		next = provider.NextEightHourFunding(p.now())
	}
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          pi.Symbol,
		Rate:            float64(pi.LastFundingRate),
		Price:           float64(pi.MarkPrice),
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}
