package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
)

const defaultBaseURL = "https://contract.mexc.com"

// Config controls the MEXC contract provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
}

// Provider reads MEXC contract tickers. Tickers carry no settlement time;
// FetchOne asks the funding_rate endpoint for it, FetchAll falls back to the
// 8-hour schedule to stay at one request.
type Provider struct {
	cfg    Config
	client httpx.Doer
	now    func() time.Time
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "MEXC"
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

type response struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type ticker struct {
	Symbol      string         `json:"symbol"`
	LastPrice   provider.Float `json:"lastPrice"`
	FundingRate provider.Float `json:"fundingRate"`
}

type fundingRate struct {
	Symbol         string          `json:"symbol"`
	FundingRate    provider.Float  `json:"fundingRate"`
	NextSettleTime provider.Millis `json:"nextSettleTime"`
}

var errNotFound = errors.New("mexc: not found")

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	var list []ticker
	if err := p.get(ctx, "/api/v1/contract/ticker", &list); err != nil {
		return nil, err
	}
	next := provider.NextEightHourFunding(p.now())
	suffix := "_" + p.cfg.QuoteCurrency
	out := make([]provider.Quote, 0, len(list))
	for _, t := range list {
		if !strings.HasSuffix(t.Symbol, suffix) {
			continue
		}
		out = append(out, p.quote(t.Symbol, float64(t.FundingRate), float64(t.LastPrice), next))
	}
	return out, nil
}

// FetchOne accepts BTC_USDT as well as BTCUSDT.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := contractSymbol(symbol, p.cfg.QuoteCurrency)

	var t ticker
	if err := p.get(ctx, "/api/v1/contract/ticker?symbol="+url.QueryEscape(sym), &t); err != nil {
		if errors.Is(err, errNotFound) {
			return provider.Quote{}, provider.ErrNoData
		}
		return provider.Quote{}, err
	}
	if t.Symbol == "" {
		return provider.Quote{}, provider.ErrNoData
	}

	next := provider.NextEightHourFunding(p.now())
	var fr fundingRate
	if err := p.get(ctx, "/api/v1/contract/funding_rate/"+url.PathEscape(sym), &fr); err == nil {
		if ts := fr.NextSettleTime.Time(); !ts.IsZero() {
			next = ts
		}
	}
	return p.quote(t.Symbol, float64(t.FundingRate), float64(t.LastPrice), next), nil
}

func (p *Provider) get(ctx context.Context, path string, out any) error {
	var res response
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+path, &res); err != nil {
		return fmt.Errorf("mexc: %w", err)
	}
	if !res.Success {
		// unknown contracts come back as success=false with a non-zero code
		return fmt.Errorf("%w: code %d: %s", errNotFound, res.Code, res.Message)
	}
	if len(res.Data) == 0 || string(res.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return fmt.Errorf("mexc: decoding data: %w", err)
	}
	return nil
}

func (p *Provider) quote(symbol string, rate, price float64, next time.Time) provider.Quote {
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          symbol,
		Rate:            rate,
		Price:           price,
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}

func contractSymbol(symbol, quote string) string {
	s := strings.ToUpper(symbol)
	if strings.ContainsAny(s, "_-") || !strings.HasSuffix(s, quote) || s == quote {
		return s
	}
	return strings.TrimSuffix(s, quote) + "_" + quote
}
