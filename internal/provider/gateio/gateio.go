package gateio

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

const defaultBaseURL = "https://api.gateio.ws/api/v4"

// Config controls the Gate.io USDT futures provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
}

// Provider reads Gate.io contract details. The list endpoint already
// carries rate and mark price, so FetchAll is a single request.
type Provider struct {
	cfg    Config
	client httpx.Doer
	now    func() time.Time
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "GATE"
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
	Name             string         `json:"name"`
	FundingRate      provider.Float `json:"funding_rate"`
	MarkPrice        provider.Float `json:"mark_price"`
	FundingNextApply provider.Float `json:"funding_next_apply"`
	InDelisting      bool           `json:"in_delisting"`
}

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	var list []contract
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+"/futures/usdt/contracts", &list); err != nil {
		return nil, fmt.Errorf("gate: contracts: %w", err)
	}
	suffix := "_" + p.cfg.QuoteCurrency
	out := make([]provider.Quote, 0, len(list))
	for _, c := range list {
		if c.InDelisting || !strings.HasSuffix(c.Name, suffix) {
			continue
		}
		out = append(out, p.quote(c))
	}
	return out, nil
}

// FetchOne accepts BTC_USDT as well as BTCUSDT.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	name := contractName(symbol, p.cfg.QuoteCurrency)
	var c contract
	err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+"/futures/usdt/contracts/"+url.PathEscape(name), &c)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusNotFound || se.Code == http.StatusBadRequest) {
			return provider.Quote{}, provider.ErrNoData
		}
		return provider.Quote{}, fmt.Errorf("gate: contract %s: %w", name, err)
	}
	if c.Name == "" {
		return provider.Quote{}, provider.ErrNoData
	}
	return p.quote(c), nil
}

func (p *Provider) quote(c contract) provider.Quote {
	next := provider.ParseEpoch(int64(c.FundingNextApply))
	if next.IsZero() {
		next = provider.NextEightHourFunding(p.now())
	}
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          c.Name,
		Rate:            float64(c.FundingRate),
		Price:           float64(c.MarkPrice),
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}

func contractName(symbol, quote string) string {
	s := strings.ToUpper(symbol)
	if strings.ContainsAny(s, "_-") || !strings.HasSuffix(s, quote) || s == quote {
		return s
	}
	return strings.TrimSuffix(s, quote) + "_" + quote
}
