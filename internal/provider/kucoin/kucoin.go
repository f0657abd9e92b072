package kucoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkapi "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"fundingwatch/internal/provider"
)

const defaultBaseURL = "https://api-futures.kucoin.com"

// Config controls the KuCoin futures provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
	Timeout       time.Duration
}

// Provider reads KuCoin USDT-margined perpetuals through the universal SDK.
// Contracts are spelled BTCUSDTM there, with XBT standing in for BTC.
type Provider struct {
	cfg    Config
	market futuresmarket.MarketAPI
	now    func() time.Time
}

func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "KUCOIN"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	transport := sdktype.NewTransportOptionBuilder().
		SetTimeout(cfg.Timeout).
		Build()
	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(cfg.BaseURL).
		WithTransportOption(transport).
		Build()
	client := sdkapi.NewClient(option)

	return &Provider{
		cfg:    cfg,
		market: client.RestService().GetFuturesService().GetMarketAPI(),
		now:    time.Now,
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

// contract holds the fields we read from the SDK's symbol responses.
type contract struct {
	Symbol                  string         `json:"symbol"`
	QuoteCurrency           string         `json:"quoteCurrency"`
	IsInverse               bool           `json:"isInverse"`
	Status                  string         `json:"status"`
	MarkPrice               provider.Float `json:"markPrice"`
	LastTradePrice          provider.Float `json:"lastTradePrice"`
	FundingFeeRate          provider.Float `json:"fundingFeeRate"`
	NextFundingRateTime     int64          `json:"nextFundingRateTime"`
	NextFundingRateDateTime int64          `json:"nextFundingRateDateTime"`
}

func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	resp, err := p.market.GetAllSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("kucoin: all symbols: %w", err)
	}
	list, err := decodeContracts(resp)
	if err != nil {
		return nil, err
	}
	now := p.now()
	out := make([]provider.Quote, 0, len(list))
	for _, c := range list {
		if c.IsInverse || !strings.EqualFold(c.QuoteCurrency, p.cfg.QuoteCurrency) {
			continue
		}
		if c.Status != "" && c.Status != "Open" {
			continue
		}
		out = append(out, p.quote(c, now))
	}
	return out, nil
}

// FetchOne only answers the KuCoin spelling (BTCUSDTM); other spellings are
// reported as ErrNoData without a request.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if !strings.HasSuffix(sym, p.cfg.QuoteCurrency+"M") || strings.ContainsAny(sym, "_-") {
		return provider.Quote{}, provider.ErrNoData
	}

	req := futuresmarket.NewGetSymbolReqBuilder().SetSymbol(toKucoin(sym)).Build()
	resp, err := p.market.GetSymbol(req, ctx)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("kucoin: symbol %s: %w", sym, err)
	}
	if resp == nil {
		return provider.Quote{}, provider.ErrNoData
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("kucoin: encoding response: %w", err)
	}
	var c contract
	if err := json.Unmarshal(raw, &c); err != nil {
		return provider.Quote{}, fmt.Errorf("kucoin: decoding response: %w", err)
	}
	if c.Symbol == "" {
		return provider.Quote{}, provider.ErrNoData
	}
	return p.quote(c, p.now()), nil
}

// decodeContracts accepts the list response either as {"data":[...]} or as
// a bare array, depending on how the SDK type marshals.
func decodeContracts(resp any) ([]contract, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("kucoin: encoding response: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	var list []contract
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &list)
	} else {
		var env struct {
			Data []contract `json:"data"`
		}
		err = json.Unmarshal(raw, &env)
		list = env.Data
	}
	if err != nil {
		return nil, fmt.Errorf("kucoin: decoding contracts: %w", err)
	}
	return list, nil
}

func (p *Provider) quote(c contract, now time.Time) provider.Quote {
	price := float64(c.MarkPrice)
	if price == 0 {
		price = float64(c.LastTradePrice)
	}
	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          fromKucoin(c.Symbol),
		Rate:            float64(c.FundingFeeRate),
		Price:           price,
		NextFundingTime: nextFunding(c, now),
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}
}

// nextFunding prefers the absolute settlement time. nextFundingRateTime is a
// countdown in milliseconds on the live API.
func nextFunding(c contract, now time.Time) time.Time {
	if t := provider.ParseEpoch(c.NextFundingRateDateTime); !t.IsZero() {
		return t
	}
	switch v := c.NextFundingRateTime; {
	case v > 1_000_000_000_000:
		return time.UnixMilli(v).UTC()
	case v > 0:
		return now.UTC().Add(time.Duration(v) * time.Millisecond)
	}
	return provider.NextEightHourFunding(now)
}

func toKucoin(sym string) string {
	if strings.HasPrefix(sym, "BTC") {
		return "XBT" + strings.TrimPrefix(sym, "BTC")
	}
	return sym
}

func fromKucoin(sym string) string {
	sym = strings.ToUpper(sym)
	if strings.HasPrefix(sym, "XBT") {
		return "BTC" + strings.TrimPrefix(sym, "XBT")
	}
	return sym
}
