package okx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/provider"
)

const defaultBaseURL = "https://www.okx.com"

// OKX answers 51001 ("Instrument ID does not exist") for unknown instIds.
const codeUnknownInstrument = "51001"

// Config controls the OKX provider.
type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
	// MaxContracts caps how many swaps FetchAll looks up; OKX has no bulk
	// funding endpoint so each one costs two requests.
	MaxContracts int
	// Concurrency bounds the lookups FetchAll runs at once.
	Concurrency int
}

type Provider struct {
	cfg    Config
	client httpx.Doer
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "OKX"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.MaxContracts <= 0 {
		cfg.MaxContracts = 30
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// FetchAll looks up the first MaxContracts USDT swaps. Contracts whose
// lookup fails are left out.
func (p *Provider) FetchAll(ctx context.Context) ([]provider.Quote, error) {
	var insts []struct {
		InstID string `json:"instId"`
		State  string `json:"state"`
	}
	if err := p.get(ctx, "/api/v5/public/instruments", url.Values{"instType": {"SWAP"}}, &insts); err != nil {
		return nil, err
	}

	suffix := "-" + p.cfg.QuoteCurrency + "-SWAP"
	ids := make([]string, 0, p.cfg.MaxContracts)
	for _, in := range insts {
		if len(ids) == p.cfg.MaxContracts {
			break
		}
		if strings.HasSuffix(in.InstID, suffix) && (in.State == "" || in.State == "live") {
			ids = append(ids, in.InstID)
		}
	}

	var (
		mu  sync.Mutex
		out = make([]provider.Quote, 0, len(ids))
		g   errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			q, err := p.FetchOne(ctx, id)
			if err != nil {
				return nil
			}
			mu.Lock()
			out = append(out, q)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOne reads the funding rate and, best effort, the mark price.
func (p *Provider) FetchOne(ctx context.Context, symbol string) (provider.Quote, error) {
	var rates []struct {
		InstID          string          `json:"instId"`
		FundingRate     provider.Float  `json:"fundingRate"`
		FundingTime     provider.Millis `json:"fundingTime"`
		NextFundingTime provider.Millis `json:"nextFundingTime"`
	}
	if err := p.get(ctx, "/api/v5/public/funding-rate", url.Values{"instId": {symbol}}, &rates); err != nil {
		return provider.Quote{}, err
	}
	if len(rates) == 0 {
		return provider.Quote{}, provider.ErrNoData
	}
	r := rates[0]

	// fundingTime is the upcoming settlement; nextFundingTime the one after.
	next := r.FundingTime.Time()
	if next.IsZero() {
		next = r.NextFundingTime.Time()
	}
	if next.IsZero() {
		return provider.Quote{}, provider.ErrNoData
	}

	var marks []struct {
		MarkPx provider.Float `json:"markPx"`
	}
	var price float64
	if err := p.get(ctx, "/api/v5/public/mark-price", url.Values{"instType": {"SWAP"}, "instId": {symbol}}, &marks); err == nil && len(marks) > 0 {
		price = float64(marks[0].MarkPx)
	}

	return provider.Quote{
		Source:          p.cfg.Name,
		Symbol:          r.InstID,
		Rate:            float64(r.FundingRate),
		Price:           price,
		NextFundingTime: next,
		QuoteCurrency:   p.cfg.QuoteCurrency,
	}, nil
}

type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func (p *Provider) get(ctx context.Context, path string, q url.Values, out any) error {
	res := envelope{Data: out}
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL+path+"?"+q.Encode(), &res); err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && strings.Contains(se.Body, codeUnknownInstrument) {
			return provider.ErrNoData
		}
		return fmt.Errorf("okx: %w", err)
	}
	switch res.Code {
	case "0":
		return nil
	case codeUnknownInstrument:
		return provider.ErrNoData
	default:
		return fmt.Errorf("okx: %s: api error %s: %s", path, res.Code, res.Msg)
	}
}
