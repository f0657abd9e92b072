package provider

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNoData is returned by FetchOne when the source does not list the symbol.
var ErrNoData = errors.New("no data")

// Quote is the normalized funding snapshot returned by all providers.
type Quote struct {
	Source          string    `json:"source"`
	Symbol          string    `json:"symbol"`
	Rate            float64   `json:"rate"`
	Price           float64   `json:"price"`
	NextFundingTime time.Time `json:"next_funding_time"`
	QuoteCurrency   string    `json:"quote_currency"`
}

// AbsRate is the magnitude of the funding rate; sorting keys off it.
func (q Quote) AbsRate() float64 { return math.Abs(q.Rate) }

// RatePercent returns the rate as a percentage.
func (q Quote) RatePercent() float64 { return q.Rate * 100 }

// Provider is a funding rate source.
//
//go:generate mockgen -package=providermock -destination=providermock/mock_provider.go -source=provider.go Provider
type Provider interface {
	Name() string
	// FetchAll returns a full snapshot of the source's perpetual contracts.
	FetchAll(ctx context.Context) ([]Quote, error)
	// FetchOne looks up a single contract by the source's own symbol spelling.
	// It returns ErrNoData when the source does not know the symbol.
	FetchOne(ctx context.Context, symbol string) (Quote, error)
}
