package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fundingwatch/internal/cache"
	"fundingwatch/internal/metrics"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/symbols"
)

// Config tunes the aggregator. Zero fields take the defaults below.
type Config struct {
	// ReferenceSource names the source whose full snapshot decides the
	// working set. Falls back to the first source when absent.
	ReferenceSource string
	QuoteCurrency   string
	CacheTTL        time.Duration
	// SourceTimeout bounds every individual source call.
	SourceTimeout time.Duration
	// MaxInstrumentConcurrency caps how many instruments fan out at once.
	MaxInstrumentConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ReferenceSource == "" {
		c.ReferenceSource = "BYBIT"
	}
	if c.QuoteCurrency == "" {
		c.QuoteCurrency = "USDT"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 7 * time.Second
	}
	if c.MaxInstrumentConcurrency <= 0 {
		c.MaxInstrumentConcurrency = 4
	}
	return c
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used to pick the next funding bucket.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator builds grouped funding views across sources and keeps them
// behind a single-flight cache.
type Aggregator struct {
	sources []provider.Provider
	cache   *cache.Cache[GroupedView]
	cfg     Config
	log     logrus.FieldLogger
	now     func() time.Time
}

// New wires an aggregator. A nil cache gets a private one.
func New(sources []provider.Provider, c *cache.Cache[GroupedView], cfg Config, log logrus.FieldLogger, opts ...Option) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if c == nil {
		c = cache.New[GroupedView](cache.WithLogger(log))
	}
	a := &Aggregator{
		sources: sources,
		cache:   c,
		cfg:     cfg.withDefaults(),
		log:     log.WithField("component", "aggregator"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sources lists the configured source names in order.
func (a *Aggregator) Sources() []string {
	out := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		out = append(out, s.Name())
	}
	return out
}

// GetGroupedView returns the cached grouped view for topN, computing it at
// most once per TTL no matter how many callers ask concurrently.
func (a *Aggregator) GetGroupedView(ctx context.Context, topN int) (GroupedView, error) {
	if topN <= 0 {
		return nil, ErrInvalidTopN
	}
	key := fmt.Sprintf("grouped:%d", topN)
	return a.cache.GetOrFetch(ctx, key, a.cfg.CacheTTL, func(ctx context.Context) (GroupedView, error) {
		return a.ComputeGroupedView(ctx, topN)
	})
}

// ComputeGroupedView runs one uncached aggregation pass:
//
//  1. take a full snapshot from the reference source
//  2. bucket it by next funding minute and keep the soonest future bucket
//  3. pick the topN contracts by absolute rate
//  4. for each, ask every other source concurrently and merge the answers
//
// Only a failed reference snapshot fails the pass. Empty snapshots and
// snapshots with no future bucket yield an empty view.
func (a *Aggregator) ComputeGroupedView(ctx context.Context, topN int) (GroupedView, error) {
	if topN <= 0 {
		return nil, ErrInvalidTopN
	}
	p := a.newPass()

	p.enter(PhaseFetchingReference)
	refIdx, ref, err := a.reference()
	if err != nil {
		p.fail(err)
		return nil, err
	}
	snapshot, err := a.fetchAll(ctx, ref)
	if err != nil {
		err = &ReferenceFetchError{Source: ref.Name(), Err: err}
		p.fail(err)
		return nil, err
	}
	view := GroupedView{}
	if len(snapshot) == 0 {
		p.log.WithField("source", ref.Name()).Warn("reference snapshot is empty")
		p.enter(PhaseDone)
		return view, nil
	}
	p.log.WithFields(logrus.Fields{"source": ref.Name(), "quotes": len(snapshot)}).Info("reference snapshot fetched")

	p.enter(PhaseBucketing)
	buckets := Bucketize(snapshot)

	p.enter(PhaseSelecting)
	now := a.now().UTC()
	at, group, ok := NearestFutureBucket(buckets, now)
	if !ok {
		p.log.WithField("buckets", len(buckets)).Warn("no future funding bucket")
		p.enter(PhaseDone)
		return view, nil
	}
	working := SelectWorkingSet(group, topN)
	p.log.WithFields(logrus.Fields{
		"funding_time": at.Format(time.RFC3339),
		"in_minutes":   fmt.Sprintf("%.1f", at.Sub(now).Minutes()),
		"bucket_size":  len(group),
		"working_set":  len(working),
	}).Info("nearest funding bucket selected")

	p.enter(PhaseFanningOut)
	others := make([]provider.Provider, 0, len(a.sources)-1)
	for i, s := range a.sources {
		if i != refIdx {
			others = append(others, s)
		}
	}
	view = a.fanOut(ctx, working, others, p.log)

	p.enter(PhaseMerged)
	p.log.WithField("instruments", len(view)).Info("grouped view merged")
	p.enter(PhaseDone)
	return view, nil
}

// GetInstrument asks every source for one token and returns the quotes
// sorted by descending absolute rate, cached like the grouped view.
func (a *Aggregator) GetInstrument(ctx context.Context, token string) ([]provider.Quote, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return nil, ErrEmptyToken
	}
	key := "instrument:" + token
	v, err := a.cache.GetOrFetch(ctx, key, a.cfg.CacheTTL, func(ctx context.Context) (GroupedView, error) {
		log := a.log.WithField("instrument", token)
		qs := a.collect(ctx, token, a.sources, log)
		sortQuotes(qs)
		return GroupedView{token: qs}, nil
	})
	if err != nil {
		return nil, err
	}
	return v[token], nil
}

// CacheStats reports the underlying cache state.
func (a *Aggregator) CacheStats() cache.Stats { return a.cache.Stats() }

// ClearCache drops every cached view.
func (a *Aggregator) ClearCache() { a.cache.Clear() }

// InvalidateCache drops one cached view, e.g. "grouped:5".
func (a *Aggregator) InvalidateCache(key string) { a.cache.Invalidate(key) }

func (a *Aggregator) reference() (int, provider.Provider, error) {
	if len(a.sources) == 0 {
		return -1, nil, ErrNoReferenceSource
	}
	for i, s := range a.sources {
		if strings.EqualFold(s.Name(), a.cfg.ReferenceSource) {
			return i, s, nil
		}
	}
	a.log.WithFields(logrus.Fields{
		"wanted":   a.cfg.ReferenceSource,
		"fallback": a.sources[0].Name(),
	}).Warn("reference source not configured, using first source")
	return 0, a.sources[0], nil
}

func (a *Aggregator) fetchAll(ctx context.Context, src provider.Provider) ([]provider.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
	defer cancel()
	qs, err := src.FetchAll(ctx)
	if err != nil {
		metrics.SourceRequest(src.Name(), "fetch_all", metrics.OutcomeError)
		return nil, err
	}
	metrics.SourceRequest(src.Name(), "fetch_all", metrics.OutcomeOK)
	return qs, nil
}

// fanOut processes the working set. Instruments run concurrently up to the
// configured limit; each one waits for all of its sources before merging.
func (a *Aggregator) fanOut(ctx context.Context, working []provider.Quote, others []provider.Provider, log logrus.FieldLogger) GroupedView {
	view := make(GroupedView, len(working))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(a.cfg.MaxInstrumentConcurrency)

	seen := make(map[string]struct{}, len(working))
	for _, refQuote := range working {
		instrument := symbols.Instrument(refQuote.Symbol, a.cfg.QuoteCurrency)
		if _, dup := seen[instrument]; dup {
			log.WithFields(logrus.Fields{"instrument": instrument, "symbol": refQuote.Symbol}).
				Debug("instrument already in working set, skipping")
			continue
		}
		seen[instrument] = struct{}{}

		g.Go(func() error {
			ilog := log.WithField("instrument", instrument)
			quotes := append([]provider.Quote{refQuote}, a.collect(ctx, instrument, others, ilog)...)
			sortQuotes(quotes)
			ilog.WithField("quotes", len(quotes)).Info("instrument collected")

			mu.Lock()
			view[instrument] = quotes
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines never fail
	return view
}

// collect queries each source for token concurrently and returns whatever
// succeeded. It returns only after every source has answered or failed.
func (a *Aggregator) collect(ctx context.Context, token string, sources []provider.Provider, log logrus.FieldLogger) []provider.Quote {
	results := make([]*provider.Quote, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := a.lookup(ctx, src, token)
			slog := log.WithField("source", src.Name())
			switch {
			case err == nil:
				results[i] = &q
				slog.WithFields(logrus.Fields{"symbol": q.Symbol, "rate_pct": q.RatePercent()}).Debug("quote received")
			case errors.Is(err, provider.ErrNoData):
				slog.Warn("no data for instrument")
			default:
				slog.WithError(err).Error("source unavailable")
			}
		}()
	}
	wg.Wait()

	out := make([]provider.Quote, 0, len(sources))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// lookup tries every symbol spelling in order until one answers. Each call
// gets its own timeout; a failed spelling moves on to the next one.
func (a *Aggregator) lookup(ctx context.Context, src provider.Provider, token string) (provider.Quote, error) {
	var lastErr error
	for _, sym := range symbols.Variants(token, a.cfg.QuoteCurrency) {
		if ctx.Err() != nil {
			return provider.Quote{}, &SourceError{Source: src.Name(), Symbol: sym, Err: ctx.Err()}
		}
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.SourceTimeout)
		q, err := src.FetchOne(callCtx, sym)
		cancel()
		switch {
		case err == nil:
			metrics.SourceRequest(src.Name(), "fetch_one", metrics.OutcomeOK)
			return q, nil
		case errors.Is(err, provider.ErrNoData):
			metrics.SourceRequest(src.Name(), "fetch_one", metrics.OutcomeNoData)
		default:
			metrics.SourceRequest(src.Name(), "fetch_one", metrics.OutcomeError)
			lastErr = &SourceError{Source: src.Name(), Symbol: sym, Err: err}
		}
	}
	if lastErr != nil {
		return provider.Quote{}, lastErr
	}
	return provider.Quote{}, provider.ErrNoData
}

// Phase is a step of one aggregation pass; it only shows up in logs.
type Phase string

const (
	PhasePending           Phase = "PENDING"
	PhaseFetchingReference Phase = "FETCHING_REFERENCE"
	PhaseBucketing         Phase = "BUCKETING"
	PhaseSelecting         Phase = "SELECTING"
	PhaseFanningOut        Phase = "FANNING_OUT"
	PhaseMerged            Phase = "MERGED"
	PhaseDone              Phase = "DONE"
	PhaseFailed            Phase = "FAILED"
)

type pass struct {
	log   *logrus.Entry
	phase Phase
	start time.Time
}

func (a *Aggregator) newPass() *pass {
	return &pass{
		log:   a.log.WithField("pass", uuid.NewString()),
		phase: PhasePending,
		start: time.Now(),
	}
}

func (p *pass) enter(ph Phase) {
	p.log.WithFields(logrus.Fields{"from": p.phase, "to": ph}).Debug("pass phase")
	p.phase = ph
	if ph == PhaseDone {
		p.log.WithField("took", time.Since(p.start).String()).Info("aggregation pass done")
	}
}

func (p *pass) fail(err error) {
	p.log.WithError(err).WithField("from", p.phase).Error("aggregation pass failed")
	p.phase = PhaseFailed
}
