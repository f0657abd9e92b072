package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fundingwatch/internal/config"
	"fundingwatch/internal/httpx"
	"fundingwatch/internal/logger"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/registry"
)

// snapshot_dump writes every enabled source's full funding snapshot to one
// JSON file, streaming quotes as sources answer.
func main() {
	var (
		outPath     string
		cfgPath     string
		concurrency int
		timeoutSec  int
		maxRetries  int
	)
	flag.StringVar(&outPath, "out", "funding_snapshot.json", "output JSON file path")
	flag.StringVar(&cfgPath, "config", "", "path to config.json or config.yaml (optional)")
	flag.IntVar(&concurrency, "concurrency", 3, "number of sources fetched in parallel")
	flag.IntVar(&timeoutSec, "timeout", 60, "per-source timeout seconds")
	flag.IntVar(&maxRetries, "retries", 3, "max retries on 429/5xx")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logger.New(cfg.Log)

	hc := httpx.New(time.Duration(timeoutSec) * time.Second)
	sources := registry.Build(cfg, hc, log)
	if len(sources) == 0 {
		log.Fatal("no sources enabled")
	}

	outFile, err := os.Create(outPath)
	if err != nil {
		log.WithError(err).Fatal("create out")
	}
	defer outFile.Close()

	sum, err := dump(context.Background(), sources, outFile, dumpOptions{
		Concurrency: concurrency,
		Timeout:     time.Duration(timeoutSec) * time.Second,
		MaxRetries:  maxRetries,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("dump")
	}
	log.WithFields(logrus.Fields{
		"out":    outPath,
		"quotes": sum.Quotes,
		"failed": sum.Failed,
	}).Info("done")
}

type dumpOptions struct {
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

type dumpSummary struct {
	Quotes int
	Failed []string
}

// dump fetches every source with a small worker pool and streams the quotes
// into w as {"id":..,"generated_at":..,"quotes":[..],"failed":[..]}.
func dump(ctx context.Context, sources []provider.Provider, w io.Writer, opts dumpOptions, log logrus.FieldLogger) (dumpSummary, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}

	bw := bufio.NewWriterSize(w, 1<<20)
	id := uuid.NewString()
	_, _ = fmt.Fprintf(bw, `{"id":%q,"generated_at":%q,"quotes":[`, id, time.Now().UTC().Format(time.RFC3339))

	var (
		writeMu sync.Mutex
		first   = true
		sum     dumpSummary
	)
	jobs := make(chan provider.Provider, opts.Concurrency*2)
	wg := sync.WaitGroup{}

	worker := func() {
		defer wg.Done()
		for p := range jobs {
			plog := log.WithFields(logrus.Fields{"dump": id, "source": p.Name()})
			quotes, err := fetchWithRetry(ctx, p, opts)
			writeMu.Lock()
			if err != nil {
				sum.Failed = append(sum.Failed, p.Name())
				writeMu.Unlock()
				plog.WithError(err).Warn("snapshot failed")
				continue
			}
			for _, q := range quotes {
				raw, err := json.Marshal(q)
				if err != nil {
					continue
				}
				if !first {
					_, _ = bw.WriteString(",")
				} else {
					first = false
				}
				_, _ = bw.Write(raw)
				sum.Quotes++
			}
			writeMu.Unlock()
			plog.WithField("quotes", len(quotes)).Info("snapshot written")
		}
	}

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go worker()
	}
	for _, p := range sources {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	sort.Strings(sum.Failed)
	failed, _ := json.Marshal(append([]string{}, sum.Failed...))
	_, _ = fmt.Fprintf(bw, `],"failed":%s}`, failed)
	if err := bw.Flush(); err != nil {
		return sum, fmt.Errorf("flush: %w", err)
	}
	return sum, nil
}

// fetchWithRetry retries throttling and server errors with exponential
// backoff; anything else fails at once.
func fetchWithRetry(ctx context.Context, p provider.Provider, opts dumpOptions) ([]provider.Quote, error) {
	attempt := 0
	for {
		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		quotes, err := p.FetchAll(callCtx)
		cancel()
		if err == nil {
			return quotes, nil
		}
		if !retryable(err) || attempt >= opts.MaxRetries {
			return nil, err
		}
		back := opts.Backoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(back):
		}
		attempt++
	}
}

func retryable(err error) bool {
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusTooManyRequests || (se.Code >= 500 && se.Code < 600)
}
