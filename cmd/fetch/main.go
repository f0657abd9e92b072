package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fundingwatch/internal/aggregate"
	"fundingwatch/internal/config"
	"fundingwatch/internal/httpx"
	"fundingwatch/internal/logger"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/registry"
)

// fetch runs one aggregation pass and prints it, bypassing any cache.
func main() {
	var (
		configPath string
		top        int
		token      string
		sourcesCSV string
		timeout    int
		logLevel   string
	)
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json or config.yaml (optional)")
	flag.IntVar(&top, "top", getenvInt("TOP_N", 5), "number of instruments from the nearest funding bucket")
	flag.StringVar(&token, "token", "", "look up a single instrument (e.g. BTC) across every source instead")
	flag.StringVar(&sourcesCSV, "sources", getenv("SOURCES", ""), "comma-separated subset of sources (e.g. BYBIT,OKX)")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 60), "overall timeout seconds")
	flag.StringVar(&logLevel, "log-level", getenv("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	cfg.Log.Level = logLevel
	cfg.Log.File = ""
	log := logger.New(cfg.Log)

	hc := httpx.New(config.Seconds(cfg.Aggregator.SourceTimeoutSec))
	sources := filterSources(registry.Build(cfg, hc, log), splitCSV(sourcesCSV))
	if len(sources) == 0 {
		log.Fatal("no sources configured; check config or -sources")
	}

	agg := aggregate.New(sources, nil, aggregate.Config{
		ReferenceSource:          cfg.Aggregator.ReferenceSource,
		QuoteCurrency:            cfg.Aggregator.QuoteCurrency,
		SourceTimeout:            config.Seconds(cfg.Aggregator.SourceTimeoutSec),
		MaxInstrumentConcurrency: cfg.Aggregator.MaxInstrumentConcurrency,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	var out any
	if token != "" {
		quotes, err := agg.GetInstrument(ctx, token)
		if err != nil {
			log.WithError(err).Fatal("instrument lookup failed")
		}
		out = struct {
			Instrument string           `json:"instrument"`
			Quotes     []provider.Quote `json:"quotes"`
		}{strings.ToUpper(token), quotes}
	} else {
		view, err := agg.ComputeGroupedView(ctx, top)
		if err != nil {
			log.WithError(err).Fatal("aggregation failed")
		}
		type row struct {
			Instrument string           `json:"instrument"`
			Quotes     []provider.Quote `json:"quotes"`
		}
		rows := make([]row, 0, len(view))
		for _, name := range view.Instruments() {
			rows = append(rows, row{Instrument: name, Quotes: view[name]})
		}
		out = struct {
			Instruments []row `json:"instruments"`
		}{rows}
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

// filterSources keeps the named sources, in registry order. No names keeps all.
func filterSources(all []provider.Provider, names []string) []provider.Provider {
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToUpper(n)] = true
	}
	out := make([]provider.Provider, 0, len(names))
	for _, p := range all {
		if want[p.Name()] {
			out = append(out, p)
		}
	}
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
