package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fundingwatch/internal/aggregate"
	"fundingwatch/internal/cache"
	"fundingwatch/internal/config"
	"fundingwatch/internal/httpx"
	"fundingwatch/internal/logger"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/registry"
)

func main() {
	// Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logger.New(cfg.Log)

	agg := cfg.Aggregator
	sourceTimeout := config.Seconds(agg.SourceTimeoutSec)
	requestTimeout := config.Seconds(cfg.Server.RequestTimeoutSec)

	hc := httpx.New(sourceTimeout)
	sources := registry.Build(cfg, hc, log)
	if len(sources) == 0 {
		log.Warn("no sources enabled; every request will fail")
	}

	views := cache.New[aggregate.GroupedView](cache.WithLogger(log))
	aggregator := aggregate.New(sources, views, aggregate.Config{
		ReferenceSource:          agg.ReferenceSource,
		QuoteCurrency:            agg.QuoteCurrency,
		CacheTTL:                 config.Seconds(agg.CacheTTLSec),
		SourceTimeout:            sourceTimeout,
		MaxInstrumentConcurrency: agg.MaxInstrumentConcurrency,
	}, log)

	a := &api{agg: aggregator, defaultTopN: agg.DefaultTopN, timeout: requestTimeout, log: log}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if agg.CleanupIntervalSec > 0 {
		go cleanupLoop(ctx, views, sources, config.Seconds(agg.CleanupIntervalSec), log)
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

// purger is implemented by sources wrapped in a response cache.
type purger interface{ Purge() int }

// cleanupLoop drops expired views and cached source responses so keys for
// rarely requested topN values and symbols do not accumulate.
func cleanupLoop(ctx context.Context, views *cache.Cache[aggregate.GroupedView], sources []provider.Provider, every time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := views.CleanupExpired()
			for _, s := range sources {
				if p, ok := s.(purger); ok {
					n += p.Purge()
				}
			}
			if n > 0 {
				log.WithField("removed", n).Debug("expired cache entries cleaned up")
			}
		}
	}
}
