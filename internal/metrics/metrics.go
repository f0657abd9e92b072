package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache event labels.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
	CacheStale  = "stale"
	CacheError  = "error"
)

// Source request outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "no_data"
	OutcomeError  = "error"
)

var (
	cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundingwatch",
		Name:      "cache_events_total",
		Help:      "Single-flight cache lookups by outcome.",
	}, []string{"event"})

	sourceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fundingwatch",
		Name:      "source_requests_total",
		Help:      "Requests made to funding rate sources.",
	}, []string{"source", "op", "outcome"})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(cacheEvents, sourceRequests)
	registry.MustRegister(collectors.NewGoCollector())
}

// CacheEvent counts one cache outcome.
func CacheEvent(event string) { cacheEvents.WithLabelValues(event).Inc() }

// SourceRequest counts one request to a source.
func SourceRequest(source, op, outcome string) {
	sourceRequests.WithLabelValues(source, op, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
