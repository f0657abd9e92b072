package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fundingwatch/internal/aggregate"
	"fundingwatch/internal/metrics"
	"fundingwatch/internal/provider"
)

const (
	maxTopN     = 50
	noDataError = "no data available, try again"
)

type instrumentView struct {
	Instrument string           `json:"instrument"`
	Quotes     []provider.Quote `json:"quotes"`
}

type groupedResponse struct {
	Top         int              `json:"top"`
	Instruments []instrumentView `json:"instruments"`
}

type entryResponse struct {
	Key    string  `json:"key"`
	AgeSec float64 `json:"age_sec"`
	TTLSec float64 `json:"ttl_sec"`
	Valid  bool    `json:"valid"`
}

type statsResponse struct {
	Total   int             `json:"total"`
	Valid   int             `json:"valid"`
	Expired int             `json:"expired"`
	Entries []entryResponse `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type api struct {
	agg         *aggregate.Aggregator
	defaultTopN int
	timeout     time.Duration
	log         logrus.FieldLogger
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sources": a.agg.Sources()})
	})
	mux.HandleFunc("GET /api/grouped", a.handleGrouped)
	mux.HandleFunc("GET /api/instrument", a.handleInstrument)
	mux.HandleFunc("GET /api/cache/stats", a.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", a.handleCacheClear)

	root := http.NewServeMux()
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/", withJSONHeaders(limitBody(mux)))
	return logRequests(a.log, recoverPanic(a.log, withGzip(root)))
}

func (a *api) handleGrouped(w http.ResponseWriter, r *http.Request) {
	top := a.defaultTopN
	if v := strings.TrimSpace(r.URL.Query().Get("top")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopN {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "top must be between 1 and " + strconv.Itoa(maxTopN)})
			return
		}
		top = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	view, err := a.agg.GetGroupedView(ctx, top)
	if err != nil {
		a.unavailable(w, err, logrus.Fields{"top": top})
		return
	}

	resp := groupedResponse{Top: top, Instruments: make([]instrumentView, 0, len(view))}
	for _, name := range view.Instruments() {
		resp.Instruments = append(resp.Instruments, instrumentView{Instrument: name, Quotes: view[name]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleInstrument(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing token query param"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	quotes, err := a.agg.GetInstrument(ctx, token)
	if err != nil {
		a.unavailable(w, err, logrus.Fields{"token": token})
		return
	}
	if len(quotes) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: noDataError})
		return
	}
	writeJSON(w, http.StatusOK, instrumentView{Instrument: strings.ToUpper(token), Quotes: quotes})
}

func (a *api) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st := a.agg.CacheStats()
	resp := statsResponse{Total: st.Total, Valid: st.Valid, Expired: st.Expired, Entries: make([]entryResponse, 0, len(st.Entries))}
	for _, e := range st.Entries {
		resp.Entries = append(resp.Entries, entryResponse{
			Key:    e.Key,
			AgeSec: e.Age.Seconds(),
			TTLSec: e.TTL.Seconds(),
			Valid:  e.Valid,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		a.agg.InvalidateCache(key)
		a.log.WithField("key", key).Info("cache entry invalidated via api")
	} else {
		a.agg.ClearCache()
		a.log.Info("cache cleared via api")
	}
	w.WriteHeader(http.StatusNoContent)
}

// unavailable hides the cause from clients; it is only logged.
func (a *api) unavailable(w http.ResponseWriter, err error, fields logrus.Fields) {
	log := a.log.WithFields(fields).WithError(err)
	var refErr *aggregate.ReferenceFetchError
	switch {
	case errors.As(err, &refErr):
		log.WithField("source", refErr.Source).Warn("reference source failed with no cached fallback")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn("request gave up waiting for aggregation")
	default:
		log.Error("aggregation failed")
	}
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: noDataError})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
