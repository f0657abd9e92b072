package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCacheEvent_Counts(t *testing.T) {
	before := testutil.ToFloat64(cacheEvents.WithLabelValues(CacheStale))
	CacheEvent(CacheStale)
	CacheEvent(CacheStale)
	require.InDelta(t, before+2, testutil.ToFloat64(cacheEvents.WithLabelValues(CacheStale)), 1e-9)
}

func TestHandler_Exposition(t *testing.T) {
	SourceRequest("BYBIT", "fetch_all", OutcomeOK)

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `fundingwatch_source_requests_total{op="fetch_all",outcome="ok",source="BYBIT"}`)
}
