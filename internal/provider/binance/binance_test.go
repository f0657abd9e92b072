package binance_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/binance"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "":
			fmt.Fprint(w, `[
			  {"symbol":"BTCUSDT","markPrice":"64210.5","indexPrice":"64200","lastFundingRate":"0.00010000","nextFundingTime":1735804800000,"interestRate":"0.0001","time":1735790000000},
			  {"symbol":"BTCUSDC","markPrice":"64211","indexPrice":"64200","lastFundingRate":"0.00008","nextFundingTime":1735804800000,"interestRate":"0.0001","time":1735790000000},
			  {"symbol":"DOGEUSDT","markPrice":"0.31","indexPrice":"0.31","lastFundingRate":"-0.00321","nextFundingTime":1735790400000,"interestRate":"0.0001","time":1735790000000},
			  {"symbol":"OLDUSDT","markPrice":"1","indexPrice":"1","lastFundingRate":"","nextFundingTime":0,"interestRate":"","time":1735790000000}
			]`)
		case "ETHUSDT":
			fmt.Fprint(w, `{"symbol":"ETHUSDT","markPrice":"3101.2","indexPrice":"3100","lastFundingRate":"0.00002","nextFundingTime":1735804800000,"interestRate":"0.0001","time":1735790000000}`)
		case "DOWN":
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"code":-1001,"msg":"Internal error; unable to process your request."}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAll(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	p := binance.New(binance.Config{BaseURL: srv.URL}, srv.Client())

	quotes, err := p.FetchAll(t.Context())

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, "BINANCE", quotes[1].Source)
	require.Equal(t, "DOGEUSDT", quotes[1].Symbol)
	require.InDelta(t, -0.00321, quotes[1].Rate, 1e-12)
	require.InDelta(t, 0.31, quotes[1].Price, 1e-12)
	require.Equal(t, time.Date(2025, 1, 2, 4, 0, 0, 0, time.UTC), quotes[1].NextFundingTime)
}

func TestFetchOne(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	p := binance.New(binance.Config{BaseURL: srv.URL}, srv.Client())

	q, err := p.FetchOne(t.Context(), "ETHUSDT")
	require.NoError(t, err)
	require.Equal(t, "ETHUSDT", q.Symbol)
	require.InDelta(t, 3101.2, q.Price, 1e-9)

	_, err = p.FetchOne(t.Context(), "ETH_USDT")
	require.ErrorIs(t, err, provider.ErrNoData)

	_, err = p.FetchOne(t.Context(), "DOWN")
	require.Error(t, err)
	require.NotErrorIs(t, err, provider.ErrNoData)
}
