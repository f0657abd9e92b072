package httpx_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/httpx/httpxmock"
)

func TestClient_SetsDefaultHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"ua":%q,"key":%q}`, r.Header.Get("User-Agent"), r.Header.Get("X-Key"))
	}))
	defer srv.Close()

	c := httpx.New(2 * time.Second)
	c.Headers = map[string]string{"X-Key": "abc"}

	var got struct{ UA, Key string }
	require.NoError(t, httpx.GetJSON(t.Context(), c, srv.URL, &got))
	require.Equal(t, "fundingwatch/1.0", got.UA)
	require.Equal(t, "abc", got.Key)
}

func TestGetJSON_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]any
	err := httpx.GetJSON(t.Context(), httpx.New(time.Second), srv.URL, &out)

	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.Code)
	require.Equal(t, "slow down", se.Body)
}

func TestGetJSON_Errors(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)
	doer := httpxmock.NewMockDoer(ctrl)

	// Assert: a transport error, then a body that is not JSON
	gomock.InOrder(
		doer.EXPECT().Do(gomock.Any()).Return(nil, errors.New("dial tcp: refused")),
		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "application/json", req.Header.Get("Accept"))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("<html>"))}, nil
		}),
	)

	var out map[string]any
	require.ErrorContains(t, httpx.GetJSON(t.Context(), doer, "http://example.test", &out), "performing request")
	require.ErrorContains(t, httpx.GetJSON(t.Context(), doer, "http://example.test", &out), "decoding response")
	require.ErrorContains(t, httpx.GetJSON(t.Context(), doer, string([]rune{0x7f}), &out), "creating request")
}
