package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"fundingwatch/internal/httpx"
	"fundingwatch/internal/logger"
	"fundingwatch/internal/provider"
	"fundingwatch/internal/provider/providermock"
)

type snapshotFile struct {
	ID          string           `json:"id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Quotes      []provider.Quote `json:"quotes"`
	Failed      []string         `json:"failed"`
}

func TestDump_StreamsEverySource(t *testing.T) {
	t.Parallel()
	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)
	next := time.Date(2025, 3, 4, 16, 0, 0, 0, time.UTC)

	bybit := providermock.NewMockProvider(ctrl)
	bybit.EXPECT().Name().Return("BYBIT").AnyTimes()
	bybit.EXPECT().FetchAll(gomock.Any()).Return([]provider.Quote{
		{Source: "BYBIT", Symbol: "BTCUSDT", Rate: 0.0001, NextFundingTime: next},
		{Source: "BYBIT", Symbol: "ETHUSDT", Rate: -0.0002, NextFundingTime: next},
	}, nil).Times(1)

	// Arrange: one 503 then success
	okx := providermock.NewMockProvider(ctrl)
	okx.EXPECT().Name().Return("OKX").AnyTimes()
	gomock.InOrder(
		okx.EXPECT().FetchAll(gomock.Any()).Return(nil, &httpx.StatusError{Code: 503}),
		okx.EXPECT().FetchAll(gomock.Any()).Return([]provider.Quote{
			{Source: "OKX", Symbol: "BTC-USDT-SWAP", Rate: 0.0003, NextFundingTime: next},
		}, nil),
	)

	// Arrange: not retryable
	gate := providermock.NewMockProvider(ctrl)
	gate.EXPECT().Name().Return("GATE").AnyTimes()
	gate.EXPECT().FetchAll(gomock.Any()).Return(nil, errors.New("bad payload")).Times(1)

	var buf bytes.Buffer

	// Act
	sum, err := dump(t.Context(), []provider.Provider{bybit, okx, gate}, &buf,
		dumpOptions{Concurrency: 2, Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}, logger.Discard())

	// Assert
	require.NoError(t, err)
	require.Equal(t, 3, sum.Quotes)
	require.Equal(t, []string{"GATE"}, sum.Failed)

	var got snapshotFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.NotEmpty(t, got.ID)
	require.Len(t, got.Quotes, 3)
	require.Equal(t, []string{"GATE"}, got.Failed)
}

func TestDump_NoQuotesIsValidJSON(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	src := providermock.NewMockProvider(ctrl)
	src.EXPECT().Name().Return("MEXC").AnyTimes()
	src.EXPECT().FetchAll(gomock.Any()).Return(nil, nil).Times(1)

	var buf bytes.Buffer
	sum, err := dump(t.Context(), []provider.Provider{src}, &buf, dumpOptions{}, logger.Discard())

	require.NoError(t, err)
	require.Zero(t, sum.Quotes)
	var got snapshotFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Empty(t, got.Quotes)
	require.Empty(t, got.Failed)
}

func TestFetchWithRetry_GivesUp(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	src := providermock.NewMockProvider(ctrl)
	src.EXPECT().FetchAll(gomock.Any()).Return(nil, &httpx.StatusError{Code: 429}).Times(3)

	_, err := fetchWithRetry(context.Background(), src, dumpOptions{Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond})

	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 429, se.Code)
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	require.True(t, retryable(&httpx.StatusError{Code: 500}))
	require.True(t, retryable(&httpx.StatusError{Code: 429}))
	require.False(t, retryable(&httpx.StatusError{Code: 404}))
	require.False(t, retryable(context.DeadlineExceeded))
}
