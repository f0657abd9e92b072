package provider

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFloat_QuotedAndBare(t *testing.T) {
	t.Parallel()

	var v struct {
		A Float `json:"a"`
		B Float `json:"b"`
		C Float `json:"c"`
		D Float `json:"d"`
	}
	err := json.Unmarshal([]byte(`{"a":"-0.00012","b":0.5,"c":"","d":null}`), &v)
	require.NoError(t, err)
	require.InDelta(t, -0.00012, float64(v.A), 1e-12)
	require.InDelta(t, 0.5, float64(v.B), 1e-12)
	require.Zero(t, v.C)
	require.Zero(t, v.D)

	err = json.Unmarshal([]byte(`{"a":"abc"}`), &v)
	require.Error(t, err)
}

func TestMillis_Time(t *testing.T) {
	t.Parallel()

	var v struct {
		T Millis `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"t":"1735689600000"}`), &v))
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), v.T.Time())
	require.True(t, Millis(0).Time().IsZero())
}

func TestParseEpoch_SecondsOrMillis(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	require.Equal(t, want, ParseEpoch(want.Unix()))
	require.Equal(t, want, ParseEpoch(want.UnixMilli()))
	require.True(t, ParseEpoch(0).IsZero())
}

func TestNextEightHourFunding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 7, 59, 59, 0, time.UTC), time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC), time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)},
		{time.Date(2025, 3, 1, 23, 10, 0, 0, time.UTC), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NextEightHourFunding(c.now), "now=%s", c.now)
	}
}

func TestQuote_AbsRate(t *testing.T) {
	t.Parallel()

	q := Quote{Rate: -0.0025}
	require.InDelta(t, 0.0025, q.AbsRate(), 1e-12)
	require.InDelta(t, -0.25, q.RatePercent(), 1e-12)
}
