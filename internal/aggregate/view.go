package aggregate

import (
	"sort"
	"time"

	"fundingwatch/internal/provider"
)

// GroupedView maps an instrument (base token) to one quote per responding
// source, sorted by descending absolute rate. Callers must treat it as
// read-only; it is shared between everyone hitting the cache.
type GroupedView map[string][]provider.Quote

// Instruments returns the view's keys ordered by their strongest rate.
func (v GroupedView) Instruments() []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	top := func(k string) float64 {
		if qs := v[k]; len(qs) > 0 {
			return qs[0].AbsRate()
		}
		return 0
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := top(out[i]), top(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i] < out[j]
	})
	return out
}

// Bucketize groups a snapshot by next funding time truncated to the minute,
// so sources reporting 10:00:00.000 and 10:00:00.350 land together.
func Bucketize(quotes []provider.Quote) map[time.Time][]provider.Quote {
	buckets := make(map[time.Time][]provider.Quote)
	for _, q := range quotes {
		if q.NextFundingTime.IsZero() {
			continue
		}
		k := q.NextFundingTime.UTC().Truncate(time.Minute)
		buckets[k] = append(buckets[k], q)
	}
	return buckets
}

// NearestFutureBucket picks the soonest bucket strictly after now.
func NearestFutureBucket(buckets map[time.Time][]provider.Quote, now time.Time) (time.Time, []provider.Quote, bool) {
	var best time.Time
	found := false
	for t := range buckets {
		if !t.After(now) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	if !found {
		return time.Time{}, nil, false
	}
	return best, buckets[best], true
}

// SelectWorkingSet returns the n quotes with the largest absolute rate.
// The input slice is left untouched.
func SelectWorkingSet(group []provider.Quote, n int) []provider.Quote {
	out := make([]provider.Quote, len(group))
	copy(out, group)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AbsRate() != out[j].AbsRate() {
			return out[i].AbsRate() > out[j].AbsRate()
		}
		return out[i].Symbol < out[j].Symbol
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func sortQuotes(qs []provider.Quote) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].AbsRate() != qs[j].AbsRate() {
			return qs[i].AbsRate() > qs[j].AbsRate()
		}
		return qs[i].Source < qs[j].Source
	})
}
