package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fundingwatch/internal/cache"
	"fundingwatch/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newCache[V any](clk *fakeClock) *cache.Cache[V] {
	opts := []cache.Option{cache.WithLogger(logger.Discard())}
	if clk != nil {
		opts = append(opts, cache.WithClock(clk.Now))
	}
	return cache.New[V](opts...)
}

func constant[V any](v V, calls *atomic.Int32) func(context.Context) (V, error) {
	return func(context.Context) (V, error) {
		if calls != nil {
			calls.Add(1)
		}
		return v, nil
	}
}

func TestGetOrFetch_ConcurrentCallersShareOneCompute(t *testing.T) {
	t.Parallel()

	// Arrange: a slow compute and many callers
	c := newCache[map[string]int](nil)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (map[string]int, error) {
		calls.Add(1)
		<-release
		return map[string]int{"BTC": 1}, nil
	}

	const n = 50
	var wg sync.WaitGroup
	results := make([]map[string]int, n)
	errs := make([]error, n)
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = c.GetOrFetch(t.Context(), "grouped:5", time.Minute, compute)
		}(i)
	}
	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert: one compute, identical values for everyone
	require.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
}

func TestGetOrFetch_ValidEntryServedWithoutCompute(t *testing.T) {
	t.Parallel()

	c := newCache[string](newFakeClock())
	_, err := c.GetOrFetch(t.Context(), "k", time.Minute, constant("v1", nil))
	require.NoError(t, err)

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		v, err := c.GetOrFetch(t.Context(), "k", time.Minute, constant("v2", &calls))
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	}
	require.Zero(t, calls.Load())
}

func TestGetOrFetch_TTLBoundary(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newCache[string](clk)
	_, err := c.GetOrFetch(t.Context(), "k", 30*time.Second, constant("old", nil))
	require.NoError(t, err)

	var calls atomic.Int32
	clk.Advance(29900 * time.Millisecond)
	v, err := c.GetOrFetch(t.Context(), "k", 30*time.Second, constant("new", &calls))
	require.NoError(t, err)
	require.Equal(t, "old", v)
	require.Zero(t, calls.Load())

	clk.Advance(200 * time.Millisecond) // t0+30.1s
	v, err = c.GetOrFetch(t.Context(), "k", 30*time.Second, constant("new", &calls))
	require.NoError(t, err)
	require.Equal(t, "new", v)
	require.EqualValues(t, 1, calls.Load())
}

func TestGetOrFetch_StaleValueOnFailure(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newCache[string](clk)
	_, err := c.GetOrFetch(t.Context(), "k", 10*time.Second, constant("v1", nil))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	var calls atomic.Int32
	v, err := c.GetOrFetch(t.Context(), "k", 10*time.Second, func(context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("reference down")
	})
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	require.EqualValues(t, 1, calls.Load())
}

func TestGetOrFetch_FailureWithoutPriorEntryPropagates(t *testing.T) {
	t.Parallel()

	c := newCache[string](nil)
	boom := errors.New("boom")
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "", boom
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrFetch(t.Context(), "k", time.Minute, compute)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, boom)
	}
}

func TestGetOrFetch_RejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	c := newCache[string](nil)
	var calls atomic.Int32
	_, err := c.GetOrFetch(t.Context(), "k", 0, constant("v", &calls))
	require.ErrorIs(t, err, cache.ErrInvalidTTL)
	_, err = c.GetOrFetch(t.Context(), "k", -time.Second, constant("v", &calls))
	require.ErrorIs(t, err, cache.ErrInvalidTTL)
	require.Zero(t, calls.Load())
}

func TestInvalidate_NextCallComputes(t *testing.T) {
	t.Parallel()

	c := newCache[int](newFakeClock())
	var calls atomic.Int32
	_, err := c.GetOrFetch(t.Context(), "k", time.Hour, constant(1, &calls))
	require.NoError(t, err)

	c.Invalidate("k")
	v, err := c.GetOrFetch(t.Context(), "k", time.Hour, constant(2, &calls))
	require.NoError(t, err)
	require.Equal(t, 2, v)
	require.EqualValues(t, 2, calls.Load())
}

func TestGetOrFetch_WaiterContextCancelled(t *testing.T) {
	t.Parallel()

	c := newCache[string](nil)
	release := make(chan struct{})
	done := make(chan struct{})
	var firstVal string
	var firstErr error
	go func() {
		defer close(done)
		firstVal, firstErr = c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
			<-release
			return "v", nil
		})
	}()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, "k", time.Minute, constant("other", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	require.NoError(t, firstErr)
	require.Equal(t, "v", firstVal)
	require.Equal(t, 1, c.Stats().Valid)
}

func TestStats_ClearAndCleanup(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newCache[int](clk)
	_, _ = c.GetOrFetch(t.Context(), "b", 10*time.Second, constant(1, nil))
	_, _ = c.GetOrFetch(t.Context(), "a", time.Minute, constant(2, nil))
	clk.Advance(20 * time.Second)

	st := c.Stats()
	require.Equal(t, 2, st.Total)
	require.Equal(t, 1, st.Valid)
	require.Equal(t, 1, st.Expired)
	require.Len(t, st.Entries, 2)
	require.Equal(t, "a", st.Entries[0].Key)
	require.True(t, st.Entries[0].Valid)
	require.Equal(t, 20*time.Second, st.Entries[0].Age)
	require.Equal(t, time.Minute, st.Entries[0].TTL)
	require.Equal(t, "b", st.Entries[1].Key)
	require.False(t, st.Entries[1].Valid)

	// Stats has no side effects
	require.Equal(t, st, c.Stats())

	require.Equal(t, 1, c.CleanupExpired())
	require.Equal(t, 1, c.Stats().Total)

	c.Clear()
	require.Zero(t, c.Stats().Total)
}
