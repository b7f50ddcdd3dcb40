package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/resilience"
	"github.com/ndewijer/market-data-cache/internal/testutil"
)

func dailyQuery(symbol string, from, to time.Time) model.CacheQuery {
	return model.CacheQuery{
		Symbol:   symbol,
		Exchange: testutil.TestExchange,
		Interval: model.OneDay,
		From:     from,
		To:       to,
	}
}

// TestBarService_FetchWithCache_MissThenHit tests the cold and warm read paths.
//
// WHY: the whole point of the cache is that a repeated request never reaches
// the provider. The first call must populate the store and the second must be
// served from it with zero upstream calls.
func TestBarService_FetchWithCache_MissThenHit(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	q := dailyQuery("AAA", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 11))

	first, err := env.BarService.FetchWithCache(ctx, q, false)
	require.NoError(t, err)
	require.Len(t, first.Bars, 8, "2024-01-02..11 holds 8 weekdays")
	assert.Equal(t, model.SourceUpstream, first.Source)
	assert.False(t, first.Degraded)
	assert.Equal(t, 1, env.Bars.Calls())
	testutil.AssertRowCount(t, env.DB, "bar_cache", 8)

	second, err := env.BarService.FetchWithCache(ctx, q, false)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCache, second.Source)
	assert.Len(t, second.Bars, 8)
	assert.Equal(t, 1, env.Bars.Calls(), "warm read must not reach upstream")

	stats := env.BarService.Statistics()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.APICalls)
	assert.InDelta(t, 50.0, stats.HitRatePercent, 0.001)
	assert.Equal(t, model.BreakerClosed, stats.Breaker.State)
}

// TestBarService_FetchWithCache_PartialCoverage tests gap-only top-ups.
//
// WHY: re-fetching a whole window because its edges are missing wastes the
// provider quota. Only the uncovered leading and trailing sub-ranges may be
// requested, and the caller must get the merged series.
func TestBarService_FetchWithCache_PartialCoverage(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("AAA", testutil.TestExchange, model.OneDay,
		testutil.Day(2024, 1, 3), testutil.Day(2024, 1, 8)))

	res, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)), false)
	require.NoError(t, err)

	assert.Equal(t, model.SourceMixed, res.Source)
	require.Len(t, res.Bars, 8)
	assert.Equal(t, testutil.Day(2024, 1, 1), res.Bars[0].Timestamp)
	assert.Equal(t, testutil.Day(2024, 1, 10), res.Bars[7].Timestamp)

	reqs := env.Bars.Requests()
	require.Len(t, reqs, 2, "one call per uncovered edge")
	assert.Equal(t, testutil.Day(2024, 1, 1), reqs[0].From)
	assert.Equal(t, testutil.Day(2024, 1, 2), reqs[0].To)
	assert.Equal(t, testutil.Day(2024, 1, 9), reqs[1].From)
	assert.Equal(t, testutil.Day(2024, 1, 10), reqs[1].To)
}

// TestBarService_FetchWithCache_ForceRefresh tests that force bypasses the read.
func TestBarService_FetchWithCache_ForceRefresh(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	q := dailyQuery("AAA", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 5))

	_, err := env.BarService.FetchWithCache(ctx, q, false)
	require.NoError(t, err)

	res, err := env.BarService.FetchWithCache(ctx, q, true)
	require.NoError(t, err)
	assert.Equal(t, model.SourceUpstream, res.Source)
	assert.Len(t, res.Bars, 4)
	assert.Equal(t, 2, env.Bars.Calls())
	testutil.AssertRowCount(t, env.DB, "bar_cache", 4)
}

// TestBarService_FetchWithCache_Degraded tests stale-tolerant fallback.
//
// WHY: a provider outage must not take down consumers that already have
// most of the data. Cached bars are served with an explicit degraded flag;
// only a request with nothing cached fails.
func TestBarService_FetchWithCache_Degraded(t *testing.T) {
	ctx := context.Background()

	t.Run("serves cached bars when upstream fails", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("AAA", testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 3), testutil.Day(2024, 1, 8)))
		env.Bars.FailSymbol("AAA", apperrors.ErrUpstreamUnavailable)

		res, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)), false)
		require.NoError(t, err)

		assert.True(t, res.Degraded)
		assert.NotEmpty(t, res.Warning)
		assert.Len(t, res.Bars, 4)
		assert.Equal(t, model.SourceCache, res.Source)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
			env.Sleeper.Delays(), "retries back off exponentially")

		stats := env.BarService.Statistics()
		assert.Equal(t, int64(1), stats.DegradedResponses)
		assert.Equal(t, int64(1), stats.UpstreamFailures)
	})

	t.Run("serves bars past the ttl when upstream fails", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("AAA", testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)))
		env.Clock.Advance(testutil.TestTTL + time.Hour)
		env.Bars.FailSymbol("AAA", apperrors.ErrUpstreamUnavailable)

		res, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)), false)
		require.NoError(t, err)

		assert.True(t, res.Degraded)
		assert.Len(t, res.Bars, 8)
		assert.Equal(t, model.SourceCache, res.Source)
		assert.Contains(t, res.Warning, "stale")
		assert.Contains(t, res.Warning, "2024-01-01")
		testutil.AssertRowCount(t, env.DB, "bar_cache", 8)
	})

	t.Run("attempt budget comes from the policy", func(t *testing.T) {
		policy := resilience.DefaultPolicy()
		policy.MaxAttempts = 2
		policy.Jitter = 0
		env := testutil.NewTestEnv(t, testutil.WithPolicy(policy))
		env.Bars.FailSymbol("AAA", apperrors.ErrUpstreamUnavailable)

		_, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)), false)
		var exhausted *apperrors.RetryableUpstreamError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 2, exhausted.Attempts)
		assert.Equal(t, []time.Duration{time.Second}, env.Sleeper.Delays())
	})

	t.Run("fails when nothing is cached", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		env.Bars.FailSymbol("AAA", apperrors.ErrUpstreamNotFound)

		_, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 10)), false)
		require.Error(t, err)

		var permanent *apperrors.NonRetryableUpstreamError
		assert.ErrorAs(t, err, &permanent)
		assert.ErrorIs(t, err, apperrors.ErrUpstreamNotFound)
		assert.Equal(t, 1, env.Bars.Calls(), "permanent failures are not retried")
	})
}

// TestBarService_FetchWithCache_CircuitOpen tests fail-fast across symbols.
//
// WHY: once the provider is known to be down, every further symbol must be
// rejected without a network call until the cool-down elapses, then one
// probe decides whether to close the circuit again.
func TestBarService_FetchWithCache_CircuitOpen(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	env.Bars.FailSymbol("BAD", apperrors.ErrUpstreamUnavailable)
	q := func(sym string) model.CacheQuery {
		return dailyQuery(sym, testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 5))
	}

	_, err := env.BarService.FetchWithCache(ctx, q("BAD"), false)
	var exhausted *apperrors.RetryableUpstreamError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, model.BreakerOpen, env.Executor.Breaker().State())

	callsBefore := env.Bars.Calls()
	_, err = env.BarService.FetchWithCache(ctx, q("GOOD"), false)
	require.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Equal(t, callsBefore, env.Bars.Calls(), "open circuit must not reach upstream")

	env.Clock.Advance(resilience.DefaultCooldown)

	res, err := env.BarService.FetchWithCache(ctx, q("GOOD"), false)
	require.NoError(t, err)
	assert.Len(t, res.Bars, 4)
	assert.Equal(t, model.BreakerClosed, env.Executor.Breaker().State())
}

// TestBarService_FetchWithCache_RejectsInvalidBars tests ingestion filtering.
func TestBarService_FetchWithCache_RejectsInvalidBars(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	good := testutil.NewBar("AAA").At(testutil.Day(2024, 1, 2)).Build()
	bad := testutil.NewBar("AAA").At(testutil.Day(2024, 1, 3)).WithPrices(100, 98, 99, 101).Build()
	env.Bars.WithBars("AAA", []model.Bar{good, bad})

	res, err := env.BarService.FetchWithCache(ctx, dailyQuery("AAA", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 3)), false)
	require.NoError(t, err)

	require.Len(t, res.Bars, 1)
	assert.Equal(t, testutil.Day(2024, 1, 2), res.Bars[0].Timestamp)
	assert.Equal(t, int64(1), env.BarService.Statistics().RejectedBars)
	testutil.AssertRowCount(t, env.DB, "bar_cache", 1)
}

// TestBarService_FetchWithCache_InvalidInput tests request validation.
func TestBarService_FetchWithCache_InvalidInput(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	tests := []struct {
		name string
		q    model.CacheQuery
		want error
	}{
		{"empty symbol", dailyQuery(" ", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 3)), apperrors.ErrInvalidSymbol},
		{"inverted range", dailyQuery("AAA", testutil.Day(2024, 1, 3), testutil.Day(2024, 1, 2)), apperrors.ErrInvalidDateRange},
		{"unknown interval", model.CacheQuery{Symbol: "AAA", Exchange: "NSE", Interval: "TWO_DAY",
			From: testutil.Day(2024, 1, 2), To: testutil.Day(2024, 1, 3)}, apperrors.ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.BarService.FetchWithCache(ctx, tt.q, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, env.Bars.Calls())
}

// TestBarService_FetchWithCache_ConcurrentSameSeries tests request collapsing.
//
// WHY: two consumers asking for the same cold window at once must not both
// spend a provider call on it.
func TestBarService_FetchWithCache_ConcurrentSameSeries(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	q := dailyQuery("AAA", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 11))

	var wg sync.WaitGroup
	results := make([]model.FetchResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.BarService.FetchWithCache(ctx, q, false)
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Bars, 8)
	}
	assert.Equal(t, 1, env.Bars.Calls())
}

// TestBarService_FetchWithCache_StoreBusy tests reads during compaction.
//
// WHY: a cache miss must still be answered while VACUUM holds the store;
// the fetched bars are served directly and cached on a later request.
func TestBarService_FetchWithCache_StoreBusy(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	q := dailyQuery("AAA", testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 5))

	err := env.DB.Exclusive(ctx, func(ctx context.Context) error {
		res, err := env.BarService.FetchWithCache(ctx, q, false)
		require.NoError(t, err)
		assert.Len(t, res.Bars, 4)
		assert.Equal(t, model.SourceUpstream, res.Source)
		assert.False(t, res.Degraded)
		return nil
	})
	require.NoError(t, err)
	testutil.AssertRowCount(t, env.DB, "bar_cache", 0)

	res, err := env.BarService.FetchWithCache(ctx, q, false)
	require.NoError(t, err)
	assert.Len(t, res.Bars, 4)
	assert.Equal(t, 2, env.Bars.Calls())
	testutil.AssertRowCount(t, env.DB, "bar_cache", 4)
}

// TestBarService_FetchBatch tests per-symbol failure isolation.
func TestBarService_FetchBatch(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	env.Bars.FailSymbol("BBB", apperrors.ErrUpstreamNotFound)

	results := env.BarService.FetchBatch(ctx, []string{"aaa", "BBB", "CCC", "AAA"}, "nse", model.OneDay,
		testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 5))

	require.Len(t, results, 3, "symbols are upper-cased and deduplicated")
	assert.NoError(t, results["AAA"].Err)
	assert.Len(t, results["AAA"].Result.Bars, 4)
	assert.ErrorIs(t, results["BBB"].Err, apperrors.ErrUpstreamNotFound)
	assert.NoError(t, results["CCC"].Err)
	assert.Len(t, results["CCC"].Result.Bars, 4)

	t.Run("sequential fan-out", func(t *testing.T) {
		env := testutil.NewTestEnv(t, testutil.WithConcurrency(1))
		results := env.BarService.FetchBatch(ctx, []string{"CCC", "AAA", "BBB"}, "NSE", model.OneDay,
			testutil.Day(2024, 1, 2), testutil.Day(2024, 1, 5))

		require.Len(t, results, 3)
		assert.ElementsMatch(t, []string{"AAA", "BBB", "CCC"}, env.Bars.RequestedSymbols())
		assert.Equal(t, 3, env.Bars.Calls())
	})
}

// TestBarService_WarmCache tests bulk population summaries.
func TestBarService_WarmCache(t *testing.T) {
	ctx := context.Background()

	t.Run("counts successes and failures", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		env.Bars.FailSymbol("SYM002", apperrors.ErrUpstreamNotFound)

		summary, err := env.BarService.WarmCache(ctx, testutil.MakeSymbols("SYM", 5), testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 8), testutil.Day(2024, 1, 12))
		require.NoError(t, err)
		assert.Equal(t, model.WarmSummary{Total: 5, Success: 4, Failed: 1}, summary)
		testutil.AssertRowCount(t, env.DB, "bar_cache", 20)
	})

	t.Run("rejects empty universe", func(t *testing.T) {
		env := testutil.NewTestEnv(t)
		_, err := env.BarService.WarmCache(ctx, []string{" ", ""}, testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 8), testutil.Day(2024, 1, 12))
		assert.ErrorIs(t, err, apperrors.ErrEmptyUniverse)
	})
}
