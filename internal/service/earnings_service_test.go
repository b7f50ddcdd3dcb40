package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/testutil"
	"github.com/ndewijer/market-data-cache/internal/upstream"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// calendarWeek is a week of announcements starting the day after TestNow.
func calendarWeek() []upstream.RawAnnouncement {
	return []upstream.RawAnnouncement{
		{SourceCode: "500001", CompanyName: "Alpha Ltd", Date: testutil.Day(2024, 1, 16), Type: "Result", Subject: "Financial Results for Q3"},
		{SourceCode: "500002", CompanyName: "Beta Ltd", Date: testutil.Day(2024, 1, 17), Type: "Board Meeting", Subject: "Quarterly results"},
		{SourceCode: "500003", CompanyName: "Gamma Ltd", Date: testutil.Day(2024, 1, 20), Type: "Board Meeting", Subject: "To consider results"},
		{SourceCode: "500004", CompanyName: "Delta Ltd", Date: testutil.Day(2024, 1, 18), Type: "Result", Subject: "Results"},
		{SourceCode: "500005", CompanyName: "Eps Ltd", Date: testutil.Day(2024, 1, 18), Type: "AGM", Subject: "Annual general meeting"},
		// Duplicate of the first row.
		{SourceCode: "500001", CompanyName: "Alpha Ltd", Date: testutil.Day(2024, 1, 16), Type: "Result", Subject: "Financial Results for Q3"},
		// Outside a seven day window.
		{SourceCode: "500006", CompanyName: "Zeta Ltd", Date: testutil.Day(2024, 2, 1), Type: "Result", Subject: "Results"},
	}
}

func newEarningsEnv(t *testing.T) *testutil.Env {
	t.Helper()
	return testutil.NewTestEnv(t, testutil.WithAnnouncements(calendarWeek()...))
}

// TestEarningsService_FilterUniverseByEarnings tests universe narrowing.
//
// WHY: the filter turns a 50-symbol universe into the handful with a
// catalyst this week. Unmapped exchange codes must be surfaced rather than
// silently dropped so operators can extend the mapping table.
func TestEarningsService_FilterUniverseByEarnings(t *testing.T) {
	ctx := context.Background()
	env := newEarningsEnv(t)
	universe := testutil.MakeSymbols("SYM", 50)

	_, err := env.EarningsService.ImportMappings(ctx, []model.SymbolMapping{
		{SourceCode: "500003", CanonicalSymbol: "SYM020", CompanyName: "Gamma Ltd"},
		{SourceCode: "500001", CanonicalSymbol: "SYM005", CompanyName: "Alpha Ltd"},
		{SourceCode: "500002", CanonicalSymbol: "sym010", CompanyName: "Beta Ltd"},
	})
	require.NoError(t, err)

	res, err := env.EarningsService.FilterUniverseByEarnings(ctx, universe, 7, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"SYM005", "SYM010", "SYM020"}, res.FilteredUniverse, "universe order is preserved")
	assert.Equal(t, 50, res.OriginalSize)
	assert.Equal(t, 3, res.FilteredSize)
	assert.InDelta(t, 94.0, res.ReductionPct, 0.001)
	assert.Equal(t, 4, res.AnnouncementsFound)
	assert.Equal(t, 3, res.SymbolsMapped)
	assert.Equal(t, []string{"500004"}, res.UnmappedCodes)

	t.Run("second call is served from the store", func(t *testing.T) {
		again, err := env.EarningsService.FilterUniverseByEarnings(ctx, universe, 7, false)
		require.NoError(t, err)
		assert.Equal(t, res.FilteredUniverse, again.FilteredUniverse)
		assert.Equal(t, 1, env.Calendar.Calls())
	})

	t.Run("half the universe has earnings", func(t *testing.T) {
		small := []string{"SYM005", "SYM006", "SYM010", "SYM011"}
		half, err := env.EarningsService.FilterUniverseByEarnings(ctx, small, 7, false)
		require.NoError(t, err)
		assert.Equal(t, 2, half.FilteredSize)
		assert.InDelta(t, 50.0, half.ReductionPct, 0.001)
	})

	t.Run("empty universe", func(t *testing.T) {
		empty, err := env.EarningsService.FilterUniverseByEarnings(ctx, nil, 7, false)
		require.NoError(t, err)
		assert.Empty(t, empty.FilteredUniverse)
		assert.Zero(t, empty.ReductionPct)
	})
}

// TestEarningsService_GetUpcomingEarnings tests calendar caching and fallback.
func TestEarningsService_GetUpcomingEarnings(t *testing.T) {
	ctx := context.Background()

	t.Run("applies policy and dedupes", func(t *testing.T) {
		env := newEarningsEnv(t)

		anns, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		require.NoError(t, err)

		require.Len(t, anns, 4)
		for _, a := range anns {
			assert.NotEqual(t, "500005", a.SourceCode, "AGM notices are not earnings")
		}
		testutil.AssertRowCount(t, env.DB, "earnings_announcement", 4)
	})

	t.Run("refetches after the ttl", func(t *testing.T) {
		env := newEarningsEnv(t)

		_, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		require.NoError(t, err)
		env.Clock.Advance(testutil.TestTTL + 1)
		_, err = env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		require.NoError(t, err)

		assert.Equal(t, 2, env.Calendar.Calls())
	})

	t.Run("falls back to stored announcements", func(t *testing.T) {
		env := newEarningsEnv(t)

		_, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		require.NoError(t, err)
		env.Calendar.WithError(apperrors.ErrUpstreamNotFound)

		anns, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, true)
		require.NoError(t, err)
		assert.Len(t, anns, 4)
		assert.Equal(t, 2, env.Calendar.Calls())
	})

	t.Run("fails without stored announcements", func(t *testing.T) {
		env := newEarningsEnv(t)
		env.Calendar.WithError(apperrors.ErrUpstreamNotFound)

		_, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		assert.ErrorIs(t, err, apperrors.ErrUpstreamNotFound)
	})

	t.Run("configured keywords replace the defaults", func(t *testing.T) {
		env := testutil.NewTestEnv(t, testutil.WithAnnouncements(calendarWeek()...), testutil.WithKeywords("agm"))

		anns, err := env.EarningsService.GetUpcomingEarnings(ctx, 7, false)
		require.NoError(t, err)
		require.Len(t, anns, 1)
		assert.Equal(t, "500005", anns[0].SourceCode)
	})

	t.Run("rejects negative window", func(t *testing.T) {
		env := newEarningsEnv(t)
		_, err := env.EarningsService.GetUpcomingEarnings(ctx, -1, false)
		assert.ErrorIs(t, err, apperrors.ErrInvalidDateRange)
		assert.Zero(t, env.Calendar.Calls())
	})
}

// TestKeywordPolicy tests the ingestion allow-list.
func TestKeywordPolicy(t *testing.T) {
	policy := service.NewKeywordPolicy([]string{"Result", " earnings ", ""})

	tests := []struct {
		name string
		ann  upstream.RawAnnouncement
		want bool
	}{
		{"type match", upstream.RawAnnouncement{Type: "RESULTS"}, true},
		{"subject match", upstream.RawAnnouncement{Type: "Board Meeting", Subject: "Q3 earnings call"}, true},
		{"no match", upstream.RawAnnouncement{Type: "AGM", Subject: "Dividend record date"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Accept(tt.ann))
		})
	}

	t.Run("empty list accepts everything", func(t *testing.T) {
		assert.True(t, service.NewKeywordPolicy(nil).Accept(upstream.RawAnnouncement{Type: "AGM"}))
	})
}

// TestEarningsService_AddMapping tests mapping maintenance.
func TestEarningsService_AddMapping(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)

	changed, err := env.EarningsService.AddMapping(ctx, " 500325 ", "reliance", "Reliance Industries")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = env.EarningsService.AddMapping(ctx, "500325", "RELIANCE", "Reliance Industries")
	require.NoError(t, err)
	assert.False(t, changed, "identical mapping is a no-op")

	mappings, err := env.EarningsService.ListMappings(ctx, "REL")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "500325", mappings[0].SourceCode)
	assert.Equal(t, "RELIANCE", mappings[0].CanonicalSymbol)

	t.Run("invalid batch is refused whole", func(t *testing.T) {
		_, err := env.EarningsService.ImportMappings(ctx, []model.SymbolMapping{
			{SourceCode: "532540", CanonicalSymbol: "TCS"},
			{SourceCode: "500209", CanonicalSymbol: "  "},
		})
		var verr *validation.Error
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "canonicalSymbol")

		all, err := env.EarningsService.ListMappings(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}
