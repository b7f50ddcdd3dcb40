package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
	"github.com/ndewijer/market-data-cache/internal/resilience"
	"github.com/ndewijer/market-data-cache/internal/upstream"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// DefaultRequestPacing is the minimum gap between two upstream calls.
const DefaultRequestPacing = 300 * time.Millisecond

// DefaultFetchConcurrency bounds how many symbols a batch fetches at once.
const DefaultFetchConcurrency = 4

// BarService is the single entry point consumers use to get bars. It reads
// the range cache first, tops up only the uncovered sub-ranges from the
// upstream through the resilience executor, and paces upstream calls.
type BarService struct {
	bars        *repository.BarRepository
	source      upstream.BarSource
	executor    *resilience.Executor
	limiter     *rate.Limiter
	logger      *zap.Logger
	concurrency int

	group singleflight.Group
	locks *keyedMutex

	mu    sync.Mutex
	stats model.Statistics
}

// BarServiceOption configures a BarService.
type BarServiceOption func(*BarService)

// WithRequestPacing sets the minimum delay between upstream calls. Zero
// disables pacing.
func WithRequestPacing(d time.Duration) BarServiceOption {
	return func(s *BarService) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithFetchConcurrency bounds batch fan-out.
func WithFetchConcurrency(n int) BarServiceOption {
	return func(s *BarService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewBarService creates a new BarService. Counters start at zero and belong
// to this instance only.
func NewBarService(
	bars *repository.BarRepository,
	source upstream.BarSource,
	executor *resilience.Executor,
	logger *zap.Logger,
	opts ...BarServiceOption,
) *BarService {
	s := &BarService{
		bars:        bars,
		source:      source,
		executor:    executor,
		limiter:     rate.NewLimiter(rate.Every(DefaultRequestPacing), 1),
		logger:      logger,
		concurrency: DefaultFetchConcurrency,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchWithCache returns the bars of one series over [q.From, q.To].
//
// A fully covered fresh window is served from the store without touching the
// upstream. Otherwise only the uncovered sub-ranges are fetched (the whole
// window when forceRefresh is set), persisted, and the merged window is read
// back. If the upstream fails and the store holds any bars for the window,
// those are returned with Degraded set even when they are past the TTL, and
// the warning names the stale span; with nothing cached the error propagates.
//
// Identical concurrent requests share one execution, and work on the same
// series is serialised so two callers never fetch the same gap twice.
func (s *BarService) FetchWithCache(ctx context.Context, q model.CacheQuery, forceRefresh bool) (model.FetchResult, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return model.FetchResult{}, err
	}

	flightKey := fmt.Sprintf("%s|%s|%s|%t", q.Key(), q.From.Format(time.RFC3339), q.To.Format(time.RFC3339), forceRefresh)
	ch := s.group.DoChan(flightKey, func() (any, error) {
		return s.fetch(ctx, q, forceRefresh)
	})

	select {
	case <-ctx.Done():
		return model.FetchResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.FetchResult{}, res.Err
		}
		return res.Val.(model.FetchResult), nil
	}
}

func (s *BarService) fetch(ctx context.Context, q model.CacheQuery, forceRefresh bool) (model.FetchResult, error) {
	unlock := s.locks.Lock(q.Key().String())
	defer unlock()

	log := s.logger.With(zap.String("series", q.Key().String()), zap.Stringer("range", q.Range()))

	var cached model.CacheResult
	missing := []model.TimeRange{q.Range()}
	if !forceRefresh {
		var err error
		cached, err = s.bars.Get(ctx, q)
		if err != nil {
			return model.FetchResult{}, err
		}
		if cached.FullyCovered {
			s.count(func(st *model.Statistics) { st.CacheHits++ })
			log.Debug("cache hit", zap.Int("bars", len(cached.Bars)))
			return model.FetchResult{Bars: cached.Bars, Source: model.SourceCache}, nil
		}
		missing = cached.Missing
	}
	s.count(func(st *model.Statistics) { st.CacheMisses++ })

	fetched := 0
	var upstreamErr error
	var unsaved []model.Bar
	for _, window := range missing {
		pending, err := s.fetchWindow(ctx, q.Key(), window)
		if err != nil {
			upstreamErr = err
			break
		}
		unsaved = append(unsaved, pending...)
		fetched++
	}

	if upstreamErr != nil && ctx.Err() != nil {
		return model.FetchResult{}, ctx.Err()
	}

	merged, err := s.bars.Get(ctx, q)
	if err != nil {
		return model.FetchResult{}, err
	}

	result := model.FetchResult{Bars: mergeBars(merged.Bars, unsaved)}
	switch {
	case fetched == 0:
		result.Source = model.SourceCache
	case forceRefresh || len(cached.Bars) == 0:
		result.Source = model.SourceUpstream
	default:
		result.Source = model.SourceMixed
	}

	if upstreamErr != nil {
		bars, stale, err := s.bars.GetStale(ctx, q)
		if err != nil {
			return model.FetchResult{}, err
		}
		if len(bars) == 0 {
			s.count(func(st *model.Statistics) { st.UpstreamFailures++ })
			return model.FetchResult{}, fmt.Errorf("fetch %s: %w", q.Key(), upstreamErr)
		}
		s.count(func(st *model.Statistics) {
			st.UpstreamFailures++
			st.DegradedResponses++
		})
		bars = mergeBars(bars, unsaved)
		result.Bars = bars
		result.Degraded = true
		result.Warning = fmt.Sprintf("upstream unavailable, serving %d cached bars; missing %s", len(bars), joinRanges(merged.Missing))
		if !stale.From.IsZero() {
			result.Warning += fmt.Sprintf("; stale %s", stale)
		}
		log.Warn("serving degraded result", zap.Int("bars", len(bars)), zap.Error(upstreamErr))
	}
	return result, nil
}

// fetchWindow pulls one sub-range through the executor, drops invalid rows
// and persists the rest together with the coverage record. When the store is
// busy with compaction the bars are returned unsaved instead.
func (s *BarService) fetchWindow(ctx context.Context, key model.SeriesKey, window model.TimeRange) ([]model.Bar, error) {
	req := upstream.BarRequest{
		Symbol:   key.Symbol,
		Exchange: key.Exchange,
		Interval: key.Interval,
		From:     window.From,
		To:       window.To,
	}

	bars, err := resilience.Do(ctx, s.executor, "fetch_bars "+key.String(), func(ctx context.Context) ([]model.Bar, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		s.count(func(st *model.Statistics) { st.APICalls++ })
		return s.source.FetchBars(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	for i := range bars {
		bars[i].Symbol, bars[i].Exchange, bars[i].Interval = key.Symbol, key.Exchange, key.Interval
	}
	valid, rejected := validation.ValidateBars(bars)
	if len(rejected) > 0 {
		s.count(func(st *model.Statistics) { st.RejectedBars += int64(len(rejected)) })
		for _, r := range rejected {
			s.logger.Warn("dropping invalid upstream bar",
				zap.String("series", key.String()),
				zap.Time("timestamp", r.Bar.Timestamp),
				zap.Error(r.Err))
		}
	}

	if err := s.bars.PutRange(ctx, key, window, valid); err != nil {
		if errors.Is(err, database.ErrStoreBusy) {
			s.logger.Info("store busy, serving fetched bars without caching",
				zap.String("series", key.String()),
				zap.Int("bars", len(valid)))
			return valid, nil
		}
		return nil, fmt.Errorf("failed to persist %s: %w", key, err)
	}
	s.logger.Debug("fetched window",
		zap.String("series", key.String()),
		zap.Stringer("window", window),
		zap.Int("bars", len(valid)))
	return nil, nil
}

// FetchBatch runs FetchWithCache for every symbol. A failing symbol never
// aborts the others; each outcome is reported under its symbol.
func (s *BarService) FetchBatch(ctx context.Context, symbols []string, exchange string, interval model.Interval, from, to time.Time) map[string]model.BatchItem {
	unique := dedupeSymbols(symbols)
	out := make(map[string]model.BatchItem, len(unique))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, symbol := range unique {
		g.Go(func() error {
			res, err := s.FetchWithCache(ctx, model.CacheQuery{
				Symbol:   symbol,
				Exchange: exchange,
				Interval: interval,
				From:     from,
				To:       to,
			}, false)
			if err != nil {
				s.logger.Warn("batch item failed", zap.String("symbol", symbol), zap.Error(err))
			}
			mu.Lock()
			out[symbol] = model.BatchItem{Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// WarmCache populates the store for a symbol list and reports how many
// symbols succeeded.
func (s *BarService) WarmCache(ctx context.Context, symbols []string, exchange string, interval model.Interval, from, to time.Time) (model.WarmSummary, error) {
	unique := dedupeSymbols(symbols)
	if len(unique) == 0 {
		return model.WarmSummary{}, apperrors.ErrEmptyUniverse
	}

	results := s.FetchBatch(ctx, unique, exchange, interval, from, to)
	summary := model.WarmSummary{Total: len(unique)}
	for _, item := range results {
		if item.Err != nil {
			summary.Failed++
			continue
		}
		summary.Success++
	}
	s.logger.Info("cache warmed",
		zap.Int("total", summary.Total),
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// Statistics returns a copy of the cumulative counters.
func (s *BarService) Statistics() model.Statistics {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()

	if total := st.CacheHits + st.CacheMisses; total > 0 {
		st.HitRatePercent = float64(st.CacheHits) / float64(total) * 100
	}
	st.Breaker = s.executor.Breaker().Snapshot()
	return st
}

// APICalls returns the number of upstream calls issued so far.
func (s *BarService) APICalls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.APICalls
}

func (s *BarService) count(fn func(st *model.Statistics)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

func dedupeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

// mergeBars overlays extra onto stored by timestamp and returns the result
// in timestamp order.
func mergeBars(stored, extra []model.Bar) []model.Bar {
	if len(extra) == 0 {
		return stored
	}
	byTime := make(map[int64]model.Bar, len(stored)+len(extra))
	for _, b := range stored {
		byTime[b.Timestamp.UnixNano()] = b
	}
	for _, b := range extra {
		byTime[b.Timestamp.UnixNano()] = b
	}
	out := make([]model.Bar, 0, len(byTime))
	for _, b := range byTime {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func joinRanges(ranges []model.TimeRange) string {
	if len(ranges) == 0 {
		return "nothing"
	}
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// isCircuitOpen reports whether err was a fail-fast rejection.
func isCircuitOpen(err error) bool {
	return errors.Is(err, apperrors.ErrCircuitOpen)
}
