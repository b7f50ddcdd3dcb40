package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/checkpoint"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
)

// Health thresholds.
const (
	HealthyFreshnessPercent = 90.0
	WarningFreshnessPercent = 70.0
	DefaultMinorGapRatio    = 0.1
	DefaultRetentionDays    = 5 * 365
	DefaultBackfillJob      = "backfill"
)

// MaintenanceConfig holds the defaults maintenance jobs fall back to.
type MaintenanceConfig struct {
	Exchange           string
	Interval           model.Interval
	TrackedSymbols     []string
	FreshnessThreshold time.Duration
	MinorGapRatio      float64
	RetentionDays      int
	// Holidays are weekdays the exchange is closed; daily gap counts skip them.
	Holidays []time.Time
}

// MaintenanceService runs the long-lived and periodic jobs over the range
// cache: historical backfill, incremental daily update, retention cleanup
// and the health report. Bulk jobs hold an advisory lock so two of them
// never overlap.
type MaintenanceService struct {
	bars        *repository.BarRepository
	earnings    *repository.EarningsRepository
	earningsTTL time.Duration
	fetcher     *BarService
	checkpoints *checkpoint.FileStore
	cfg         MaintenanceConfig
	logger      *zap.Logger
	now         func() time.Time

	jobMu sync.Mutex
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(
	bars *repository.BarRepository,
	fetcher *BarService,
	checkpoints *checkpoint.FileStore,
	cfg MaintenanceConfig,
	logger *zap.Logger,
) *MaintenanceService {
	if cfg.Interval == "" {
		cfg.Interval = model.OneDay
	}
	if cfg.FreshnessThreshold <= 0 {
		cfg.FreshnessThreshold = 24 * time.Hour
	}
	if cfg.MinorGapRatio <= 0 {
		cfg.MinorGapRatio = DefaultMinorGapRatio
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &MaintenanceService{
		bars:        bars,
		fetcher:     fetcher,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock makes the service read the current time from now. Intended for
// tests; call before the service is shared.
func (s *MaintenanceService) WithClock(now func() time.Time) *MaintenanceService {
	s.now = now
	return s
}

// WithEarnings makes Expire also drop earnings announcements older than ttl.
func (s *MaintenanceService) WithEarnings(repo *repository.EarningsRepository, ttl time.Duration) *MaintenanceService {
	s.earnings = repo
	s.earningsTTL = ttl
	return s
}

func (s *MaintenanceService) acquire(job string) (func(), error) {
	if !s.jobMu.TryLock() {
		return nil, fmt.Errorf("%w: cannot start %s", apperrors.ErrMaintenanceInProgress, job)
	}
	return s.jobMu.Unlock, nil
}

// RunHistoricalBackfill fetches req.Years of history for every symbol, batch
// by batch, writing a checkpoint after each batch. With Resume set and a
// checkpoint present, completed symbols are skipped and only the remaining
// list is processed. Cancelling ctx stops after the current batch; symbols
// that did not finish stay in the checkpoint. An open circuit also stops the
// run early so the remaining symbols are not all recorded as failures.
func (s *MaintenanceService) RunHistoricalBackfill(ctx context.Context, req model.BackfillRequest) (model.BackfillSummary, error) {
	if req.BatchSize <= 0 {
		return model.BackfillSummary{}, apperrors.ErrInvalidBatchSize
	}
	if req.Job == "" {
		req.Job = DefaultBackfillJob
	}

	release, err := s.acquire("backfill")
	if err != nil {
		return model.BackfillSummary{}, err
	}
	defer release()

	start := s.now()
	cp, resumed, err := s.startCheckpoint(req, start)
	if err != nil {
		return model.BackfillSummary{}, err
	}

	summary := model.BackfillSummary{
		RunID:   cp.RunID,
		Job:     cp.Job,
		Total:   len(cp.Completed) + len(cp.Failed) + len(cp.Remaining),
		Skipped: len(cp.Completed),
		Resumed: resumed,
	}
	log := s.logger.With(zap.String("job", cp.Job), zap.String("run_id", cp.RunID))
	log.Info("backfill started",
		zap.Int("total", summary.Total),
		zap.Int("remaining", len(cp.Remaining)),
		zap.Bool("resumed", resumed),
		zap.Int("years", cp.Years))

	to := start.UTC()
	from := to.AddDate(-cp.Years, 0, 0)
	apiBefore := s.fetcher.APICalls()

	for len(cp.Remaining) > 0 {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		n := min(req.BatchSize, len(cp.Remaining))
		batch := cp.Remaining[:n]
		rest := append([]string(nil), cp.Remaining[n:]...)

		results := s.fetcher.FetchBatch(ctx, batch, cp.Exchange, cp.Interval, from, to)

		var retry []string
		stop := false
		for _, sym := range batch {
			item := results[sym]
			switch {
			case item.Err == nil:
				cp.Completed = append(cp.Completed, sym)
				summary.Completed++
			case ctx.Err() != nil || isCircuitOpen(item.Err):
				retry = append(retry, sym)
				stop = true
			default:
				cp.Failed = append(cp.Failed, model.FailedItem{Symbol: sym, Reason: item.Err.Error()})
				summary.Failed++
				summary.FailedSymbols = append(summary.FailedSymbols, model.FailedItem{Symbol: sym, Reason: item.Err.Error()})
			}
		}

		cp.Remaining = append(retry, rest...)
		cp.CompletedCount = len(cp.Completed)
		cp.UpdatedAt = s.now().UTC()
		if err := s.checkpoints.Save(cp); err != nil {
			return summary, fmt.Errorf("failed to write checkpoint: %w", err)
		}
		log.Info("backfill batch done",
			zap.Int("completed", cp.CompletedCount),
			zap.Int("failed", len(cp.Failed)),
			zap.Int("remaining", len(cp.Remaining)))

		if stop {
			summary.Interrupted = true
			break
		}
	}

	if len(cp.Remaining) == 0 {
		if err := s.checkpoints.Delete(cp.Job); err != nil {
			return summary, err
		}
	}

	summary.Duration = s.now().Sub(start)
	summary.APICallsUsed = s.fetcher.APICalls() - apiBefore
	log.Info("backfill finished",
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Int64("api_calls", summary.APICallsUsed),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// startCheckpoint loads the checkpoint to resume from or builds a new one.
func (s *MaintenanceService) startCheckpoint(req model.BackfillRequest, start time.Time) (model.BackfillCheckpoint, bool, error) {
	if req.Resume {
		cp, err := s.checkpoints.Load(req.Job)
		switch {
		case err == nil:
			return cp, true, nil
		case !errors.Is(err, apperrors.ErrCheckpointNotFound):
			return model.BackfillCheckpoint{}, false, err
		}
	}

	symbols := dedupeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return model.BackfillCheckpoint{}, false, apperrors.ErrEmptyUniverse
	}
	exchange := strings.ToUpper(strings.TrimSpace(req.Exchange))
	if exchange == "" {
		exchange = s.cfg.Exchange
	}
	if exchange == "" {
		return model.BackfillCheckpoint{}, false, apperrors.ErrInvalidExchange
	}
	interval := req.Interval
	if interval == "" {
		interval = s.cfg.Interval
	}
	if !interval.Valid() {
		return model.BackfillCheckpoint{}, false, fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, interval)
	}
	years := req.Years
	if years <= 0 {
		return model.BackfillCheckpoint{}, false, fmt.Errorf("%w: years must be positive", apperrors.ErrInvalidDateRange)
	}

	return model.BackfillCheckpoint{
		Job:       req.Job,
		RunID:     uuid.New().String(),
		Exchange:  exchange,
		Interval:  interval,
		Years:     years,
		Remaining: symbols,
		Completed: []string{},
		Failed:    []model.FailedItem{},
		StartedAt: start.UTC(),
		UpdatedAt: start.UTC(),
	}, false, nil
}

// RunDailyUpdate refreshes every series already in the store whose last bar
// is older than lookbackDays, fetching only the range after that bar.
func (s *MaintenanceService) RunDailyUpdate(ctx context.Context, exchange string, interval model.Interval, lookbackDays int) (model.UpdateSummary, error) {
	if exchange == "" {
		exchange = s.cfg.Exchange
	}
	exchange = strings.ToUpper(exchange)
	if interval == "" {
		interval = s.cfg.Interval
	}
	if !interval.Valid() {
		return model.UpdateSummary{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, interval)
	}
	if lookbackDays < 0 {
		return model.UpdateSummary{}, fmt.Errorf("%w: lookback days must not be negative", apperrors.ErrInvalidDateRange)
	}

	release, err := s.acquire("daily update")
	if err != nil {
		return model.UpdateSummary{}, err
	}
	defer release()

	start := s.now()
	apiBefore := s.fetcher.APICalls()

	series, err := s.bars.SeriesStats(ctx, exchange, interval)
	if err != nil {
		return model.UpdateSummary{}, err
	}

	now := start.UTC()
	staleBefore := now.AddDate(0, 0, -lookbackDays)
	summary := model.UpdateSummary{FailedSymbols: []model.FailedItem{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.fetcher.concurrency)
	for _, st := range series {
		if st.LastTimestamp.After(staleBefore) {
			summary.SymbolsSkipped++
			continue
		}
		from := st.LastTimestamp.Add(interval.Step())
		if from.After(now) {
			summary.SymbolsSkipped++
			continue
		}
		g.Go(func() error {
			_, err := s.fetcher.FetchWithCache(ctx, model.CacheQuery{
				Symbol:   st.Symbol,
				Exchange: exchange,
				Interval: interval,
				From:     from,
				To:       now,
			}, true)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.SymbolsFailed++
				summary.FailedSymbols = append(summary.FailedSymbols, model.FailedItem{Symbol: st.Symbol, Reason: err.Error()})
				return nil
			}
			summary.SymbolsUpdated++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.FailedSymbols, func(i, j int) bool {
		return summary.FailedSymbols[i].Symbol < summary.FailedSymbols[j].Symbol
	})
	summary.APICalls = s.fetcher.APICalls() - apiBefore
	summary.Duration = s.now().Sub(start)

	s.logger.Info("daily update finished",
		zap.String("exchange", exchange),
		zap.String("interval", string(interval)),
		zap.Int("updated", summary.SymbolsUpdated),
		zap.Int("failed", summary.SymbolsFailed),
		zap.Int("skipped", summary.SymbolsSkipped),
		zap.Int64("api_calls", summary.APICalls))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// RunWeeklyCleanup deletes bars older than retentionDays, compacts the store
// and attaches a health report.
func (s *MaintenanceService) RunWeeklyCleanup(ctx context.Context, retentionDays int) (model.CleanupSummary, error) {
	if retentionDays <= 0 {
		retentionDays = s.cfg.RetentionDays
	}

	release, err := s.acquire("weekly cleanup")
	if err != nil {
		return model.CleanupSummary{}, err
	}
	defer release()

	start := s.now()
	before, err := s.bars.StorageStats(ctx)
	if err != nil {
		return model.CleanupSummary{}, err
	}

	cutoff := start.UTC().AddDate(0, 0, -retentionDays)
	deleted, err := s.bars.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return model.CleanupSummary{}, err
	}
	if err := s.bars.Vacuum(ctx); err != nil {
		return model.CleanupSummary{}, err
	}

	after, err := s.bars.StorageStats(ctx)
	if err != nil {
		return model.CleanupSummary{}, err
	}

	report, err := s.GenerateHealthReport(ctx)
	if err != nil {
		return model.CleanupSummary{}, err
	}

	summary := model.CleanupSummary{
		RowsDeleted:    deleted,
		SizeBefore:     before.SizeBytes,
		SizeAfter:      after.SizeBytes,
		SpaceReclaimed: max(before.SizeBytes-after.SizeBytes, 0),
		Duration:       s.now().Sub(start),
		Health:         &report,
	}
	s.logger.Info("weekly cleanup finished",
		zap.Int64("rows_deleted", summary.RowsDeleted),
		zap.Int64("space_reclaimed", summary.SpaceReclaimed),
		zap.String("health", string(report.Status)))
	return summary, nil
}

// Expire removes bars past their TTL or the retention horizon and, when an
// earnings store is attached, announcements past the same TTL.
func (s *MaintenanceService) Expire(ctx context.Context) (model.ExpireSummary, error) {
	var summary model.ExpireSummary
	n, err := s.bars.Expire(ctx)
	if err != nil {
		return summary, err
	}
	summary.Bars = n

	if s.earnings != nil {
		if summary.Announcements, err = s.earnings.Expire(ctx, s.earningsTTL); err != nil {
			return summary, err
		}
	}
	s.logger.Info("expired cached rows",
		zap.Int64("bars", summary.Bars),
		zap.Int64("announcements", summary.Announcements))
	return summary, nil
}

// GenerateHealthReport aggregates coverage, freshness, quality and storage
// metrics for the default exchange and interval. It never writes.
func (s *MaintenanceService) GenerateHealthReport(ctx context.Context) (model.HealthReport, error) {
	now := s.now().UTC()
	exchange, interval := strings.ToUpper(s.cfg.Exchange), s.cfg.Interval

	series, err := s.bars.SeriesStats(ctx, exchange, interval)
	if err != nil {
		return model.HealthReport{}, err
	}
	storage, err := s.bars.StorageStats(ctx)
	if err != nil {
		return model.HealthReport{}, err
	}
	duplicates, err := s.bars.CountDuplicateDays(ctx, exchange, interval)
	if err != nil {
		return model.HealthReport{}, err
	}

	holidays := make(map[string]bool, len(s.cfg.Holidays))
	for _, d := range s.cfg.Holidays {
		holidays[d.UTC().Format(time.DateOnly)] = true
	}

	bySymbol := make(map[string]model.SeriesStats, len(series))
	for _, st := range series {
		bySymbol[st.Symbol] = st
	}
	expected := dedupeSymbols(s.cfg.TrackedSymbols)
	if len(expected) == 0 {
		for _, st := range series {
			expected = append(expected, st.Symbol)
		}
	}

	report := model.HealthReport{
		Exchange:        exchange,
		Interval:        interval,
		Storage:         storage,
		Issues:          []string{},
		Recommendations: []string{},
		GeneratedAt:     now,
	}
	report.Coverage.Expected = len(expected)
	report.Freshness.Threshold = s.cfg.FreshnessThreshold
	report.Quality.DuplicateRows = duplicates

	var totalRows int64
	for _, sym := range expected {
		st, ok := bySymbol[sym]
		if !ok {
			report.Coverage.MissingSymbols = append(report.Coverage.MissingSymbols, sym)
			continue
		}
		report.Coverage.Present++
		totalRows += st.Rows

		if now.Sub(st.LastCachedAt) <= s.cfg.FreshnessThreshold {
			report.Freshness.Fresh++
		} else {
			report.Freshness.Stale++
			report.Freshness.StaleSymbols = append(report.Freshness.StaleSymbols, sym)
		}

		timestamps, err := s.bars.Timestamps(ctx, st.SeriesKey)
		if err != nil {
			return model.HealthReport{}, err
		}
		if missing := countGapBars(timestamps, interval, holidays); missing > 0 {
			report.Quality.SymbolsWithGaps++
			report.Quality.TotalGapBars += missing
			report.Quality.Gaps = append(report.Quality.Gaps, model.SymbolGap{Symbol: sym, MissingBars: missing})
		}
	}

	report.Coverage.Percent = percent(report.Coverage.Present, report.Coverage.Expected)
	report.Freshness.Percent = percent(report.Freshness.Fresh, report.Coverage.Present)

	gapRatio := 0.0
	if total := totalRows + int64(report.Quality.TotalGapBars); total > 0 {
		gapRatio = float64(report.Quality.TotalGapBars) / float64(total)
	}
	report.Status = ClassifyHealth(report.Freshness.Percent, report.Quality.TotalGapBars, gapRatio, s.cfg.MinorGapRatio)
	s.describeIssues(&report, gapRatio)
	return report, nil
}

// ClassifyHealth derives the overall status: HEALTHY when freshness is at
// least 90% with no gaps, WARNING when freshness is in [70%, 90%) without
// major gaps or at least 90% with minor gaps, CRITICAL otherwise.
func ClassifyHealth(freshnessPercent float64, gapBars int, gapRatio, minorGapRatio float64) model.HealthStatus {
	majorGaps := gapBars > 0 && gapRatio > minorGapRatio
	switch {
	case majorGaps || freshnessPercent < WarningFreshnessPercent:
		return model.HealthCritical
	case freshnessPercent >= HealthyFreshnessPercent && gapBars == 0:
		return model.HealthHealthy
	default:
		return model.HealthWarning
	}
}

func (s *MaintenanceService) describeIssues(report *model.HealthReport, gapRatio float64) {
	downgrade := func() {
		if report.Status == model.HealthHealthy {
			report.Status = model.HealthWarning
		}
	}

	if report.Coverage.Expected == 0 {
		report.Status = model.HealthCritical
		report.Issues = append(report.Issues, "no cached series for "+report.Exchange+" "+string(report.Interval))
		report.Recommendations = append(report.Recommendations, "run backfill to populate the cache")
		return
	}
	if n := len(report.Coverage.MissingSymbols); n > 0 {
		downgrade()
		report.Issues = append(report.Issues, fmt.Sprintf("%d tracked symbols have no cached data", n))
		report.Recommendations = append(report.Recommendations,
			"run backfill for "+strings.Join(head(report.Coverage.MissingSymbols, 10), ", "))
	}
	if report.Freshness.Stale > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d of %d symbols are stale (freshness %.1f%%)",
			report.Freshness.Stale, report.Coverage.Present, report.Freshness.Percent))
		report.Recommendations = append(report.Recommendations, "run daily update")
	}
	if report.Quality.TotalGapBars > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("%d symbols have %d missing bars (%.1f%% of expected rows)",
			report.Quality.SymbolsWithGaps, report.Quality.TotalGapBars, gapRatio*100))
		gaps := append([]model.SymbolGap(nil), report.Quality.Gaps...)
		sort.Slice(gaps, func(i, j int) bool { return gaps[i].MissingBars > gaps[j].MissingBars })
		for _, g := range head(gaps, 5) {
			report.Recommendations = append(report.Recommendations, "re-backfill symbol "+g.Symbol)
		}
	}
	if report.Quality.DuplicateRows > 0 {
		downgrade()
		report.Issues = append(report.Issues, fmt.Sprintf("%d duplicate rows for the same trading day", report.Quality.DuplicateRows))
		report.Recommendations = append(report.Recommendations, "re-backfill symbols with duplicate days")
	}
}

// countGapBars counts bars missing between consecutive timestamps. Daily
// series expect every weekday that is not a listed holiday, weekly series
// every week, and intraday series every step within the same UTC day.
func countGapBars(timestamps []time.Time, interval model.Interval, holidays map[string]bool) int {
	missing := 0
	for i := 1; i < len(timestamps); i++ {
		prev, cur := timestamps[i-1], timestamps[i]
		switch {
		case interval == model.OneWeek:
			if n := int(cur.Sub(prev)/interval.Step()) - 1; n > 0 {
				missing += n
			}
		case interval.Intraday():
			if sameDay(prev, cur) {
				if n := int(cur.Sub(prev)/interval.Step()) - 1; n > 0 {
					missing += n
				}
			}
		default:
			for d := prev.AddDate(0, 0, 1); d.Before(cur); d = d.AddDate(0, 0, 1) {
				if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday && !holidays[d.Format(time.DateOnly)] {
					missing++
				}
			}
		}
	}
	return missing
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
