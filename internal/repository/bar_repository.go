package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// BarRepository provides data access methods for the bar_cache and
// bar_coverage tables. Reads run concurrently; writes go through the
// store-wide writer lock.
type BarRepository struct {
	db        *database.DB
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewBarRepository creates a BarRepository. ttl bounds per-query freshness,
// retention bounds how far back Expire keeps history.
func NewBarRepository(db *database.DB, ttl, retention time.Duration, logger *zap.Logger) *BarRepository {
	return &BarRepository{
		db:        db,
		ttl:       ttl,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock returns a copy of the repository that reads the current time
// from now.
func (r *BarRepository) WithClock(now func() time.Time) *BarRepository {
	clone := *r
	clone.now = now
	return &clone
}

// TTL returns the freshness window applied to reads.
func (r *BarRepository) TTL() time.Duration {
	return r.ttl
}

type barRow struct {
	Symbol    string `db:"symbol"`
	Exchange  string `db:"exchange"`
	Interval  string `db:"interval"`
	Timestamp string `db:"timestamp"`
	Open      string `db:"open"`
	High      string `db:"high"`
	Low       string `db:"low"`
	Close     string `db:"close"`
	Volume    int64  `db:"volume"`
	CachedAt  string `db:"cached_at"`
}

func (row barRow) toModel() (model.Bar, error) {
	ts, err := parseStored(row.Timestamp)
	if err != nil {
		return model.Bar{}, err
	}
	cachedAt, err := parseStored(row.CachedAt)
	if err != nil {
		return model.Bar{}, err
	}
	bar := model.Bar{
		Symbol:    row.Symbol,
		Exchange:  row.Exchange,
		Interval:  model.Interval(row.Interval),
		Timestamp: ts,
		Volume:    row.Volume,
		CachedAt:  cachedAt,
	}
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{{&bar.Open, row.Open}, {&bar.High, row.High}, {&bar.Low, row.Low}, {&bar.Close, row.Close}} {
		if *p.dst, err = decimal.NewFromString(p.src); err != nil {
			return model.Bar{}, fmt.Errorf("failed to parse price %q: %w", p.src, err)
		}
	}
	return bar, nil
}

type coverageRow struct {
	RangeStart string `db:"range_start"`
	RangeEnd   string `db:"range_end"`
}

// Get returns the fresh bars of the series inside [From, To] and reports which
// parts of the window are not covered by fresh data. The window is covered by
// the span between the first and last fresh bar of the series and by any
// fresh upstream fetch window, so ranges whose edges fall on non-trading days
// still count as covered.
func (r *BarRepository) Get(ctx context.Context, q model.CacheQuery) (model.CacheResult, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return model.CacheResult{}, err
	}

	cutoff := formatCachedAt(r.now().Add(-r.ttl))
	from, to := formatTimestamp(q.From), formatTimestamp(q.To)

	bars, err := r.selectBars(ctx, q, cutoff)
	if err != nil {
		return model.CacheResult{}, err
	}

	var windows []coverageRow
	err = r.db.SelectContext(ctx, &windows, `
		SELECT range_start, range_end
		FROM bar_coverage
		WHERE symbol = ? AND exchange = ? AND interval = ?
		  AND covered_at >= ?
		  AND range_start <= ? AND range_end >= ?`,
		q.Symbol, q.Exchange, q.Interval, cutoff, to, from)
	if err != nil {
		return model.CacheResult{}, fmt.Errorf("failed to query bar_coverage: %w", err)
	}

	var span struct {
		First sql.NullString `db:"first_ts"`
		Last  sql.NullString `db:"last_ts"`
	}
	err = r.db.GetContext(ctx, &span, `
		SELECT MIN(timestamp) AS first_ts, MAX(timestamp) AS last_ts
		FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND interval = ? AND cached_at >= ?`,
		q.Symbol, q.Exchange, q.Interval, cutoff)
	if err != nil {
		return model.CacheResult{}, fmt.Errorf("failed to query cached span: %w", err)
	}

	covered := make([]model.TimeRange, 0, len(windows)+1)
	if span.First.Valid && span.Last.Valid {
		first, err := parseStored(span.First.String)
		if err != nil {
			return model.CacheResult{}, err
		}
		last, err := parseStored(span.Last.String)
		if err != nil {
			return model.CacheResult{}, err
		}
		covered = append(covered, model.TimeRange{From: first, To: last})
	}
	for _, w := range windows {
		start, err := parseStored(w.RangeStart)
		if err != nil {
			return model.CacheResult{}, err
		}
		end, err := parseStored(w.RangeEnd)
		if err != nil {
			return model.CacheResult{}, err
		}
		covered = append(covered, model.TimeRange{From: start, To: end})
	}

	missing := uncovered(q.Range(), covered, q.Interval.Step())

	result := model.CacheResult{
		Bars:         bars,
		FullyCovered: len(missing) == 0,
		Missing:      missing,
	}
	switch {
	case result.FullyCovered:
		result.Outcome = model.CacheHit
	case len(missing) == 1 && missing[0] == q.Range():
		result.Outcome = model.CacheMiss
	default:
		result.Outcome = model.CachePartial
	}
	return result, nil
}

// GetStale returns every stored bar of the series inside [From, To]
// regardless of age, for serving when the upstream is down. stale spans the
// bars older than the TTL and is zero when all of them are fresh.
func (r *BarRepository) GetStale(ctx context.Context, q model.CacheQuery) (bars []model.Bar, stale model.TimeRange, err error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, model.TimeRange{}, err
	}

	bars, err = r.selectBars(ctx, q, "")
	if err != nil {
		return nil, model.TimeRange{}, err
	}

	cutoff := r.now().Add(-r.ttl)
	for _, b := range bars {
		if !b.CachedAt.Before(cutoff) {
			continue
		}
		if stale.From.IsZero() {
			stale.From = b.Timestamp
		}
		stale.To = b.Timestamp
	}
	return bars, stale, nil
}

// selectBars reads the bars of q's window ordered by timestamp. An empty
// cutoff disables the freshness filter.
func (r *BarRepository) selectBars(ctx context.Context, q model.CacheQuery, cutoff string) ([]model.Bar, error) {
	var rows []barRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, exchange, interval, timestamp, open, high, low, close, volume, cached_at
		FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND interval = ?
		  AND timestamp >= ? AND timestamp <= ?
		  AND cached_at >= ?
		ORDER BY timestamp`,
		q.Symbol, q.Exchange, q.Interval, formatTimestamp(q.From), formatTimestamp(q.To), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query bar_cache: %w", err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		bar, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("failed to decode bar %s@%s: %w", q.Symbol, row.Timestamp, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// uncovered returns the parts of want not covered by any of the ranges. Gaps
// shorter than one step cannot hold a bar and are ignored.
func uncovered(want model.TimeRange, covered []model.TimeRange, step time.Duration) []model.TimeRange {
	sort.Slice(covered, func(i, j int) bool { return covered[i].From.Before(covered[j].From) })

	var missing []model.TimeRange
	cursor := want.From
	for _, iv := range covered {
		if cursor.After(want.To) {
			break
		}
		if iv.From.After(cursor) {
			gapEnd := iv.From.Add(-step)
			if gapEnd.After(want.To) {
				gapEnd = want.To
			}
			if !gapEnd.Before(cursor) {
				missing = append(missing, model.TimeRange{From: cursor, To: gapEnd})
			}
		}
		if next := iv.To.Add(step); next.After(cursor) {
			cursor = next
		}
	}
	if !cursor.After(want.To) {
		missing = append(missing, model.TimeRange{From: cursor, To: want.To})
	}
	return missing
}

// Put validates and upserts bars for one series in a single transaction. If
// any row fails validation the whole batch is refused.
func (r *BarRepository) Put(ctx context.Context, symbol, exchange string, interval model.Interval, bars []model.Bar) error {
	key := normalizeKey(model.SeriesKey{Symbol: symbol, Exchange: exchange, Interval: interval})
	rows, err := r.prepare(key, bars)
	if err != nil {
		return err
	}
	return r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		return upsertBars(ctx, tx, rows)
	})
}

// PutRange stores bars fetched from upstream for window and records the
// window as covered, atomically. While an exclusive operation such as VACUUM
// runs it writes nothing and returns database.ErrStoreBusy.
func (r *BarRepository) PutRange(ctx context.Context, key model.SeriesKey, window model.TimeRange, bars []model.Bar) error {
	key = normalizeKey(key)
	window = window.UTC()
	if !window.Valid() {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidDateRange, window)
	}
	rows, err := r.prepare(key, bars)
	if err != nil {
		return err
	}
	now := formatCachedAt(r.now())
	return r.db.TryWriteTx(ctx, func(tx *sqlx.Tx) error {
		if err := upsertBars(ctx, tx, rows); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bar_coverage (symbol, exchange, interval, range_start, range_end, covered_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, exchange, interval, range_start, range_end)
			DO UPDATE SET covered_at = excluded.covered_at`,
			key.Symbol, key.Exchange, key.Interval,
			formatTimestamp(window.From), formatTimestamp(window.To), now)
		if err != nil {
			return fmt.Errorf("failed to record coverage for %s: %w", key, err)
		}
		return nil
	})
}

func (r *BarRepository) prepare(key model.SeriesKey, bars []model.Bar) ([]barRow, error) {
	if key.Symbol == "" {
		return nil, apperrors.ErrInvalidSymbol
	}
	if key.Exchange == "" {
		return nil, apperrors.ErrInvalidExchange
	}
	if !key.Interval.Valid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, key.Interval)
	}

	cachedAt := formatCachedAt(r.now())
	rows := make([]barRow, 0, len(bars))
	for _, bar := range bars {
		bar.Symbol, bar.Exchange, bar.Interval = key.Symbol, key.Exchange, key.Interval
		bar.Timestamp = bar.Timestamp.UTC()
		if err := validation.ValidateBar(bar); err != nil {
			r.logger.Warn("refusing invalid bar batch",
				zap.String("series", key.String()),
				zap.Int("rows", len(bars)),
				zap.Error(err))
			return nil, err
		}
		rows = append(rows, barRow{
			Symbol:    key.Symbol,
			Exchange:  key.Exchange,
			Interval:  string(key.Interval),
			Timestamp: formatTimestamp(bar.Timestamp),
			Open:      bar.Open.String(),
			High:      bar.High.String(),
			Low:       bar.Low.String(),
			Close:     bar.Close.String(),
			Volume:    bar.Volume,
			CachedAt:  cachedAt,
		})
	}
	return rows, nil
}

func upsertBars(ctx context.Context, tx *sqlx.Tx, rows []barRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO bar_cache (symbol, exchange, interval, timestamp, open, high, low, close, volume, cached_at)
		VALUES (:symbol, :exchange, :interval, :timestamp, :open, :high, :low, :close, :volume, :cached_at)
		ON CONFLICT (symbol, exchange, interval, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			cached_at = excluded.cached_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("failed to upsert bar %s|%s|%s@%s: %w",
				row.Symbol, row.Exchange, row.Interval, row.Timestamp, err)
		}
	}
	return nil
}

// Expire deletes rows whose cached_at is older than the TTL or whose
// timestamp is older than the retention horizon, and prunes stale coverage
// windows. It returns the number of bars deleted.
func (r *BarRepository) Expire(ctx context.Context) (int64, error) {
	now := r.now()
	staleCutoff := formatCachedAt(now.Add(-r.ttl))
	retentionCutoff := formatTimestamp(now.Add(-r.retention))

	var deleted int64
	err := r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM bar_cache WHERE cached_at < ? OR timestamp < ?`,
			staleCutoff, retentionCutoff)
		if err != nil {
			return fmt.Errorf("failed to expire bars: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count expired bars: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM bar_coverage WHERE covered_at < ? OR range_end < ?`,
			staleCutoff, retentionCutoff); err != nil {
			return fmt.Errorf("failed to expire coverage: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteOlderThan removes bars with a timestamp before cutoff and trims
// coverage windows that end before it.
func (r *BarRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	bound := formatTimestamp(cutoff)

	var deleted int64
	err := r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM bar_cache WHERE timestamp < ?`, bound)
		if err != nil {
			return fmt.Errorf("failed to delete old bars: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count deleted bars: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bar_coverage WHERE range_end < ?`, bound); err != nil {
			return fmt.Errorf("failed to delete old coverage: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ListSymbols returns the distinct symbols cached for exchange and interval.
func (r *BarRepository) ListSymbols(ctx context.Context, exchange string, interval model.Interval) ([]string, error) {
	symbols := []string{}
	err := r.db.SelectContext(ctx, &symbols, `
		SELECT DISTINCT symbol FROM bar_cache
		WHERE exchange = ? AND interval = ?
		ORDER BY symbol`,
		strings.ToUpper(exchange), interval)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached symbols: %w", err)
	}
	return symbols, nil
}

type seriesStatsRow struct {
	Symbol         string `db:"symbol"`
	Exchange       string `db:"exchange"`
	Interval       string `db:"interval"`
	FirstTimestamp string `db:"first_ts"`
	LastTimestamp  string `db:"last_ts"`
	LastCachedAt   string `db:"last_cached_at"`
	Rows           int64  `db:"row_count"`
}

// SeriesStats returns per-series bounds and row counts for exchange and
// interval, ordered by symbol.
func (r *BarRepository) SeriesStats(ctx context.Context, exchange string, interval model.Interval) ([]model.SeriesStats, error) {
	var rows []seriesStatsRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT symbol, exchange, interval,
		       MIN(timestamp) AS first_ts,
		       MAX(timestamp) AS last_ts,
		       MAX(cached_at) AS last_cached_at,
		       COUNT(*) AS row_count
		FROM bar_cache
		WHERE exchange = ? AND interval = ?
		GROUP BY symbol, exchange, interval
		ORDER BY symbol`,
		strings.ToUpper(exchange), interval)
	if err != nil {
		return nil, fmt.Errorf("failed to query series stats: %w", err)
	}

	stats := make([]model.SeriesStats, 0, len(rows))
	for _, row := range rows {
		s := model.SeriesStats{
			SeriesKey: model.SeriesKey{Symbol: row.Symbol, Exchange: row.Exchange, Interval: model.Interval(row.Interval)},
			Rows:      row.Rows,
		}
		var err error
		if s.FirstTimestamp, err = parseStored(row.FirstTimestamp); err != nil {
			return nil, err
		}
		if s.LastTimestamp, err = parseStored(row.LastTimestamp); err != nil {
			return nil, err
		}
		if s.LastCachedAt, err = parseStored(row.LastCachedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// Timestamps returns every stored timestamp of a series in ascending order,
// regardless of freshness.
func (r *BarRepository) Timestamps(ctx context.Context, key model.SeriesKey) ([]time.Time, error) {
	key = normalizeKey(key)
	var raw []string
	err := r.db.SelectContext(ctx, &raw, `
		SELECT timestamp FROM bar_cache
		WHERE symbol = ? AND exchange = ? AND interval = ?
		ORDER BY timestamp`,
		key.Symbol, key.Exchange, key.Interval)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps for %s: %w", key, err)
	}
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		t, err := parseStored(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CountDuplicateDays counts surplus rows of daily or weekly series that share
// a calendar date, which happens when one provider day is stored under two
// timestamps. Intraday series hold many bars per date and always report zero.
func (r *BarRepository) CountDuplicateDays(ctx context.Context, exchange string, interval model.Interval) (int64, error) {
	if interval.Intraday() {
		return 0, nil
	}

	var count int64
	err := r.db.GetContext(ctx, &count, `
		SELECT COALESCE(SUM(n - 1), 0) FROM (
			SELECT COUNT(*) AS n
			FROM bar_cache
			WHERE exchange = ? AND interval = ?
			GROUP BY symbol, substr(timestamp, 1, 10)
			HAVING COUNT(*) > 1
		)`,
		strings.ToUpper(exchange), interval)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicate days: %w", err)
	}
	return count, nil
}

// StorageStats reads page-level size information and table row counts.
func (r *BarRepository) StorageStats(ctx context.Context) (model.StorageStats, error) {
	var pageCount, pageSize, freePages int64
	if err := r.db.GetContext(ctx, &pageCount, `PRAGMA page_count`); err != nil {
		return model.StorageStats{}, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := r.db.GetContext(ctx, &pageSize, `PRAGMA page_size`); err != nil {
		return model.StorageStats{}, fmt.Errorf("failed to read page_size: %w", err)
	}
	if err := r.db.GetContext(ctx, &freePages, `PRAGMA freelist_count`); err != nil {
		return model.StorageStats{}, fmt.Errorf("failed to read freelist_count: %w", err)
	}

	stats := model.StorageStats{
		SizeBytes: pageCount * pageSize,
		FreeBytes: freePages * pageSize,
	}
	err := r.db.GetContext(ctx, &stats.BarRows, `SELECT COUNT(*) FROM bar_cache`)
	if err == nil {
		err = r.db.GetContext(ctx, &stats.Series,
			`SELECT COUNT(*) FROM (SELECT DISTINCT symbol, exchange, interval FROM bar_cache)`)
	}
	if err == nil {
		err = r.db.GetContext(ctx, &stats.Announcements, `SELECT COUNT(*) FROM earnings_announcement`)
	}
	if err == nil {
		err = r.db.GetContext(ctx, &stats.Mappings, `SELECT COUNT(*) FROM symbol_mapping`)
	}
	if err != nil {
		return model.StorageStats{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return stats, nil
}

// Vacuum rebuilds the database file to release free pages.
func (r *BarRepository) Vacuum(ctx context.Context) error {
	if _, err := r.db.ExecExclusive(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

func normalizeKey(k model.SeriesKey) model.SeriesKey {
	return model.SeriesKey{
		Symbol:   strings.ToUpper(strings.TrimSpace(k.Symbol)),
		Exchange: strings.ToUpper(strings.TrimSpace(k.Exchange)),
		Interval: k.Interval,
	}
}
