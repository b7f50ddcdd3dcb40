// Package request holds HTTP request bodies and query-string parsing for the
// API handlers.
package request

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
)

// DefaultLookbackDays is the window used when a bar query omits "from".
const DefaultLookbackDays = 30

// ParseBarQuery builds a cache query from path and query-string values.
//
// Validation rules:
//   - interval: interval enum name, case-insensitive (defaults to defaultInterval)
//   - from/to: YYYY-MM-DD or RFC3339; to defaults to now, from to 30 days before to
//   - force: boolean (defaults to false)
//
// Symbol and exchange are upper-cased; their presence is checked by the
// series middleware.
func ParseBarQuery(
	exchange, symbol, intervalParam, fromParam, toParam, forceParam string,
	defaultInterval model.Interval, now time.Time,
) (model.CacheQuery, bool, error) {
	interval, window, err := ParseWindow(intervalParam, fromParam, toParam, defaultInterval, now)
	if err != nil {
		return model.CacheQuery{}, false, err
	}
	q := model.CacheQuery{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: strings.ToUpper(strings.TrimSpace(exchange)),
		Interval: interval,
		From:     window.From,
		To:       window.To,
	}

	force := false
	if forceParam != "" {
		if force, err = strconv.ParseBool(forceParam); err != nil {
			return model.CacheQuery{}, false, fmt.Errorf("invalid force: must be true or false")
		}
	}

	if err := q.Validate(); err != nil {
		return model.CacheQuery{}, false, err
	}
	return q, force, nil
}

// ParseWindow parses the interval and time window shared by single-series
// and batch requests. to defaults to now and from to DefaultLookbackDays
// before to.
func ParseWindow(intervalParam, fromParam, toParam string, defaultInterval model.Interval, now time.Time) (model.Interval, model.TimeRange, error) {
	interval := defaultInterval
	if intervalParam != "" {
		iv, err := model.ParseInterval(intervalParam)
		if err != nil {
			return "", model.TimeRange{}, err
		}
		interval = iv
	}

	window := model.TimeRange{To: now.UTC()}
	if toParam != "" {
		to, err := ParseTime(toParam)
		if err != nil {
			return "", model.TimeRange{}, fmt.Errorf("%w: invalid to: %w", apperrors.ErrInvalidDateRange, err)
		}
		window.To = to
	}
	if fromParam != "" {
		from, err := ParseTime(fromParam)
		if err != nil {
			return "", model.TimeRange{}, fmt.Errorf("%w: invalid from: %w", apperrors.ErrInvalidDateRange, err)
		}
		window.From = from
	} else {
		window.From = window.To.AddDate(0, 0, -DefaultLookbackDays)
	}

	if window.From.After(window.To) {
		return "", model.TimeRange{}, fmt.Errorf("%w: from is after to", apperrors.ErrInvalidDateRange)
	}
	return interval, window, nil
}

// ParseDays parses a non-negative day count, returning def when empty.
func ParseDays(param string, def int) (int, error) {
	if param == "" {
		return def, nil
	}
	days, err := strconv.Atoi(param)
	if err != nil || days < 0 {
		return 0, fmt.Errorf("%w: days must be a non-negative number", apperrors.ErrInvalidDateRange)
	}
	return days, nil
}

// ParseTime parses date strings for query parameters and request bodies.
// Accepts YYYY-MM-DD, RFC3339, and RFC3339 with milliseconds formats. The
// result is always UTC.
func ParseTime(str string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or datetime", str)
}
