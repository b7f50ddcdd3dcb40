package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
)

// CacheOutcome classifies a range lookup.
type CacheOutcome string

const (
	CacheHit     CacheOutcome = "HIT"
	CachePartial CacheOutcome = "PARTIAL"
	CacheMiss    CacheOutcome = "MISS"
)

// CacheQuery asks for one series over a closed time range.
type CacheQuery struct {
	Symbol   string
	Exchange string
	Interval Interval
	From     time.Time
	To       time.Time
}

// Key returns the series addressed by the query.
func (q CacheQuery) Key() SeriesKey {
	return SeriesKey{Symbol: q.Symbol, Exchange: q.Exchange, Interval: q.Interval}
}

// Range returns the requested window.
func (q CacheQuery) Range() TimeRange {
	return TimeRange{From: q.From, To: q.To}
}

// Normalize trims identifiers, upper-cases them and converts bounds to UTC.
// All cache comparisons happen on normalised queries.
func (q CacheQuery) Normalize() CacheQuery {
	return CacheQuery{
		Symbol:   strings.ToUpper(strings.TrimSpace(q.Symbol)),
		Exchange: strings.ToUpper(strings.TrimSpace(q.Exchange)),
		Interval: q.Interval,
		From:     q.From.UTC(),
		To:       q.To.UTC(),
	}
}

// Validate checks the input constraints of a range lookup.
func (q CacheQuery) Validate() error {
	if q.Symbol == "" {
		return apperrors.ErrInvalidSymbol
	}
	if q.Exchange == "" {
		return apperrors.ErrInvalidExchange
	}
	if !q.Interval.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, q.Interval)
	}
	if q.From.After(q.To) {
		return fmt.Errorf("%w: from %s is after to %s", apperrors.ErrInvalidDateRange,
			q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	return nil
}

// CacheResult is the outcome of a range lookup. Bars only ever contains rows
// inside the requested range that are still fresh.
type CacheResult struct {
	Bars         []Bar
	FullyCovered bool
	Missing      []TimeRange
	Outcome      CacheOutcome
}

// FetchSource tells the caller where the returned bars came from.
type FetchSource string

const (
	SourceCache    FetchSource = "cache"
	SourceUpstream FetchSource = "upstream"
	SourceMixed    FetchSource = "mixed"
)

// FetchResult is what the fetch coordinator hands back to consumers.
type FetchResult struct {
	Bars     []Bar       `json:"bars"`
	Source   FetchSource `json:"source"`
	Degraded bool        `json:"degraded"`
	Warning  string      `json:"warning,omitempty"`
}

// BatchItem is the per-symbol outcome of a batch fetch.
type BatchItem struct {
	Result FetchResult
	Err    error
}

// WarmSummary reports a bulk cache population.
type WarmSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Statistics are cumulative fetch counters since the coordinator was created.
type Statistics struct {
	CacheHits         int64           `json:"cacheHits"`
	CacheMisses       int64           `json:"cacheMisses"`
	APICalls          int64           `json:"apiCalls"`
	HitRatePercent    float64         `json:"hitRatePercent"`
	UpstreamFailures  int64           `json:"upstreamFailures"`
	DegradedResponses int64           `json:"degradedResponses"`
	RejectedBars      int64           `json:"rejectedBars"`
	Breaker           BreakerSnapshot `json:"breaker"`
}

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerSnapshot is a point-in-time copy of a circuit breaker.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            *time.Time   `json:"openedAt,omitempty"`
	Trips               int64        `json:"trips"`
}
