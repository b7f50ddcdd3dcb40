package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
)

// Interval is the sampling period of a bar series.
type Interval string

// Supported intervals.
const (
	OneMinute     Interval = "ONE_MINUTE"
	FiveMinute    Interval = "FIVE_MINUTE"
	FifteenMinute Interval = "FIFTEEN_MINUTE"
	ThirtyMinute  Interval = "THIRTY_MINUTE"
	OneHour       Interval = "ONE_HOUR"
	OneDay        Interval = "ONE_DAY"
	OneWeek       Interval = "ONE_WEEK"
)

var intervalSteps = map[Interval]time.Duration{
	OneMinute:     time.Minute,
	FiveMinute:    5 * time.Minute,
	FifteenMinute: 15 * time.Minute,
	ThirtyMinute:  30 * time.Minute,
	OneHour:       time.Hour,
	OneDay:        24 * time.Hour,
	OneWeek:       7 * 24 * time.Hour,
}

// Intervals returns every supported interval, shortest first.
func Intervals() []Interval {
	return []Interval{OneMinute, FiveMinute, FifteenMinute, ThirtyMinute, OneHour, OneDay, OneWeek}
}

// ParseInterval accepts the enum name case-insensitively.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToUpper(strings.TrimSpace(s)))
	if !iv.Valid() {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, s)
	}
	return iv, nil
}

// Valid reports whether i is a supported interval.
func (i Interval) Valid() bool {
	_, ok := intervalSteps[i]
	return ok
}

// Step is the nominal distance between two consecutive bars.
func (i Interval) Step() time.Duration {
	return intervalSteps[i]
}

// Intraday reports whether the interval is shorter than a day.
func (i Interval) Intraday() bool {
	return i.Step() < 24*time.Hour
}

// Bar is one OHLCV observation. Timestamps are always UTC.
type Bar struct {
	Symbol    string          `json:"symbol" validate:"required,max=32"`
	Exchange  string          `json:"exchange" validate:"required,max=16"`
	Interval  Interval        `json:"interval" validate:"required"`
	Timestamp time.Time       `json:"timestamp" validate:"required"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume" validate:"gte=0"`
	CachedAt  time.Time       `json:"cachedAt"`
}

// SeriesKey identifies one cached bar series.
type SeriesKey struct {
	Symbol   string   `json:"symbol"`
	Exchange string   `json:"exchange"`
	Interval Interval `json:"interval"`
}

func (k SeriesKey) String() string {
	return k.Symbol + "|" + k.Exchange + "|" + string(k.Interval)
}

// Key returns the series the bar belongs to.
func (b Bar) Key() SeriesKey {
	return SeriesKey{Symbol: b.Symbol, Exchange: b.Exchange, Interval: b.Interval}
}

// TimeRange is a closed interval [From, To].
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// UTC returns the range with both bounds normalised to UTC.
func (r TimeRange) UTC() TimeRange {
	return TimeRange{From: r.From.UTC(), To: r.To.UTC()}
}

// Valid reports whether From <= To.
func (r TimeRange) Valid() bool {
	return !r.From.After(r.To)
}

// Contains reports whether t lies inside the closed range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Overlaps reports whether the two closed ranges share at least one instant.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return !r.From.After(o.To) && !o.From.After(r.To)
}

func (r TimeRange) String() string {
	return r.From.Format(time.RFC3339) + ".." + r.To.Format(time.RFC3339)
}
