// Package upstream declares the external data providers the cache consumes.
// Implementations classify failures with the apperrors upstream sentinels so
// the resilience executor can decide what to retry.
package upstream

import (
	"context"
	"time"

	"github.com/ndewijer/market-data-cache/internal/model"
)

// BarRequest asks a provider for one series over [From, To].
type BarRequest struct {
	Symbol   string
	Exchange string
	Interval model.Interval
	From     time.Time
	To       time.Time
}

// BarSource fetches OHLCV bars. Implementations must honour ctx deadlines and
// return timestamps in UTC.
type BarSource interface {
	FetchBars(ctx context.Context, req BarRequest) ([]model.Bar, error)
}

// RawAnnouncement is an announcement as published, before the ingestion
// policy decides whether it is earnings-relevant.
type RawAnnouncement struct {
	SourceCode  string    `json:"sourceCode"`
	CompanyName string    `json:"companyName"`
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Subject     string    `json:"subject"`
}

// CalendarSource fetches corporate announcements dated within [from, to].
type CalendarSource interface {
	FetchAnnouncements(ctx context.Context, from, to time.Time) ([]RawAnnouncement, error)
}
