package model

import "time"

// JobOutcome distinguishes full success from partial success for operators and
// exit codes. Hard failures are reported as errors instead.
type JobOutcome string

const (
	OutcomeSuccess JobOutcome = "success"
	OutcomePartial JobOutcome = "partial"
)

// BackfillRequest describes a one-time historical population job.
type BackfillRequest struct {
	Job       string   `json:"job"`
	Symbols   []string `json:"symbols"`
	Exchange  string   `json:"exchange"`
	Interval  Interval `json:"interval"`
	Years     int      `json:"years"`
	BatchSize int      `json:"batchSize"`
	Resume    bool     `json:"resume"`
}

// FailedItem records why a work item could not be processed.
type FailedItem struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// BackfillCheckpoint is the persisted progress of a backfill job.
// Remaining and Completed never share a symbol.
type BackfillCheckpoint struct {
	Job            string       `json:"job"`
	RunID          string       `json:"runId"`
	Exchange       string       `json:"exchange"`
	Interval       Interval     `json:"interval"`
	Years          int          `json:"years"`
	Remaining      []string     `json:"remaining"`
	Completed      []string     `json:"completed"`
	CompletedCount int          `json:"completedCount"`
	Failed         []FailedItem `json:"failed"`
	StartedAt      time.Time    `json:"startedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// BackfillSummary reports a backfill run.
type BackfillSummary struct {
	RunID         string        `json:"runId"`
	Job           string        `json:"job"`
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	FailedSymbols []FailedItem  `json:"failedSymbols"`
	Skipped       int           `json:"skipped"`
	Resumed       bool          `json:"resumed"`
	Interrupted   bool          `json:"interrupted"`
	Duration      time.Duration `json:"duration"`
	APICallsUsed  int64         `json:"apiCallsUsed"`
}

// Outcome classifies the run.
func (s BackfillSummary) Outcome() JobOutcome {
	if s.Failed > 0 || s.Interrupted {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// UpdateSummary reports an incremental refresh.
type UpdateSummary struct {
	SymbolsUpdated int           `json:"symbolsUpdated"`
	SymbolsFailed  int           `json:"symbolsFailed"`
	SymbolsSkipped int           `json:"symbolsSkipped"`
	FailedSymbols  []FailedItem  `json:"failedSymbols"`
	APICalls       int64         `json:"apiCalls"`
	Duration       time.Duration `json:"duration"`
}

// Outcome classifies the run.
func (s UpdateSummary) Outcome() JobOutcome {
	if s.SymbolsFailed > 0 {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// CleanupSummary reports a retention cleanup and compaction.
type CleanupSummary struct {
	RowsDeleted    int64         `json:"rowsDeleted"`
	SizeBefore     int64         `json:"sizeBefore"`
	SizeAfter      int64         `json:"sizeAfter"`
	SpaceReclaimed int64         `json:"spaceReclaimed"`
	Duration       time.Duration `json:"duration"`
	Health         *HealthReport `json:"health,omitempty"`
}

// ExpireSummary counts rows removed by TTL expiry.
type ExpireSummary struct {
	Bars          int64 `json:"barsDeleted"`
	Announcements int64 `json:"announcementsDeleted"`
}

// SeriesStats describes one cached series.
type SeriesStats struct {
	SeriesKey
	FirstTimestamp time.Time
	LastTimestamp  time.Time
	LastCachedAt   time.Time
	Rows           int64
}

// StorageStats are raw store metrics.
type StorageStats struct {
	SizeBytes     int64 `json:"sizeBytes"`
	FreeBytes     int64 `json:"freeBytes"`
	BarRows       int64 `json:"barRows"`
	Series        int64 `json:"series"`
	Announcements int64 `json:"announcements"`
	Mappings      int64 `json:"mappings"`
}

// HealthStatus is the overall verdict of a health report.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthWarning  HealthStatus = "WARNING"
	HealthCritical HealthStatus = "CRITICAL"
)

// CoverageMetrics reports how much of the expected universe is present at all.
type CoverageMetrics struct {
	Expected       int      `json:"expected"`
	Present        int      `json:"present"`
	Percent        float64  `json:"percent"`
	MissingSymbols []string `json:"missingSymbols,omitempty"`
}

// FreshnessMetrics reports how many present symbols were refreshed recently.
type FreshnessMetrics struct {
	Threshold    time.Duration `json:"threshold"`
	Fresh        int           `json:"fresh"`
	Stale        int           `json:"stale"`
	Percent      float64       `json:"percent"`
	StaleSymbols []string      `json:"staleSymbols,omitempty"`
}

// SymbolGap is a run of missing bars inside an otherwise covered series.
type SymbolGap struct {
	Symbol      string `json:"symbol"`
	MissingBars int    `json:"missingBars"`
}

// QualityMetrics reports gaps and duplicate rows.
type QualityMetrics struct {
	SymbolsWithGaps int         `json:"symbolsWithGaps"`
	TotalGapBars    int         `json:"totalGapBars"`
	Gaps            []SymbolGap `json:"gaps,omitempty"`
	DuplicateRows   int64       `json:"duplicateRows"`
}

// HealthReport is a read-only aggregate over the range cache.
type HealthReport struct {
	Status          HealthStatus     `json:"status"`
	Exchange        string           `json:"exchange"`
	Interval        Interval         `json:"interval"`
	Coverage        CoverageMetrics  `json:"coverage"`
	Freshness       FreshnessMetrics `json:"freshness"`
	Quality         QualityMetrics   `json:"quality"`
	Storage         StorageStats     `json:"storage"`
	Issues          []string         `json:"issues"`
	Recommendations []string         `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generatedAt"`
}
