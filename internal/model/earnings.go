package model

import "time"

// EarningsAnnouncement is one corporate earnings event as published by an
// exchange. Unique per (SourceCode, AnnouncementDate, Subject).
type EarningsAnnouncement struct {
	SourceCode       string    `json:"sourceCode" db:"source_code"`
	CompanyName      string    `json:"companyName" db:"company_name"`
	AnnouncementDate time.Time `json:"announcementDate" db:"-"`
	AnnouncementType string    `json:"announcementType" db:"announcement_type"`
	Subject          string    `json:"subject" db:"subject"`
	FetchedAt        time.Time `json:"fetchedAt" db:"-"`
}

// SymbolMapping resolves an exchange-specific company code to the canonical
// trading symbol.
type SymbolMapping struct {
	SourceCode      string    `json:"sourceCode" db:"source_code" validate:"required,max=32"`
	CanonicalSymbol string    `json:"canonicalSymbol" db:"canonical_symbol" validate:"required,max=32"`
	CompanyName     string    `json:"companyName" db:"company_name" validate:"max=256"`
	LastUpdated     time.Time `json:"lastUpdated" db:"-"`
}

// FilterResult is the outcome of narrowing a universe to symbols with an
// upcoming earnings announcement. An empty FilteredUniverse is reported as is;
// callers decide whether that means "trade nothing" or "fall back".
type FilterResult struct {
	FilteredUniverse   []string `json:"filteredUniverse"`
	OriginalSize       int      `json:"originalSize"`
	FilteredSize       int      `json:"filteredSize"`
	ReductionPct       float64  `json:"reductionPct"`
	AnnouncementsFound int      `json:"announcementsFound"`
	SymbolsMapped      int      `json:"symbolsMapped"`
	UnmappedCodes      []string `json:"unmappedCodes"`
}
