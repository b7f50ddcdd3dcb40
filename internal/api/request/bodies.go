package request

// BatchFetchRequest is the body of POST /api/bars/batch.
type BatchFetchRequest struct {
	Symbols  []string `json:"symbols" validate:"required,min=1,max=500,dive,required,max=32"`
	Exchange string   `json:"exchange" validate:"omitempty,max=16"`
	Interval string   `json:"interval"`
	From     string   `json:"from" validate:"required"`
	To       string   `json:"to" validate:"required"`
}

// FilterUniverseRequest is the body of POST /api/universe/filter.
type FilterUniverseRequest struct {
	Universe        []string `json:"universe" validate:"required,dive,required,max=32"`
	LookforwardDays *int     `json:"lookforwardDays,omitempty" validate:"omitempty,gte=0,lte=90"`
	ForceRefresh    bool     `json:"forceRefresh"`
}

// CreateMappingRequest is the body of POST /api/mappings.
type CreateMappingRequest struct {
	SourceCode      string `json:"sourceCode" validate:"required,max=32"`
	CanonicalSymbol string `json:"canonicalSymbol" validate:"required,max=32"`
	CompanyName     string `json:"companyName" validate:"max=256"`
}

// DailyUpdateRequest is the optional body of POST /api/maintenance/daily-update.
type DailyUpdateRequest struct {
	Exchange     string `json:"exchange" validate:"omitempty,max=16"`
	Interval     string `json:"interval"`
	LookbackDays *int   `json:"lookbackDays,omitempty" validate:"omitempty,gte=0"`
}

// CleanupRequest is the optional body of POST /api/maintenance/cleanup.
type CleanupRequest struct {
	RetentionDays int `json:"retentionDays" validate:"gte=0"`
}
