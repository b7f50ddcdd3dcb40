package handlers

import (
	"net/http"

	"github.com/ndewijer/market-data-cache/internal/api/request"
	"github.com/ndewijer/market-data-cache/internal/api/response"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// MaintenanceHandler handles cache maintenance HTTP requests
type MaintenanceHandler struct {
	maintenanceService *service.MaintenanceService
	lookbackDays       int
}

// NewMaintenanceHandler creates a new MaintenanceHandler. lookbackDays is
// the daily update default when the request omits it.
func NewMaintenanceHandler(maintenanceService *service.MaintenanceService, lookbackDays int) *MaintenanceHandler {
	return &MaintenanceHandler{
		maintenanceService: maintenanceService,
		lookbackDays:       lookbackDays,
	}
}

// HealthReport handles GET requests for the cache health report. The
// overall status is in the body; the request itself succeeds even when the
// cache is CRITICAL.
//
// Endpoint: GET /api/maintenance/health-report
// Response: 200 OK with model.HealthReport
// Error: 500 Internal Server Error if the store cannot be read
func (h *MaintenanceHandler) HealthReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.maintenanceService.GenerateHealthReport(r.Context())
	if err != nil {
		respondServiceError(w, "failed to generate health report", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// DailyUpdate handles POST requests that run the incremental update inline.
//
// Endpoint: POST /api/maintenance/daily-update
// Request Body: DailyUpdateRequest (optional; exchange, interval, lookbackDays)
// Response: 200 OK with model.UpdateSummary
// Error: 400 Bad Request if validation fails
// Error: 409 Conflict if another maintenance job is running
func (h *MaintenanceHandler) DailyUpdate(w http.ResponseWriter, r *http.Request) {
	req, err := parseOptionalJSON[request.DailyUpdateRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondServiceError(w, "validation failed", err)
		return
	}

	var interval model.Interval
	if req.Interval != "" {
		if interval, err = model.ParseInterval(req.Interval); err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid interval", err.Error())
			return
		}
	}
	lookback := h.lookbackDays
	if req.LookbackDays != nil {
		lookback = *req.LookbackDays
	}

	summary, err := h.maintenanceService.RunDailyUpdate(r.Context(), req.Exchange, interval, lookback)
	if err != nil {
		respondServiceError(w, "daily update failed", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Cleanup handles POST requests that run retention cleanup inline.
//
// Endpoint: POST /api/maintenance/cleanup
// Request Body: CleanupRequest (optional; retentionDays, 0 means configured default)
// Response: 200 OK with model.CleanupSummary including a health report
// Error: 409 Conflict if another maintenance job is running
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	req, err := parseOptionalJSON[request.CleanupRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondServiceError(w, "validation failed", err)
		return
	}

	summary, err := h.maintenanceService.RunWeeklyCleanup(r.Context(), req.RetentionDays)
	if err != nil {
		respondServiceError(w, "cleanup failed", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
