package handlers

import (
	"net/http"
	"strconv"

	"github.com/ndewijer/market-data-cache/internal/api/request"
	"github.com/ndewijer/market-data-cache/internal/api/response"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// EarningsHandler handles earnings calendar and symbol mapping HTTP requests
type EarningsHandler struct {
	earningsService *service.EarningsService
	lookforwardDays int
}

// NewEarningsHandler creates a new EarningsHandler
func NewEarningsHandler(earningsService *service.EarningsService, lookforwardDays int) *EarningsHandler {
	return &EarningsHandler{
		earningsService: earningsService,
		lookforwardDays: lookforwardDays,
	}
}

// UpcomingResponse is the body of GET /api/earnings/upcoming.
type UpcomingResponse struct {
	From          string                       `json:"from"`
	To            string                       `json:"to"`
	Count         int                          `json:"count"`
	Announcements []model.EarningsAnnouncement `json:"announcements"`
}

// Upcoming handles GET requests for earnings announcements in the window.
//
// Endpoint: GET /api/earnings/upcoming
// Query Parameters: days (default from config), force
// Response: 200 OK with UpcomingResponse
// Error: 400 Bad Request on invalid parameters
// Error: 502/503 if the calendar fails and nothing is stored for the window
func (h *EarningsHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	days, err := request.ParseDays(r.URL.Query().Get("days"), h.lookforwardDays)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid days", err.Error())
		return
	}
	force := false
	if p := r.URL.Query().Get("force"); p != "" {
		if force, err = strconv.ParseBool(p); err != nil {
			response.RespondError(w, http.StatusBadRequest, "invalid force", "must be true or false")
			return
		}
	}

	anns, err := h.earningsService.GetUpcomingEarnings(r.Context(), days, force)
	if err != nil {
		respondServiceError(w, "failed to get upcoming earnings", err)
		return
	}
	if anns == nil {
		anns = []model.EarningsAnnouncement{}
	}

	window := h.earningsService.Window(days)
	respondJSON(w, http.StatusOK, UpcomingResponse{
		From:          window.From.Format("2006-01-02"),
		To:            window.To.Format("2006-01-02"),
		Count:         len(anns),
		Announcements: anns,
	})
}

// FilterUniverse handles POST requests narrowing a symbol universe to the
// symbols with an earnings announcement in the window. An empty result is
// a valid answer, not an error.
//
// Endpoint: POST /api/universe/filter
// Request Body: FilterUniverseRequest (universe and optionally lookforwardDays, forceRefresh)
// Response: 200 OK with model.FilterResult
// Error: 400 Bad Request if validation fails
func (h *EarningsHandler) FilterUniverse(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.FilterUniverseRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondServiceError(w, "validation failed", err)
		return
	}

	days := h.lookforwardDays
	if req.LookforwardDays != nil {
		days = *req.LookforwardDays
	}

	res, err := h.earningsService.FilterUniverseByEarnings(r.Context(), req.Universe, days, req.ForceRefresh)
	if err != nil {
		respondServiceError(w, "failed to filter universe", err)
		return
	}
	if res.FilteredUniverse == nil {
		res.FilteredUniverse = []string{}
	}

	respondJSON(w, http.StatusOK, res)
}

// Mappings handles GET requests listing symbol mappings.
//
// Endpoint: GET /api/mappings
// Query Parameters: prefix (canonical symbol prefix, optional)
// Response: 200 OK with []model.SymbolMapping
func (h *EarningsHandler) Mappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.earningsService.ListMappings(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		respondServiceError(w, "failed to list mappings", err)
		return
	}
	if mappings == nil {
		mappings = []model.SymbolMapping{}
	}
	respondJSON(w, http.StatusOK, mappings)
}

// CreateMapping handles POST requests that create or update one mapping.
//
// Endpoint: POST /api/mappings
// Request Body: CreateMappingRequest (sourceCode, canonicalSymbol and optionally companyName)
// Response: 201 Created when the mapping changed, 200 OK when it already existed
// Error: 400 Bad Request if validation fails
func (h *EarningsHandler) CreateMapping(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.CreateMappingRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondServiceError(w, "validation failed", err)
		return
	}

	changed, err := h.earningsService.AddMapping(r.Context(), req.SourceCode, req.CanonicalSymbol, req.CompanyName)
	if err != nil {
		respondServiceError(w, "failed to save mapping", err)
		return
	}

	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]any{"changed": changed})
}
