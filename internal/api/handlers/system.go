package handlers

import (
	"net/http"

	"github.com/ndewijer/market-data-cache/internal/api/response"
	"github.com/ndewijer/market-data-cache/internal/service"
)

// SystemHandler serves liveness and build metadata for the cache process.
type SystemHandler struct {
	systemService *service.SystemService
}

// NewSystemHandler wires the handler to the system service.
func NewSystemHandler(systemService *service.SystemService) *SystemHandler {
	return &SystemHandler{systemService: systemService}
}

// StoreStatus is the liveness payload. Store is "reachable" when a ping
// against the SQLite cache succeeds.
type StoreStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

// Health pings the cache store. A failed ping yields 503 so orchestrators
// stop routing fetches to this instance.
//
// Endpoint: GET /api/system/health
func (h *SystemHandler) Health(w http.ResponseWriter, _ *http.Request) {
	if err := h.systemService.CheckHealth(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, StoreStatus{
			Status: "unhealthy",
			Store:  "unreachable",
			Error:  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, StoreStatus{Status: "healthy", Store: "reachable"})
}

// Version reports the build version, the applied goose schema version and
// the optional capabilities enabled in this process (calendar source,
// scheduler). migration_needed is set when init-store has not been run
// against the latest schema.
//
// Endpoint: GET /api/system/version
// Response: 200 OK with model.VersionInfo
// Error: 500 when the schema version table cannot be read
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	info, err := h.systemService.CheckVersion(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to read schema version", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}
