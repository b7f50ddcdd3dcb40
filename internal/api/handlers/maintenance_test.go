package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ndewijer/market-data-cache/internal/api/handlers"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/testutil"
)

func newMaintenanceHandler(t *testing.T) (*handlers.MaintenanceHandler, *testutil.Env) {
	t.Helper()
	env := testutil.NewTestEnv(t)
	return handlers.NewMaintenanceHandler(env.MaintenanceService, 1), env
}

// TestMaintenanceHandler_HealthReport tests GET /api/maintenance/health-report.
func TestMaintenanceHandler_HealthReport(t *testing.T) {
	t.Run("empty cache is CRITICAL but the request succeeds", func(t *testing.T) {
		handler, _ := newMaintenanceHandler(t)

		w := httptest.NewRecorder()
		handler.HealthReport(w, httptest.NewRequest(http.MethodGet, "/api/maintenance/health-report", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var report model.HealthReport
		if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if report.Status != model.HealthCritical {
			t.Errorf("Expected CRITICAL, got %s", report.Status)
		}
	})

	t.Run("fresh cache is HEALTHY", func(t *testing.T) {
		handler, env := newMaintenanceHandler(t)
		testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("INFY", testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 8), testutil.Day(2024, 1, 12)))

		w := httptest.NewRecorder()
		handler.HealthReport(w, httptest.NewRequest(http.MethodGet, "/api/maintenance/health-report", nil))

		var report model.HealthReport
		//nolint:errcheck // Test assertion - decode failure would cause test to fail anyway
		json.NewDecoder(w.Body).Decode(&report)
		if report.Status != model.HealthHealthy {
			t.Errorf("Expected HEALTHY, got %s (issues %v)", report.Status, report.Issues)
		}
	})
}

// TestMaintenanceHandler_DailyUpdate tests POST /api/maintenance/daily-update.
func TestMaintenanceHandler_DailyUpdate(t *testing.T) {
	t.Run("runs with an empty body", func(t *testing.T) {
		handler, env := newMaintenanceHandler(t)
		testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("INFY", testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 8), testutil.Day(2024, 1, 12)))

		w := httptest.NewRecorder()
		handler.DailyUpdate(w, httptest.NewRequest(http.MethodPost, "/api/maintenance/daily-update", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var summary model.UpdateSummary
		if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if summary.SymbolsUpdated != 1 {
			t.Errorf("Expected 1 symbol updated, got %+v", summary)
		}
		if env.Bars.Calls() != 1 {
			t.Errorf("Expected 1 upstream call, got %d", env.Bars.Calls())
		}
	})

	t.Run("returns 400 for invalid interval", func(t *testing.T) {
		handler, _ := newMaintenanceHandler(t)

		w := httptest.NewRecorder()
		handler.DailyUpdate(w, httptest.NewRequest(http.MethodPost, "/api/maintenance/daily-update",
			strings.NewReader(`{"interval":"HOURLY"}`)))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("returns 400 for negative lookback", func(t *testing.T) {
		handler, _ := newMaintenanceHandler(t)

		w := httptest.NewRecorder()
		handler.DailyUpdate(w, httptest.NewRequest(http.MethodPost, "/api/maintenance/daily-update",
			strings.NewReader(`{"lookbackDays":-1}`)))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}

// TestMaintenanceHandler_Cleanup tests POST /api/maintenance/cleanup.
func TestMaintenanceHandler_Cleanup(t *testing.T) {
	t.Run("deletes rows past retention", func(t *testing.T) {
		handler, env := newMaintenanceHandler(t)
		testutil.SeedBars(t, env.BarRepo, testutil.GenerateBars("INFY", testutil.TestExchange, model.OneDay,
			testutil.Day(2024, 1, 8), testutil.Day(2024, 1, 12)))

		w := httptest.NewRecorder()
		handler.Cleanup(w, httptest.NewRequest(http.MethodPost, "/api/maintenance/cleanup",
			strings.NewReader(`{"retentionDays":5}`)))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var summary model.CleanupSummary
		if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if summary.RowsDeleted != 3 {
			t.Errorf("Expected 3 rows older than Jan 10 18:00 deleted, got %d", summary.RowsDeleted)
		}
		if summary.Health == nil {
			t.Error("Expected health report attached")
		}
	})

	t.Run("returns 400 for negative retention", func(t *testing.T) {
		handler, _ := newMaintenanceHandler(t)

		w := httptest.NewRecorder()
		handler.Cleanup(w, httptest.NewRequest(http.MethodPost, "/api/maintenance/cleanup",
			strings.NewReader(`{"retentionDays":-5}`)))

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})
}
