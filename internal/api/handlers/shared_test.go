package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// TestRespondJSON tests the respondJSON helper function.
// This is an internal test (package handlers, not handlers_test) because
// respondJSON is unexported.
func TestRespondJSON(t *testing.T) {
	t.Run("sets content-type and status code correctly", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "success"}

		respondJSON(w, 200, data)

		if w.Code != 200 {
			t.Errorf("Expected status 200, got %d", w.Code)
		}

		if w.Header().Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type 'application/json', got '%s'", w.Header().Get("Content-Type"))
		}
	})

	t.Run("handles nil data without error", func(t *testing.T) {
		w := httptest.NewRecorder()

		respondJSON(w, 204, nil)

		if w.Code != 204 {
			t.Errorf("Expected status 204, got %d", w.Code)
		}
	})

	t.Run("handles un-encodable data gracefully", func(t *testing.T) {
		w := httptest.NewRecorder()

		// Channels cannot be JSON encoded
		data := map[string]interface{}{
			"channel": make(chan int),
		}

		// Should not panic, just log the error
		respondJSON(w, 200, data)

		// Status should still be set even if encoding fails
		if w.Code != 200 {
			t.Errorf("Expected status 200, got %d", w.Code)
		}

		// Content-Type should still be set
		if w.Header().Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type to be set")
		}
	})

	t.Run("encodes valid data successfully", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{
			"name":  "test",
			"value": "data",
		}

		respondJSON(w, 200, data)

		if w.Body.Len() == 0 {
			t.Error("Expected response body to contain JSON data")
		}

		body := w.Body.String()
		if body == "" {
			t.Error("Expected non-empty response body")
		}
	})
}

// TestStatusFor tests the service error to HTTP status mapping.
//
// WHY: clients decide whether to retry from the status code alone. A circuit
// open or rate-limit response that surfaced as a 500 would be retried
// immediately and make the upstream situation worse.
func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid range", fmt.Errorf("wrap: %w", apperrors.ErrInvalidDateRange), http.StatusBadRequest},
		{"empty universe", apperrors.ErrEmptyUniverse, http.StatusBadRequest},
		{"unknown symbol", &apperrors.NonRetryableUpstreamError{Op: "fetch", Err: apperrors.ErrUpstreamNotFound}, http.StatusNotFound},
		{"missing checkpoint", apperrors.ErrCheckpointNotFound, http.StatusNotFound},
		{"job running", apperrors.ErrMaintenanceInProgress, http.StatusConflict},
		{"rate limited", &apperrors.RetryableUpstreamError{Op: "fetch", Attempts: 5, Err: apperrors.ErrRateLimited}, http.StatusTooManyRequests},
		{"upstream down", &apperrors.RetryableUpstreamError{Op: "fetch", Attempts: 5, Err: apperrors.ErrUpstreamUnavailable}, http.StatusBadGateway},
		{"auth", apperrors.ErrUpstreamAuth, http.StatusBadGateway},
		{"circuit", &apperrors.CircuitOpenError{Op: "fetch", RetryAfter: time.Second}, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRespondServiceError(t *testing.T) {
	t.Run("circuit open sets Retry-After", func(t *testing.T) {
		w := httptest.NewRecorder()
		respondServiceError(w, "fetch failed", &apperrors.CircuitOpenError{Op: "fetch", RetryAfter: 1500 * time.Millisecond})

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "2" {
			t.Errorf("Expected Retry-After 2, got %q", got)
		}
	})

	t.Run("validation error returns field map", func(t *testing.T) {
		w := httptest.NewRecorder()
		respondServiceError(w, "import failed", &validation.Error{Fields: map[string]string{"sourceCode": "is required"}})

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}

		var body struct {
			Error   string            `json:"error"`
			Details map[string]string `json:"details"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if body.Details["sourceCode"] != "is required" {
			t.Errorf("Expected sourceCode detail, got %v", body.Details)
		}
	})
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("decodes body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"INFY"}`))
		got, err := parseJSON[payload](req)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Name != "INFY" {
			t.Errorf("Expected INFY, got %q", got.Name)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"INFY","extra":1}`))
		if _, err := parseJSON[payload](req); err == nil {
			t.Error("Expected error for unknown field")
		}
	})

	t.Run("requires a body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if _, err := parseJSON[payload](req); err == nil {
			t.Error("Expected error for missing body")
		}
	})

	t.Run("optional body may be omitted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		got, err := parseOptionalJSON[payload](req)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got.Name != "" {
			t.Errorf("Expected zero value, got %q", got.Name)
		}
	})
}
