package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/api/response"
	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// maxBodyBytes bounds request bodies; a batch of 500 symbols fits easily.
const maxBodyBytes = 1 << 20

// respondJSON sends a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("failed to encode JSON", zap.Error(err))
		}
	}
}

// parseJSON decodes the request body into T. Unknown fields are rejected.
func parseJSON[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil || r.Body == http.NoBody {
		return v, errors.New("request body is required")
	}
	if err := decodeBody(r, &v); err != nil {
		return v, err
	}
	return v, nil
}

// parseOptionalJSON is parseJSON for endpoints whose body may be omitted.
func parseOptionalJSON[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil || r.Body == http.NoBody {
		return v, nil
	}
	if err := decodeBody(r, &v); err != nil && !errors.Is(err, io.EOF) {
		return v, err
	}
	return v, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// respondServiceError maps a service error onto an HTTP status.
//
//	validation / invalid input       400
//	not found                        404
//	maintenance already running      409
//	upstream rate limited            429
//	other upstream failure           502
//	circuit open / deadline          503
//	anything else                    500
func respondServiceError(w http.ResponseWriter, message string, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		response.RespondError(w, http.StatusBadRequest, "validation failed", verr.Fields)
		return
	}

	var open *apperrors.CircuitOpenError
	if errors.As(err, &open) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(open.RetryAfter.Seconds()))))
		response.RespondError(w, http.StatusServiceUnavailable, message, err.Error())
		return
	}

	response.RespondError(w, statusFor(err), message, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidDateRange),
		errors.Is(err, apperrors.ErrInvalidInterval),
		errors.Is(err, apperrors.ErrInvalidSymbol),
		errors.Is(err, apperrors.ErrInvalidExchange),
		errors.Is(err, apperrors.ErrInvalidBatchSize),
		errors.Is(err, apperrors.ErrEmptyUniverse):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUpstreamNotFound),
		errors.Is(err, apperrors.ErrCheckpointNotFound),
		errors.Is(err, apperrors.ErrNoCachedData):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrMaintenanceInProgress):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrUpstreamUnavailable),
		errors.Is(err, apperrors.ErrUpstreamAuth),
		errors.Is(err, apperrors.ErrBadRequest):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
