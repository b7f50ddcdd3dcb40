// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/market-data-cache/internal/api/response"
)

var (
	symbolPattern   = regexp.MustCompile(`^[A-Za-z0-9&._^-]{1,32}$`)
	exchangePattern = regexp.MustCompile(`^[A-Za-z]{2,16}$`)
)

// ValidateSeriesParams checks the {exchange} and {symbol} URL parameters.
// Returns 400 Bad Request if either is missing or malformed.
//
// Example usage in router:
//
//	r.Route("/{exchange}/{symbol}", func(r chi.Router) {
//	    r.Use(middleware.ValidateSeriesParams)
//	    r.Get("/", handler.Series)
//	})
func ValidateSeriesParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchange := chi.URLParam(r, "exchange")
		symbol := chi.URLParam(r, "symbol")

		if !exchangePattern.MatchString(exchange) {
			response.RespondError(w, http.StatusBadRequest, "invalid exchange", exchange)
			return
		}
		if !symbolPattern.MatchString(symbol) {
			response.RespondError(w, http.StatusBadRequest, "invalid symbol", symbol)
			return
		}

		next.ServeHTTP(w, r)
	})
}
