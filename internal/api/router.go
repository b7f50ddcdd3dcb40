package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/api/handlers"
	custommiddleware "github.com/ndewijer/market-data-cache/internal/api/middleware"
	"github.com/ndewijer/market-data-cache/internal/config"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
)

// Services bundles the services exposed over HTTP.
type Services struct {
	System      *service.SystemService
	Bars        *service.BarService
	Earnings    *service.EarningsService
	Maintenance *service.MaintenanceService
}

// NewRouter creates and configures the HTTP router
func NewRouter(svc Services, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.Logger(logger))
	r.Use(middleware.Recoverer)

	// CORS middleware
	corsMiddleware := custommiddleware.NewCORS(cfg.CORS.AllowedOrigins)
	r.Use(corsMiddleware.Handler)

	requireKey := custommiddleware.APIKey(cfg.Server.APIKey)
	defaultInterval := model.Interval(cfg.Cache.DefaultInterval)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// System namespace
		r.Route("/system", func(r chi.Router) {
			systemHandler := handlers.NewSystemHandler(svc.System)
			r.Get("/health", systemHandler.Health)
			r.Get("/version", systemHandler.Version)
		})

		r.Route("/bars", func(r chi.Router) {
			barHandler := handlers.NewBarHandler(svc.Bars, cfg.Cache.DefaultExchange, defaultInterval)
			r.Get("/statistics", barHandler.Statistics)
			r.Post("/batch", barHandler.Batch)
			r.With(custommiddleware.ValidateSeriesParams).Get("/{exchange}/{symbol}", barHandler.Series)
		})

		earningsHandler := handlers.NewEarningsHandler(svc.Earnings, cfg.Earnings.LookforwardDays)
		r.Get("/earnings/upcoming", earningsHandler.Upcoming)
		r.Post("/universe/filter", earningsHandler.FilterUniverse)
		r.Route("/mappings", func(r chi.Router) {
			r.Get("/", earningsHandler.Mappings)
			r.With(requireKey).Post("/", earningsHandler.CreateMapping)
		})

		r.Route("/maintenance", func(r chi.Router) {
			maintenanceHandler := handlers.NewMaintenanceHandler(svc.Maintenance, cfg.Schedule.LookbackDays)
			r.Get("/health-report", maintenanceHandler.HealthReport)
			r.Group(func(r chi.Router) {
				r.Use(requireKey)
				r.Post("/daily-update", maintenanceHandler.DailyUpdate)
				r.Post("/cleanup", maintenanceHandler.Cleanup)
			})
		})
	})

	return r
}
