package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/calendar"
	"github.com/ndewijer/market-data-cache/internal/checkpoint"
	"github.com/ndewijer/market-data-cache/internal/config"
	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/logging"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
	"github.com/ndewijer/market-data-cache/internal/resilience"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/yahoo"
)

// app holds every component a command may need.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB

	barService         *service.BarService
	earningsService    *service.EarningsService
	maintenanceService *service.MaintenanceService
	systemService      *service.SystemService
}

// loadConfig reads configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// openStore opens the database and sets up the process logger without
// checking the schema. Used by init-store.
func openStore() (*config.Config, *zap.Logger, *database.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("connected to database", zap.String("path", cfg.Database.Path))
	return cfg, logger, db, nil
}

// newApp opens the store, refuses to run against an outdated schema and
// wires the services.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, db, err := openStore()
	if err != nil {
		return nil, err
	}

	current, latest, err := database.SchemaVersion(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if current < latest {
		db.Close()
		return nil, fmt.Errorf("store schema at version %d, %d available: run 'marketcache init-store'", current, latest)
	}

	interval, err := model.ParseInterval(cfg.Cache.DefaultInterval)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("DEFAULT_INTERVAL: %w", err)
	}

	policy := resilience.Policy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
		Jitter:      cfg.Resilience.Jitter,
		CallTimeout: cfg.Resilience.CallTimeout,
	}
	breaker := resilience.NewCircuitBreaker(cfg.Resilience.BreakerThreshold, cfg.Resilience.BreakerCooldown, nil)
	executor := resilience.NewExecutor(policy, breaker, logger)

	retention := timeDays(cfg.Cache.RetentionDays)
	barRepo := repository.NewBarRepository(db, cfg.Cache.TTL, retention, logger)
	earningsRepo := repository.NewEarningsRepository(db)
	mappingRepo := repository.NewMappingRepository(db)

	httpClient := &http.Client{}
	barSource := yahoo.NewFinanceClient(
		yahoo.WithBaseURL(cfg.Upstream.YahooBaseURL),
		yahoo.WithHTTPClient(httpClient),
	)
	calendarSource := calendar.NewHTTPSource(cfg.Upstream.CalendarURL, httpClient)

	a := &app{cfg: cfg, logger: logger, db: db}
	a.barService = service.NewBarService(barRepo, barSource, executor, logger,
		service.WithRequestPacing(cfg.Upstream.RequestPacing),
		service.WithFetchConcurrency(cfg.Upstream.FetchConcurrency))
	a.earningsService = service.NewEarningsService(earningsRepo, mappingRepo, calendarSource, executor,
		service.NewKeywordPolicy(cfg.Earnings.Keywords), cfg.Cache.TTL, logger)
	a.maintenanceService = service.NewMaintenanceService(barRepo, a.barService,
		checkpoint.NewFileStore(cfg.Backfill.CheckpointDir),
		service.MaintenanceConfig{
			Exchange:           cfg.Cache.DefaultExchange,
			Interval:           interval,
			TrackedSymbols:     cfg.Cache.TrackedSymbols,
			FreshnessThreshold: cfg.Cache.FreshnessThreshold,
			MinorGapRatio:      cfg.Cache.MinorGapRatio,
			RetentionDays:      cfg.Cache.RetentionDays,
			Holidays:           cfg.Cache.Holidays,
		}, logger).WithEarnings(earningsRepo, cfg.Cache.TTL)
	a.systemService = service.NewSystemService(db, map[string]bool{
		"calendar":  cfg.Upstream.CalendarURL != "",
		"scheduler": cfg.Schedule.Enabled,
		"api_key":   cfg.Server.APIKey != "",
	})
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM so long jobs can stop
// between batches and checkpoint.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
