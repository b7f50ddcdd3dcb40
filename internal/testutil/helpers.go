package testutil

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/checkpoint"
	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
	"github.com/ndewijer/market-data-cache/internal/resilience"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/upstream"
)

// Test defaults shared by every harness.
const (
	TestTTL       = 7 * 24 * time.Hour
	TestRetention = 5 * 365 * 24 * time.Hour
	TestExchange  = "NSE"
)

// TestNow is the default fake time: Monday 2024-01-15 18:00 UTC.
var TestNow = time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

// Env wires every service against one test database, a fake clock and mock
// upstreams. Retry sleeps are recorded and advance the clock instead of
// blocking; request pacing is disabled.
type Env struct {
	DB       *database.DB
	Clock    *Clock
	Sleeper  *Sleeper
	Bars     *MockBarSource
	Calendar *MockCalendarSource

	BarRepo      *repository.BarRepository
	EarningsRepo *repository.EarningsRepository
	MappingRepo  *repository.MappingRepository
	Checkpoints  *checkpoint.FileStore
	Executor     *resilience.Executor

	BarService         *service.BarService
	EarningsService    *service.EarningsService
	MaintenanceService *service.MaintenanceService
}

// EnvOption customises NewTestEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	maintenance service.MaintenanceConfig
	keywords    []string
	concurrency int
	policy      resilience.Policy
	calendar    []upstream.RawAnnouncement
}

// WithTrackedSymbols sets the expected universe for health reports.
func WithTrackedSymbols(symbols ...string) EnvOption {
	return func(c *envConfig) { c.maintenance.TrackedSymbols = symbols }
}

// WithHolidays sets the exchange closures skipped by gap counting.
func WithHolidays(days ...time.Time) EnvOption {
	return func(c *envConfig) { c.maintenance.Holidays = days }
}

// WithKeywords sets the earnings ingestion allow-list.
func WithKeywords(keywords ...string) EnvOption {
	return func(c *envConfig) { c.keywords = keywords }
}

// WithConcurrency sets the batch fan-out.
func WithConcurrency(n int) EnvOption {
	return func(c *envConfig) { c.concurrency = n }
}

// WithAnnouncements seeds the calendar mock.
func WithAnnouncements(anns ...upstream.RawAnnouncement) EnvOption {
	return func(c *envConfig) { c.calendar = anns }
}

// WithPolicy replaces the retry policy.
func WithPolicy(p resilience.Policy) EnvOption {
	return func(c *envConfig) { c.policy = p }
}

// NewTestEnv builds a fully wired environment for service tests.
//
// Example usage:
//
//	env := testutil.NewTestEnv(t)
//	res, err := env.BarService.FetchWithCache(ctx, q, false)
func NewTestEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	policy := resilience.DefaultPolicy()
	policy.Jitter = 0
	cfg := envConfig{
		maintenance: service.MaintenanceConfig{
			Exchange:           TestExchange,
			Interval:           model.OneDay,
			FreshnessThreshold: 24 * time.Hour,
		},
		keywords:    service.DefaultEarningsKeywords,
		concurrency: 4,
		policy:      policy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db := SetupTestDB(t)
	clock := NewClock(TestNow)
	sleeper := NewSleeper(clock)
	logger := zap.NewNop()

	breaker := resilience.NewCircuitBreaker(resilience.DefaultFailureThreshold, resilience.DefaultCooldown, clock.Now)
	executor := resilience.NewExecutor(cfg.policy, breaker, logger, resilience.WithSleeper(sleeper.Sleep))

	env := &Env{
		DB:           db,
		Clock:        clock,
		Sleeper:      sleeper,
		Bars:         NewMockBarSource(),
		Calendar:     NewMockCalendarSource(cfg.calendar...),
		BarRepo:      repository.NewBarRepository(db, TestTTL, TestRetention, logger).WithClock(clock.Now),
		EarningsRepo: repository.NewEarningsRepository(db).WithClock(clock.Now),
		MappingRepo:  repository.NewMappingRepository(db).WithClock(clock.Now),
		Checkpoints:  checkpoint.NewFileStore(t.TempDir()),
		Executor:     executor,
	}

	env.BarService = service.NewBarService(env.BarRepo, env.Bars, executor, logger,
		service.WithRequestPacing(0),
		service.WithFetchConcurrency(cfg.concurrency))
	env.EarningsService = service.NewEarningsService(env.EarningsRepo, env.MappingRepo, env.Calendar, executor,
		service.NewKeywordPolicy(cfg.keywords), TestTTL, logger).WithClock(clock.Now)
	env.MaintenanceService = service.NewMaintenanceService(env.BarRepo, env.BarService, env.Checkpoints,
		cfg.maintenance, logger).WithClock(clock.Now).WithEarnings(env.EarningsRepo, TestTTL)

	return env
}

// NewTestSystemService creates a SystemService over db.
func NewTestSystemService(t *testing.T, db *database.DB) *service.SystemService {
	t.Helper()

	return service.NewSystemService(db, map[string]bool{"calendar": true, "scheduler": false})
}

// MakeSymbols generates n distinct ticker symbols SYM000, SYM001, ...
func MakeSymbols(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + leftPad(i, 3)
	}
	return out
}

func leftPad(n, width int) string {
	s := []byte{}
	for ; n > 0; n /= 10 {
		s = append([]byte{byte('0' + n%10)}, s...)
	}
	for len(s) < width {
		s = append([]byte{'0'}, s...)
	}
	return string(s)
}
