package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	CORS       CORSConfig
	Logging    LoggingConfig
	Cache      CacheConfig
	Resilience ResilienceConfig
	Upstream   UpstreamConfig
	Earnings   EarningsConfig
	Backfill   BackfillConfig
	Schedule   ScheduleConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string
	Host string
	Addr string // Combined host:port for convenience
	// APIKey guards mutating endpoints when set.
	APIKey string
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// CacheConfig controls freshness, retention and the health report.
type CacheConfig struct {
	TTL                time.Duration
	RetentionDays      int
	FreshnessThreshold time.Duration
	DefaultExchange    string
	DefaultInterval    string
	TrackedSymbols     []string
	MinorGapRatio      float64
	// Holidays are exchange closures excluded from daily gap counts.
	Holidays []time.Time
}

// ResilienceConfig tunes the retry loop and the circuit breaker.
type ResilienceConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	Jitter           float64
	CallTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// UpstreamConfig describes the provider endpoints and steady-state pacing.
type UpstreamConfig struct {
	YahooBaseURL     string
	CalendarURL      string
	RequestPacing    time.Duration
	FetchConcurrency int
}

// EarningsConfig holds the announcement ingestion policy.
type EarningsConfig struct {
	Keywords        []string
	LookforwardDays int
}

// BackfillConfig holds defaults for the historical backfill job.
type BackfillConfig struct {
	CheckpointDir string
	Years         int
	BatchSize     int
}

// ScheduleConfig holds cron expressions used by serve mode.
type ScheduleConfig struct {
	Enabled       bool
	DailyUpdate   string
	WeeklyCleanup string
	LookbackDays  int
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("INTERNAL_API_KEY", "")
	v.SetDefault("DB_PATH", "./data/market_cache.db")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_TTL", "24h")
	v.SetDefault("CACHE_RETENTION_DAYS", 5*365)
	v.SetDefault("FRESHNESS_THRESHOLD", "24h")
	v.SetDefault("DEFAULT_EXCHANGE", "NSE")
	v.SetDefault("DEFAULT_INTERVAL", "ONE_DAY")
	v.SetDefault("TRACKED_SYMBOLS", "")
	v.SetDefault("MINOR_GAP_RATIO", 0.1)
	v.SetDefault("MARKET_HOLIDAYS", "")

	v.SetDefault("RETRY_MAX_ATTEMPTS", 5)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "32s")
	v.SetDefault("RETRY_JITTER", 0.2)
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("BREAKER_THRESHOLD", 5)
	v.SetDefault("BREAKER_COOLDOWN", "60s")

	v.SetDefault("YAHOO_BASE_URL", "https://query1.finance.yahoo.com")
	v.SetDefault("CALENDAR_URL", "")
	v.SetDefault("REQUEST_PACING", "300ms")
	v.SetDefault("FETCH_CONCURRENCY", 4)

	v.SetDefault("EARNINGS_KEYWORDS", "result,earnings,financial statement,quarterly")
	v.SetDefault("EARNINGS_LOOKFORWARD_DAYS", 7)

	v.SetDefault("CHECKPOINT_DIR", "./data/checkpoints")
	v.SetDefault("BACKFILL_YEARS", 5)
	v.SetDefault("BACKFILL_BATCH_SIZE", 10)

	v.SetDefault("SCHEDULE_ENABLED", true)
	v.SetDefault("SCHEDULE_DAILY_UPDATE", "30 18 * * 1-5")
	v.SetDefault("SCHEDULE_WEEKLY_CLEANUP", "0 3 * * 0")
	v.SetDefault("SCHEDULE_LOOKBACK_DAYS", 1)
}

func fromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:   v.GetString("SERVER_PORT"),
			Host:   v.GetString("SERVER_HOST"),
			APIKey: v.GetString("INTERNAL_API_KEY"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Cache: CacheConfig{
			TTL:                v.GetDuration("CACHE_TTL"),
			RetentionDays:      v.GetInt("CACHE_RETENTION_DAYS"),
			FreshnessThreshold: v.GetDuration("FRESHNESS_THRESHOLD"),
			DefaultExchange:    strings.ToUpper(v.GetString("DEFAULT_EXCHANGE")),
			DefaultInterval:    v.GetString("DEFAULT_INTERVAL"),
			TrackedSymbols:     splitList(strings.ToUpper(v.GetString("TRACKED_SYMBOLS"))),
			MinorGapRatio:      v.GetFloat64("MINOR_GAP_RATIO"),
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      v.GetInt("RETRY_MAX_ATTEMPTS"),
			BaseDelay:        v.GetDuration("RETRY_BASE_DELAY"),
			MaxDelay:         v.GetDuration("RETRY_MAX_DELAY"),
			Jitter:           v.GetFloat64("RETRY_JITTER"),
			CallTimeout:      v.GetDuration("UPSTREAM_TIMEOUT"),
			BreakerThreshold: v.GetInt("BREAKER_THRESHOLD"),
			BreakerCooldown:  v.GetDuration("BREAKER_COOLDOWN"),
		},
		Upstream: UpstreamConfig{
			YahooBaseURL:     v.GetString("YAHOO_BASE_URL"),
			CalendarURL:      v.GetString("CALENDAR_URL"),
			RequestPacing:    v.GetDuration("REQUEST_PACING"),
			FetchConcurrency: v.GetInt("FETCH_CONCURRENCY"),
		},
		Earnings: EarningsConfig{
			Keywords:        splitList(v.GetString("EARNINGS_KEYWORDS")),
			LookforwardDays: v.GetInt("EARNINGS_LOOKFORWARD_DAYS"),
		},
		Backfill: BackfillConfig{
			CheckpointDir: v.GetString("CHECKPOINT_DIR"),
			Years:         v.GetInt("BACKFILL_YEARS"),
			BatchSize:     v.GetInt("BACKFILL_BATCH_SIZE"),
		},
		Schedule: ScheduleConfig{
			Enabled:       v.GetBool("SCHEDULE_ENABLED"),
			DailyUpdate:   v.GetString("SCHEDULE_DAILY_UPDATE"),
			WeeklyCleanup: v.GetString("SCHEDULE_WEEKLY_CLEANUP"),
			LookbackDays:  v.GetInt("SCHEDULE_LOOKBACK_DAYS"),
		},
	}

	holidays, err := parseDates(v.GetString("MARKET_HOLIDAYS"))
	if err != nil {
		return nil, fmt.Errorf("MARKET_HOLIDAYS: %w", err)
	}
	config.Cache.Holidays = holidays

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch {
	case c.Cache.TTL <= 0:
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.Cache.TTL)
	case c.Cache.RetentionDays <= 0:
		return fmt.Errorf("CACHE_RETENTION_DAYS must be positive, got %d", c.Cache.RetentionDays)
	case c.Resilience.MaxAttempts < 1:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Resilience.MaxAttempts)
	case c.Resilience.BaseDelay <= 0 || c.Resilience.MaxDelay < c.Resilience.BaseDelay:
		return fmt.Errorf("retry delays invalid: base %s, max %s", c.Resilience.BaseDelay, c.Resilience.MaxDelay)
	case c.Resilience.Jitter < 0 || c.Resilience.Jitter >= 1:
		return fmt.Errorf("RETRY_JITTER must be in [0,1), got %v", c.Resilience.Jitter)
	case c.Resilience.BreakerThreshold < 1:
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1, got %d", c.Resilience.BreakerThreshold)
	case c.Upstream.FetchConcurrency < 1:
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.Upstream.FetchConcurrency)
	case c.Backfill.BatchSize < 1:
		return fmt.Errorf("BACKFILL_BATCH_SIZE must be at least 1, got %d", c.Backfill.BatchSize)
	}
	return nil
}

// parseDates parses a comma separated list of YYYY-MM-DD dates as UTC days.
func parseDates(value string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range splitList(value) {
		d, err := time.Parse("2006-01-02", part)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", part, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
