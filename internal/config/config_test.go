package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:5001", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Resilience.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Resilience.BaseDelay)
	assert.Equal(t, 32*time.Second, cfg.Resilience.MaxDelay)
	assert.Equal(t, 5, cfg.Resilience.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.Resilience.BreakerCooldown)
	assert.Equal(t, 300*time.Millisecond, cfg.Upstream.RequestPacing)
	assert.Equal(t, []string{"result", "earnings", "financial statement", "quarterly"}, cfg.Earnings.Keywords)
	assert.Empty(t, cfg.Cache.TrackedSymbols)
	assert.Empty(t, cfg.Cache.Holidays)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("CACHE_TTL", "6h")
	t.Setenv("TRACKED_SYMBOLS", "reliance, tcs ,,infy")
	t.Setenv("EARNINGS_KEYWORDS", "Results,Board Meeting")
	t.Setenv("REQUEST_PACING", "1s")
	t.Setenv("MARKET_HOLIDAYS", "2024-01-26, 2024-03-08")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"RELIANCE", "TCS", "INFY"}, cfg.Cache.TrackedSymbols)
	assert.Equal(t, []string{"Results", "Board Meeting"}, cfg.Earnings.Keywords)
	assert.Equal(t, time.Second, cfg.Upstream.RequestPacing)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 26, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	}, cfg.Cache.Holidays)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"RETRY_MAX_ATTEMPTS": "0",
		"RETRY_JITTER":       "1.5",
		"BREAKER_THRESHOLD":  "0",
		"CACHE_TTL":          "0s",
		"FETCH_CONCURRENCY":  "0",
		"MARKET_HOLIDAYS":    "26/01/2024",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
