package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   zap.AtomicLevel
	}{
		{"debug", "json", zap.NewAtomicLevelAt(zap.DebugLevel)},
		{"WARN", "console", zap.NewAtomicLevelAt(zap.WarnLevel)},
		{"error", "json", zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"bogus", "json", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want.Level()))
			if tt.want.Level() > zap.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want.Level()-1))
			}
		})
	}
}
