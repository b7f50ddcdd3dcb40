package request

import (
	"errors"
	"testing"
	"time"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
)

var testNow = time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

func TestParseBarQuery(t *testing.T) {
	t.Run("default values when no parameters provided", func(t *testing.T) {
		q, force, err := ParseBarQuery("nse", " infy ", "", "", "", "", model.OneDay, testNow)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if q.Symbol != "INFY" || q.Exchange != "NSE" {
			t.Errorf("Expected INFY/NSE, got %s/%s", q.Symbol, q.Exchange)
		}
		if q.Interval != model.OneDay {
			t.Errorf("Expected default interval ONE_DAY, got %s", q.Interval)
		}
		if !q.To.Equal(testNow) {
			t.Errorf("Expected to = now, got %s", q.To)
		}
		if !q.From.Equal(testNow.AddDate(0, 0, -DefaultLookbackDays)) {
			t.Errorf("Expected from 30 days before to, got %s", q.From)
		}
		if force {
			t.Error("Expected force to default to false")
		}
	})

	t.Run("explicit window and interval", func(t *testing.T) {
		q, force, err := ParseBarQuery("NSE", "TCS", "one_hour", "2024-01-02", "2024-01-05T15:30:00+05:30", "true", model.OneDay, testNow)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if q.Interval != model.OneHour {
			t.Errorf("Expected ONE_HOUR, got %s", q.Interval)
		}
		if !q.From.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Unexpected from %s", q.From)
		}
		if want := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC); !q.To.Equal(want) || q.To.Location() != time.UTC {
			t.Errorf("Expected to normalised to %s UTC, got %s", want, q.To)
		}
		if !force {
			t.Error("Expected force true")
		}
	})

	t.Run("invalid interval returns error", func(t *testing.T) {
		_, _, err := ParseBarQuery("NSE", "TCS", "TWO_DAY", "", "", "", model.OneDay, testNow)
		if !errors.Is(err, apperrors.ErrInvalidInterval) {
			t.Errorf("Expected ErrInvalidInterval, got %v", err)
		}
	})

	t.Run("invalid date returns error", func(t *testing.T) {
		_, _, err := ParseBarQuery("NSE", "TCS", "", "01/02/2024", "", "", model.OneDay, testNow)
		if !errors.Is(err, apperrors.ErrInvalidDateRange) {
			t.Errorf("Expected ErrInvalidDateRange, got %v", err)
		}
	})

	t.Run("inverted range returns error", func(t *testing.T) {
		_, _, err := ParseBarQuery("NSE", "TCS", "", "2024-01-10", "2024-01-02", "", model.OneDay, testNow)
		if !errors.Is(err, apperrors.ErrInvalidDateRange) {
			t.Errorf("Expected ErrInvalidDateRange, got %v", err)
		}
	})

	t.Run("invalid force returns error", func(t *testing.T) {
		_, _, err := ParseBarQuery("NSE", "TCS", "", "", "", "maybe", model.OneDay, testNow)
		if err == nil {
			t.Error("Expected error for invalid force, got nil")
		}
	})
}

func TestParseDays(t *testing.T) {
	tests := []struct {
		param   string
		want    int
		wantErr bool
	}{
		{"", 7, false},
		{"0", 0, false},
		{"14", 14, false},
		{"-1", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDays(tt.param, 7)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDays(%q) error = %v, wantErr %v", tt.param, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDays(%q) = %d, want %d", tt.param, got, tt.want)
		}
	}
}

func TestParseWindow(t *testing.T) {
	interval, window, err := ParseWindow("", "2024-01-01", "", model.OneWeek, testNow)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if interval != model.OneWeek {
		t.Errorf("Expected default interval, got %s", interval)
	}
	if !window.To.Equal(testNow) {
		t.Errorf("Expected to = now, got %s", window.To)
	}

	if _, _, err := ParseWindow("", "2024-02-01", "2024-01-01", model.OneDay, testNow); !errors.Is(err, apperrors.ErrInvalidDateRange) {
		t.Errorf("Expected ErrInvalidDateRange, got %v", err)
	}
}
