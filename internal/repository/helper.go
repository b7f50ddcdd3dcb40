package repository

import (
	"fmt"
	"time"
)

// Stored timestamps are fixed-width UTC text so string comparison in SQL
// matches chronological order.
const (
	timestampLayout = "2006-01-02T15:04:05Z"
	cachedAtLayout  = "2006-01-02T15:04:05.000000000Z"
	dateLayout      = "2006-01-02"
)

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatCachedAt(t time.Time) string {
	return t.UTC().Format(cachedAtLayout)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseStored(str string) (time.Time, error) {
	for _, layout := range []string{cachedAtLayout, timestampLayout, dateLayout} {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse stored time %q", str)
}
