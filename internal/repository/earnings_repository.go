package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
)

// EarningsRepository provides data access methods for earnings_announcement
// and earnings_window. A window row records that the calendar source was
// queried for that date range, even if it returned nothing.
type EarningsRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewEarningsRepository creates a new EarningsRepository with the provided database connection.
func NewEarningsRepository(db *database.DB) *EarningsRepository {
	return &EarningsRepository{db: db, now: time.Now}
}

// WithClock returns a copy of the repository that reads the current time from now.
func (r *EarningsRepository) WithClock(now func() time.Time) *EarningsRepository {
	clone := *r
	clone.now = now
	return &clone
}

type announcementRow struct {
	SourceCode       string `db:"source_code"`
	CompanyName      string `db:"company_name"`
	AnnouncementDate string `db:"announcement_date"`
	AnnouncementType string `db:"announcement_type"`
	Subject          string `db:"subject"`
	FetchedAt        string `db:"fetched_at"`
}

// WindowFresh reports whether a window fetched within ttl covers [from, to].
func (r *EarningsRepository) WindowFresh(ctx context.Context, from, to time.Time, ttl time.Duration) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM earnings_window
		WHERE window_start <= ? AND window_end >= ? AND fetched_at >= ?`,
		formatDate(from), formatDate(to), formatCachedAt(r.now().Add(-ttl)))
	if err != nil {
		return false, fmt.Errorf("failed to query earnings_window: %w", err)
	}
	return count > 0, nil
}

// ListBetween returns announcements dated within [from, to], ordered by date
// then source code.
func (r *EarningsRepository) ListBetween(ctx context.Context, from, to time.Time) ([]model.EarningsAnnouncement, error) {
	var rows []announcementRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT source_code, company_name, announcement_date, announcement_type, subject, fetched_at
		FROM earnings_announcement
		WHERE announcement_date >= ? AND announcement_date <= ?
		ORDER BY announcement_date, source_code, subject`,
		formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings_announcement: %w", err)
	}

	out := make([]model.EarningsAnnouncement, 0, len(rows))
	for _, row := range rows {
		date, err := parseStored(row.AnnouncementDate)
		if err != nil {
			return nil, err
		}
		fetched, err := parseStored(row.FetchedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, model.EarningsAnnouncement{
			SourceCode:       row.SourceCode,
			CompanyName:      row.CompanyName,
			AnnouncementDate: date,
			AnnouncementType: row.AnnouncementType,
			Subject:          row.Subject,
			FetchedAt:        fetched,
		})
	}
	return out, nil
}

// Expire deletes announcements and fetch windows recorded more than ttl ago
// and returns the number of announcements removed.
func (r *EarningsRepository) Expire(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := formatCachedAt(r.now().Add(-ttl))

	var deleted int64
	err := r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM earnings_announcement WHERE fetched_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to expire announcements: %w", err)
		}
		if deleted, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count expired announcements: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM earnings_window WHERE fetched_at < ?`, cutoff); err != nil {
			return fmt.Errorf("failed to expire earnings windows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// ReplaceWindow swaps the stored announcements dated inside [from, to] for
// anns and records the window as fetched, in one transaction.
func (r *EarningsRepository) ReplaceWindow(ctx context.Context, from, to time.Time, anns []model.EarningsAnnouncement) error {
	now := formatCachedAt(r.now())
	start, end := formatDate(from), formatDate(to)

	return r.db.WithWriteTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM earnings_announcement WHERE announcement_date >= ? AND announcement_date <= ?`,
			start, end); err != nil {
			return fmt.Errorf("failed to clear earnings window: %w", err)
		}

		for _, a := range anns {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO earnings_announcement
					(source_code, company_name, announcement_date, announcement_type, subject, fetched_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (source_code, announcement_date, subject) DO UPDATE SET
					company_name = excluded.company_name,
					announcement_type = excluded.announcement_type,
					fetched_at = excluded.fetched_at`,
				a.SourceCode, a.CompanyName, formatDate(a.AnnouncementDate), a.AnnouncementType, a.Subject, now)
			if err != nil {
				return fmt.Errorf("failed to insert announcement %s: %w", a.SourceCode, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO earnings_window (window_start, window_end, fetched_at)
			VALUES (?, ?, ?)
			ON CONFLICT (window_start, window_end) DO UPDATE SET fetched_at = excluded.fetched_at`,
			start, end, now)
		if err != nil {
			return fmt.Errorf("failed to record earnings window: %w", err)
		}
		return nil
	})
}
