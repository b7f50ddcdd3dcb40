// Package calendar fetches corporate announcement calendars over HTTP.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/upstream"
)

const dateLayout = "2006-01-02"

// HTTPSource reads announcements from a JSON endpoint that accepts from/to
// query parameters (YYYY-MM-DD) and answers with an announcements array.
type HTTPSource struct {
	httpClient *http.Client
	endpoint   string
}

var _ upstream.CalendarSource = (*HTTPSource)(nil)

// NewHTTPSource creates a calendar source for endpoint.
func NewHTTPSource(endpoint string, httpClient *http.Client) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPSource{httpClient: httpClient, endpoint: endpoint}
}

type wireResponse struct {
	Announcements []wireAnnouncement `json:"announcements"`
}

type wireAnnouncement struct {
	SourceCode  string `json:"scripCode"`
	CompanyName string `json:"companyName"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Subject     string `json:"subject"`
}

// FetchAnnouncements returns every announcement dated within [from, to].
// Rows with an unparseable date are dropped.
func (s *HTTPSource) FetchAnnouncements(ctx context.Context, from, to time.Time) ([]upstream.RawAnnouncement, error) {
	if s.endpoint == "" {
		return nil, fmt.Errorf("%w: calendar endpoint not configured", apperrors.ErrBadRequest)
	}

	q := url.Values{}
	q.Set("from", from.UTC().Format(dateLayout))
	q.Set("to", to.UTC().Format(dateLayout))
	sep := "?"
	if strings.Contains(s.endpoint, "?") {
		sep = "&"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+sep+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	if err := apperrors.FromHTTPStatus(resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}

	var body wireResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding calendar: %w", apperrors.ErrUpstreamUnavailable, err)
	}

	out := make([]upstream.RawAnnouncement, 0, len(body.Announcements))
	for _, a := range body.Announcements {
		date, err := parseDate(a.Date)
		if err != nil {
			continue
		}
		if date.Before(from.UTC().Truncate(24*time.Hour)) || date.After(to.UTC()) {
			continue
		}
		out = append(out, upstream.RawAnnouncement{
			SourceCode:  strings.TrimSpace(a.SourceCode),
			CompanyName: strings.TrimSpace(a.CompanyName),
			Date:        date,
			Type:        a.Category,
			Subject:     a.Subject,
		})
	}
	return out, nil
}

// parseDate accepts a bare date or an RFC3339 timestamp and returns midnight
// UTC of the calendar day.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
