package calendar_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/calendar"
	"github.com/ndewijer/market-data-cache/internal/testutil"
)

const calendarBody = `{"announcements":[
	{"scripCode":" 500325 ","companyName":"Reliance Industries","date":"2024-03-04","category":"Result","subject":"Financial Results for Q4"},
	{"scripCode":"532540","companyName":"TCS","date":"2024-03-05T10:30:00+05:30","category":"Board Meeting","subject":"Dividend"},
	{"scripCode":"999999","companyName":"Broken","date":"someday","category":"Result","subject":"Results"},
	{"scripCode":"111111","companyName":"Late","date":"2024-04-20","category":"Result","subject":"Results"}
]}`

func TestHTTPSource_FetchAnnouncements(t *testing.T) {
	ctx := context.Background()
	from, to := testutil.Day(2024, 3, 1), testutil.Day(2024, 3, 8)

	t.Run("decodes announcements inside the window", func(t *testing.T) {
		var gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(calendarBody))
		}))
		defer srv.Close()

		anns, err := calendar.NewHTTPSource(srv.URL, nil).FetchAnnouncements(ctx, from, to)
		require.NoError(t, err)

		assert.Equal(t, "from=2024-03-01&to=2024-03-08", gotQuery)
		require.Len(t, anns, 2, "unparseable and out-of-window rows dropped")
		assert.Equal(t, "500325", anns[0].SourceCode)
		assert.Equal(t, testutil.Day(2024, 3, 4), anns[0].Date)
		assert.Equal(t, "Result", anns[0].Type)
		assert.Equal(t, testutil.Day(2024, 3, 5), anns[1].Date)
	})

	t.Run("classifies HTTP failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := calendar.NewHTTPSource(srv.URL, nil).FetchAnnouncements(ctx, from, to)
		assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	})

	t.Run("unconfigured endpoint is permanent", func(t *testing.T) {
		_, err := calendar.NewHTTPSource("", nil).FetchAnnouncements(ctx, from, to)
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		assert.False(t, apperrors.IsRetryable(err))
	})
}
