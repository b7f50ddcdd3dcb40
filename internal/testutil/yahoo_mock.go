package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ndewijer/market-data-cache/internal/yahoo"
)

// YahooServer is an httptest server speaking the Yahoo chart API. It answers
// every request with the configured status and body and records the request
// URLs for assertions.
type YahooServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	response yahoo.Response
	requests []*http.Request
}

// NewYahooServer starts a server that returns resp with 200 OK. The server is
// closed when the test ends.
func NewYahooServer(t *testing.T, resp yahoo.Response) *YahooServer {
	t.Helper()

	s := &YahooServer{status: http.StatusOK, response: resp}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *YahooServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Clone(r.Context()))
	status, resp := s.status, s.response
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // test server
	json.NewEncoder(w).Encode(resp)
}

// WithResponse changes the status and body served from now on.
func (s *YahooServer) WithResponse(status int, resp yahoo.Response) *YahooServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.response = resp
	return s
}

// Requests returns the requests received so far.
func (s *YahooServer) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CreateMockYahooResponse creates a chart response with one daily slot per
// calendar day starting at start (09:15 IST, i.e. 03:45 UTC). Each day has
// realistic OHLCV data suitable for testing.
func CreateMockYahooResponse(ticker string, start time.Time, days int) yahoo.Response {
	timestamps := make([]int64, days)
	opens := make([]*float64, days)
	highs := make([]*float64, days)
	lows := make([]*float64, days)
	closes := make([]*float64, days)
	volumes := make([]*int64, days)

	basePrice := 100.0
	for i := 0; i < days; i++ {
		date := start.UTC().Truncate(24*time.Hour).AddDate(0, 0, i).Add(3*time.Hour + 45*time.Minute)
		timestamps[i] = date.Unix()

		dayPrice := basePrice + float64(i)*0.5
		open := dayPrice
		high := dayPrice + 1.0
		low := dayPrice - 0.5
		closePrice := dayPrice + 0.25
		volume := int64(1000000 + i*10000)

		opens[i] = &open
		highs[i] = &high
		lows[i] = &low
		closes[i] = &closePrice
		volumes[i] = &volume
	}

	return yahoo.Response{
		Chart: yahoo.Chart{
			Result: []yahoo.Result{
				{
					Meta: yahoo.Meta{
						Symbol:           ticker,
						Currency:         "INR",
						ExchangeName:     "NSI",
						FullExchangeName: "NSE",
						DataGranularity:  "1d",
					},
					Timestamp: timestamps,
					Indicators: yahoo.IndicatorsContainer{
						Quote: []yahoo.Quote{
							{
								Open:   opens,
								High:   highs,
								Low:    lows,
								Close:  closes,
								Volume: volumes,
							},
						},
					},
				},
			},
		},
	}
}

// CreateMockYahooErrorResponse creates a chart response carrying an API error.
func CreateMockYahooErrorResponse(code, description string) yahoo.Response {
	return yahoo.Response{
		Chart: yahoo.Chart{
			Result: []yahoo.Result{},
			Error:  &yahoo.ChartError{Code: code, Description: description},
		},
	}
}
