package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/upstream"
)

// DefaultBaseURL is the public chart API host.
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// maxErrorBody bounds how much of a failed response is echoed into errors.
const maxErrorBody = 512

var intervalCodes = map[model.Interval]string{
	model.OneMinute:     "1m",
	model.FiveMinute:    "5m",
	model.FifteenMinute: "15m",
	model.ThirtyMinute:  "30m",
	model.OneHour:       "1h",
	model.OneDay:        "1d",
	model.OneWeek:       "1wk",
}

var exchangeSuffixes = map[string]string{
	"NSE": ".NS",
	"BSE": ".BO",
	"LSE": ".L",
	"TSE": ".T",
}

// FinanceClient fetches OHLCV bars from the Yahoo Finance chart API and
// implements upstream.BarSource. It makes exactly one HTTP request per call;
// retries and pacing belong to the caller.
type FinanceClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ upstream.BarSource = (*FinanceClient)(nil)

// Option configures a FinanceClient.
type Option func(*FinanceClient)

// WithBaseURL points the client at another host, typically an httptest server.
func WithBaseURL(baseURL string) Option {
	return func(c *FinanceClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *FinanceClient) {
		c.httpClient = hc
	}
}

// NewFinanceClient creates a new Yahoo Finance client. Per-request deadlines
// come from the caller's context, so the default http.Client has no timeout.
func NewFinanceClient(opts ...Option) *FinanceClient {
	c := &FinanceClient{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ticker converts a symbol and exchange into Yahoo's ticker notation, e.g.
// RELIANCE on NSE becomes RELIANCE.NS. Exchanges without a known suffix pass
// the symbol through unchanged.
func Ticker(symbol, exchange string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + exchangeSuffixes[strings.ToUpper(exchange)]
}

// FetchBars returns the bars of one series inside [req.From, req.To]. An
// empty slice is a valid answer (holidays, newly listed symbols).
func (c *FinanceClient) FetchBars(ctx context.Context, req upstream.BarRequest) ([]model.Bar, error) {
	code, ok := intervalCodes[req.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidInterval, req.Interval)
	}

	resp, err := c.QuerySymbolByDateRange(ctx, Ticker(req.Symbol, req.Exchange), code, req.From, req.To)
	if err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return []model.Bar{}, nil
	}

	chart, err := c.ParseChart(resp)
	if err != nil {
		return nil, err
	}

	window := model.TimeRange{From: req.From.UTC(), To: req.To.UTC()}
	bars := make([]model.Bar, 0, len(chart.Indicators))
	for _, ind := range chart.Indicators {
		ts := ind.Date
		if !req.Interval.Intraday() {
			ts = ts.Truncate(24 * time.Hour)
		}
		if !window.Contains(ts) {
			continue
		}
		bars = append(bars, model.Bar{
			Symbol:    req.Symbol,
			Exchange:  req.Exchange,
			Interval:  req.Interval,
			Timestamp: ts,
			Open:      decimal.NewFromFloat(ind.PriceOpen),
			High:      decimal.NewFromFloat(ind.PriceHigh),
			Low:       decimal.NewFromFloat(ind.PriceLow),
			Close:     decimal.NewFromFloat(ind.PriceClose),
			Volume:    ind.Volume,
		})
	}
	return bars, nil
}

// ParseChart converts a raw Yahoo Finance API response into a structured price chart.
//
// The method performs validation to ensure:
//   - Quote data is present when timestamps are
//   - Data arrays have matching lengths
//
// Slots with a null open, high, low or close are skipped; a null volume is
// read as zero.
func (c *FinanceClient) ParseChart(yahooResult Response) (PriceChart, error) {
	if len(yahooResult.Chart.Result) == 0 {
		return PriceChart{}, fmt.Errorf("%w: no chart result", apperrors.ErrUpstreamNotFound)
	}
	result := yahooResult.Chart.Result[0]

	chart := PriceChart{
		Symbol:           result.Meta.Symbol,
		Currency:         result.Meta.Currency,
		ExchangeName:     result.Meta.ExchangeName,
		FullExchangeName: result.Meta.FullExchangeName,
		LongName:         result.Meta.LongName,
		Shortname:        result.Meta.Shortname,
		Indicators:       []Indicators{},
	}
	if len(result.Timestamp) == 0 {
		return chart, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return PriceChart{}, fmt.Errorf("%w: no quote data returned", apperrors.ErrUpstreamUnavailable)
	}

	q := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n {
		return PriceChart{}, fmt.Errorf("%w: mismatched data lengths", apperrors.ErrUpstreamUnavailable)
	}

	for i, ts := range result.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		ind := Indicators{
			Date:       time.Unix(ts, 0).UTC(),
			PriceOpen:  *q.Open[i],
			PriceHigh:  *q.High[i],
			PriceLow:   *q.Low[i],
			PriceClose: *q.Close[i],
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			ind.Volume = *q.Volume[i]
		}
		chart.Indicators = append(chart.Indicators, ind)
	}
	return chart, nil
}

// QuerySymbolByDateRange fetches chart data for a ticker within [startDate, endDate].
// Yahoo treats period2 as exclusive, so one second is added to keep the
// end bound inclusive.
func (c *FinanceClient) QuerySymbolByDateRange(ctx context.Context, ticker, interval string, startDate, endDate time.Time) (Response, error) {
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("period1", fmt.Sprintf("%d", startDate.Unix()))
	q.Set("period2", fmt.Sprintf("%d", endDate.Unix()+1))
	q.Set("includePrePost", "false")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), q.Encode())
	return c.queryYahoo(ctx, endpoint)
}

// queryYahoo executes one request and classifies failures onto the upstream
// error taxonomy so the executor can decide whether to retry.
func (c *FinanceClient) queryYahoo(ctx context.Context, endpoint string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", apperrors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading body: %w", apperrors.ErrUpstreamUnavailable, err)
	}

	var response Response
	decodeErr := json.Unmarshal(data, &response)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(data)
		if decodeErr == nil && response.Chart.Error != nil {
			detail = response.Chart.Error.Description
		}
		if len(detail) > maxErrorBody {
			detail = detail[:maxErrorBody]
		}
		return Response{}, apperrors.FromHTTPStatus(resp.StatusCode, detail)
	}

	if decodeErr != nil {
		return Response{}, fmt.Errorf("%w: decoding chart: %w", apperrors.ErrUpstreamUnavailable, decodeErr)
	}

	if e := response.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return Response{}, fmt.Errorf("%w: %s", apperrors.ErrUpstreamNotFound, e.Description)
		}
		return Response{}, fmt.Errorf("%w: yahoo error %s: %s", apperrors.ErrBadRequest, e.Code, e.Description)
	}

	return response, nil
}
