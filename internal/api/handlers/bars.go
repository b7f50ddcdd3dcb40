package handlers

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/market-data-cache/internal/api/request"
	"github.com/ndewijer/market-data-cache/internal/api/response"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// BarHandler handles bar retrieval HTTP requests
type BarHandler struct {
	barService      *service.BarService
	defaultExchange string
	defaultInterval model.Interval
	now             func() time.Time
}

// NewBarHandler creates a new BarHandler. defaultExchange and
// defaultInterval fill in omitted request values.
func NewBarHandler(barService *service.BarService, defaultExchange string, defaultInterval model.Interval) *BarHandler {
	return &BarHandler{
		barService:      barService,
		defaultExchange: defaultExchange,
		defaultInterval: defaultInterval,
		now:             time.Now,
	}
}

// WithClock makes the handler read the current time from now.
func (h *BarHandler) WithClock(now func() time.Time) *BarHandler {
	h.now = now
	return h
}

// SeriesResponse is the body of GET /api/bars/{exchange}/{symbol}.
type SeriesResponse struct {
	Symbol   string            `json:"symbol"`
	Exchange string            `json:"exchange"`
	Interval model.Interval    `json:"interval"`
	From     time.Time         `json:"from"`
	To       time.Time         `json:"to"`
	Count    int               `json:"count"`
	Source   model.FetchSource `json:"source"`
	Degraded bool              `json:"degraded"`
	Warning  string            `json:"warning,omitempty"`
	Bars     []model.Bar       `json:"bars"`
}

// Series handles GET requests for one bar series.
//
// Endpoint: GET /api/bars/{exchange}/{symbol}
// Query Parameters: interval, from, to (YYYY-MM-DD or RFC3339), force
// Response: 200 OK with SeriesResponse
// Error: 400 Bad Request on invalid parameters
// Error: 404 Not Found if the upstream does not know the symbol and nothing is cached
// Error: 502/503 if the upstream fails and nothing is cached
func (h *BarHandler) Series(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q, force, err := request.ParseBarQuery(
		chi.URLParam(r, "exchange"), chi.URLParam(r, "symbol"),
		query.Get("interval"), query.Get("from"), query.Get("to"), query.Get("force"),
		h.defaultInterval, h.now(),
	)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	res, err := h.barService.FetchWithCache(r.Context(), q, force)
	if err != nil {
		respondServiceError(w, "failed to fetch bars", err)
		return
	}

	bars := res.Bars
	if bars == nil {
		bars = []model.Bar{}
	}
	respondJSON(w, http.StatusOK, SeriesResponse{
		Symbol:   q.Symbol,
		Exchange: q.Exchange,
		Interval: q.Interval,
		From:     q.From,
		To:       q.To,
		Count:    len(bars),
		Source:   res.Source,
		Degraded: res.Degraded,
		Warning:  res.Warning,
		Bars:     bars,
	})
}

// BatchItemResponse is one symbol of a batch fetch.
type BatchItemResponse struct {
	Symbol   string            `json:"symbol"`
	Count    int               `json:"count"`
	Source   model.FetchSource `json:"source,omitempty"`
	Degraded bool              `json:"degraded"`
	Error    string            `json:"error,omitempty"`
	Bars     []model.Bar       `json:"bars,omitempty"`
}

// BatchResponse is the body of POST /api/bars/batch.
type BatchResponse struct {
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Items     []BatchItemResponse `json:"items"`
}

// Batch handles POST requests that fetch many symbols over one window.
// A failing symbol is reported in its item and never fails the request.
//
// Endpoint: POST /api/bars/batch
// Request Body: BatchFetchRequest (symbols, from, to and optionally exchange, interval)
// Response: 200 OK with BatchResponse, items sorted by symbol
// Error: 400 Bad Request if validation fails
func (h *BarHandler) Batch(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[request.BatchFetchRequest](r)
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		respondServiceError(w, "validation failed", err)
		return
	}

	exchange := h.defaultExchange
	if req.Exchange != "" {
		exchange = strings.ToUpper(req.Exchange)
	}
	interval, window, err := request.ParseWindow(req.Interval, req.From, req.To, h.defaultInterval, h.now())
	if err != nil {
		response.RespondError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	results := h.barService.FetchBatch(r.Context(), req.Symbols, exchange, interval, window.From, window.To)

	resp := BatchResponse{Total: len(results), Items: make([]BatchItemResponse, 0, len(results))}
	for symbol, item := range results {
		out := BatchItemResponse{Symbol: symbol}
		if item.Err != nil {
			resp.Failed++
			out.Error = item.Err.Error()
		} else {
			resp.Succeeded++
			out.Count = len(item.Result.Bars)
			out.Source = item.Result.Source
			out.Degraded = item.Result.Degraded
			out.Bars = item.Result.Bars
		}
		resp.Items = append(resp.Items, out)
	}
	sort.Slice(resp.Items, func(i, j int) bool { return resp.Items[i].Symbol < resp.Items[j].Symbol })

	respondJSON(w, http.StatusOK, resp)
}

// Statistics handles GET requests for the fetch counters and breaker state.
//
// Endpoint: GET /api/bars/statistics
// Response: 200 OK with model.Statistics
func (h *BarHandler) Statistics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.barService.Statistics())
}
