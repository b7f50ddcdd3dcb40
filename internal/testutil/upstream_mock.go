package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/upstream"
)

// MockBarSource is a mock implementation of upstream.BarSource for testing.
// It synthesises deterministic weekday bars for every request instead of
// making actual API calls.
type MockBarSource struct {
	mu         sync.Mutex
	requests   []upstream.BarRequest
	queued     []error
	symbolErrs map[string]error
	fixed      map[string][]model.Bar
	hook       func(ctx context.Context, req upstream.BarRequest) error
}

// NewMockBarSource creates a mock that succeeds for every symbol.
func NewMockBarSource() *MockBarSource {
	return &MockBarSource{
		symbolErrs: make(map[string]error),
		fixed:      make(map[string][]model.Bar),
	}
}

// FailNext makes the next len(errs) calls fail with errs, in order, before
// the mock goes back to returning data.
func (m *MockBarSource) FailNext(errs ...error) *MockBarSource {
	m.mu.Lock()
	m.queued = append(m.queued, errs...)
	m.mu.Unlock()
	return m
}

// FailSymbol makes every call for symbol fail with err.
func (m *MockBarSource) FailSymbol(symbol string, err error) *MockBarSource {
	m.mu.Lock()
	m.symbolErrs[symbol] = err
	m.mu.Unlock()
	return m
}

// WithBars makes calls for symbol return bars (filtered to the requested
// window) instead of synthesised data.
func (m *MockBarSource) WithBars(symbol string, bars []model.Bar) *MockBarSource {
	m.mu.Lock()
	m.fixed[symbol] = bars
	m.mu.Unlock()
	return m
}

// OnFetch installs a hook run at the start of every call; a non-nil return
// is used as the call's error.
func (m *MockBarSource) OnFetch(hook func(ctx context.Context, req upstream.BarRequest) error) *MockBarSource {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
	return m
}

// FetchBars records the request and returns synthesised or configured bars.
func (m *MockBarSource) FetchBars(ctx context.Context, req upstream.BarRequest) ([]model.Bar, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.hook
	var queued error
	if len(m.queued) > 0 {
		queued, m.queued = m.queued[0], m.queued[1:]
	}
	symbolErr := m.symbolErrs[req.Symbol]
	fixed, hasFixed := m.fixed[req.Symbol]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if queued != nil {
		return nil, queued
	}
	if symbolErr != nil {
		return nil, symbolErr
	}
	if hasFixed {
		out := []model.Bar{}
		for _, b := range fixed {
			if !b.Timestamp.Before(req.From) && !b.Timestamp.After(req.To) {
				out = append(out, b)
			}
		}
		return out, nil
	}
	return GenerateBars(req.Symbol, req.Exchange, req.Interval, req.From, req.To), nil
}

// Calls returns how many FetchBars calls were made.
func (m *MockBarSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every recorded request.
func (m *MockBarSource) Requests() []upstream.BarRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upstream.BarRequest(nil), m.requests...)
}

// RequestedSymbols returns the distinct symbols requested, in first-seen order.
func (m *MockBarSource) RequestedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.requests {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			out = append(out, r.Symbol)
		}
	}
	return out
}

// MockCalendarSource is a mock implementation of upstream.CalendarSource.
type MockCalendarSource struct {
	mu            sync.Mutex
	announcements []upstream.RawAnnouncement
	err           error
	calls         int
}

// NewMockCalendarSource creates a calendar mock returning anns.
func NewMockCalendarSource(anns ...upstream.RawAnnouncement) *MockCalendarSource {
	return &MockCalendarSource{announcements: anns}
}

// WithError configures the mock to return the specified error.
func (m *MockCalendarSource) WithError(err error) *MockCalendarSource {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	return m
}

// FetchAnnouncements returns the configured announcements dated within [from, to].
func (m *MockCalendarSource) FetchAnnouncements(ctx context.Context, from, to time.Time) ([]upstream.RawAnnouncement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	out := []upstream.RawAnnouncement{}
	for _, a := range m.announcements {
		if !a.Date.Before(from) && !a.Date.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Calls returns how many FetchAnnouncements calls were made.
func (m *MockCalendarSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
