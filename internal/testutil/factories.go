package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
)

// Day returns midnight UTC of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// BarBuilder provides a fluent interface for creating test bars.
type BarBuilder struct {
	bar model.Bar
}

// NewBar creates a builder for a valid daily NSE bar at 2024-01-02 with
// prices around 100.
func NewBar(symbol string) *BarBuilder {
	return &BarBuilder{
		bar: model.Bar{
			Symbol:    symbol,
			Exchange:  "NSE",
			Interval:  model.OneDay,
			Timestamp: Day(2024, 1, 2),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(102),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(101),
			Volume:    1000,
		},
	}
}

func (b *BarBuilder) WithExchange(exchange string) *BarBuilder {
	b.bar.Exchange = exchange
	return b
}

func (b *BarBuilder) WithInterval(interval model.Interval) *BarBuilder {
	b.bar.Interval = interval
	return b
}

func (b *BarBuilder) At(ts time.Time) *BarBuilder {
	b.bar.Timestamp = ts
	return b
}

// WithPrices sets open, high, low and close.
func (b *BarBuilder) WithPrices(open, high, low, closePrice float64) *BarBuilder {
	b.bar.Open = decimal.NewFromFloat(open)
	b.bar.High = decimal.NewFromFloat(high)
	b.bar.Low = decimal.NewFromFloat(low)
	b.bar.Close = decimal.NewFromFloat(closePrice)
	return b
}

func (b *BarBuilder) WithVolume(volume int64) *BarBuilder {
	b.bar.Volume = volume
	return b
}

// Build returns the bar without persisting it.
func (b *BarBuilder) Build() model.Bar {
	return b.bar
}

// GenerateBars synthesises one valid bar per step inside [from, to],
// skipping weekends. Prices rise by one per bar so rows are distinguishable.
func GenerateBars(symbol, exchange string, interval model.Interval, from, to time.Time) []model.Bar {
	step := interval.Step()
	if step <= 0 {
		return nil
	}
	from, to = from.UTC(), to.UTC()

	ts := from.Truncate(step)
	if ts.Before(from) {
		ts = ts.Add(step)
	}

	bars := []model.Bar{}
	for i := 0; !ts.After(to); ts = ts.Add(step) {
		if wd := ts.Weekday(); interval != model.OneWeek && (wd == time.Saturday || wd == time.Sunday) {
			continue
		}
		base := decimal.NewFromInt(int64(100 + i))
		bars = append(bars, model.Bar{
			Symbol:    symbol,
			Exchange:  exchange,
			Interval:  interval,
			Timestamp: ts,
			Open:      base,
			High:      base.Add(decimal.NewFromInt(2)),
			Low:       base.Sub(decimal.NewFromInt(1)),
			Close:     base.Add(decimal.NewFromInt(1)),
			Volume:    int64(1000 + i),
		})
		i++
	}
	return bars
}

// SeedBars writes bars for one series through the repository and fails the
// test on error.
func SeedBars(t *testing.T, repo *repository.BarRepository, bars []model.Bar) {
	t.Helper()
	if len(bars) == 0 {
		return
	}
	first := bars[0]
	if err := repo.Put(context.Background(), first.Symbol, first.Exchange, first.Interval, bars); err != nil {
		t.Fatalf("Failed to seed bars: %v", err)
	}
}
