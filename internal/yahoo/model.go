package yahoo

import "time"

// Response represents the raw JSON response structure from the Yahoo Finance
// chart API. Price arrays hold pointers because Yahoo emits null for slots
// without a trade (halts, partial sessions).
type Response struct {
	Chart Chart `json:"chart"`
}

// Chart wraps the result list and the optional API error.
type Chart struct {
	Result []Result    `json:"result"`
	Error  *ChartError `json:"error"`
}

// ChartError is the error object Yahoo embeds in failed chart responses.
type ChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Result is one instrument's chart.
type Result struct {
	Meta       Meta                `json:"meta"`
	Timestamp  []int64             `json:"timestamp"`
	Indicators IndicatorsContainer `json:"indicators"`
}

// Meta carries symbol metadata.
type Meta struct {
	Currency         string `json:"currency"`
	Symbol           string `json:"symbol"`
	ExchangeName     string `json:"exchangeName"`
	FullExchangeName string `json:"fullExchangeName"`
	LongName         string `json:"longName"`
	Shortname        string `json:"shortName"`
	DataGranularity  string `json:"dataGranularity"`
}

// IndicatorsContainer holds the quote arrays.
type IndicatorsContainer struct {
	Quote []Quote `json:"quote"`
}

// Quote holds parallel OHLCV arrays indexed like Result.Timestamp.
type Quote struct {
	Open   []*float64 `json:"open"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
}

// PriceChart represents a parsed and structured price chart from Yahoo Finance.
// Slots where any price was null are dropped during parsing.
type PriceChart struct {
	Currency         string       `json:"currency"`
	Symbol           string       `json:"symbol"`
	ExchangeName     string       `json:"exchangeName"`
	FullExchangeName string       `json:"fullExchangeName"`
	LongName         string       `json:"longName"`
	Shortname        string       `json:"shortName"`
	Indicators       []Indicators `json:"indicators"`
}

// Indicators represents a single period's price data.
//
// Fields:
//   - Date: Start of the period in UTC
//   - PriceOpen: Opening price for the period
//   - PriceClose: Closing price for the period
//   - PriceHigh: Highest price during the period
//   - PriceLow: Lowest price during the period
//   - Volume: Number of shares traded during the period
type Indicators struct {
	Date       time.Time
	PriceOpen  float64
	PriceClose float64
	Volume     int64
	PriceHigh  float64
	PriceLow   float64
}
