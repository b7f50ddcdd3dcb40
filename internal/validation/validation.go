package validation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(barStructLevel, model.Bar{})
	})
	return validate
}

// barStructLevel enforces the OHLC relationships the tags cannot express.
func barStructLevel(sl validator.StructLevel) {
	bar := sl.Current().Interface().(model.Bar)

	if !bar.Interval.Valid() {
		sl.ReportError(bar.Interval, "interval", "Interval", "interval", string(bar.Interval))
	}
	for name, price := range map[string]interface{ IsPositive() bool }{
		"open": bar.Open, "high": bar.High, "low": bar.Low, "close": bar.Close,
	} {
		if !price.IsPositive() {
			sl.ReportError(price, name, name, "gt", "0")
		}
	}
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) || bar.High.LessThan(bar.Low) {
		sl.ReportError(bar.High, "high", "High", "ohlc", "high below open, close or low")
	}
	if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		sl.ReportError(bar.Low, "low", "Low", "ohlc", "low above open or close")
	}
}

// ValidateBar checks a single bar and returns an error wrapping
// apperrors.ErrInvalidBar describing every violated rule.
func ValidateBar(bar model.Bar) error {
	err := instance().Struct(bar)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidBar, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = describe(fe)
	}
	return fmt.Errorf("%w: %s %s @ %s: %s", apperrors.ErrInvalidBar,
		bar.Symbol, bar.Interval, bar.Timestamp.UTC().Format(time.RFC3339), &Error{Fields: fields})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "gt":
		return "must be > " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "ohlc", "interval":
		return fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// Rejection is a bar that failed validation together with the reason.
type Rejection struct {
	Bar model.Bar
	Err error
}

// ValidateBars splits bars into the rows that may be persisted and the rows
// that must be dropped.
func ValidateBars(bars []model.Bar) (valid []model.Bar, rejected []Rejection) {
	valid = make([]model.Bar, 0, len(bars))
	for _, bar := range bars {
		if err := ValidateBar(bar); err != nil {
			rejected = append(rejected, Rejection{Bar: bar, Err: err})
			continue
		}
		valid = append(valid, bar)
	}
	return valid, rejected
}

// ValidateStruct runs tag validation on request structs and returns an
// *Error keyed by field name.
func ValidateStruct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[lowerFirst(fe.Field())] = describe(fe)
	}
	return &Error{Fields: fields}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
