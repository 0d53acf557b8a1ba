package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/taskilo/api/internal/domain"
)

const defaultDayRateCategory = "mietkoch"

var (
	durationNumberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	centsPerUnit          = decimal.NewFromInt(100)
)

// PriceQuoteRequest carries the pricing inputs of one booking.
type PriceQuoteRequest struct {
	HourlyRate     decimal.Decimal
	DateFrom       string
	DateTo         string
	DurationString string
	Category       string
	Subcategory    string
}

// PriceChangedEvent is emitted when a quote changes the billable price.
type PriceChangedEvent struct {
	Previous domain.PricingResult
	Current  domain.PricingResult
}

// PriceChangedListener receives price changes after the engine state is updated.
type PriceChangedListener func(context.Context, PriceChangedEvent)

// PricingEngine wraps CalculatePrice and remembers the last quote so downstream
// consumers can react to price changes.
type PricingEngine struct {
	dayRateTags []string
	logger      func(context.Context, string, map[string]any)

	mu        sync.Mutex
	last      domain.PricingResult
	hasQuote  bool
	listeners []PriceChangedListener
}

// PricingEngineDeps configures the day-rate categories used for quotes.
type PricingEngineDeps struct {
	DayRateCategories []string
	Logger            func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs a pricing engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	tags := normalizeDayRateTags(deps.DayRateCategories)
	if len(tags) == 0 {
		return nil, errors.New("pricing engine: at least one day-rate category is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{dayRateTags: tags, logger: logger}, nil
}

// Subscribe registers a listener for price changes.
func (e *PricingEngine) Subscribe(listener PriceChangedListener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()
}

// Quote prices the request and notifies listeners when the price differs from the previous quote.
func (e *PricingEngine) Quote(ctx context.Context, req PriceQuoteRequest) domain.PricingResult {
	result := calculatePrice(req, e.dayRateTags)

	e.mu.Lock()
	previous := e.last
	changed := !e.hasQuote || previous.PriceInCents != result.PriceInCents
	e.last = result
	e.hasQuote = true
	listeners := append([]PriceChangedListener(nil), e.listeners...)
	e.mu.Unlock()

	if result.Err != "" {
		e.logger(ctx, "pricing.quote_failed", map[string]any{
			"error":    string(result.Err),
			"duration": req.DurationString,
			"dateFrom": req.DateFrom,
			"dateTo":   req.DateTo,
		})
	}
	if !changed {
		return result
	}
	event := PriceChangedEvent{Previous: previous, Current: result}
	for _, listener := range listeners {
		listener(ctx, event)
	}
	return result
}

// Last returns the most recent quote.
func (e *PricingEngine) Last() (domain.PricingResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.hasQuote
}

// IsDayRate reports whether the category or subcategory is billed per calendar day.
func (e *PricingEngine) IsDayRate(category, subcategory string) bool {
	return isDayRateCategory(e.dayRateTags, category, subcategory)
}

// CalculatePrice is the pure pricing function using the default day-rate categories.
func CalculatePrice(req PriceQuoteRequest) domain.PricingResult {
	return calculatePrice(req, []string{defaultDayRateCategory})
}

func calculatePrice(req PriceQuoteRequest, dayRateTags []string) domain.PricingResult {
	if !req.HourlyRate.IsPositive() {
		return domain.PricingResult{Err: domain.PricingErrorMissingRate}
	}

	hours, parsed := parseDurationHours(req.DurationString)

	days := 1
	from, fromOK := parseBookingDate(req.DateFrom)
	to, toOK := parseBookingDate(req.DateTo)
	if fromOK && toOK {
		if to.Before(from) {
			return domain.PricingResult{Err: domain.PricingErrorInvalidDateRange}
		}
		days = int(to.Sub(from).Hours()/24) + 1
	}

	result := domain.PricingResult{NumberOfDays: days}
	switch {
	case isDayRateCategory(dayRateTags, req.Category, req.Subcategory) && days > 0:
		if !parsed {
			result.Err = domain.PricingErrorInvalidDuration
			return result
		}
		result.BillableHours = hours.Mul(decimal.NewFromInt(int64(days)))
		result.DisplayLabel = fmt.Sprintf("%d Tag(e) à %s Stunde(n) (Gesamt: %s Std.)", days, hours.String(), result.BillableHours.String())
	case parsed:
		result.BillableHours = hours
		result.DisplayLabel = fmt.Sprintf("%s Stunde(n)", hours.String())
	default:
		result.BillableHours = decimal.NewFromInt(1)
		result.DisplayLabel = "1 Stunde (Standard)"
	}

	if !result.BillableHours.IsPositive() {
		return domain.PricingResult{NumberOfDays: days, Err: domain.PricingErrorInvalidDuration}
	}

	cents := req.HourlyRate.Mul(result.BillableHours).Mul(centsPerUnit).Round(0)
	result.PriceInCents = cents.IntPart()
	if result.PriceInCents <= 0 {
		return domain.PricingResult{NumberOfDays: days, Err: domain.PricingErrorMissingRate}
	}
	return result
}

// parseDurationHours extracts the first decimal number; a comma is read as decimal separator.
func parseDurationHours(value string) (decimal.Decimal, bool) {
	match := durationNumberPattern.FindString(value)
	if match == "" {
		return decimal.Zero, false
	}
	hours, err := decimal.NewFromString(strings.Replace(match, ",", ".", 1))
	if err != nil {
		return decimal.Zero, false
	}
	return hours, true
}

func parseBookingDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true
	}
	if len(value) > len(time.DateOnly) {
		value = value[:len(time.DateOnly)]
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func isDayRateCategory(tags []string, values ...string) bool {
	fold := cases.Fold()
	for _, value := range values {
		folded := fold.String(strings.TrimSpace(value))
		if folded == "" {
			continue
		}
		for _, tag := range tags {
			if strings.Contains(folded, tag) {
				return true
			}
		}
	}
	return false
}

func normalizeDayRateTags(tags []string) []string {
	if len(tags) == 0 {
		tags = []string{defaultDayRateCategory}
	}
	fold := cases.Fold()
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = fold.String(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
