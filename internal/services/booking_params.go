package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskilo/api/internal/domain"
)

// Booking fields resolved by ReconcileBookingParams.
const (
	FieldProviderID     = "providerId"
	FieldPostalCode     = "postalCode"
	FieldDateFrom       = "dateFrom"
	FieldDateTo         = "dateTo"
	FieldTimePreference = "time"
	FieldDuration       = "duration"
	FieldDescription    = "description"
	FieldTempDraftID    = "tempDraftId"
	FieldCategory       = "category"
	FieldSubcategory    = "subcategory"
	FieldCustomerType   = "customerType"
	FieldStreet         = "street"
	FieldCity           = "city"
	FieldCountry        = "country"
)

const (
	sessionKeyPriceInCents = "jobCalculatedPriceInCents"
	queryKeyTotalCostCents = "additionalData[totalcost]"
	queryKeyPriceEuros     = "price"
)

// ParamSource names where a reconciled value came from.
type ParamSource string

const (
	ParamSourceSession ParamSource = "session"
	ParamSourceQuery   ParamSource = "query"
	ParamSourceProfile ParamSource = "profile"
	ParamSourceDerived ParamSource = "derived"
)

// FieldRule describes the lookup keys of one booking field per source. QueryKeys
// are consulted in order, so namespaced keys go before legacy keys.
type FieldRule struct {
	Field      string
	SessionKey string
	QueryKeys  []string
	ProfileKey string
	// Normalize rewrites a candidate value; ok=false skips the candidate.
	Normalize func(string) (string, bool)
	// Fallback derives a value from already resolved fields when every source is empty.
	Fallback func(values map[string]string) string
	Default  string
}

// Reconciled is the canonical booking input plus provenance for every field.
type Reconciled struct {
	Input       domain.BookingInput
	Values      map[string]string
	Sources     map[string]ParamSource
	PriceSource ParamSource
	// Session is the raw session context the values were resolved from.
	Session map[string]string
}

// DefaultBookingParamRules returns the priority table used for checkout sessions.
func DefaultBookingParamRules(taxonomy *CategoryTaxonomy) []FieldRule {
	return []FieldRule{
		{Field: FieldProviderID, SessionKey: "selectedAnbieterId", QueryKeys: []string{"anbieterId"}},
		{Field: FieldPostalCode, SessionKey: "jobPostalCode", QueryKeys: []string{"postalCode"}, ProfileKey: "postalCode"},
		{Field: FieldDateFrom, SessionKey: "jobDateFrom", QueryKeys: []string{"additionalData[date]", "dateFrom"}},
		{Field: FieldDateTo, SessionKey: "jobDateTo", QueryKeys: []string{"additionalData[dateTo]", "dateTo"}},
		{Field: FieldTimePreference, SessionKey: "jobTimePreference", QueryKeys: []string{"additionalData[time]", "time"}},
		{Field: FieldDuration, SessionKey: "jobDurationString", QueryKeys: []string{"additionalData[duration]", "auftragsDauer"}},
		{Field: FieldDescription, SessionKey: "description", QueryKeys: []string{"description"}},
		{Field: FieldTempDraftID, SessionKey: "tempDraftId", QueryKeys: []string{"tempDraftId"}},
		{Field: FieldSubcategory, SessionKey: "selectedSubcategory", QueryKeys: []string{"unterkategorie", "selectedSubcategory"}},
		{
			Field:      FieldCategory,
			SessionKey: "selectedCategory",
			QueryKeys:  []string{"selectedCategory"},
			Fallback: func(values map[string]string) string {
				category, _ := taxonomy.CategoryForSubcategory(values[FieldSubcategory])
				return category
			},
		},
		{
			Field:      FieldCustomerType,
			SessionKey: "customerType",
			QueryKeys:  []string{"customerType"},
			ProfileKey: "user_type",
			Normalize:  normalizeCustomerType,
			Default:    string(domain.CustomerTypePrivate),
		},
		{Field: FieldStreet, SessionKey: "jobStreet", ProfileKey: "street"},
		{Field: FieldCity, SessionKey: "jobCity", ProfileKey: "city"},
		{Field: FieldCountry, SessionKey: "jobCountry", ProfileKey: "country"},
	}
}

// ReconcileBookingParams merges the session context, URL query and profile
// defaults. Per field the session wins over the query, the query over the profile.
func ReconcileBookingParams(session, query, profile map[string]string, rules []FieldRule) Reconciled {
	out := Reconciled{
		Values:  make(map[string]string, len(rules)),
		Sources: make(map[string]ParamSource, len(rules)),
	}

	for _, rule := range rules {
		value, source := resolveField(rule, session, query, profile)
		if value == "" {
			continue
		}
		out.Values[rule.Field] = value
		out.Sources[rule.Field] = source
	}
	for _, rule := range rules {
		if out.Values[rule.Field] != "" {
			continue
		}
		if rule.Fallback != nil {
			if value := strings.TrimSpace(rule.Fallback(out.Values)); value != "" {
				out.Values[rule.Field] = value
				out.Sources[rule.Field] = ParamSourceDerived
				continue
			}
		}
		if rule.Default != "" {
			out.Values[rule.Field] = rule.Default
			out.Sources[rule.Field] = ParamSourceDerived
		}
	}

	out.Input = bookingInputFromValues(out.Values)
	out.Input.PriceInCents, out.PriceSource = resolvePriceInCents(session, query)
	return out
}

// SessionValues returns the session context entries for every resolved field.
func (r Reconciled) SessionValues(rules []FieldRule) map[string]string {
	values := make(map[string]string, len(rules)+1)
	for _, rule := range rules {
		if rule.SessionKey == "" {
			continue
		}
		if value, ok := r.Values[rule.Field]; ok {
			values[rule.SessionKey] = value
		}
	}
	if r.Input.PriceInCents > 0 {
		values[sessionKeyPriceInCents] = strconv.FormatInt(r.Input.PriceInCents, 10)
	}
	return values
}

func resolveField(rule FieldRule, session, query, profile map[string]string) (string, ParamSource) {
	if rule.SessionKey != "" {
		if value, ok := candidate(rule, session[rule.SessionKey]); ok {
			return value, ParamSourceSession
		}
	}
	for _, key := range rule.QueryKeys {
		if value, ok := candidate(rule, query[key]); ok {
			return value, ParamSourceQuery
		}
	}
	if rule.ProfileKey != "" {
		if value, ok := candidate(rule, profile[rule.ProfileKey]); ok {
			return value, ParamSourceProfile
		}
	}
	return "", ""
}

func candidate(rule FieldRule, raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	if rule.Normalize != nil {
		return rule.Normalize(value)
	}
	return value, true
}

func normalizeCustomerType(value string) (string, bool) {
	kind, ok := domain.ParseCustomerType(value)
	return string(kind), ok
}

func bookingInputFromValues(values map[string]string) domain.BookingInput {
	return domain.BookingInput{
		CustomerType:   domain.CustomerType(values[FieldCustomerType]),
		Category:       values[FieldCategory],
		Subcategory:    values[FieldSubcategory],
		Description:    values[FieldDescription],
		JobStreet:      values[FieldStreet],
		JobPostalCode:  values[FieldPostalCode],
		JobCity:        values[FieldCity],
		JobCountry:     values[FieldCountry],
		DateFrom:       values[FieldDateFrom],
		DateTo:         values[FieldDateTo],
		TimePreference: values[FieldTimePreference],
		ProviderID:     values[FieldProviderID],
		DurationString: values[FieldDuration],
		TempDraftID:    values[FieldTempDraftID],
	}
}

// resolvePriceInCents accepts integer cents from the session or the namespaced
// total-cost key, or a decimal euro amount from the legacy price key.
func resolvePriceInCents(session, query map[string]string) (int64, ParamSource) {
	if cents, ok := parseCents(session[sessionKeyPriceInCents]); ok {
		return cents, ParamSourceSession
	}
	if cents, ok := parseCents(query[queryKeyTotalCostCents]); ok {
		return cents, ParamSourceQuery
	}
	if cents, ok := parseEuroAmount(query[queryKeyPriceEuros]); ok {
		return cents, ParamSourceQuery
	}
	return 0, ""
}

func parseCents(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if cents, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return cents, cents > 0
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsInteger() || !amount.IsPositive() {
		return 0, false
	}
	return amount.IntPart(), true
}

func parseEuroAmount(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return 0, false
	}
	cents := amount.Mul(centsPerUnit).Round(0).IntPart()
	return cents, cents > 0
}

// profileDefaults flattens the stored profile into the keys used by the rule table.
func profileDefaults(profile domain.CustomerProfile) map[string]string {
	street := strings.TrimSpace(strings.TrimSpace(profile.Street) + " " + strings.TrimSpace(profile.HouseNumber))
	return map[string]string{
		"postalCode": profile.PostalCode,
		"user_type":  profile.UserType,
		"street":     street,
		"city":       profile.City,
		"country":    profile.Country,
	}
}

// BookingParamsLoader runs reconciliation once per checkout session and writes the
// resolved values back into the session context.
type BookingParamsLoader struct {
	sessionID   string
	contexts    CheckoutContextStore
	profiles    CustomerProfileReader
	rules       []FieldRule
	settleDelay time.Duration
	logger      func(context.Context, string, map[string]any)

	mu      sync.Mutex
	loaded  bool
	result  Reconciled
	profile domain.CustomerProfile
}

// BookingParamsLoaderDeps defines the collaborators of a BookingParamsLoader.
type BookingParamsLoaderDeps struct {
	SessionID   string
	Contexts    CheckoutContextStore
	Profiles    CustomerProfileReader
	Rules       []FieldRule
	SettleDelay time.Duration
	Logger      func(context.Context, string, map[string]any)
}

// NewBookingParamsLoader constructs a loader for one checkout session.
func NewBookingParamsLoader(deps BookingParamsLoaderDeps) (*BookingParamsLoader, error) {
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, errors.New("booking params loader: session id is required")
	}
	if deps.Contexts == nil {
		return nil, errors.New("booking params loader: context store is required")
	}
	if len(deps.Rules) == 0 {
		return nil, errors.New("booking params loader: rules are required")
	}
	if deps.SettleDelay < 0 {
		deps.SettleDelay = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &BookingParamsLoader{
		sessionID:   deps.SessionID,
		contexts:    deps.Contexts,
		profiles:    deps.Profiles,
		rules:       deps.Rules,
		settleDelay: deps.SettleDelay,
		logger:      logger,
	}, nil
}

// Load reconciles the booking input. Subsequent calls return the cached result.
func (l *BookingParamsLoader) Load(ctx context.Context, uid string, query map[string]string) (Reconciled, domain.CustomerProfile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.result, l.profile, nil
	}

	if l.settleDelay > 0 {
		select {
		case <-time.After(l.settleDelay):
		case <-ctx.Done():
			return Reconciled{}, domain.CustomerProfile{}, ctx.Err()
		}
	}

	session, err := l.contexts.Load(ctx, l.sessionID)
	if err != nil {
		return Reconciled{}, domain.CustomerProfile{}, fmt.Errorf("booking params: load session context: %w", err)
	}

	var profile domain.CustomerProfile
	if uid != "" && l.profiles != nil {
		profile, err = l.profiles.CustomerProfile(ctx, uid)
		if err != nil {
			if ctx.Err() != nil {
				return Reconciled{}, domain.CustomerProfile{}, ctx.Err()
			}
			l.logger(ctx, "booking_params.profile_unavailable", map[string]any{"uid": uid, "error": err.Error()})
			profile = domain.CustomerProfile{UID: uid}
		}
	}

	result := ReconcileBookingParams(session, query, profileDefaults(profile), l.rules)
	result.Session = session
	if err := l.contexts.Save(ctx, l.sessionID, result.SessionValues(l.rules)); err != nil {
		return Reconciled{}, domain.CustomerProfile{}, fmt.Errorf("booking params: write session context: %w", err)
	}

	l.logger(ctx, "booking_params.loaded", map[string]any{
		"sessionId":   l.sessionID,
		"sources":     result.Sources,
		"priceSource": string(result.PriceSource),
	})

	l.loaded = true
	l.result = result
	l.profile = profile
	return result, profile, nil
}

// Apply writes user edits to the session context and returns the updated input.
// Keys are booking field names; unknown fields are rejected.
func (l *BookingParamsLoader) Apply(ctx context.Context, edits map[string]string) (Reconciled, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return Reconciled{}, errors.New("booking params: edits before load")
	}

	byField := make(map[string]FieldRule, len(l.rules))
	for _, rule := range l.rules {
		byField[rule.Field] = rule
	}

	values := make(map[string]string, len(l.result.Values)+len(edits))
	for k, v := range l.result.Values {
		values[k] = v
	}
	sources := make(map[string]ParamSource, len(l.result.Sources)+len(edits))
	for k, v := range l.result.Sources {
		sources[k] = v
	}
	writes := make(map[string]string, len(edits))
	for field, raw := range edits {
		rule, ok := byField[field]
		if !ok || rule.SessionKey == "" {
			return Reconciled{}, fmt.Errorf("%w: %s", ErrBookingUnknownField, field)
		}
		value, ok := candidate(rule, raw)
		if !ok {
			delete(values, field)
			delete(sources, field)
			writes[rule.SessionKey] = ""
			continue
		}
		values[field] = value
		sources[field] = ParamSourceSession
		writes[rule.SessionKey] = value
	}

	session := make(map[string]string, len(l.result.Session)+len(writes))
	for k, v := range l.result.Session {
		session[k] = v
	}
	for k, v := range writes {
		if v == "" {
			delete(session, k)
			continue
		}
		session[k] = v
	}

	next := Reconciled{Values: values, Sources: sources, PriceSource: l.result.PriceSource, Session: session}
	next.Input = bookingInputFromValues(values)
	next.Input.PriceInCents = l.result.Input.PriceInCents
	next.Input.TotalHours = l.result.Input.TotalHours

	if err := l.contexts.Save(ctx, l.sessionID, writes); err != nil {
		return Reconciled{}, fmt.Errorf("booking params: write session context: %w", err)
	}
	l.result = next
	return next, nil
}

// RecordPrice stores the computed price and hours in the session context.
func (l *BookingParamsLoader) RecordPrice(ctx context.Context, priceInCents int64, totalHours float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.result.Input.PriceInCents = priceInCents
	l.result.Input.TotalHours = totalHours
	l.result.PriceSource = ParamSourceDerived
	value := ""
	if priceInCents > 0 {
		value = strconv.FormatInt(priceInCents, 10)
	}
	return l.contexts.Save(ctx, l.sessionID, map[string]string{sessionKeyPriceInCents: value})
}

// Current returns the last reconciled input.
func (l *BookingParamsLoader) Current() (Reconciled, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result, l.loaded
}
