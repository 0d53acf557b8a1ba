package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerType distinguishes private customers from business customers.
type CustomerType string

const (
	// CustomerTypePrivate books with personal address fields.
	CustomerTypePrivate CustomerType = "private"
	// CustomerTypeBusiness books with company address fields.
	CustomerTypeBusiness CustomerType = "business"
)

// ParseCustomerType normalises stored profile values (kunde, firma) and API values.
func ParseCustomerType(value string) (CustomerType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "private", "kunde", "privat":
		return CustomerTypePrivate, true
	case "business", "firma", "company":
		return CustomerTypeBusiness, true
	default:
		return "", false
	}
}

// BookingInput is the canonical order draft input produced by parameter reconciliation.
type BookingInput struct {
	CustomerType   CustomerType
	Category       string
	Subcategory    string
	Description    string
	JobStreet      string
	JobPostalCode  string
	JobCity        string
	JobCountry     string
	DateFrom       string
	DateTo         string
	TimePreference string
	ProviderID     string
	DurationString string
	TotalHours     float64
	PriceInCents   int64
	TempDraftID    string
}

// PricingErrorKind classifies pricing failures. The empty value means success.
type PricingErrorKind string

const (
	// PricingErrorMissingRate reports an absent or zero hourly rate.
	PricingErrorMissingRate PricingErrorKind = "MissingRate"
	// PricingErrorInvalidDateRange reports dateTo earlier than dateFrom.
	PricingErrorInvalidDateRange PricingErrorKind = "InvalidDateRange"
	// PricingErrorInvalidDuration reports a non-positive billable duration.
	PricingErrorInvalidDuration PricingErrorKind = "InvalidDuration"
)

// PricingResult is derived on demand and never persisted.
type PricingResult struct {
	BillableHours decimal.Decimal
	NumberOfDays  int
	DisplayLabel  string
	PriceInCents  int64
	Err           PricingErrorKind
}

// OK reports whether the result carries a billable price.
func (r PricingResult) OK() bool {
	return r.Err == "" && r.PriceInCents > 0
}

// BillingAddress is the payer address forwarded to the payment processor.
type BillingAddress struct {
	Name       string
	Email      string
	Phone      string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// MissingFields lists the required address fields that are empty.
func (a BillingAddress) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	return missing
}

// Complete reports whether line1, postal code, city and country are all present.
func (a BillingAddress) Complete() bool {
	return len(a.MissingFields()) == 0
}

// IdentityBindings holds the payment identities resolved for one checkout session.
type IdentityBindings struct {
	CustomerPaymentID string
	ProviderPayoutID  string
}

// Resolved reports whether both identities are known.
func (b IdentityBindings) Resolved() bool {
	return b.CustomerPaymentID != "" && b.ProviderPayoutID != ""
}

// Draft is the client view of a created order draft.
type Draft struct {
	ID               string
	ProviderPayoutID string
}

// DraftStatus tracks the lifecycle of a temporary job draft.
type DraftStatus string

const (
	DraftStatusPending DraftStatus = "pending"
	DraftStatusPaid    DraftStatus = "paid"
	DraftStatusFailed  DraftStatus = "failed"
	DraftStatusExpired DraftStatus = "expired"
)

// DraftRecord is the stored temporary job draft.
type DraftRecord struct {
	ID               string
	OwnerUID         string
	Input            BookingInput
	ProviderPayoutID string
	Status           DraftStatus
	PaymentIntentID  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ExpiresAt        time.Time
}

// AuthorizationHandle is a single-use payment client secret scoped to a price and draft.
type AuthorizationHandle struct {
	Secret       string
	PriceInCents int64
	DraftID      string
	IssuedAt     time.Time
}

// Valid reports whether the handle carries a secret.
func (h AuthorizationHandle) Valid() bool {
	return h.Secret != ""
}

// CustomerProfile mirrors the stored user profile used for defaults and billing.
type CustomerProfile struct {
	UID                string
	FirstName          string
	LastName           string
	DisplayName        string
	Email              string
	Phone              string
	UserType           string
	Street             string
	HouseNumber        string
	PostalCode         string
	City               string
	Country            string
	CompanyName        string
	CompanyStreet      string
	CompanyHouseNumber string
	CompanyPostalCode  string
	CompanyCity        string
	CompanyCountry     string
	CompanyPhone       string
	StripeCustomerID   string
}

// FullName joins first and last name, falling back to the display name.
func (p CustomerProfile) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		return strings.TrimSpace(p.DisplayName)
	}
	return name
}

// ProviderProfile is the public company profile of a service provider.
type ProviderProfile struct {
	ID                     string
	CompanyName            string
	HourlyRate             decimal.Decimal
	PostalCode             string
	StripeConnectAccountID string
}

// Payable reports whether the provider can receive payouts.
func (p ProviderProfile) Payable() bool {
	return strings.TrimSpace(p.StripeConnectAccountID) != ""
}

// PaymentEventType enumerates published payment lifecycle events.
type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "payment.succeeded"
	PaymentEventFailed    PaymentEventType = "payment.failed"
)

// PaymentEvent is published after a processor webhook settles a draft payment.
type PaymentEvent struct {
	ID               string
	Type             PaymentEventType
	DraftID          string
	PaymentIntentID  string
	CustomerUID      string
	ProviderID       string
	ProviderPayoutID string
	AmountInCents    int64
	FeeInCents       int64
	Currency         string
	FailureMessage   string
	OccurredAt       time.Time
}
