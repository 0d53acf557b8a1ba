package services

import (
	"context"
	"time"

	domain "github.com/taskilo/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	BookingInput        = domain.BookingInput
	PricingResult       = domain.PricingResult
	BillingAddress      = domain.BillingAddress
	IdentityBindings    = domain.IdentityBindings
	Draft               = domain.Draft
	DraftRecord         = domain.DraftRecord
	AuthorizationHandle = domain.AuthorizationHandle
	CustomerProfile     = domain.CustomerProfile
	ProviderProfile     = domain.ProviderProfile
	PaymentEvent        = domain.PaymentEvent
	SystemHealthReport  = domain.SystemHealthReport
)

// Caller identifies the signed-in customer on outbound calls to the backend functions.
type Caller struct {
	UID         string
	Email       string
	DisplayName string
	IDToken     string
}

// Authenticated reports whether the caller carries a verified session.
func (c Caller) Authenticated() bool {
	return c.UID != "" && c.IDToken != ""
}

// Checkout collaborators -----------------------------------------------------

// CheckoutContextStore persists the per-session booking context (the values a
// customer entered on earlier steps). Save merges keys; an empty value deletes the key.
type CheckoutContextStore interface {
	Load(ctx context.Context, sessionID string) (map[string]string, error)
	Save(ctx context.Context, sessionID string, values map[string]string) error
	Clear(ctx context.Context, sessionID string) error
}

// CustomerProfileReader loads stored customer profiles used as booking defaults.
type CustomerProfileReader interface {
	CustomerProfile(ctx context.Context, uid string) (CustomerProfile, error)
}

// DraftFunctions creates temporary job drafts on behalf of the caller.
type DraftFunctions interface {
	CreateTemporaryJobDraft(ctx context.Context, caller Caller, input BookingInput) (Draft, error)
}

// CustomerFunctions upserts the caller's payment customer.
type CustomerFunctions interface {
	GetOrCreateStripeCustomer(ctx context.Context, caller Caller, req CustomerIdentityRequest) (string, error)
}

// ProviderFunctions looks up public provider profiles.
type ProviderFunctions interface {
	SearchCompanyProfile(ctx context.Context, providerID string) (ProviderProfile, error)
}

// PaymentIntentFunctions requests payment authorization handles.
type PaymentIntentFunctions interface {
	CreatePaymentIntent(ctx context.Context, caller Caller, req PaymentIntentRequest) (string, error)
}

// CustomerIdentityRequest is the payload of the customer upsert call.
type CustomerIdentityRequest struct {
	Email   string
	Name    string
	Phone   string
	Address *BillingAddress
}

// PaymentIntentRequest is the payload of the payment authorization call.
type PaymentIntentRequest struct {
	Amount             int64
	Currency           string
	ConnectedAccountID string
	TaskID             string
	FirebaseUserID     string
	StripeCustomerID   string
	CustomerName       string
	CustomerEmail      string
	BillingDetails     BillingAddress
}

// Backend services -----------------------------------------------------------

// DraftService owns temporary job drafts created right before payment.
type DraftService interface {
	CreateTemporaryJobDraft(ctx context.Context, cmd CreateDraftCommand) (Draft, error)
	GetDraft(ctx context.Context, draftID string) (DraftRecord, error)
}

// CustomerService upserts processor customers for signed-in users.
type CustomerService interface {
	GetOrCreateStripeCustomer(ctx context.Context, cmd EnsureCustomerCommand) (string, error)
}

// ProviderDirectory exposes public provider profiles.
type ProviderDirectory interface {
	CompanyProfile(ctx context.Context, providerID string) (ProviderProfile, error)
}

// PaymentIntentService creates payment intents for drafts.
type PaymentIntentService interface {
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
}

// PaymentEventService processes processor webhooks for draft payments.
type PaymentEventService interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (PaymentWebhookResult, error)
}

// DraftSweeper removes expired drafts.
type DraftSweeper interface {
	Sweep(ctx context.Context, cmd SweepDraftsCommand) (SweepDraftsResult, error)
}

// PaymentEventPublisher fans payment events out to downstream consumers.
type PaymentEventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event PaymentEvent) (string, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type CreateDraftCommand struct {
	OwnerUID string
	Input    BookingInput
}

type EnsureCustomerCommand struct {
	UID     string
	Email   string
	Name    string
	Phone   string
	Address *BillingAddress
}

type CreatePaymentIntentCommand struct {
	CallerUID          string
	Amount             int64
	Currency           string
	ConnectedAccountID string
	DraftID            string
	FirebaseUserID     string
	StripeCustomerID   string
	CustomerName       string
	CustomerEmail      string
	BillingDetails     *BillingAddress
}

type PaymentIntentResult struct {
	PaymentIntentID      string
	ClientSecret         string
	Amount               int64
	ApplicationFeeAmount int64
	Currency             string
}

type PaymentWebhookResult struct {
	EventID   string
	EventType string
	DraftID   string
	Handled   bool
}

type SweepDraftsCommand struct {
	Now       time.Time
	BatchSize int
}

type SweepDraftsResult struct {
	Deleted int
	Scanned int
}
