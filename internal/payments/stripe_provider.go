package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeCustomerAPI interface {
	FindByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	customers stripeCustomerAPI
	intents   stripePaymentIntentAPI
}

// stripeCustomerSearch adapts the search iterator of the customer client.
type stripeCustomerSearch struct {
	client *customer.Client
}

func (s stripeCustomerSearch) FindByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("email:'%s'", strings.ReplaceAll(email, "'", "\\'"))
	params.Limit = stripe.Int64(1)
	iter := s.client.Search(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	return nil, iter.Err()
}

func (s stripeCustomerSearch) New(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return s.client.New(params)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs. Payment intents
// are destination charges: funds go to the provider's connected account minus the
// application fee.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			customers: stripeCustomerSearch{client: sc.Customers},
			intents:   sc.PaymentIntents,
		}
	}

	if clients.customers == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// EnsureCustomer returns the customer with the given email, creating it when absent.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	if p == nil {
		return Customer{}, errors.New("stripe: provider is nil")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return Customer{}, errors.New("stripe: customer email is required")
	}

	existing, err := p.api.customers.FindByEmail(ctx, email)
	if err != nil {
		return Customer{}, fmt.Errorf("stripe: search customer: %w", err)
	}
	if existing != nil && existing.ID != "" {
		return Customer{ID: existing.ID, Email: existing.Email}, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.SetIdempotencyKey("customer:" + strings.ToLower(email))
	if name := strings.TrimSpace(req.Name); name != "" {
		params.Name = stripe.String(name)
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		params.Phone = stripe.String(phone)
	}
	if req.Address != nil {
		params.Address = stripeAddress(*req.Address)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	created, err := p.api.customers.New(params)
	if err != nil {
		return Customer{}, fmt.Errorf("stripe: create customer: %w", err)
	}
	p.logger(ctx, "payments.stripe.customer.created", map[string]any{
		"customerId": created.ID,
	})
	return Customer{ID: created.ID, Email: created.Email, Created: true}, nil
}

// CreatePaymentIntent creates a destination charge for the connected account.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	if p == nil {
		return PaymentIntent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("stripe: amount must be positive")
	}
	account := strings.TrimSpace(req.ConnectedAccountID)
	if account == "" {
		return PaymentIntent{}, errors.New("stripe: connected account is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(defaultString(req.Currency, string(stripe.CurrencyEUR)))),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(account),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.ApplicationFeeAmount > 0 {
		params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeAmount)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	if req.BillingAddress != nil && req.BillingName != "" {
		params.Shipping = &stripe.ShippingDetailsParams{
			Name:    stripe.String(req.BillingName),
			Address: stripeAddress(*req.BillingAddress),
		}
		if req.BillingPhone != "" {
			params.Shipping.Phone = stripe.String(req.BillingPhone)
		}
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent":  intent.ID,
		"amount":         intent.Amount,
		"applicationFee": intent.ApplicationFeeAmount,
		"destination":    account,
	})

	return PaymentIntent{
		ID:                   intent.ID,
		Provider:             "stripe",
		ClientSecret:         intent.ClientSecret,
		Status:               stripeIntentStatus(intent.Status),
		Amount:               intent.Amount,
		ApplicationFeeAmount: intent.ApplicationFeeAmount,
		Currency:             strings.ToUpper(string(intent.Currency)),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes payment intent events.
// Events for other objects are returned with only ID, Type and CreatedAt set.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidWebhook)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	out := WebhookEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode payment intent: %v", ErrInvalidWebhook, err)
	}
	out.IntentID = intent.ID
	out.Status = stripeIntentStatus(intent.Status)
	out.Amount = intent.Amount
	out.Currency = strings.ToUpper(string(intent.Currency))
	out.Metadata = intent.Metadata
	if intent.LastPaymentError != nil {
		out.FailureMessage = intent.LastPaymentError.Msg
	}

	p.logger(ctx, "payments.stripe.webhook.parsed", map[string]any{
		"eventId":       out.ID,
		"type":          out.Type,
		"paymentIntent": out.IntentID,
	})
	return out, nil
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func stripeAddress(addr Address) *stripe.AddressParams {
	params := &stripe.AddressParams{
		Line1:      stripe.String(addr.Line1),
		City:       stripe.String(addr.City),
		PostalCode: stripe.String(addr.PostalCode),
		Country:    stripe.String(strings.ToUpper(addr.Country)),
	}
	if addr.Line2 != "" {
		params.Line2 = stripe.String(addr.Line2)
	}
	return params
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
