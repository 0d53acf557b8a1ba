package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrInvalidWebhook is returned when a webhook payload or signature cannot be verified.
var ErrInvalidWebhook = errors.New("payments: invalid webhook")

// Address is the postal address attached to customers and payment intents.
type Address struct {
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// CustomerRequest identifies the payer to look up or create.
type CustomerRequest struct {
	Email    string
	Name     string
	Phone    string
	Address  *Address
	Metadata map[string]string
}

// Customer is the PSP customer record.
type Customer struct {
	ID      string
	Email   string
	Created bool
}

// PaymentIntentRequest describes a destination charge. The buyer pays Amount; the
// connected account receives Amount minus ApplicationFeeAmount.
type PaymentIntentRequest struct {
	Amount               int64
	Currency             string
	CustomerID           string
	ConnectedAccountID   string
	ApplicationFeeAmount int64
	Description          string
	ReceiptEmail         string
	BillingName          string
	BillingPhone         string
	BillingAddress       *Address
	Metadata             map[string]string
	IdempotencyKey       string
}

// PaymentIntent is the created PSP intent.
type PaymentIntent struct {
	ID                   string
	Provider             string
	ClientSecret         string
	Status               Status
	Amount               int64
	ApplicationFeeAmount int64
	Currency             string
}

// WebhookEvent normalises PSP payment notifications.
type WebhookEvent struct {
	ID             string
	Type           string
	IntentID       string
	Status         Status
	Amount         int64
	Currency       string
	FailureMessage string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	EnsureCustomer(ctx context.Context, req CustomerRequest) (Customer, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	ParseWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// EnsureCustomer delegates to the resolved provider.
func (m *Manager) EnsureCustomer(ctx context.Context, paymentCtx PaymentContext, req CustomerRequest) (Customer, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Customer{}, err
	}
	return provider.EnsureCustomer(ctx, req)
}

// CreatePaymentIntent delegates to the resolved provider.
func (m *Manager) CreatePaymentIntent(ctx context.Context, paymentCtx PaymentContext, req PaymentIntentRequest) (PaymentIntent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent, err := provider.CreatePaymentIntent(ctx, req)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// ParseWebhook verifies a notification with the resolved provider.
func (m *Manager) ParseWebhook(ctx context.Context, paymentCtx PaymentContext, payload []byte, signature string) (WebhookEvent, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return WebhookEvent{}, err
	}
	return provider.ParseWebhook(ctx, payload, signature)
}

// ApplicationFee returns the platform fee for amount in basis points, rounded half up.
func ApplicationFee(amount int64, basisPoints int) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return (amount*int64(basisPoints) + 5000) / 10000
}
