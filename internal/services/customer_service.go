package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskilo/api/internal/payments"
	"github.com/taskilo/api/internal/repositories"
)

// PaymentGateway is the subset of payments.Manager used by the backend services.
type PaymentGateway interface {
	EnsureCustomer(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CustomerRequest) (payments.Customer, error)
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error)
	ParseWebhook(ctx context.Context, paymentCtx payments.PaymentContext, payload []byte, signature string) (payments.WebhookEvent, error)
}

var _ PaymentGateway = (*payments.Manager)(nil)

// CustomerServiceDeps defines the dependencies for customer identity lookups.
type CustomerServiceDeps struct {
	Users    repositories.UserRepository
	Payments PaymentGateway
	Currency string
	Logger   func(context.Context, string, map[string]any)
}

type customerService struct {
	users    repositories.UserRepository
	payments PaymentGateway
	currency string
	logger   func(context.Context, string, map[string]any)
}

var _ CustomerService = (*customerService)(nil)

// NewCustomerService constructs the processor customer upsert service.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Users == nil {
		return nil, errors.New("customer service: user repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("customer service: payment gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customerService{
		users:    deps.Users,
		payments: deps.Payments,
		currency: strings.ToUpper(strings.TrimSpace(deps.Currency)),
		logger:   logger,
	}, nil
}

// GetOrCreateStripeCustomer returns the customer id stored on the profile or upserts one
// at the processor and stores it.
func (s *customerService) GetOrCreateStripeCustomer(ctx context.Context, cmd EnsureCustomerCommand) (string, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return "", ErrAuthenticationRequired
	}
	email := strings.TrimSpace(cmd.Email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrCustomerInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, uid)
	switch {
	case err == nil:
		if existing := strings.TrimSpace(profile.StripeCustomerID); existing != "" {
			return existing, nil
		}
	case isRepoNotFound(err):
	default:
		s.logger(ctx, "customers.profile_read_failed", map[string]any{
			"uid":   uid,
			"error": err.Error(),
		})
	}

	req := payments.CustomerRequest{
		Email:    email,
		Name:     strings.TrimSpace(cmd.Name),
		Phone:    strings.TrimSpace(cmd.Phone),
		Metadata: map[string]string{"firebaseUserId": uid},
	}
	if cmd.Address != nil {
		req.Address = &payments.Address{
			Line1:      cmd.Address.Line1,
			Line2:      cmd.Address.Line2,
			City:       cmd.Address.City,
			PostalCode: cmd.Address.PostalCode,
			Country:    cmd.Address.Country,
		}
	}

	customer, err := s.payments.EnsureCustomer(ctx, payments.PaymentContext{Currency: s.currency}, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentIntentProviderUnavailable, err)
	}
	if err := s.users.SetStripeCustomerID(ctx, uid, customer.ID); err != nil {
		return "", fmt.Errorf("customer service: store customer id: %w", err)
	}

	s.logger(ctx, "customers.resolved", map[string]any{
		"uid":        uid,
		"customerId": customer.ID,
		"created":    customer.Created,
	})
	return customer.ID, nil
}
