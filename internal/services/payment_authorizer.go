package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// AuthorizationRequest describes the charge a handle is requested for.
type AuthorizationRequest struct {
	Caller            Caller
	PriceInCents      int64
	Currency          string
	ProviderPayoutID  string
	DraftID           string
	CustomerPaymentID string
	Billing           BillingAddress
}

// PaymentAuthorizer keeps at most one valid authorization handle per session.
type PaymentAuthorizer struct {
	intents  PaymentIntentFunctions
	currency string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu          sync.Mutex
	handle      AuthorizationHandle
	latestPrice int64
	lastErr     error
}

// PaymentAuthorizerDeps defines the collaborators of a PaymentAuthorizer.
type PaymentAuthorizerDeps struct {
	Intents  PaymentIntentFunctions
	Currency string
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

// NewPaymentAuthorizer constructs an authorizer with no handle issued.
func NewPaymentAuthorizer(deps PaymentAuthorizerDeps) (*PaymentAuthorizer, error) {
	if deps.Intents == nil {
		return nil, errors.New("payment authorizer: payment intent functions are required")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "eur"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentAuthorizer{
		intents:  deps.Intents,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize returns the current handle when it still matches price and draft,
// otherwise requests a new one. Invalid price or billing never reaches the endpoint.
func (a *PaymentAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (AuthorizationHandle, error) {
	if req.PriceInCents <= 0 {
		return AuthorizationHandle{}, ErrAuthorizationInvalidPrice
	}
	if missing := req.Billing.MissingFields(); len(missing) > 0 {
		return AuthorizationHandle{}, fmt.Errorf("%w: %s", ErrBillingAddressIncomplete, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(req.DraftID) == "" || strings.TrimSpace(req.ProviderPayoutID) == "" || strings.TrimSpace(req.CustomerPaymentID) == "" {
		return AuthorizationHandle{}, ErrAuthorizationInvalidInput
	}
	if !req.Caller.Authenticated() {
		return AuthorizationHandle{}, ErrAuthenticationRequired
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = a.currency
	}

	a.mu.Lock()
	a.latestPrice = req.PriceInCents
	if a.handle.Valid() && a.handle.PriceInCents == req.PriceInCents && a.handle.DraftID == req.DraftID {
		handle := a.handle
		a.mu.Unlock()
		return handle, nil
	}
	a.mu.Unlock()

	secret, err := a.intents.CreatePaymentIntent(ctx, req.Caller, PaymentIntentRequest{
		Amount:             req.PriceInCents,
		Currency:           currency,
		ConnectedAccountID: req.ProviderPayoutID,
		TaskID:             req.DraftID,
		FirebaseUserID:     req.Caller.UID,
		StripeCustomerID:   req.CustomerPaymentID,
		CustomerName:       req.Billing.Name,
		CustomerEmail:      firstNonEmpty(req.Billing.Email, req.Caller.Email),
		BillingDetails:     req.Billing,
	})
	if err == nil && strings.TrimSpace(secret) == "" {
		err = ErrAuthorizationMissingSecret
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastErr = err
		a.logger(ctx, "authorization.failed", map[string]any{
			"draftId": req.DraftID,
			"amount":  req.PriceInCents,
			"error":   err.Error(),
		})
		return AuthorizationHandle{}, fmt.Errorf("authorization: request handle: %w", err)
	}
	if a.latestPrice != req.PriceInCents {
		return AuthorizationHandle{}, ErrAuthorizationSuperseded
	}

	a.handle = AuthorizationHandle{
		Secret:       secret,
		PriceInCents: req.PriceInCents,
		DraftID:      req.DraftID,
		IssuedAt:     a.clock(),
	}
	a.lastErr = nil
	return a.handle, nil
}

// Invalidate drops the handle and records the newest known price.
func (a *PaymentAuthorizer) Invalidate(priceInCents int64) {
	a.mu.Lock()
	a.handle = AuthorizationHandle{}
	a.latestPrice = priceInCents
	a.mu.Unlock()
}

// Consume drops the handle after the payment it authorized went through. The
// latest price is kept so a later Authorize for the same amount requests a new handle.
func (a *PaymentAuthorizer) Consume() {
	a.mu.Lock()
	a.handle = AuthorizationHandle{}
	a.mu.Unlock()
}

// Current returns the handle only when it was issued for the latest known price.
func (a *PaymentAuthorizer) Current() (AuthorizationHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.handle.Valid() || a.handle.PriceInCents != a.latestPrice {
		return AuthorizationHandle{}, false
	}
	return a.handle, true
}

// LastError returns the most recent recoverable failure.
func (a *PaymentAuthorizer) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
