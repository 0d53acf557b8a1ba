package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskilo/api/internal/domain"
)

func completeBilling() domain.BillingAddress {
	return domain.BillingAddress{
		Name:       "Erika Muster",
		Email:      "erika@example.com",
		Line1:      "Hauptstraße 5",
		PostalCode: "10115",
		City:       "Berlin",
		Country:    "DE",
	}
}

func authorizationRequest(price int64) AuthorizationRequest {
	return AuthorizationRequest{
		Caller:            signedInCaller(),
		PriceInCents:      price,
		ProviderPayoutID:  "acct_provider",
		DraftID:           "draft_1",
		CustomerPaymentID: "cus_user_1",
		Billing:           completeBilling(),
	}
}

func TestPaymentAuthorizer_ReusesHandleForSamePrice(t *testing.T) {
	intents := &stubIntentFunctions{}
	authorizer, err := NewPaymentAuthorizer(PaymentAuthorizerDeps{
		Intents: intents,
		Clock:   func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPaymentAuthorizer error: %v", err)
	}

	ctx := context.Background()
	first, err := authorizer.Authorize(ctx, authorizationRequest(7500))
	if err != nil {
		t.Fatalf("Authorize error: %v", err)
	}
	second, err := authorizer.Authorize(ctx, authorizationRequest(7500))
	if err != nil {
		t.Fatalf("second Authorize error: %v", err)
	}
	if first.Secret != second.Secret || intents.count() != 1 {
		t.Fatalf("expected handle reuse, got %q/%q after %d calls", first.Secret, second.Secret, intents.count())
	}
	req := intents.last()
	if req.Currency != "eur" || req.TaskID != "draft_1" || req.ConnectedAccountID != "acct_provider" || req.FirebaseUserID != "user_1" {
		t.Fatalf("unexpected payment intent request %+v", req)
	}
}

func TestPaymentAuthorizer_PriceChangeInvalidatesHandle(t *testing.T) {
	intents := &stubIntentFunctions{}
	authorizer, err := NewPaymentAuthorizer(PaymentAuthorizerDeps{Intents: intents})
	if err != nil {
		t.Fatalf("NewPaymentAuthorizer error: %v", err)
	}
	ctx := context.Background()
	if _, err := authorizer.Authorize(ctx, authorizationRequest(7500)); err != nil {
		t.Fatalf("Authorize error: %v", err)
	}

	authorizer.Invalidate(9000)
	if _, ok := authorizer.Current(); ok {
		t.Fatalf("expected no current handle after price change")
	}

	handle, err := authorizer.Authorize(ctx, authorizationRequest(9000))
	if err != nil {
		t.Fatalf("Authorize error: %v", err)
	}
	current, ok := authorizer.Current()
	if !ok || current.Secret != handle.Secret || current.PriceInCents != 9000 {
		t.Fatalf("expected current handle for newest price, got %+v", current)
	}
	if intents.count() != 2 {
		t.Fatalf("expected a new request after price change, got %d", intents.count())
	}
}

func TestPaymentAuthorizer_DiscardsStaleResult(t *testing.T) {
	var authorizer *PaymentAuthorizer
	intents := &stubIntentFunctions{fn: func(_ context.Context, req PaymentIntentRequest) (string, error) {
		authorizer.Invalidate(req.Amount + 100)
		return "pi_stale", nil
	}}
	var err error
	authorizer, err = NewPaymentAuthorizer(PaymentAuthorizerDeps{Intents: intents})
	if err != nil {
		t.Fatalf("NewPaymentAuthorizer error: %v", err)
	}
	if _, err := authorizer.Authorize(context.Background(), authorizationRequest(7500)); !errors.Is(err, ErrAuthorizationSuperseded) {
		t.Fatalf("expected ErrAuthorizationSuperseded, got %v", err)
	}
	if _, ok := authorizer.Current(); ok {
		t.Fatalf("stale handle must not become current")
	}
}

func TestPaymentAuthorizer_GuardsBeforeRemoteCall(t *testing.T) {
	intents := &stubIntentFunctions{}
	authorizer, err := NewPaymentAuthorizer(PaymentAuthorizerDeps{Intents: intents})
	if err != nil {
		t.Fatalf("NewPaymentAuthorizer error: %v", err)
	}
	ctx := context.Background()

	if _, err := authorizer.Authorize(ctx, authorizationRequest(0)); !errors.Is(err, ErrAuthorizationInvalidPrice) {
		t.Fatalf("expected ErrAuthorizationInvalidPrice, got %v", err)
	}

	req := authorizationRequest(7500)
	req.Billing.PostalCode = ""
	if _, err := authorizer.Authorize(ctx, req); !errors.Is(err, ErrBillingAddressIncomplete) {
		t.Fatalf("expected ErrBillingAddressIncomplete, got %v", err)
	}
	if intents.count() != 0 {
		t.Fatalf("expected no remote call, got %d", intents.count())
	}
}

func TestPaymentAuthorizer_FailureKeepsPreviousHandle(t *testing.T) {
	fail := false
	intents := &stubIntentFunctions{fn: func(context.Context, PaymentIntentRequest) (string, error) {
		if fail {
			return "", errors.New("502 bad gateway")
		}
		return "pi_secret", nil
	}}
	authorizer, err := NewPaymentAuthorizer(PaymentAuthorizerDeps{Intents: intents})
	if err != nil {
		t.Fatalf("NewPaymentAuthorizer error: %v", err)
	}
	ctx := context.Background()
	if _, err := authorizer.Authorize(ctx, authorizationRequest(7500)); err != nil {
		t.Fatalf("Authorize error: %v", err)
	}

	fail = true
	req := authorizationRequest(7500)
	req.DraftID = "draft_2"
	if _, err := authorizer.Authorize(ctx, req); err == nil {
		t.Fatalf("expected failure")
	}
	if authorizer.LastError() == nil {
		t.Fatalf("expected recoverable error to be recorded")
	}
	if handle, ok := authorizer.Current(); !ok || handle.Secret != "pi_secret" {
		t.Fatalf("expected previous handle to stay visible, got %+v", handle)
	}

	fail = false
	intents.fn = func(context.Context, PaymentIntentRequest) (string, error) { return "", nil }
	if _, err := authorizer.Authorize(ctx, req); !errors.Is(err, ErrAuthorizationMissingSecret) {
		t.Fatalf("expected ErrAuthorizationMissingSecret, got %v", err)
	}
}
