package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp   string
	customer Customer
	intent   PaymentIntent
	event    WebhookEvent
	err      error
}

func (f *fakeProvider) EnsureCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	f.lastOp = "customer"
	return f.customer, f.err
}

func (f *fakeProvider) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	f.lastOp = "intent"
	return f.intent, f.err
}

func (f *fakeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error) {
	f.lastOp = "webhook"
	return f.event, f.err
}

func TestManagerCreatePaymentIntentUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: PaymentIntent{ID: "pi_stripe"}}
	other := &fakeProvider{intent: PaymentIntent{ID: "pi_other"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"other":  other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreatePaymentIntent(ctx, PaymentContext{PreferredProvider: "other"}, PaymentIntentRequest{Currency: "EUR"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if intent.Provider != "other" {
		t.Fatalf("expected provider 'other', got %q", intent.Provider)
	}
	if other.lastOp != "intent" {
		t.Fatalf("expected other provider to handle call")
	}
	if stripe.lastOp != "" {
		t.Fatalf("expected stripe provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{}
	other := &fakeProvider{customer: Customer{ID: "cus_other"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"other":  other,
		},
		WithCurrencyRoutes(map[string]string{"chf": "other"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	customer, err := mgr.EnsureCustomer(ctx, PaymentContext{Currency: "CHF"}, CustomerRequest{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("ensure customer: %v", err)
	}
	if customer.ID != "cus_other" || other.lastOp != "customer" {
		t.Fatalf("expected other provider to handle call, got %+v", customer)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{event: WebhookEvent{ID: "evt_1"}}

	mgr, err := NewManager(map[string]Provider{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	event, err := mgr.ParseWebhook(ctx, PaymentContext{}, []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if stripe.lastOp != "webhook" || event.ID != "evt_1" {
		t.Fatalf("expected webhook to invoke default provider")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{}, "other": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreatePaymentIntent(ctx, PaymentContext{PreferredProvider: "unknown"}, PaymentIntentRequest{Currency: "EUR"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}

func TestApplicationFee(t *testing.T) {
	cases := []struct {
		amount int64
		bps    int
		want   int64
	}{
		{7500, 450, 338},
		{72000, 450, 3240},
		{100, 0, 0},
		{0, 450, 0},
		{1, 5000, 1},
	}
	for _, tc := range cases {
		if got := ApplicationFee(tc.amount, tc.bps); got != tc.want {
			t.Fatalf("ApplicationFee(%d, %d) = %d, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}
