package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/payments"
)

func webhookGateway(event payments.WebhookEvent) *stubPaymentGateway {
	return &stubPaymentGateway{webhookFn: func([]byte, string) (payments.WebhookEvent, error) {
		return event, nil
	}}
}

func succeededEvent(draftID string) payments.WebhookEvent {
	return payments.WebhookEvent{
		ID:       "evt_1",
		Type:     "payment_intent.succeeded",
		IntentID: "pi_1",
		Status:   payments.StatusSucceeded,
		Amount:   7500,
		Currency: "EUR",
		Metadata: map[string]string{"tempJobDraftId": draftID, "firebaseUserId": "user_1"},
	}
}

func TestPaymentEventService_SettlesDraftAndPublishes(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	drafts := newMemDraftRepository(pendingDraft("draft_1", now.Add(time.Hour)))
	publisher := &stubPaymentEventPublisher{}
	svc, err := NewPaymentEventService(PaymentEventServiceDeps{
		Drafts:      drafts,
		Payments:    webhookGateway(succeededEvent("draft_1")),
		Publisher:   publisher,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "pevt_1" },
	})
	if err != nil {
		t.Fatalf("NewPaymentEventService error: %v", err)
	}

	result, err := svc.HandleStripeWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("HandleStripeWebhook error: %v", err)
	}
	if !result.Handled || result.DraftID != "draft_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	stored, _ := drafts.get("draft_1")
	if stored.Status != domain.DraftStatusPaid || stored.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected stored draft %+v", stored)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != domain.PaymentEventSucceeded || event.FeeInCents != 338 || event.ProviderPayoutID != "acct_provider" || !event.OccurredAt.Equal(now) {
		t.Fatalf("unexpected event %+v", event)
	}

	again, err := svc.HandleStripeWebhook(context.Background(), []byte("{}"), "sig")
	if err != nil {
		t.Fatalf("redelivery error: %v", err)
	}
	if again.Handled || len(publisher.events) != 1 {
		t.Fatalf("expected redelivery to be skipped, got %+v with %d events", again, len(publisher.events))
	}
}

func TestPaymentEventService_FailedPayment(t *testing.T) {
	drafts := newMemDraftRepository(pendingDraft("draft_1", time.Now().Add(time.Hour)))
	event := succeededEvent("draft_1")
	event.Type = "payment_intent.payment_failed"
	event.FailureMessage = "Your card was declined."
	publisher := &stubPaymentEventPublisher{}
	svc, err := NewPaymentEventService(PaymentEventServiceDeps{Drafts: drafts, Payments: webhookGateway(event), Publisher: publisher})
	if err != nil {
		t.Fatalf("NewPaymentEventService error: %v", err)
	}
	if _, err := svc.HandleStripeWebhook(context.Background(), nil, ""); err != nil {
		t.Fatalf("HandleStripeWebhook error: %v", err)
	}
	stored, _ := drafts.get("draft_1")
	if stored.Status != domain.DraftStatusFailed {
		t.Fatalf("expected failed draft, got %s", stored.Status)
	}
	if publisher.events[0].FailureMessage != "Your card was declined." {
		t.Fatalf("expected failure message forwarded, got %+v", publisher.events[0])
	}
}

func TestPaymentEventService_IgnoresUnrelatedEvents(t *testing.T) {
	drafts := newMemDraftRepository()
	for _, event := range []payments.WebhookEvent{
		{ID: "evt_a", Type: "customer.created"},
		{ID: "evt_b", Type: "payment_intent.succeeded"},
		succeededEvent("missing"),
	} {
		svc, err := NewPaymentEventService(PaymentEventServiceDeps{Drafts: drafts, Payments: webhookGateway(event)})
		if err != nil {
			t.Fatalf("NewPaymentEventService error: %v", err)
		}
		result, err := svc.HandleStripeWebhook(context.Background(), nil, "")
		if err != nil || result.Handled {
			t.Fatalf("%s: expected acknowledged no-op, got %+v (%v)", event.ID, result, err)
		}
	}
}

func TestPaymentEventService_InvalidSignature(t *testing.T) {
	gateway := &stubPaymentGateway{webhookFn: func([]byte, string) (payments.WebhookEvent, error) {
		return payments.WebhookEvent{}, payments.ErrInvalidWebhook
	}}
	svc, err := NewPaymentEventService(PaymentEventServiceDeps{Drafts: newMemDraftRepository(), Payments: gateway})
	if err != nil {
		t.Fatalf("NewPaymentEventService error: %v", err)
	}
	if _, err := svc.HandleStripeWebhook(context.Background(), nil, "bad"); !errors.Is(err, ErrPaymentWebhookInvalid) {
		t.Fatalf("expected ErrPaymentWebhookInvalid, got %v", err)
	}
}
