package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/payments"
	"github.com/taskilo/api/internal/repositories"
)

// PaymentEventServiceDeps defines the dependencies for webhook handling.
type PaymentEventServiceDeps struct {
	Drafts         repositories.DraftRepository
	Payments       PaymentGateway
	Publisher      PaymentEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	FeeBasisPoints int
	Logger         func(context.Context, string, map[string]any)
}

type paymentEventService struct {
	drafts    repositories.DraftRepository
	payments  PaymentGateway
	publisher PaymentEventPublisher
	clock     func() time.Time
	newID     func() string
	feeBps    int
	logger    func(context.Context, string, map[string]any)
}

var _ PaymentEventService = (*paymentEventService)(nil)

// NewPaymentEventService constructs the webhook intake for draft payments. Publisher is optional.
func NewPaymentEventService(deps PaymentEventServiceDeps) (PaymentEventService, error) {
	if deps.Drafts == nil {
		return nil, errors.New("payment event service: draft repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment event service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "pevt_" + ulid.Make().String() }
	}
	fee := deps.FeeBasisPoints
	if fee <= 0 {
		fee = defaultServiceFeeBasisPoints
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentEventService{
		drafts:    deps.Drafts,
		payments:  deps.Payments,
		publisher: deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		feeBps: fee,
		logger: logger,
	}, nil
}

// HandleStripeWebhook verifies the event and settles the referenced draft. Events for
// unknown or already settled drafts are acknowledged without side effects.
func (s *paymentEventService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (PaymentWebhookResult, error) {
	event, err := s.payments.ParseWebhook(ctx, payments.PaymentContext{PreferredProvider: "stripe"}, payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhook) {
			return PaymentWebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentWebhookInvalid, err)
		}
		return PaymentWebhookResult{}, err
	}

	result := PaymentWebhookResult{EventID: event.ID, EventType: event.Type}

	var (
		next      domain.DraftStatus
		eventType domain.PaymentEventType
	)
	switch event.Type {
	case "payment_intent.succeeded":
		next, eventType = domain.DraftStatusPaid, domain.PaymentEventSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		next, eventType = domain.DraftStatusFailed, domain.PaymentEventFailed
	default:
		return result, nil
	}

	draftID := strings.TrimSpace(event.Metadata[metadataDraftID])
	result.DraftID = draftID
	if draftID == "" {
		s.logger(ctx, "payment_events.missing_draft", map[string]any{
			"eventId":       event.ID,
			"paymentIntent": event.IntentID,
		})
		return result, nil
	}

	draft, err := s.drafts.TransitionStatus(ctx, draftID, next, event.IntentID, s.clock())
	switch {
	case errors.Is(err, repositories.ErrDraftStatusFinal):
		s.logger(ctx, "payment_events.already_settled", map[string]any{
			"eventId": event.ID,
			"draftId": draftID,
			"status":  string(draft.Status),
		})
		return result, nil
	case isRepoNotFound(err):
		s.logger(ctx, "payment_events.draft_not_found", map[string]any{
			"eventId": event.ID,
			"draftId": draftID,
		})
		return result, nil
	case err != nil:
		return PaymentWebhookResult{}, fmt.Errorf("payment event service: update draft: %w", err)
	}

	result.Handled = true
	if s.publisher == nil {
		return result, nil
	}

	amount := event.Amount
	if amount <= 0 {
		amount = draft.Input.PriceInCents
	}
	published := PaymentEvent{
		ID:               s.newID(),
		Type:             eventType,
		DraftID:          draftID,
		PaymentIntentID:  event.IntentID,
		CustomerUID:      draft.OwnerUID,
		ProviderID:       draft.Input.ProviderID,
		ProviderPayoutID: draft.ProviderPayoutID,
		AmountInCents:    amount,
		FeeInCents:       payments.ApplicationFee(amount, s.feeBps),
		Currency:         event.Currency,
		FailureMessage:   event.FailureMessage,
		OccurredAt:       event.CreatedAt,
	}
	if published.OccurredAt.IsZero() {
		published.OccurredAt = s.clock()
	}
	if _, err := s.publisher.PublishPaymentEvent(ctx, published); err != nil {
		s.logger(ctx, "payment_events.publish_failed", map[string]any{
			"eventId": event.ID,
			"draftId": draftID,
			"error":   err.Error(),
		})
	}
	return result, nil
}
