package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/taskilo/api/internal/services"
)

// PubSubPaymentEventPublisher publishes settled draft payments to a Pub/Sub topic.
type PubSubPaymentEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.PaymentEventPublisher = (*PubSubPaymentEventPublisher)(nil)

// NewPubSubPaymentEventPublisher constructs a Pub/Sub backed payment event publisher.
func NewPubSubPaymentEventPublisher(topic *pubsub.Topic) (*PubSubPaymentEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub payment event publisher: topic is required")
	}
	return &PubSubPaymentEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PaymentEventMessage is the JSON body of published payment events.
type PaymentEventMessage struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	DraftID          string    `json:"tempJobDraftId"`
	PaymentIntentID  string    `json:"paymentIntentId"`
	CustomerUID      string    `json:"firebaseUserId"`
	ProviderID       string    `json:"selectedAnbieterId,omitempty"`
	ProviderPayoutID string    `json:"anbieterStripeAccountId,omitempty"`
	AmountInCents    int64     `json:"amount"`
	FeeInCents       int64     `json:"applicationFeeAmount"`
	Currency         string    `json:"currency"`
	FailureMessage   string    `json:"failureMessage,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// PublishPaymentEvent enqueues the event and returns the server message id. The draft id
// is used as ordering key so events of one draft are delivered in order.
func (p *PubSubPaymentEventPublisher) PublishPaymentEvent(ctx context.Context, event services.PaymentEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub payment event publisher: not initialised")
	}

	data, err := p.marshal(PaymentEventMessage{
		ID:               event.ID,
		Type:             string(event.Type),
		DraftID:          event.DraftID,
		PaymentIntentID:  event.PaymentIntentID,
		CustomerUID:      event.CustomerUID,
		ProviderID:       event.ProviderID,
		ProviderPayoutID: event.ProviderPayoutID,
		AmountInCents:    event.AmountInCents,
		FeeInCents:       event.FeeInCents,
		Currency:         event.Currency,
		FailureMessage:   event.FailureMessage,
		OccurredAt:       event.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payment event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "tempJobDraftId", event.DraftID)
	setAttr(attrs, "paymentIntentId", event.PaymentIntentID)

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.DraftID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish payment event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
