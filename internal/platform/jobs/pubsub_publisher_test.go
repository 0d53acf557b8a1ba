package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/services"
)

func TestPubSubPaymentEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "payment-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	topic.EnableMessageOrdering = true

	publisher, err := NewPubSubPaymentEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPaymentEventPublisher: %v", err)
	}

	occurred := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := services.PaymentEvent{
		ID:               "pevt_1",
		Type:             domain.PaymentEventSucceeded,
		DraftID:          "tmpjob_1",
		PaymentIntentID:  "pi_1",
		CustomerUID:      "user_1",
		ProviderPayoutID: "acct_provider",
		AmountInCents:    7500,
		FeeInCents:       338,
		Currency:         "EUR",
		OccurredAt:       occurred,
	}

	if _, err := publisher.PublishPaymentEvent(ctx, event); err != nil {
		t.Fatalf("PublishPaymentEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload PaymentEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.DraftID != "tmpjob_1" || payload.AmountInCents != 7500 || payload.FeeInCents != 338 || !payload.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "payment.succeeded" {
		t.Fatalf("expected event type attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["paymentIntentId"]; !ok {
		t.Fatalf("expected payment intent attribute")
	}
}

func TestNewPubSubPaymentEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPaymentEventPublisher(nil); err == nil {
		t.Fatalf("expected error without topic")
	}
}
