package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/platform/httpx"
	"github.com/taskilo/api/internal/services"
)

const (
	maxWebhookBody        = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// PaymentWebhookHandlers accepts processor webhooks. Signatures are verified by
// the payment event service.
type PaymentWebhookHandlers struct {
	events services.PaymentEventService
}

// NewPaymentWebhookHandlers constructs the Stripe webhook handler.
func NewPaymentWebhookHandlers(events services.PaymentEventService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{events: events}
}

// Routes registers the webhook endpoints under /webhooks.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAckResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Handled  bool   `json:"handled"`
}

func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}
	signature := r.Header.Get(stripeSignatureHeader)
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "missing Stripe-Signature header", http.StatusBadRequest))
		return
	}
	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	result, err := h.events.HandleStripeWebhook(ctx, payload, signature)
	if err != nil {
		// Non-2xx makes the processor redeliver, which is what storage failures need.
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookAckResponse{Received: true, EventID: result.EventID, Handled: result.Handled})
}
