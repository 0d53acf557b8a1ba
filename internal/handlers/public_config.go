package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/platform/httpx"
)

// CheckoutConfig is the browser-safe configuration the payment form needs.
type CheckoutConfig struct {
	PublishableKey string
	Currency       string
	FeeBasisPoints int
}

// PublicHandlers serves unauthenticated endpoints under /public.
type PublicHandlers struct {
	config CheckoutConfig
}

// NewPublicHandlers constructs handlers for public checkout configuration.
func NewPublicHandlers(cfg CheckoutConfig) *PublicHandlers {
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	return &PublicHandlers{config: cfg}
}

func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout-config", h.checkoutConfig)
}

type checkoutConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
	FeeBasisPoints int    `json:"feeBasisPoints"`
}

func (h *PublicHandlers) checkoutConfig(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.config.PublishableKey) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_config_unavailable", "payment configuration missing", http.StatusServiceUnavailable))
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, checkoutConfigResponse{
		PublishableKey: h.config.PublishableKey,
		Currency:       h.config.Currency,
		FeeBasisPoints: h.config.FeeBasisPoints,
	})
}
