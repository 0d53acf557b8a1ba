package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/functions"
	"github.com/taskilo/api/internal/platform/auth"
	"github.com/taskilo/api/internal/platform/httpx"
	"github.com/taskilo/api/internal/services"
)

const maxFunctionRequestBody = 32 * 1024

// FunctionHandlers serves the backend functions the checkout orchestrator calls:
// the two callables, the provider profile lookup and payment intent creation.
type FunctionHandlers struct {
	authn       *auth.Authenticator
	drafts      services.DraftService
	customers   services.CustomerService
	providers   services.ProviderDirectory
	intents     services.PaymentIntentService
	idempotency func(http.Handler) http.Handler
	limiter     *keyedLimiter
}

// FunctionHandlersDeps bundles the services behind the endpoints.
type FunctionHandlersDeps struct {
	Authenticator *auth.Authenticator
	Drafts        services.DraftService
	Customers     services.CustomerService
	Providers     services.ProviderDirectory
	Intents       services.PaymentIntentService
	// Idempotency wraps the payment intent endpoint.
	Idempotency func(http.Handler) http.Handler
	// IntentLimit caps payment intent requests per caller and minute; zero disables it.
	IntentLimit int
}

// NewFunctionHandlers constructs the backend function endpoints.
func NewFunctionHandlers(deps FunctionHandlersDeps) *FunctionHandlers {
	return &FunctionHandlers{
		authn:       deps.Authenticator,
		drafts:      deps.Drafts,
		customers:   deps.Customers,
		providers:   deps.Providers,
		intents:     deps.Intents,
		idempotency: deps.Idempotency,
		limiter:     newKeyedLimiter(deps.IntentLimit, time.Minute, nil),
	}
}

// Routes registers the function endpoints at the service root.
func (h *FunctionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get(functions.SearchCompanyProfilesPath, h.searchCompanyProfiles)

	authed := r
	if h.authn != nil {
		authed = authed.With(h.authn.RequireFirebaseAuth())
	}
	authed.Post(functions.CreateTemporaryJobDraftPath, h.createTemporaryJobDraft)
	authed.Post(functions.GetOrCreateStripeCustomerPath, h.getOrCreateStripeCustomer)

	intent := authed.With(h.limiter.middleware())
	if h.idempotency != nil {
		intent = intent.With(h.idempotency)
	}
	intent.Post("/api/create-payment-intent", h.createPaymentIntent)
}

func (h *FunctionHandlers) createTemporaryJobDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx)
	if !ok {
		functions.WriteError(w, functions.StatusUnauthenticated, "authentication required")
		return
	}
	if h.drafts == nil {
		functions.WriteError(w, functions.StatusUnavailable, "draft service unavailable")
		return
	}
	body, err := httpx.ReadBody(r, maxFunctionRequestBody)
	if err != nil {
		functions.WriteError(w, functions.StatusInvalidArgument, httpx.BodyError(err).Message)
		return
	}
	var payload functions.DraftPayload
	if err := functions.DecodeCallable(body, &payload); err != nil {
		functions.WriteError(w, functions.StatusInvalidArgument, "request data must be a JSON object")
		return
	}

	draft, err := h.drafts.CreateTemporaryJobDraft(ctx, services.CreateDraftCommand{
		OwnerUID: identity.UID,
		Input:    payload.Input(),
	})
	if err != nil {
		status, message := callableStatus(err)
		functions.WriteError(w, status, message)
		return
	}
	functions.WriteResult(w, functions.DraftResult{
		TempDraftID:             draft.ID,
		AnbieterStripeAccountID: draft.ProviderPayoutID,
	})
}

func (h *FunctionHandlers) getOrCreateStripeCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx)
	if !ok {
		functions.WriteError(w, functions.StatusUnauthenticated, "authentication required")
		return
	}
	if h.customers == nil {
		functions.WriteError(w, functions.StatusUnavailable, "customer service unavailable")
		return
	}
	body, err := httpx.ReadBody(r, maxFunctionRequestBody)
	if err != nil {
		functions.WriteError(w, functions.StatusInvalidArgument, httpx.BodyError(err).Message)
		return
	}
	var payload functions.CustomerPayload
	if err := functions.DecodeCallable(body, &payload); err != nil {
		functions.WriteError(w, functions.StatusInvalidArgument, "request data must be a JSON object")
		return
	}

	cmd := services.EnsureCustomerCommand{
		UID:   identity.UID,
		Email: strings.TrimSpace(payload.Email),
		Name:  strings.TrimSpace(payload.Name),
		Phone: strings.TrimSpace(payload.Phone),
	}
	if cmd.Email == "" {
		cmd.Email = identity.Email
	}
	if payload.Address != nil {
		cmd.Address = (&functions.BillingDetailsPayload{Address: payload.Address}).Billing()
	}

	customerID, err := h.customers.GetOrCreateStripeCustomer(ctx, cmd)
	if err != nil {
		status, message := callableStatus(err)
		functions.WriteError(w, status, message)
		return
	}
	functions.WriteResult(w, functions.CustomerResult{StripeCustomerID: customerID})
}

func (h *FunctionHandlers) searchCompanyProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.providers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("provider_directory_unavailable", "provider directory unavailable", http.StatusServiceUnavailable))
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("id"))
	if providerID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "id query parameter is required", http.StatusBadRequest))
		return
	}
	profile, err := h.providers.CompanyProfile(ctx, providerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	httpx.WriteJSON(w, http.StatusOK, functions.NewCompanyProfile(profile))
}

func (h *FunctionHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.ErrUnauthenticated)
		return
	}
	if h.intents == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_intents_unavailable", "payment intent service unavailable", http.StatusServiceUnavailable))
		return
	}
	var payload functions.PaymentIntentPayload
	if err := httpx.DecodeJSON(r, maxFunctionRequestBody, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	result, err := h.intents.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		CallerUID:          identity.UID,
		Amount:             payload.Amount,
		Currency:           strings.TrimSpace(payload.Currency),
		ConnectedAccountID: strings.TrimSpace(payload.ConnectedAccountID),
		DraftID:            strings.TrimSpace(payload.TaskID),
		FirebaseUserID:     strings.TrimSpace(payload.FirebaseUserID),
		StripeCustomerID:   strings.TrimSpace(payload.StripeCustomerID),
		CustomerName:       strings.TrimSpace(payload.CustomerName),
		CustomerEmail:      strings.TrimSpace(payload.CustomerEmail),
		BillingDetails:     payload.BillingDetails.Billing(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if result.ClientSecret == "" {
		writeServiceError(ctx, w, errors.New("payment intent without client secret"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, functions.PaymentIntentResponse{
		ClientSecret:         result.ClientSecret,
		PaymentIntentID:      result.PaymentIntentID,
		ApplicationFeeAmount: result.ApplicationFeeAmount,
	})
}
