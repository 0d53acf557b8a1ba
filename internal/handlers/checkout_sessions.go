package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/platform/auth"
	"github.com/taskilo/api/internal/platform/httpx"
	"github.com/taskilo/api/internal/platform/requestctx"
	"github.com/taskilo/api/internal/platform/textutil"
	"github.com/taskilo/api/internal/services"
)

const (
	maxCheckoutRequestBody = 16 * 1024
	maxCheckoutValueRunes  = 2000
)

// CheckoutSessionRegistry is the subset of services.CheckoutSessions used by the API.
type CheckoutSessionRegistry interface {
	Open(ctx context.Context, cmd services.OpenCheckoutCommand) (*services.CheckoutOrchestrator, error)
	Get(sessionID, uid string) (*services.CheckoutOrchestrator, error)
	Close(ctx context.Context, sessionID, uid string) error
}

// CheckoutSessionHandlers drives checkout orchestrators over JSON. Authentication is
// optional so an anonymous visitor reaches the sign-in exit; a session is bound to
// the uid that opened it.
type CheckoutSessionHandlers struct {
	authn    *auth.Authenticator
	sessions CheckoutSessionRegistry
	limiter  *keyedLimiter
}

// CheckoutSessionOption customises CheckoutSessionHandlers.
type CheckoutSessionOption func(*CheckoutSessionHandlers)

// WithCheckoutOpenLimit caps how many sessions one caller may open per window.
func WithCheckoutOpenLimit(limit int, window time.Duration, clock func() time.Time) CheckoutSessionOption {
	return func(h *CheckoutSessionHandlers) {
		h.limiter = newKeyedLimiter(limit, window, clock)
	}
}

// NewCheckoutSessionHandlers constructs checkout session handlers guarded by Firebase authentication.
func NewCheckoutSessionHandlers(authn *auth.Authenticator, sessions CheckoutSessionRegistry, opts ...CheckoutSessionOption) *CheckoutSessionHandlers {
	h := &CheckoutSessionHandlers{authn: authn, sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the session endpoints under /checkout.
func (h *CheckoutSessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	group.Route("/sessions", func(sr chi.Router) {
		sr.With(h.limiter.middleware()).Post("/", h.createSession)
		sr.Route("/{sessionID}", func(s chi.Router) {
			s.Get("/", h.getSession)
			s.Delete("/", h.deleteSession)
			s.Patch("/schedule", h.updateSchedule)
			s.Post("/trigger", h.trigger)
			s.Post("/retry", h.retry)
			s.Post("/payment-result", h.paymentResult)
		})
	})
}

type createCheckoutSessionRequest struct {
	Query      map[string]string `json:"query"`
	Context    map[string]string `json:"context"`
	ReturnPath string            `json:"returnPath"`
}

type scheduleRequest struct {
	DateFrom       *string `json:"dateFrom"`
	DateTo         *string `json:"dateTo"`
	TimePreference *string `json:"time"`
	Duration       *string `json:"duration"`
	Description    *string `json:"description"`
}

func (req scheduleRequest) edits() map[string]string {
	edits := make(map[string]string)
	set := func(field string, value *string) {
		if value != nil {
			edits[field] = strings.TrimSpace(*value)
		}
	}
	set(services.FieldDateFrom, req.DateFrom)
	set(services.FieldDateTo, req.DateTo)
	set(services.FieldTimePreference, req.TimePreference)
	set(services.FieldDuration, req.Duration)
	set(services.FieldDescription, req.Description)
	return edits
}

type paymentResultRequest struct {
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

type checkoutSessionResponse struct {
	SessionID    string              `json:"sessionId"`
	Status       string              `json:"status"`
	Terminal     bool                `json:"terminal"`
	RetryFrom    string              `json:"retryFrom,omitempty"`
	ErrorKind    string              `json:"errorKind,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Redirect     string              `json:"redirect,omitempty"`
	Pricing      checkoutPricing     `json:"pricing"`
	Booking      checkoutBooking     `json:"booking"`
	Billing      checkoutBillingInfo `json:"billing"`
	DraftID      string              `json:"draftId,omitempty"`
	ClientSecret string              `json:"clientSecret,omitempty"`
	UpdatedAt    string              `json:"updatedAt"`
}

type checkoutPricing struct {
	PriceInCents  int64  `json:"priceInCents"`
	BillableHours string `json:"billableHours"`
	NumberOfDays  int    `json:"numberOfDays"`
	DisplayLabel  string `json:"displayLabel,omitempty"`
	Error         string `json:"error,omitempty"`
}

type checkoutBooking struct {
	CustomerType   string  `json:"customerType,omitempty"`
	Category       string  `json:"category,omitempty"`
	Subcategory    string  `json:"subcategory,omitempty"`
	Description    string  `json:"description,omitempty"`
	PostalCode     string  `json:"postalCode,omitempty"`
	DateFrom       string  `json:"dateFrom,omitempty"`
	DateTo         string  `json:"dateTo,omitempty"`
	TimePreference string  `json:"time,omitempty"`
	ProviderID     string  `json:"providerId,omitempty"`
	Duration       string  `json:"duration,omitempty"`
	TotalHours     float64 `json:"totalHours"`
}

type checkoutBillingInfo struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

func newCheckoutSessionResponse(s services.CheckoutSnapshot) checkoutSessionResponse {
	resp := checkoutSessionResponse{
		SessionID:    s.SessionID,
		Status:       string(s.State.Status),
		Terminal:     s.State.Done(),
		RetryFrom:    string(s.State.RetryFrom),
		ErrorKind:    s.ErrorKind,
		ErrorMessage: s.ErrorMessage,
		Redirect:     s.Redirect,
		Pricing: checkoutPricing{
			PriceInCents:  s.Pricing.PriceInCents,
			BillableHours: s.Pricing.BillableHours.String(),
			NumberOfDays:  s.Pricing.NumberOfDays,
			DisplayLabel:  s.Pricing.DisplayLabel,
			Error:         string(s.Pricing.Err),
		},
		Booking: checkoutBooking{
			CustomerType:   string(s.Input.CustomerType),
			Category:       s.Input.Category,
			Subcategory:    s.Input.Subcategory,
			Description:    s.Input.Description,
			PostalCode:     s.Input.JobPostalCode,
			DateFrom:       s.Input.DateFrom,
			DateTo:         s.Input.DateTo,
			TimePreference: s.Input.TimePreference,
			ProviderID:     s.Input.ProviderID,
			Duration:       s.Input.DurationString,
			TotalHours:     s.Input.TotalHours,
		},
		Billing: checkoutBillingInfo{
			Name:       s.Billing.Name,
			Email:      s.Billing.Email,
			Line1:      s.Billing.Line1,
			Line2:      s.Billing.Line2,
			City:       s.Billing.City,
			PostalCode: s.Billing.PostalCode,
			Country:    s.Billing.Country,
		},
		DraftID:      s.DraftID,
		ClientSecret: s.ClientSecret,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func (h *CheckoutSessionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createCheckoutSessionRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	identity, _ := requireIdentity(ctx)
	orchestrator, err := h.sessions.Open(ctx, services.OpenCheckoutCommand{
		Caller:     callerFrom(identity),
		Query:      textutil.NormalizeStringMap(req.Query, maxCheckoutValueRunes),
		Context:    textutil.NormalizeStringMap(req.Context, maxCheckoutValueRunes),
		ReturnPath: strings.TrimSpace(req.ReturnPath),
	})
	if orchestrator == nil {
		writeServiceError(ctx, w, err)
		return
	}
	// A failed first run is already reflected in the snapshot.
	httpx.WriteJSON(w, http.StatusCreated, newCheckoutSessionResponse(orchestrator.Snapshot()))
}

func (h *CheckoutSessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	orchestrator, _, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutSessionResponse(orchestrator.Snapshot()))
}

func (h *CheckoutSessionHandlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := requestctx.WithCheckoutSession(r.Context(), chi.URLParam(r, "sessionID"))
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.sessions.Close(ctx, chi.URLParam(r, "sessionID"), callerUID(ctx)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutSessionHandlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	orchestrator, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	edits := req.edits()
	if len(edits) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one schedule field is required", http.StatusBadRequest))
		return
	}
	h.respond(ctx, w, orchestrator, orchestrator.UpdateSchedule(ctx, edits))
}

func (h *CheckoutSessionHandlers) trigger(w http.ResponseWriter, r *http.Request) {
	orchestrator, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respond(ctx, w, orchestrator, orchestrator.Trigger(ctx))
}

func (h *CheckoutSessionHandlers) retry(w http.ResponseWriter, r *http.Request) {
	orchestrator, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respond(ctx, w, orchestrator, orchestrator.Retry(ctx))
}

func (h *CheckoutSessionHandlers) paymentResult(w http.ResponseWriter, r *http.Request) {
	orchestrator, ctx, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req paymentResultRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	var outcome services.PaymentOutcome
	switch strings.ToLower(strings.TrimSpace(req.Outcome)) {
	case "succeeded":
		outcome.Succeeded = true
	case "declined":
		outcome.Message = strings.TrimSpace(req.Message)
		if outcome.Message == "" {
			outcome.Message = "payment declined"
		}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "outcome must be succeeded or declined", http.StatusBadRequest))
		return
	}
	h.respond(ctx, w, orchestrator, orchestrator.ReportPayment(ctx, outcome))
}

// lookup resolves the session from the path and tags the context with its id.
func (h *CheckoutSessionHandlers) lookup(w http.ResponseWriter, r *http.Request) (*services.CheckoutOrchestrator, context.Context, bool) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	ctx := requestctx.WithCheckoutSession(r.Context(), sessionID)
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return nil, ctx, false
	}
	orchestrator, err := h.sessions.Get(sessionID, callerUID(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return nil, ctx, false
	}
	return orchestrator, ctx, true
}

// respond writes the snapshot, or the error when the command was rejected
// before any state change.
func (h *CheckoutSessionHandlers) respond(ctx context.Context, w http.ResponseWriter, orchestrator *services.CheckoutOrchestrator, err error) {
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutSessionResponse(orchestrator.Snapshot()))
}

func callerUID(ctx context.Context) string {
	if identity, ok := requireIdentity(ctx); ok {
		return identity.UID
	}
	return ""
}
