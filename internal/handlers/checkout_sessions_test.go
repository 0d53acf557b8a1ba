package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/platform/auth"
	"github.com/taskilo/api/internal/services"
)

type memoryContextStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func newMemoryContextStore() *memoryContextStore {
	return &memoryContextStore{data: make(map[string]map[string]string)}
}

func (s *memoryContextStore) Load(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data[sessionID]))
	for k, v := range s.data[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryContextStore) Save(_ context.Context, sessionID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.data[sessionID]
	if entry == nil {
		entry = make(map[string]string)
		s.data[sessionID] = entry
	}
	for k, v := range values {
		if v == "" {
			delete(entry, k)
			continue
		}
		entry[k] = v
	}
	return nil
}

func (s *memoryContextStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

type stubCheckoutBackend struct {
	mu          sync.Mutex
	intentCalls int
	draftErr    error
}

func (s *stubCheckoutBackend) CreateTemporaryJobDraft(context.Context, services.Caller, services.BookingInput) (services.Draft, error) {
	if s.draftErr != nil {
		return services.Draft{}, s.draftErr
	}
	return services.Draft{ID: "draft_1", ProviderPayoutID: "acct_provider"}, nil
}

func (s *stubCheckoutBackend) GetOrCreateStripeCustomer(_ context.Context, caller services.Caller, _ services.CustomerIdentityRequest) (string, error) {
	return "cus_" + caller.UID, nil
}

func (s *stubCheckoutBackend) SearchCompanyProfile(_ context.Context, providerID string) (services.ProviderProfile, error) {
	return domain.ProviderProfile{
		ID:                     providerID,
		CompanyName:            "Kochwerk GmbH",
		HourlyRate:             decimal.RequireFromString("25"),
		StripeConnectAccountID: "acct_provider",
	}, nil
}

func (s *stubCheckoutBackend) CreatePaymentIntent(context.Context, services.Caller, services.PaymentIntentRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intentCalls++
	return "pi_secret", nil
}

type stubCustomerProfiles struct{}

func (stubCustomerProfiles) CustomerProfile(_ context.Context, uid string) (services.CustomerProfile, error) {
	return domain.CustomerProfile{
		UID:         uid,
		FirstName:   "Erika",
		LastName:    "Muster",
		Email:       "erika@example.com",
		UserType:    "kunde",
		Street:      "Hauptstraße",
		HouseNumber: "5",
		PostalCode:  "10115",
		City:        "Berlin",
		Country:     "DE",
	}, nil
}

func newCheckoutTestRouter(t *testing.T, backend *stubCheckoutBackend, identity *auth.Identity) (http.Handler, *services.CheckoutSessions) {
	t.Helper()
	seq := 0
	sessions, err := services.NewCheckoutSessions(services.CheckoutSessionsDeps{
		Contexts:    newMemoryContextStore(),
		Profiles:    stubCustomerProfiles{},
		Drafts:      backend,
		Customers:   backend,
		Providers:   backend,
		Intents:     backend,
		AutoTrigger: true,
		IdleTTL:     time.Hour,
		IDGenerator: func() string {
			seq++
			return "chk_" + string(rune('a'+seq-1))
		},
	})
	if err != nil {
		t.Fatalf("NewCheckoutSessions error: %v", err)
	}

	h := NewCheckoutSessionHandlers(nil, sessions)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), identity))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/checkout", h.Routes)
	return r, sessions
}

func checkoutBody() string {
	return `{"query":{"anbieterId":"prov_1","unterkategorie":"Tischler","description":"Regal montieren",` +
		`"additionalData[date]":"2024-06-01","additionalData[time]":"10:00","auftragsDauer":"3 Stunden","postalCode":"10115"}}`
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) checkoutSessionResponse {
	t.Helper()
	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestCheckoutSessionHandlers_AnonymousCreateReturnsSignInExit(t *testing.T) {
	backend := &stubCheckoutBackend{}
	router, _ := newCheckoutTestRouter(t, backend, nil)

	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody()))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeSession(t, rr)
	if resp.Status != string(services.CheckoutSignInRequired) {
		t.Fatalf("expected sign_in_required, got %s", resp.Status)
	}
	if !strings.HasPrefix(resp.Redirect, "/login?redirectTo=") {
		t.Fatalf("expected login redirect, got %q", resp.Redirect)
	}
	if backend.intentCalls != 0 {
		t.Fatalf("expected no payment intent for anonymous caller")
	}
}

func TestCheckoutSessionHandlers_SignedInFlowReachesPayment(t *testing.T) {
	backend := &stubCheckoutBackend{}
	identity := &auth.Identity{UID: "user_1", Email: "erika@example.com", IDToken: "token"}
	router, _ := newCheckoutTestRouter(t, backend, identity)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody())))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeSession(t, rr)
	if created.Status != string(services.CheckoutReady) {
		t.Fatalf("expected ready, got %s (%s)", created.Status, created.ErrorMessage)
	}
	if created.ClientSecret != "pi_secret" || created.DraftID != "draft_1" {
		t.Fatalf("unexpected handle %+v", created)
	}
	if created.Pricing.PriceInCents != 7500 {
		t.Fatalf("expected 7500 cents, got %d", created.Pricing.PriceInCents)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/sessions/"+created.SessionID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions/"+created.SessionID+"/payment-result", strings.NewReader(`{"outcome":"succeeded"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	done := decodeSession(t, rr)
	if done.Status != string(services.CheckoutSucceeded) || !done.Terminal {
		t.Fatalf("expected terminal success, got %+v", done)
	}
	if done.Redirect == "" {
		t.Fatalf("expected dashboard redirect")
	}
}

func TestCheckoutSessionHandlers_OtherCallerForbidden(t *testing.T) {
	backend := &stubCheckoutBackend{}
	owner := &auth.Identity{UID: "user_1", IDToken: "token"}
	router, sessions := newCheckoutTestRouter(t, backend, owner)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody())))
	created := decodeSession(t, rr)

	h := NewCheckoutSessionHandlers(nil, sessions)
	other := chi.NewRouter()
	other.Route("/checkout", h.Routes)

	req := httptest.NewRequest(http.MethodGet, "/checkout/sessions/"+created.SessionID, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "intruder"}))
	rr = httptest.NewRecorder()
	other.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	other.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout/sessions/chk_missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCheckoutSessionHandlers_ValidatesCommands(t *testing.T) {
	backend := &stubCheckoutBackend{}
	router, _ := newCheckoutTestRouter(t, backend, &auth.Identity{UID: "user_1", IDToken: "token"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody())))
	created := decodeSession(t, rr)
	base := "/checkout/sessions/" + created.SessionID

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "empty schedule", method: http.MethodPatch, path: base + "/schedule", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown outcome", method: http.MethodPost, path: base + "/payment-result", body: `{"outcome":"maybe"}`, want: http.StatusBadRequest},
		{name: "malformed json", method: http.MethodPost, path: base + "/payment-result", body: `{`, want: http.StatusBadRequest},
		{name: "reschedule", method: http.MethodPatch, path: base + "/schedule", body: `{"duration":"4 Stunden"}`, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCheckoutSessionHandlers_FailedDraftIsRetryable(t *testing.T) {
	backend := &stubCheckoutBackend{draftErr: errors.New("boom")}
	router, _ := newCheckoutTestRouter(t, backend, &auth.Identity{UID: "user_1", IDToken: "token"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody())))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	created := decodeSession(t, rr)
	if created.Status != string(services.CheckoutFailed) || created.Terminal || created.RetryFrom == "" {
		t.Fatalf("expected retryable failure, got %+v", created)
	}

	backend.draftErr = nil
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions/"+created.SessionID+"/retry", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeSession(t, rr); got.Status != string(services.CheckoutReady) {
		t.Fatalf("expected ready after retry, got %s", got.Status)
	}
}

func TestCheckoutSessionHandlers_DeleteClosesSession(t *testing.T) {
	backend := &stubCheckoutBackend{}
	router, sessions := newCheckoutTestRouter(t, backend, &auth.Identity{UID: "user_1", IDToken: "token"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout/sessions", strings.NewReader(checkoutBody())))
	created := decodeSession(t, rr)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/checkout/sessions/"+created.SessionID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if sessions.Len() != 0 {
		t.Fatalf("expected session to be removed")
	}
}
