package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/services"
)

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestNewRouter_Probes(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.SystemHealthCheck{"checkout": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected JSON, got %s", path, ct)
		}
	}
}

func TestNewRouter_UnconfiguredGroupsAreDisabled(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/api/v1/checkout/sessions", "/api/v1/webhooks/stripe", "/api/v1/public/checkout-config"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != "feature_disabled" {
			t.Fatalf("%s: expected feature_disabled, got %s", path, code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/createTemporaryJobDraft", nil))
	if rr.Code != http.StatusNotFound || decodeErrorCode(t, rr) != "route_not_found" {
		t.Fatalf("expected unknown root route to 404, got %d", rr.Code)
	}
}

func TestNewRouter_MountsRegistrars(t *testing.T) {
	noContent := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	router := NewRouter(
		WithFunctionRoutes(func(r chi.Router) { r.Get("/searchCompanyProfiles", noContent) }),
		WithPublicRoutes(func(r chi.Router) { r.Get("/checkout-config", noContent) }),
		WithCheckoutRoutes(func(r chi.Router) { r.Post("/sessions", noContent) }),
	)

	cases := []struct{ method, path string }{
		{http.MethodGet, "/searchCompanyProfiles?id=prov_1"},
		{http.MethodGet, "/api/v1/public/checkout-config"},
		{http.MethodPost, "/api/v1/checkout/sessions"},
		{http.MethodPost, "/api/v1//checkout/sessions"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s %s: expected 204, got %d", tc.method, tc.path, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/searchCompanyProfiles", nil))
	if rr.Code != http.StatusMethodNotAllowed || decodeErrorCode(t, rr) != "method_not_allowed" {
		t.Fatalf("expected 405 envelope, got %d", rr.Code)
	}
}

func TestNewRouter_GroupMiddlewares(t *testing.T) {
	tag := func(value string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("X-Group", value)
				next.ServeHTTP(w, r)
			})
		}
	}
	ok := func(r chi.Router) {
		r.Post("/*", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	router := NewRouter(
		WithFunctionRoutes(func(r chi.Router) {
			r.Post("/getOrCreateStripeCustomer", func(w http.ResponseWriter, r *http.Request) {})
		}, tag("functions")),
		WithWebhookRoutes(ok),
		WithWebhookMiddlewares(tag("webhooks")),
		WithInternalRoutes(ok),
		WithInternalMiddlewares(tag("internal")),
	)

	cases := map[string]string{
		"/getOrCreateStripeCustomer":    "functions",
		"/api/v1/webhooks/stripe":       "webhooks",
		"/api/v1/internal/drafts:sweep": "internal",
	}
	for path, want := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if got := rr.Header().Values("X-Group"); len(got) != 1 || got[0] != want {
			t.Fatalf("%s: expected only %s middleware, got %v", path, want, got)
		}
	}
}

func TestNewRouter_RequestBodyLimit(t *testing.T) {
	router := NewRouter(
		WithMaxBodyBytes(16),
		WithCheckoutRoutes(func(r chi.Router) {
			r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
					return
				}
				w.WriteHeader(http.StatusCreated)
			})
		}),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions", strings.NewReader(strings.Repeat("x", 64))))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected body limit to apply, got %d", rr.Code)
	}
}
