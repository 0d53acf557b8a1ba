package services

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/taskilo/api/internal/domain"
)

type stubContextStore struct {
	mu      sync.Mutex
	data    map[string]map[string]string
	saves   int
	cleared []string
	loadErr error
	saveErr error
}

func newStubContextStore() *stubContextStore {
	return &stubContextStore{data: make(map[string]map[string]string)}
}

func (s *stubContextStore) Load(_ context.Context, sessionID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]string, len(s.data[sessionID]))
	for k, v := range s.data[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *stubContextStore) Save(_ context.Context, sessionID string, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
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

func (s *stubContextStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	s.cleared = append(s.cleared, sessionID)
	return nil
}

func (s *stubContextStore) get(sessionID, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[sessionID][key]
}

type stubProfileReader struct {
	profile domain.CustomerProfile
	err     error
	calls   int
}

func (s *stubProfileReader) CustomerProfile(_ context.Context, uid string) (domain.CustomerProfile, error) {
	s.calls++
	if s.err != nil {
		return domain.CustomerProfile{}, s.err
	}
	profile := s.profile
	profile.UID = uid
	return profile, nil
}

type stubDraftFunctions struct {
	calls atomic.Int32
	fn    func(ctx context.Context, caller Caller, input BookingInput) (Draft, error)
}

func (s *stubDraftFunctions) CreateTemporaryJobDraft(ctx context.Context, caller Caller, input BookingInput) (Draft, error) {
	n := s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, caller, input)
	}
	return Draft{ID: "draft_" + string(rune('0'+n)), ProviderPayoutID: "acct_provider"}, nil
}

type stubCustomerFunctions struct {
	calls atomic.Int32
	err   error
}

func (s *stubCustomerFunctions) GetOrCreateStripeCustomer(_ context.Context, caller Caller, _ CustomerIdentityRequest) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "cus_" + caller.UID, nil
}

type stubProviderFunctions struct {
	calls   atomic.Int32
	profile domain.ProviderProfile
	err     error
}

func (s *stubProviderFunctions) SearchCompanyProfile(_ context.Context, providerID string) (domain.ProviderProfile, error) {
	s.calls.Add(1)
	if s.err != nil {
		return domain.ProviderProfile{}, s.err
	}
	profile := s.profile
	profile.ID = providerID
	return profile, nil
}

type stubIntentFunctions struct {
	mu       sync.Mutex
	requests []PaymentIntentRequest
	fn       func(ctx context.Context, req PaymentIntentRequest) (string, error)
}

func (s *stubIntentFunctions) CreatePaymentIntent(ctx context.Context, _ Caller, req PaymentIntentRequest) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return "pi_secret_" + string(rune('0'+n)), nil
}

func (s *stubIntentFunctions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *stubIntentFunctions) last() PaymentIntentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func payableProvider(rate string) domain.ProviderProfile {
	return domain.ProviderProfile{
		CompanyName:            "Kochwerk GmbH",
		HourlyRate:             decimal.RequireFromString(rate),
		StripeConnectAccountID: "acct_provider",
	}
}

func completeProfile() domain.CustomerProfile {
	return domain.CustomerProfile{
		FirstName:   "Erika",
		LastName:    "Muster",
		Email:       "erika@example.com",
		Phone:       "+49301234567",
		UserType:    "kunde",
		Street:      "Hauptstraße",
		HouseNumber: "5",
		PostalCode:  "10115",
		City:        "Berlin",
		Country:     "DE",
	}
}

func signedInCaller() Caller {
	return Caller{UID: "user_1", Email: "erika@example.com", IDToken: "token"}
}

func completeBookingInput() BookingInput {
	return BookingInput{
		CustomerType:   domain.CustomerTypePrivate,
		Category:       "Handwerk",
		Subcategory:    "Tischler",
		Description:    "Regal montieren",
		JobPostalCode:  "10115",
		DateFrom:       "2024-06-01",
		TimePreference: "10:00",
		ProviderID:     "prov_1",
		DurationString: "3 Stunden",
		TotalHours:     3,
		PriceInCents:   7500,
	}
}
