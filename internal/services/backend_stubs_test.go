package services

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/payments"
	"github.com/taskilo/api/internal/repositories"
)

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

var _ repositories.RepositoryError = notFoundError{}

type memDraftRepository struct {
	mu          sync.Mutex
	drafts      map[string]domain.DraftRecord
	insertErr   error
	deleteErr   error
	listCutoff  time.Time
	listLimit   int
	deleteCalls int
}

func newMemDraftRepository(records ...domain.DraftRecord) *memDraftRepository {
	repo := &memDraftRepository{drafts: map[string]domain.DraftRecord{}}
	for _, rec := range records {
		repo.drafts[rec.ID] = rec
	}
	return repo
}

func (r *memDraftRepository) Insert(_ context.Context, draft domain.DraftRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	r.drafts[draft.ID] = draft
	return nil
}

func (r *memDraftRepository) FindByID(_ context.Context, draftID string) (domain.DraftRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.drafts[draftID]
	if !ok {
		return domain.DraftRecord{}, notFoundError{}
	}
	return rec, nil
}

func (r *memDraftRepository) AttachPaymentIntent(_ context.Context, draftID, intentID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.drafts[draftID]
	if !ok {
		return notFoundError{}
	}
	rec.PaymentIntentID = intentID
	rec.UpdatedAt = at
	r.drafts[draftID] = rec
	return nil
}

func (r *memDraftRepository) TransitionStatus(_ context.Context, draftID string, status domain.DraftStatus, intentID string, at time.Time) (domain.DraftRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.drafts[draftID]
	if !ok {
		return domain.DraftRecord{}, notFoundError{}
	}
	if rec.Status != domain.DraftStatusPending {
		return rec, repositories.ErrDraftStatusFinal
	}
	rec.Status = status
	if intentID != "" {
		rec.PaymentIntentID = intentID
	}
	rec.UpdatedAt = at
	r.drafts[draftID] = rec
	return rec, nil
}

func (r *memDraftRepository) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCutoff, r.listLimit = cutoff, limit
	var ids []string
	for id, rec := range r.drafts {
		if rec.Status == domain.DraftStatusPending && rec.ExpiresAt.Before(cutoff) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memDraftRepository) DeleteMany(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := r.drafts[id]; ok {
			delete(r.drafts, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memDraftRepository) get(id string) (domain.DraftRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.drafts[id]
	return rec, ok
}

type stubCompanyRepository struct {
	profiles map[string]domain.ProviderProfile
	err      error
}

func (s *stubCompanyRepository) FindByID(_ context.Context, providerID string) (domain.ProviderProfile, error) {
	if s.err != nil {
		return domain.ProviderProfile{}, s.err
	}
	profile, ok := s.profiles[providerID]
	if !ok {
		return domain.ProviderProfile{}, notFoundError{}
	}
	profile.ID = providerID
	return profile, nil
}

type stubUserRepository struct {
	profiles  map[string]domain.CustomerProfile
	findErr   error
	stored    map[string]string
	setErr    error
	findCalls int
}

func (s *stubUserRepository) FindByID(_ context.Context, uid string) (domain.CustomerProfile, error) {
	s.findCalls++
	if s.findErr != nil {
		return domain.CustomerProfile{}, s.findErr
	}
	profile, ok := s.profiles[uid]
	if !ok {
		return domain.CustomerProfile{}, notFoundError{}
	}
	return profile, nil
}

func (s *stubUserRepository) SetStripeCustomerID(_ context.Context, uid, customerID string) error {
	if s.setErr != nil {
		return s.setErr
	}
	if s.stored == nil {
		s.stored = map[string]string{}
	}
	s.stored[uid] = customerID
	return nil
}

type stubPaymentGateway struct {
	ensureFn  func(payments.CustomerRequest) (payments.Customer, error)
	intentFn  func(payments.PaymentIntentRequest) (payments.PaymentIntent, error)
	webhookFn func(payload []byte, signature string) (payments.WebhookEvent, error)

	customerRequests []payments.CustomerRequest
	intentRequests   []payments.PaymentIntentRequest
}

func (s *stubPaymentGateway) EnsureCustomer(_ context.Context, _ payments.PaymentContext, req payments.CustomerRequest) (payments.Customer, error) {
	s.customerRequests = append(s.customerRequests, req)
	if s.ensureFn != nil {
		return s.ensureFn(req)
	}
	return payments.Customer{ID: "cus_new", Email: req.Email, Created: true}, nil
}

func (s *stubPaymentGateway) CreatePaymentIntent(_ context.Context, _ payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error) {
	s.intentRequests = append(s.intentRequests, req)
	if s.intentFn != nil {
		return s.intentFn(req)
	}
	return payments.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: req.Amount, Currency: "EUR"}, nil
}

func (s *stubPaymentGateway) ParseWebhook(_ context.Context, _ payments.PaymentContext, payload []byte, signature string) (payments.WebhookEvent, error) {
	if s.webhookFn != nil {
		return s.webhookFn(payload, signature)
	}
	return payments.WebhookEvent{}, errors.New("webhook not stubbed")
}

type stubPaymentEventPublisher struct {
	events []domain.PaymentEvent
	err    error
}

func (s *stubPaymentEventPublisher) PublishPaymentEvent(_ context.Context, event domain.PaymentEvent) (string, error) {
	s.events = append(s.events, event)
	return "msg_1", s.err
}

func pendingDraft(id string, expires time.Time) domain.DraftRecord {
	return domain.DraftRecord{
		ID:               id,
		OwnerUID:         "user_1",
		Input:            completeBookingInput(),
		ProviderPayoutID: "acct_provider",
		Status:           domain.DraftStatusPending,
		ExpiresAt:        expires,
	}
}
