package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/taskilo/api/internal/domain"
)

func newTestDraftService(t *testing.T, drafts *memDraftRepository, now time.Time) DraftService {
	t.Helper()
	companies := &stubCompanyRepository{profiles: map[string]domain.ProviderProfile{
		"prov_1":    payableProvider("25"),
		"prov_nopa": {HourlyRate: payableProvider("25").HourlyRate},
	}}
	svc, err := NewDraftService(DraftServiceDeps{
		Drafts:      drafts,
		Companies:   companies,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "tmpjob_1" },
		TTL:         time.Hour,
	})
	if err != nil {
		t.Fatalf("NewDraftService error: %v", err)
	}
	return svc
}

func TestDraftService_CreatesPendingDraft(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	drafts := newMemDraftRepository()
	svc := newTestDraftService(t, drafts, now)

	input := completeBookingInput()
	input.Description = "<script>alert(1)</script>Regal & Schrank montieren"
	draft, err := svc.CreateTemporaryJobDraft(context.Background(), CreateDraftCommand{OwnerUID: "user_1", Input: input})
	if err != nil {
		t.Fatalf("CreateTemporaryJobDraft error: %v", err)
	}
	if draft.ID != "tmpjob_1" || draft.ProviderPayoutID != "acct_provider" {
		t.Fatalf("unexpected draft %+v", draft)
	}

	stored, ok := drafts.get("tmpjob_1")
	if !ok {
		t.Fatalf("expected stored draft")
	}
	if stored.Status != domain.DraftStatusPending || stored.OwnerUID != "user_1" {
		t.Fatalf("unexpected stored draft %+v", stored)
	}
	if !stored.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry after ttl, got %s", stored.ExpiresAt)
	}
	if stored.Input.Description != "Regal & Schrank montieren" {
		t.Fatalf("expected sanitized description, got %q", stored.Input.Description)
	}
}

func TestDraftService_RejectsPriceMismatch(t *testing.T) {
	drafts := newMemDraftRepository()
	svc := newTestDraftService(t, drafts, time.Now())

	input := completeBookingInput()
	input.PriceInCents = 100
	_, err := svc.CreateTemporaryJobDraft(context.Background(), CreateDraftCommand{OwnerUID: "user_1", Input: input})
	if !errors.Is(err, ErrDraftInvalidInput) {
		t.Fatalf("expected ErrDraftInvalidInput, got %v", err)
	}
	if len(drafts.drafts) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestDraftService_ValidationAndProviderErrors(t *testing.T) {
	svc := newTestDraftService(t, newMemDraftRepository(), time.Now())
	ctx := context.Background()

	if _, err := svc.CreateTemporaryJobDraft(ctx, CreateDraftCommand{Input: completeBookingInput()}); !errors.Is(err, ErrDraftInvalidInput) {
		t.Fatalf("expected owner validation error, got %v", err)
	}

	missing := completeBookingInput()
	missing.JobPostalCode = ""
	if _, err := svc.CreateTemporaryJobDraft(ctx, CreateDraftCommand{OwnerUID: "user_1", Input: missing}); !errors.Is(err, ErrDraftInvalidInput) {
		t.Fatalf("expected missing field error, got %v", err)
	}

	unknown := completeBookingInput()
	unknown.ProviderID = "prov_missing"
	if _, err := svc.CreateTemporaryJobDraft(ctx, CreateDraftCommand{OwnerUID: "user_1", Input: unknown}); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}

	notPayable := completeBookingInput()
	notPayable.ProviderID = "prov_nopa"
	if _, err := svc.CreateTemporaryJobDraft(ctx, CreateDraftCommand{OwnerUID: "user_1", Input: notPayable}); !errors.Is(err, ErrProviderNotPayable) {
		t.Fatalf("expected ErrProviderNotPayable, got %v", err)
	}
}

func TestDraftService_GetDraftHidesExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	drafts := newMemDraftRepository(
		pendingDraft("fresh", now.Add(time.Minute)),
		pendingDraft("stale", now.Add(-time.Minute)),
	)
	svc := newTestDraftService(t, drafts, now)

	if _, err := svc.GetDraft(context.Background(), "fresh"); err != nil {
		t.Fatalf("GetDraft error: %v", err)
	}
	if _, err := svc.GetDraft(context.Background(), "stale"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected expired draft to be hidden, got %v", err)
	}
	if _, err := svc.GetDraft(context.Background(), "missing"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
}
