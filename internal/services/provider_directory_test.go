package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taskilo/api/internal/domain"
)

func TestProviderDirectory_CompanyProfile(t *testing.T) {
	repo := &stubCompanyRepository{profiles: map[string]domain.ProviderProfile{
		"prov_1": {CompanyName: "Kochwerk", HourlyRate: decimal.RequireFromString("25.5"), StripeConnectAccountID: "acct_1"},
	}}
	dir, err := NewProviderDirectory(repo)
	if err != nil {
		t.Fatalf("NewProviderDirectory error: %v", err)
	}

	profile, err := dir.CompanyProfile(context.Background(), " prov_1 ")
	if err != nil {
		t.Fatalf("CompanyProfile error: %v", err)
	}
	if profile.ID != "prov_1" || !profile.Payable() {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := dir.CompanyProfile(context.Background(), "prov_missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
	if _, err := dir.CompanyProfile(context.Background(), "  "); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound for blank id, got %v", err)
	}
}

func TestProviderDirectory_WrapsRepositoryFailure(t *testing.T) {
	boom := errors.New("firestore down")
	dir, err := NewProviderDirectory(&stubCompanyRepository{err: boom})
	if err != nil {
		t.Fatalf("NewProviderDirectory error: %v", err)
	}
	if _, err := dir.CompanyProfile(context.Background(), "prov_1"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
	if _, err := NewProviderDirectory(nil); err == nil {
		t.Fatalf("expected error without repository")
	}
}
