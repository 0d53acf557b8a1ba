package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskilo/api/internal/repositories"
)

type providerDirectory struct {
	companies repositories.CompanyRepository
}

var _ ProviderDirectory = (*providerDirectory)(nil)

// NewProviderDirectory exposes public company profiles from the repository.
func NewProviderDirectory(companies repositories.CompanyRepository) (ProviderDirectory, error) {
	if companies == nil {
		return nil, errors.New("provider directory: company repository is required")
	}
	return &providerDirectory{companies: companies}, nil
}

func (d *providerDirectory) CompanyProfile(ctx context.Context, providerID string) (ProviderProfile, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return ProviderProfile{}, ErrProviderNotFound
	}
	profile, err := d.companies.FindByID(ctx, providerID)
	if err != nil {
		if isRepoNotFound(err) {
			return ProviderProfile{}, ErrProviderNotFound
		}
		return ProviderProfile{}, fmt.Errorf("provider directory: %w", err)
	}
	return profile, nil
}
