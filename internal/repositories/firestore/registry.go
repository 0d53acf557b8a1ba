package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	drafts   *DraftRepository
	users    *UserRepository
	company  *CompanyRepository
	contexts *CheckoutContextRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds all repositories over the provider. health may be nil.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}
	drafts, err := NewDraftRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	companies, err := NewCompanyRepository(provider)
	if err != nil {
		return nil, err
	}
	contexts, err := NewCheckoutContextRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		drafts:   drafts,
		users:    users,
		company:  companies,
		contexts: contexts,
		health:   health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Drafts() repositories.DraftRepository { return r.drafts }

func (r *Registry) Users() repositories.UserRepository { return r.users }

func (r *Registry) Companies() repositories.CompanyRepository { return r.company }

func (r *Registry) CheckoutContexts() repositories.CheckoutContextRepository { return r.contexts }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
