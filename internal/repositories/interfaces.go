package repositories

import (
	"context"
	"time"

	domain "github.com/taskilo/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Drafts() DraftRepository
	Users() UserRepository
	Companies() CompanyRepository
	CheckoutContexts() CheckoutContextRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DraftRepository persists temporary job drafts in the temporaryJobDrafts collection.
type DraftRepository interface {
	Insert(ctx context.Context, draft domain.DraftRecord) error
	FindByID(ctx context.Context, draftID string) (domain.DraftRecord, error)
	// AttachPaymentIntent records the intent created for a pending draft.
	AttachPaymentIntent(ctx context.Context, draftID string, intentID string, at time.Time) error
	// TransitionStatus moves a pending draft to status. Drafts that already left
	// pending are returned unchanged together with ErrDraftStatusFinal.
	TransitionStatus(ctx context.Context, draftID string, status domain.DraftStatus, intentID string, at time.Time) (domain.DraftRecord, error)
	// ListExpired returns ids of pending drafts whose expiry is before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	DeleteMany(ctx context.Context, draftIDs []string) (int, error)
}

// UserRepository reads customer profiles from the users collection.
type UserRepository interface {
	FindByID(ctx context.Context, uid string) (domain.CustomerProfile, error)
	SetStripeCustomerID(ctx context.Context, uid string, customerID string) error
}

// CompanyRepository reads provider profiles from the companies collection.
type CompanyRepository interface {
	FindByID(ctx context.Context, providerID string) (domain.ProviderProfile, error)
}

// CheckoutContextRepository stores the key/value context of a checkout session.
// Save merges keys; an empty value deletes the key.
type CheckoutContextRepository interface {
	Load(ctx context.Context, sessionID string) (map[string]string, error)
	Save(ctx context.Context, sessionID string, values map[string]string) error
	Clear(ctx context.Context, sessionID string) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
