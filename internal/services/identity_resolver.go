package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// IdentityResolver resolves the customer payment identity and the provider payout
// account of one checkout session. Bindings are cached until Reset.
type IdentityResolver struct {
	customers CustomerFunctions
	providers ProviderFunctions
	logger    func(context.Context, string, map[string]any)

	mu         sync.Mutex
	bindings   IdentityBindings
	resolved   bool
	profiles   map[string]ProviderProfile
	customerBy map[string]string
}

// IdentityResolverDeps defines the backend functions used to resolve identities.
type IdentityResolverDeps struct {
	Customers CustomerFunctions
	Providers ProviderFunctions
	Logger    func(context.Context, string, map[string]any)
}

// NewIdentityResolver constructs a resolver with no cached bindings.
func NewIdentityResolver(deps IdentityResolverDeps) (*IdentityResolver, error) {
	if deps.Customers == nil {
		return nil, errors.New("identity resolver: customer functions are required")
	}
	if deps.Providers == nil {
		return nil, errors.New("identity resolver: provider functions are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &IdentityResolver{
		customers:  deps.Customers,
		providers:  deps.Providers,
		logger:     logger,
		profiles:   make(map[string]ProviderProfile),
		customerBy: make(map[string]string),
	}, nil
}

// Provider returns the provider profile, fetching it once per session.
func (r *IdentityResolver) Provider(ctx context.Context, providerID string) (ProviderProfile, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return ProviderProfile{}, &RequiredFieldsError{Fields: []string{FieldProviderID}}
	}

	r.mu.Lock()
	profile, ok := r.profiles[providerID]
	r.mu.Unlock()
	if ok {
		return profile, nil
	}

	profile, err := r.providers.SearchCompanyProfile(ctx, providerID)
	if err != nil {
		return ProviderProfile{}, fmt.Errorf("identity: provider lookup: %w", err)
	}

	r.mu.Lock()
	r.profiles[providerID] = profile
	r.mu.Unlock()
	return profile, nil
}

// ResolveProviderPayout returns the provider's payout account id.
func (r *IdentityResolver) ResolveProviderPayout(ctx context.Context, providerID string) (string, error) {
	profile, err := r.Provider(ctx, providerID)
	if err != nil {
		return "", err
	}
	if !profile.Payable() {
		return "", ErrProviderNotPayable
	}
	return strings.TrimSpace(profile.StripeConnectAccountID), nil
}

// ResolveOrCreateCustomerIdentity upserts the caller's payment customer. Repeated
// calls for the same caller return the cached id.
func (r *IdentityResolver) ResolveOrCreateCustomerIdentity(ctx context.Context, caller Caller, req CustomerIdentityRequest) (string, error) {
	if !caller.Authenticated() {
		return "", ErrAuthenticationRequired
	}
	if strings.TrimSpace(req.Email) == "" {
		req.Email = caller.Email
	}
	if strings.TrimSpace(req.Email) == "" {
		return "", fmt.Errorf("%w: email is required", ErrCustomerInvalidInput)
	}

	r.mu.Lock()
	id, ok := r.customerBy[caller.UID]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := r.customers.GetOrCreateStripeCustomer(ctx, caller, req)
	if err != nil {
		return "", fmt.Errorf("identity: customer upsert: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("identity: customer upsert returned empty id")
	}

	r.mu.Lock()
	r.customerBy[caller.UID] = id
	r.mu.Unlock()
	return id, nil
}

// Resolve runs both lookups concurrently and caches the bindings for the session.
func (r *IdentityResolver) Resolve(ctx context.Context, caller Caller, providerID string, billing BillingAddress) (IdentityBindings, error) {
	if !caller.Authenticated() {
		return IdentityBindings{}, ErrAuthenticationRequired
	}

	r.mu.Lock()
	if r.resolved {
		bindings := r.bindings
		r.mu.Unlock()
		return bindings, nil
	}
	r.mu.Unlock()

	var bindings IdentityBindings
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := r.ResolveProviderPayout(gctx, providerID)
		if err != nil {
			return err
		}
		bindings.ProviderPayoutID = id
		return nil
	})
	g.Go(func() error {
		req := CustomerIdentityRequest{Email: billing.Email, Name: billing.Name, Phone: billing.Phone}
		if billing.Complete() {
			address := billing
			req.Address = &address
		}
		id, err := r.ResolveOrCreateCustomerIdentity(gctx, caller, req)
		if err != nil {
			return err
		}
		bindings.CustomerPaymentID = id
		return nil
	})
	if err := g.Wait(); err != nil {
		return IdentityBindings{}, err
	}

	r.mu.Lock()
	r.bindings = bindings
	r.resolved = true
	r.mu.Unlock()

	r.logger(ctx, "identity.resolved", map[string]any{
		"uid":              caller.UID,
		"providerId":       providerID,
		"providerPayoutId": bindings.ProviderPayoutID,
	})
	return bindings, nil
}

// Bindings returns the cached bindings.
func (r *IdentityResolver) Bindings() (IdentityBindings, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings, r.resolved
}

// Reset drops every cached identity.
func (r *IdentityResolver) Reset() {
	r.mu.Lock()
	r.bindings = IdentityBindings{}
	r.resolved = false
	r.profiles = make(map[string]ProviderProfile)
	r.customerBy = make(map[string]string)
	r.mu.Unlock()
}
