package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ValidateBookingInput runs the completeness check required before a draft may be created.
func ValidateBookingInput(input BookingInput) error {
	var missing []string
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	check(FieldCustomerType, string(input.CustomerType))
	check(FieldCategory, input.Category)
	check(FieldSubcategory, input.Subcategory)
	check(FieldDescription, input.Description)
	check(FieldPostalCode, input.JobPostalCode)
	check(FieldProviderID, input.ProviderID)
	check(FieldDateFrom, input.DateFrom)
	check(FieldTimePreference, input.TimePreference)
	if input.TotalHours <= 0 {
		missing = append(missing, "totalHours")
	}
	if input.PriceInCents <= 0 {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		return &RequiredFieldsError{Fields: missing}
	}
	return nil
}

// DraftGateway creates the order draft of one checkout session. Overlapping calls
// share the in-flight request and a created draft is served from cache.
type DraftGateway struct {
	drafts DraftFunctions
	logger func(context.Context, string, map[string]any)
	group  singleflight.Group

	mu         sync.Mutex
	draft      Draft
	created    bool
	generation uint64
}

// DraftGatewayDeps defines the collaborators of a DraftGateway.
type DraftGatewayDeps struct {
	Drafts DraftFunctions
	Logger func(context.Context, string, map[string]any)
}

// NewDraftGateway constructs a gateway with no draft created yet.
func NewDraftGateway(deps DraftGatewayDeps) (*DraftGateway, error) {
	if deps.Drafts == nil {
		return nil, errors.New("draft gateway: draft functions are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DraftGateway{drafts: deps.Drafts, logger: logger}, nil
}

// Create returns the session draft, creating it when none exists. Failures are
// returned to the caller and never retried here.
func (g *DraftGateway) Create(ctx context.Context, caller Caller, input BookingInput) (Draft, error) {
	if err := ValidateBookingInput(input); err != nil {
		return Draft{}, err
	}

	g.mu.Lock()
	if g.created {
		draft := g.draft
		g.mu.Unlock()
		return draft, nil
	}
	generation := g.generation
	g.mu.Unlock()

	key := fmt.Sprintf("draft:%d", generation)
	value, err, shared := g.group.Do(key, func() (any, error) {
		draft, err := g.drafts.CreateTemporaryJobDraft(ctx, caller, input)
		if err != nil {
			return Draft{}, fmt.Errorf("draft: create: %w", err)
		}
		if strings.TrimSpace(draft.ProviderPayoutID) == "" {
			return Draft{}, ErrProviderNotPayable
		}
		if strings.TrimSpace(draft.ID) == "" {
			return Draft{}, errors.New("draft: create returned empty id")
		}

		g.mu.Lock()
		if g.generation == generation {
			g.draft = draft
			g.created = true
		}
		g.mu.Unlock()
		return draft, nil
	})
	if shared {
		g.logger(ctx, "draft.create_shared", map[string]any{"providerId": input.ProviderID})
	}
	if err != nil {
		return Draft{}, err
	}
	return value.(Draft), nil
}

// Current returns the cached draft.
func (g *DraftGateway) Current() (Draft, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draft, g.created
}

// Invalidate drops the cached draft so the next Create requests a new one.
func (g *DraftGateway) Invalidate() {
	g.mu.Lock()
	g.draft = Draft{}
	g.created = false
	g.generation++
	g.mu.Unlock()
}
