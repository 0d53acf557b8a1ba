package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/taskilo/api/internal/domain"
	"github.com/taskilo/api/internal/repositories"
)

const (
	draftIDPrefix     = "tmpjob_"
	defaultDraftTTL   = 2 * time.Hour
	maxDescriptionLen = 5000
)

// DraftServiceDeps bundles collaborators of the draft service.
type DraftServiceDeps struct {
	Drafts            repositories.DraftRepository
	Companies         repositories.CompanyRepository
	Clock             func() time.Time
	IDGenerator       func() string
	TTL               time.Duration
	DayRateCategories []string
	Logger            func(context.Context, string, map[string]any)
}

type draftService struct {
	drafts      repositories.DraftRepository
	companies   repositories.CompanyRepository
	clock       func() time.Time
	newID       func() string
	ttl         time.Duration
	dayRateTags []string
	policy      *bluemonday.Policy
	logger      func(context.Context, string, map[string]any)
}

var _ DraftService = (*draftService)(nil)

// NewDraftService constructs the service that stores temporary job drafts.
func NewDraftService(deps DraftServiceDeps) (DraftService, error) {
	if deps.Drafts == nil {
		return nil, errors.New("draft service: draft repository is required")
	}
	if deps.Companies == nil {
		return nil, errors.New("draft service: company repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return draftIDPrefix + ulid.Make().String()
		}
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	tags := normalizeDayRateTags(deps.DayRateCategories)
	if len(tags) == 0 {
		tags = []string{defaultDayRateCategory}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &draftService{
		drafts:    deps.Drafts,
		companies: deps.Companies,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		ttl:         ttl,
		dayRateTags: tags,
		policy:      bluemonday.StrictPolicy(),
		logger:      logger,
	}, nil
}

// CreateTemporaryJobDraft validates the booking, re-prices it against the stored hourly
// rate and stores a pending draft bound to the provider's payout account.
func (s *draftService) CreateTemporaryJobDraft(ctx context.Context, cmd CreateDraftCommand) (Draft, error) {
	owner := strings.TrimSpace(cmd.OwnerUID)
	if owner == "" {
		return Draft{}, fmt.Errorf("%w: owner is required", ErrDraftInvalidInput)
	}

	input := cmd.Input
	input.Description = s.sanitizeDescription(input.Description)
	if input.CustomerType == "" {
		input.CustomerType = domain.CustomerTypePrivate
	}
	if err := ValidateBookingInput(input); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrDraftInvalidInput, err)
	}

	provider, err := s.companies.FindByID(ctx, input.ProviderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Draft{}, ErrProviderNotFound
		}
		return Draft{}, fmt.Errorf("draft service: load provider: %w", err)
	}
	if !provider.Payable() {
		return Draft{}, ErrProviderNotPayable
	}

	quote := calculatePrice(PriceQuoteRequest{
		HourlyRate:     provider.HourlyRate,
		DateFrom:       input.DateFrom,
		DateTo:         input.DateTo,
		DurationString: input.DurationString,
		Category:       input.Category,
		Subcategory:    input.Subcategory,
	}, s.dayRateTags)
	if !quote.OK() {
		return Draft{}, fmt.Errorf("%w: pricing failed: %s", ErrDraftInvalidInput, quote.Err)
	}
	if quote.PriceInCents != input.PriceInCents {
		s.logger(ctx, "drafts.price_mismatch", map[string]any{
			"providerId": provider.ID,
			"submitted":  input.PriceInCents,
			"computed":   quote.PriceInCents,
		})
		return Draft{}, fmt.Errorf("%w: price %d does not match %d", ErrDraftInvalidInput, input.PriceInCents, quote.PriceInCents)
	}
	input.TotalHours = quote.BillableHours.InexactFloat64()

	now := s.clock()
	record := domain.DraftRecord{
		ID:               s.newID(),
		OwnerUID:         owner,
		Input:            input,
		ProviderPayoutID: provider.StripeConnectAccountID,
		Status:           domain.DraftStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	if err := s.drafts.Insert(ctx, record); err != nil {
		return Draft{}, fmt.Errorf("draft service: insert draft: %w", err)
	}

	s.logger(ctx, "drafts.created", map[string]any{
		"draftId":    record.ID,
		"providerId": provider.ID,
		"amount":     input.PriceInCents,
	})
	return Draft{ID: record.ID, ProviderPayoutID: record.ProviderPayoutID}, nil
}

// GetDraft returns the stored draft. Expired drafts are reported as not found.
func (s *draftService) GetDraft(ctx context.Context, draftID string) (DraftRecord, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return DraftRecord{}, fmt.Errorf("%w: draft id is required", ErrDraftInvalidInput)
	}
	record, err := s.drafts.FindByID(ctx, draftID)
	if err != nil {
		if isRepoNotFound(err) {
			return DraftRecord{}, ErrDraftNotFound
		}
		return DraftRecord{}, fmt.Errorf("draft service: load draft: %w", err)
	}
	if record.Status == domain.DraftStatusPending && !record.ExpiresAt.IsZero() && !s.clock().Before(record.ExpiresAt) {
		return DraftRecord{}, ErrDraftNotFound
	}
	return record, nil
}

func (s *draftService) sanitizeDescription(value string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
	if len([]rune(cleaned)) > maxDescriptionLen {
		cleaned = string([]rune(cleaned)[:maxDescriptionLen])
	}
	return cleaned
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
