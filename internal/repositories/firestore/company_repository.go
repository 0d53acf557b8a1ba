package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/taskilo/api/internal/domain"
	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/repositories"
)

const companyCollection = "companies"

// CompanyRepository reads provider profiles from the companies collection.
type CompanyRepository struct {
	base *pfirestore.Collection[map[string]any]
}

var _ repositories.CompanyRepository = (*CompanyRepository)(nil)

// NewCompanyRepository constructs a Firestore-backed company repository.
func NewCompanyRepository(provider *pfirestore.Provider) (*CompanyRepository, error) {
	if provider == nil {
		return nil, errors.New("company repository requires firestore provider")
	}
	base := pfirestore.NewCollection(provider, companyCollection, pfirestore.MapDecoder())
	return &CompanyRepository{base: base}, nil
}

// FindByID loads the provider profile. hourlyRate is stored as a number or a string
// depending on the onboarding flow that wrote it.
func (r *CompanyRepository) FindByID(ctx context.Context, providerID string) (domain.ProviderProfile, error) {
	if r == nil || r.base == nil {
		return domain.ProviderProfile{}, errors.New("company repository not initialised")
	}
	if strings.TrimSpace(providerID) == "" {
		return domain.ProviderProfile{}, errors.New("provider id is required")
	}
	doc, err := r.base.Get(ctx, providerID)
	if err != nil {
		return domain.ProviderProfile{}, err
	}
	rate, err := decimalField(doc.Data["hourlyRate"])
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("companies.find: hourlyRate: %w", err)
	}
	return domain.ProviderProfile{
		ID:                     doc.ID,
		CompanyName:            stringField(doc.Data["companyName"]),
		HourlyRate:             rate,
		PostalCode:             firstString(doc.Data, "postalCode", "companyPostalCode"),
		StripeConnectAccountID: firstString(doc.Data, "stripeAccountId", "stripeConnectAccountId"),
	}, nil
}

func decimalField(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		trimmed := strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
		if trimmed == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(trimmed)
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", value)
	}
}

func stringField(value any) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringField(data[key]); s != "" {
			return s
		}
	}
	return ""
}
