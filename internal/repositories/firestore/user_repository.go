package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/taskilo/api/internal/domain"
	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/repositories"
)

const userCollection = "users"

// UserRepository reads customer profiles from the users collection.
type UserRepository struct {
	base  *pfirestore.Collection[userDocument]
	clock func() time.Time
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewCollection[userDocument](provider, userCollection, nil)
	return &UserRepository{base: base, clock: time.Now}, nil
}

// FindByID loads the customer profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, uid string) (domain.CustomerProfile, error) {
	if r == nil || r.base == nil {
		return domain.CustomerProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(uid) == "" {
		return domain.CustomerProfile{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.CustomerProfile{}, err
	}
	profile := toDomainCustomer(doc.Data)
	profile.UID = doc.ID
	return profile, nil
}

// CustomerProfile satisfies the checkout profile reader.
func (r *UserRepository) CustomerProfile(ctx context.Context, uid string) (domain.CustomerProfile, error) {
	return r.FindByID(ctx, uid)
}

// SetStripeCustomerID stores the processor customer id on the profile, creating the
// document when it does not exist yet.
func (r *UserRepository) SetStripeCustomerID(ctx context.Context, uid string, customerID string) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	if strings.TrimSpace(uid) == "" || strings.TrimSpace(customerID) == "" {
		return errors.New("user id and customer id are required")
	}
	ref, err := r.base.Ref(ctx, uid)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, map[string]any{
		"stripeCustomerId": strings.TrimSpace(customerID),
		"updatedAt":        r.clock().UTC(),
	}, firestore.MergeAll)
	return pfirestore.WrapError("users.set_stripe_customer", err)
}

type userDocument struct {
	FirstName           string `firestore:"firstName"`
	LastName            string `firestore:"lastName"`
	DisplayName         string `firestore:"displayName"`
	Email               string `firestore:"email"`
	PhoneNumber         string `firestore:"phoneNumber"`
	UserType            string `firestore:"user_type"`
	PersonalStreet      string `firestore:"personalStreet"`
	PersonalHouseNumber string `firestore:"personalHouseNumber"`
	PersonalPostalCode  string `firestore:"personalPostalCode"`
	PersonalCity        string `firestore:"personalCity"`
	PersonalCountry     string `firestore:"personalCountry"`
	CompanyName         string `firestore:"companyName"`
	CompanyStreet       string `firestore:"companyStreet"`
	CompanyHouseNumber  string `firestore:"companyHouseNumber"`
	CompanyPostalCode   string `firestore:"companyPostalCode"`
	CompanyCity         string `firestore:"companyCity"`
	CompanyCountry      string `firestore:"companyCountry"`
	CompanyPhoneNumber  string `firestore:"companyPhoneNumber"`
	StripeCustomerID    string `firestore:"stripeCustomerId"`
}

func toDomainCustomer(doc userDocument) domain.CustomerProfile {
	return domain.CustomerProfile{
		FirstName:          strings.TrimSpace(doc.FirstName),
		LastName:           strings.TrimSpace(doc.LastName),
		DisplayName:        strings.TrimSpace(doc.DisplayName),
		Email:              strings.TrimSpace(doc.Email),
		Phone:              strings.TrimSpace(doc.PhoneNumber),
		UserType:           strings.TrimSpace(doc.UserType),
		Street:             strings.TrimSpace(doc.PersonalStreet),
		HouseNumber:        strings.TrimSpace(doc.PersonalHouseNumber),
		PostalCode:         strings.TrimSpace(doc.PersonalPostalCode),
		City:               strings.TrimSpace(doc.PersonalCity),
		Country:            strings.TrimSpace(doc.PersonalCountry),
		CompanyName:        strings.TrimSpace(doc.CompanyName),
		CompanyStreet:      strings.TrimSpace(doc.CompanyStreet),
		CompanyHouseNumber: strings.TrimSpace(doc.CompanyHouseNumber),
		CompanyPostalCode:  strings.TrimSpace(doc.CompanyPostalCode),
		CompanyCity:        strings.TrimSpace(doc.CompanyCity),
		CompanyCountry:     strings.TrimSpace(doc.CompanyCountry),
		CompanyPhone:       strings.TrimSpace(doc.CompanyPhoneNumber),
		StripeCustomerID:   strings.TrimSpace(doc.StripeCustomerID),
	}
}
