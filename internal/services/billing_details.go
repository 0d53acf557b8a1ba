package services

import (
	"strings"

	"github.com/taskilo/api/internal/domain"
)

const defaultBillingCountry = "DE"

// BuildBillingAddress assembles the payer address. Session entries captured during
// registration override the stored profile field by field. Private customers bill to
// their personal address, business customers to the company address.
func BuildBillingAddress(customerType domain.CustomerType, session map[string]string, profile domain.CustomerProfile, accountEmail string) domain.BillingAddress {
	pick := func(sessionKey string, fallbacks ...string) string {
		if value := strings.TrimSpace(session[sessionKey]); value != "" {
			return value
		}
		for _, fallback := range fallbacks {
			if value := strings.TrimSpace(fallback); value != "" {
				return value
			}
		}
		return ""
	}

	address := domain.BillingAddress{
		Email: pick("email", profile.Email, accountEmail),
	}

	switch customerType {
	case domain.CustomerTypeBusiness:
		address.Name = pick("companyName", profile.CompanyName, profile.FullName())
		address.Phone = pick("phoneNumber", profile.CompanyPhone, profile.Phone)
		address.Line1 = joinStreet(
			pick("companyStreet", profile.CompanyStreet),
			pick("companyHouseNumber", profile.CompanyHouseNumber),
		)
		address.PostalCode = pick("companyPostalCode", profile.CompanyPostalCode)
		address.City = pick("companyCity", profile.CompanyCity)
		address.Country = pick("companyCountry", profile.CompanyCountry, defaultBillingCountry)
	default:
		name := strings.TrimSpace(pick("firstName") + " " + pick("lastName"))
		if name == "" {
			name = profile.FullName()
		}
		address.Name = name
		address.Phone = pick("phoneNumber", profile.Phone)
		address.Line1 = joinStreet(
			pick("personalStreet", profile.Street),
			pick("personalHouseNumber", profile.HouseNumber),
		)
		address.PostalCode = pick("personalPostalCode", profile.PostalCode)
		address.City = pick("personalCity", profile.City)
		address.Country = pick("personalCountry", profile.Country, defaultBillingCountry)
	}
	return address
}

func joinStreet(street, number string) string {
	if street == "" {
		return ""
	}
	if number == "" {
		return street
	}
	return street + " " + number
}
