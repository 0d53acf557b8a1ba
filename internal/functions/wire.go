package functions

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/taskilo/api/internal/domain"
)

// Callable error statuses. HTTP codes follow the Firebase callable protocol.
const (
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusFailedPrecondition = "FAILED_PRECONDITION"
	StatusUnauthenticated    = "UNAUTHENTICATED"
	StatusPermissionDenied   = "PERMISSION_DENIED"
	StatusNotFound           = "NOT_FOUND"
	StatusUnavailable        = "UNAVAILABLE"
	StatusInternal           = "INTERNAL"
)

// Endpoint names under the functions base URL.
const (
	CreateTemporaryJobDraftPath   = "/createTemporaryJobDraft"
	GetOrCreateStripeCustomerPath = "/getOrCreateStripeCustomer"
	SearchCompanyProfilesPath     = "/searchCompanyProfiles"
)

// DraftPayload is the createTemporaryJobDraft request data.
type DraftPayload struct {
	CustomerType              string  `json:"customerType"`
	SelectedCategory          string  `json:"selectedCategory"`
	SelectedSubcategory       string  `json:"selectedSubcategory"`
	Description               string  `json:"description"`
	JobStreet                 string  `json:"jobStreet,omitempty"`
	JobPostalCode             string  `json:"jobPostalCode"`
	JobCity                   string  `json:"jobCity,omitempty"`
	JobCountry                string  `json:"jobCountry,omitempty"`
	JobDateFrom               string  `json:"jobDateFrom"`
	JobDateTo                 string  `json:"jobDateTo,omitempty"`
	JobTimePreference         string  `json:"jobTimePreference"`
	SelectedAnbieterID        string  `json:"selectedAnbieterId"`
	JobDurationString         string  `json:"jobDurationString,omitempty"`
	JobTotalCalculatedHours   float64 `json:"jobTotalCalculatedHours"`
	JobCalculatedPriceInCents int64   `json:"jobCalculatedPriceInCents"`
}

// NewDraftPayload converts a booking input to its wire form.
func NewDraftPayload(input domain.BookingInput) DraftPayload {
	return DraftPayload{
		CustomerType:              string(input.CustomerType),
		SelectedCategory:          input.Category,
		SelectedSubcategory:       input.Subcategory,
		Description:               input.Description,
		JobStreet:                 input.JobStreet,
		JobPostalCode:             input.JobPostalCode,
		JobCity:                   input.JobCity,
		JobCountry:                input.JobCountry,
		JobDateFrom:               input.DateFrom,
		JobDateTo:                 input.DateTo,
		JobTimePreference:         input.TimePreference,
		SelectedAnbieterID:        input.ProviderID,
		JobDurationString:         input.DurationString,
		JobTotalCalculatedHours:   input.TotalHours,
		JobCalculatedPriceInCents: input.PriceInCents,
	}
}

// Input converts the payload back to a booking input. Unknown customer types are kept
// verbatim so validation can reject them.
func (p DraftPayload) Input() domain.BookingInput {
	customerType := domain.CustomerType(strings.TrimSpace(p.CustomerType))
	if parsed, ok := domain.ParseCustomerType(p.CustomerType); ok {
		customerType = parsed
	}
	return domain.BookingInput{
		CustomerType:   customerType,
		Category:       strings.TrimSpace(p.SelectedCategory),
		Subcategory:    strings.TrimSpace(p.SelectedSubcategory),
		Description:    p.Description,
		JobStreet:      strings.TrimSpace(p.JobStreet),
		JobPostalCode:  strings.TrimSpace(p.JobPostalCode),
		JobCity:        strings.TrimSpace(p.JobCity),
		JobCountry:     strings.TrimSpace(p.JobCountry),
		DateFrom:       strings.TrimSpace(p.JobDateFrom),
		DateTo:         strings.TrimSpace(p.JobDateTo),
		TimePreference: strings.TrimSpace(p.JobTimePreference),
		ProviderID:     strings.TrimSpace(p.SelectedAnbieterID),
		DurationString: strings.TrimSpace(p.JobDurationString),
		TotalHours:     p.JobTotalCalculatedHours,
		PriceInCents:   p.JobCalculatedPriceInCents,
	}
}

// DraftResult is the createTemporaryJobDraft response data.
type DraftResult struct {
	TempDraftID             string `json:"tempDraftId"`
	AnbieterStripeAccountID string `json:"anbieterStripeAccountId"`
}

// AddressPayload uses the processor's address field names.
type AddressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// NewAddressPayload returns nil for an address without any required field.
func NewAddressPayload(addr domain.BillingAddress) *AddressPayload {
	if addr.Line1 == "" && addr.PostalCode == "" && addr.City == "" && addr.Country == "" {
		return nil
	}
	return &AddressPayload{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

// CustomerPayload is the getOrCreateStripeCustomer request data.
type CustomerPayload struct {
	Email   string          `json:"email"`
	Name    string          `json:"name,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Address *AddressPayload `json:"address,omitempty"`
}

// CustomerResult is the getOrCreateStripeCustomer response data.
type CustomerResult struct {
	StripeCustomerID string `json:"stripeCustomerId"`
}

// CompanyProfile is the searchCompanyProfiles response.
type CompanyProfile struct {
	ID                     string `json:"id"`
	CompanyName            string `json:"companyName"`
	HourlyRate             string `json:"hourlyRate"`
	PostalCode             string `json:"postalCode,omitempty"`
	StripeConnectAccountID string `json:"stripeConnectAccountId,omitempty"`
}

// NewCompanyProfile converts a provider profile to its public wire form.
func NewCompanyProfile(p domain.ProviderProfile) CompanyProfile {
	return CompanyProfile{
		ID:                     p.ID,
		CompanyName:            p.CompanyName,
		HourlyRate:             p.HourlyRate.StringFixed(2),
		PostalCode:             p.PostalCode,
		StripeConnectAccountID: p.StripeConnectAccountID,
	}
}

// Profile parses the hourly rate; an empty or malformed rate becomes zero so the
// pricing engine reports it as missing.
func (c CompanyProfile) Profile() domain.ProviderProfile {
	rate, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(c.HourlyRate), ",", "."))
	if err != nil {
		rate = decimal.Zero
	}
	return domain.ProviderProfile{
		ID:                     strings.TrimSpace(c.ID),
		CompanyName:            strings.TrimSpace(c.CompanyName),
		HourlyRate:             rate,
		PostalCode:             strings.TrimSpace(c.PostalCode),
		StripeConnectAccountID: strings.TrimSpace(c.StripeConnectAccountID),
	}
}

// BillingDetailsPayload carries the payer for the payment intent request.
type BillingDetailsPayload struct {
	Name    string          `json:"name,omitempty"`
	Email   string          `json:"email,omitempty"`
	Phone   string          `json:"phone,omitempty"`
	Address *AddressPayload `json:"address,omitempty"`
}

// NewBillingDetailsPayload converts a billing address to its wire form.
func NewBillingDetailsPayload(addr domain.BillingAddress) *BillingDetailsPayload {
	return &BillingDetailsPayload{
		Name:    addr.Name,
		Email:   addr.Email,
		Phone:   addr.Phone,
		Address: NewAddressPayload(addr),
	}
}

// Billing converts the payload back to a billing address.
func (b *BillingDetailsPayload) Billing() *domain.BillingAddress {
	if b == nil {
		return nil
	}
	out := domain.BillingAddress{
		Name:  strings.TrimSpace(b.Name),
		Email: strings.TrimSpace(b.Email),
		Phone: strings.TrimSpace(b.Phone),
	}
	if b.Address != nil {
		out.Line1 = strings.TrimSpace(b.Address.Line1)
		out.Line2 = strings.TrimSpace(b.Address.Line2)
		out.City = strings.TrimSpace(b.Address.City)
		out.PostalCode = strings.TrimSpace(b.Address.PostalCode)
		out.Country = strings.ToUpper(strings.TrimSpace(b.Address.Country))
	}
	return &out
}

// PaymentIntentPayload is the create-payment-intent request body.
type PaymentIntentPayload struct {
	Amount             int64                  `json:"amount"`
	Currency           string                 `json:"currency"`
	ConnectedAccountID string                 `json:"connectedAccountId"`
	TaskID             string                 `json:"taskId"`
	FirebaseUserID     string                 `json:"firebaseUserId"`
	StripeCustomerID   string                 `json:"stripeCustomerId,omitempty"`
	CustomerName       string                 `json:"customerName,omitempty"`
	CustomerEmail      string                 `json:"customerEmail,omitempty"`
	BillingDetails     *BillingDetailsPayload `json:"billingDetails,omitempty"`
}

// PaymentIntentResponse is the create-payment-intent success body.
type PaymentIntentResponse struct {
	ClientSecret         string `json:"clientSecret"`
	PaymentIntentID      string `json:"paymentIntentId,omitempty"`
	ApplicationFeeAmount int64  `json:"applicationFeeAmount,omitempty"`
}

type callableRequest struct {
	Data json.RawMessage `json:"data"`
}

type callableResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *callableError  `json:"error"`
}

type callableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// DecodeCallable reads {"data": ...} into dst.
func DecodeCallable(raw []byte, dst any) error {
	var req callableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		req.Data = json.RawMessage("{}")
	}
	return json.Unmarshal(req.Data, dst)
}

// WriteResult writes a callable success envelope.
func WriteResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// WriteError writes a callable error envelope.
func WriteError(w http.ResponseWriter, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(status))
	_ = json.NewEncoder(w).Encode(map[string]any{"error": callableError{Status: status, Message: message}})
}

func httpStatusFor(status string) int {
	switch status {
	case StatusInvalidArgument, StatusFailedPrecondition:
		return http.StatusBadRequest
	case StatusUnauthenticated:
		return http.StatusUnauthorized
	case StatusPermissionDenied:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
