package services

import (
	"errors"
	"strings"
)

var (
	// ErrBookingRequiredFieldMissing marks validation failures that send the customer back to the booking entry flow.
	ErrBookingRequiredFieldMissing = errors.New("booking: required field missing")
	// ErrBookingUnknownField is returned for edits of fields that are not part of the booking input.
	ErrBookingUnknownField = errors.New("booking: unknown field")
	// ErrBillingAddressIncomplete blocks payment authorization until line1, postal code, city and country exist.
	ErrBillingAddressIncomplete = errors.New("booking: billing address incomplete")

	// ErrAuthenticationRequired signals that identity resolution needs a signed-in customer.
	ErrAuthenticationRequired = errors.New("identity: authentication required")
	// ErrProviderNotPayable is terminal for the session: the provider has no payout account.
	ErrProviderNotPayable = errors.New("identity: provider has no payout account")
	// ErrProviderNotFound is returned when the provider profile does not exist.
	ErrProviderNotFound = errors.New("identity: provider not found")
	// ErrCustomerInvalidInput reports a customer identity request without email.
	ErrCustomerInvalidInput = errors.New("identity: invalid customer input")

	// ErrDraftInvalidInput reports a draft request that fails validation.
	ErrDraftInvalidInput = errors.New("draft: invalid input")
	// ErrDraftNotFound is returned when a draft does not exist or has expired.
	ErrDraftNotFound = errors.New("draft: not found")
	// ErrDraftForbidden is returned when the caller does not own the draft.
	ErrDraftForbidden = errors.New("draft: forbidden")

	// ErrAuthorizationInvalidPrice rejects authorization requests without a positive price.
	ErrAuthorizationInvalidPrice = errors.New("authorization: price must be positive")
	// ErrAuthorizationInvalidInput rejects authorization requests missing draft or identities.
	ErrAuthorizationInvalidInput = errors.New("authorization: invalid input")
	// ErrAuthorizationMissingSecret reports a successful response without a client secret.
	ErrAuthorizationMissingSecret = errors.New("authorization: response missing client secret")
	// ErrAuthorizationSuperseded reports a handle issued for a price that changed while the request was in flight.
	ErrAuthorizationSuperseded = errors.New("authorization: superseded by price change")

	// ErrPaymentIntentInvalidInput rejects malformed payment intent requests.
	ErrPaymentIntentInvalidInput = errors.New("payment intent: invalid input")
	// ErrPaymentIntentDraftMismatch is returned when the amount or payout account differs from the draft.
	ErrPaymentIntentDraftMismatch = errors.New("payment intent: draft mismatch")
	// ErrPaymentIntentProviderUnavailable wraps processor failures.
	ErrPaymentIntentProviderUnavailable = errors.New("payment intent: provider unavailable")

	// ErrPaymentWebhookInvalid reports webhook payloads that fail signature or decoding checks.
	ErrPaymentWebhookInvalid = errors.New("payment webhook: invalid event")

	// ErrCheckoutInvalidTransition reports an event that is not accepted in the current state.
	ErrCheckoutInvalidTransition = errors.New("checkout: invalid transition")
	// ErrCheckoutClosed is returned once the session has been torn down.
	ErrCheckoutClosed = errors.New("checkout: session closed")
	// ErrCheckoutBusy is returned when the setup chain is already running for the session.
	ErrCheckoutBusy = errors.New("checkout: setup already running")
	// ErrCheckoutSessionNotFound is returned for unknown or expired checkout sessions.
	ErrCheckoutSessionNotFound = errors.New("checkout: session not found")
	// ErrCheckoutForbidden is returned when the caller does not own the checkout session.
	ErrCheckoutForbidden = errors.New("checkout: forbidden")
)

// RequiredFieldsError lists the booking fields that failed the completeness check.
type RequiredFieldsError struct {
	Fields []string
}

func (e *RequiredFieldsError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrBookingRequiredFieldMissing.Error()
	}
	return ErrBookingRequiredFieldMissing.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *RequiredFieldsError) Is(target error) bool {
	return target == ErrBookingRequiredFieldMissing
}
