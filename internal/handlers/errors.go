package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/taskilo/api/internal/functions"
	"github.com/taskilo/api/internal/platform/auth"
	"github.com/taskilo/api/internal/platform/httpx"
	"github.com/taskilo/api/internal/repositories"
	"github.com/taskilo/api/internal/services"
)

// serviceError maps service sentinels to the API error envelope.
func serviceError(err error) httpx.Error {
	var fieldsErr *services.RequiredFieldsError
	var repoErr repositories.RepositoryError
	switch {
	case errors.As(err, &fieldsErr):
		return httpx.NewError("required_field_missing", err.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": fieldsErr.Fields})
	case errors.Is(err, services.ErrCheckoutSessionNotFound):
		return httpx.NewError("checkout_session_not_found", "checkout session not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCheckoutForbidden), errors.Is(err, services.ErrDraftForbidden):
		return httpx.ErrForbidden
	case errors.Is(err, services.ErrCheckoutClosed):
		return httpx.NewError("checkout_session_closed", "checkout session closed", http.StatusGone)
	case errors.Is(err, services.ErrCheckoutBusy):
		return httpx.NewError("checkout_busy", "checkout setup already running", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutInvalidTransition):
		return httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrBookingUnknownField):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrBookingRequiredFieldMissing), errors.Is(err, services.ErrBillingAddressIncomplete):
		return httpx.NewError("required_field_missing", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrAuthenticationRequired):
		return httpx.ErrUnauthenticated
	case errors.Is(err, services.ErrProviderNotPayable):
		return httpx.NewError("provider_not_payable", "provider cannot receive payments", http.StatusPreconditionFailed)
	case errors.Is(err, services.ErrProviderNotFound):
		return httpx.NewError("provider_not_found", "provider not found", http.StatusNotFound)
	case errors.Is(err, services.ErrDraftNotFound):
		return httpx.NewError("draft_not_found", "draft not found or expired", http.StatusNotFound)
	case errors.Is(err, services.ErrCustomerInvalidInput),
		errors.Is(err, services.ErrDraftInvalidInput),
		errors.Is(err, services.ErrPaymentIntentInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrPaymentIntentDraftMismatch):
		return httpx.NewError("draft_mismatch", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentIntentProviderUnavailable):
		return httpx.NewError("payment_provider_unavailable", "payment provider unavailable", http.StatusBadGateway)
	case errors.Is(err, services.ErrPaymentWebhookInvalid):
		return httpx.NewError("invalid_webhook", err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	case errors.As(err, &repoErr):
		switch {
		case repoErr.IsNotFound():
			return httpx.NewError("not_found", "resource not found", http.StatusNotFound)
		case repoErr.IsConflict():
			return httpx.NewError("conflict", "resource conflict", http.StatusConflict)
		case repoErr.IsUnavailable():
			return httpx.NewError("unavailable", "storage unavailable", http.StatusServiceUnavailable)
		}
	}
	return httpx.ErrInternal
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, serviceError(err))
}

// callableStatus maps service sentinels to callable error statuses.
func callableStatus(err error) (string, string) {
	apiErr := serviceError(err)
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return functions.StatusInvalidArgument, apiErr.Message
	case http.StatusPreconditionFailed, http.StatusConflict:
		return functions.StatusFailedPrecondition, apiErr.Message
	case http.StatusUnauthorized:
		return functions.StatusUnauthenticated, apiErr.Message
	case http.StatusForbidden:
		return functions.StatusPermissionDenied, apiErr.Message
	case http.StatusNotFound:
		return functions.StatusNotFound, apiErr.Message
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return functions.StatusUnavailable, apiErr.Message
	default:
		return functions.StatusInternal, "internal error"
	}
}

func requireIdentity(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return nil, false
	}
	return identity, true
}

func callerFrom(identity *auth.Identity) services.Caller {
	if identity == nil {
		return services.Caller{}
	}
	return services.Caller{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.Name,
		IDToken:     identity.IDToken,
	}
}
