package services

import "fmt"

// CheckoutStatus enumerates the checkout orchestration states.
type CheckoutStatus string

const (
	CheckoutInit                    CheckoutStatus = "init"
	CheckoutParamsLoading           CheckoutStatus = "params_loading"
	CheckoutParamsLoaded            CheckoutStatus = "params_loaded"
	CheckoutAuthenticating          CheckoutStatus = "authenticating"
	CheckoutIdentityResolving       CheckoutStatus = "identity_resolving"
	CheckoutDraftReadyPending       CheckoutStatus = "draft_ready_pending"
	CheckoutDraftCreating           CheckoutStatus = "draft_creating"
	CheckoutAuthorizationRequesting CheckoutStatus = "authorization_requesting"
	CheckoutReady                   CheckoutStatus = "ready"
	CheckoutSubmitting              CheckoutStatus = "submitting"
	CheckoutSucceeded               CheckoutStatus = "succeeded"
	CheckoutFailed                  CheckoutStatus = "failed"
	// CheckoutSignInRequired is the exit taken when no authenticated session exists.
	CheckoutSignInRequired CheckoutStatus = "sign_in_required"
)

// CheckoutEvent drives Transition.
type CheckoutEvent string

const (
	EventMount                CheckoutEvent = "mount"
	EventParamsResolved       CheckoutEvent = "params_resolved"
	EventSessionPresent       CheckoutEvent = "session_present"
	EventSessionMissing       CheckoutEvent = "session_missing"
	EventIdentitiesResolved   CheckoutEvent = "identities_resolved"
	EventRequiredFieldMissing CheckoutEvent = "required_field_missing"
	EventProviderNotPayable   CheckoutEvent = "provider_not_payable"
	EventTrigger              CheckoutEvent = "trigger"
	EventDraftCreated         CheckoutEvent = "draft_created"
	EventHandleIssued         CheckoutEvent = "handle_issued"
	EventSubmit               CheckoutEvent = "submit"
	EventPaymentSucceeded     CheckoutEvent = "payment_succeeded"
	EventPaymentDeclined      CheckoutEvent = "payment_declined"
	EventRemoteFailed         CheckoutEvent = "remote_failed"
	EventRetry                CheckoutEvent = "retry"
	EventPriceChanged         CheckoutEvent = "price_changed"
)

// CheckoutState is the single current-state value of an orchestrator. RetryFrom is
// set on recoverable failures and names the step Retry re-enters.
type CheckoutState struct {
	Status    CheckoutStatus
	Terminal  bool
	RetryFrom CheckoutStatus
}

// Waiting reports whether the state needs external input before it can advance.
func (s CheckoutState) Waiting() bool {
	switch s.Status {
	case CheckoutDraftReadyPending, CheckoutReady, CheckoutSubmitting, CheckoutSucceeded, CheckoutFailed, CheckoutSignInRequired:
		return true
	default:
		return false
	}
}

// Done reports whether the session is finished: paid, or failed without a retry.
func (s CheckoutState) Done() bool {
	return s.Status == CheckoutSucceeded || s.Terminal
}

var recoverableSteps = map[CheckoutStatus]bool{
	CheckoutParamsLoading:           true,
	CheckoutAuthenticating:          true,
	CheckoutIdentityResolving:       true,
	CheckoutDraftCreating:           true,
	CheckoutAuthorizationRequesting: true,
}

var validationSteps = map[CheckoutStatus]bool{
	CheckoutParamsLoading:           true,
	CheckoutParamsLoaded:            true,
	CheckoutIdentityResolving:       true,
	CheckoutDraftReadyPending:       true,
	CheckoutDraftCreating:           true,
	CheckoutAuthorizationRequesting: true,
	CheckoutReady:                   true,
}

// Transition computes the next state. It is pure: the same inputs always give the
// same output and nothing outside the arguments is read.
func Transition(state CheckoutState, event CheckoutEvent) (CheckoutState, error) {
	next := func(status CheckoutStatus) (CheckoutState, error) {
		return CheckoutState{Status: status}, nil
	}
	terminal := func() (CheckoutState, error) {
		return CheckoutState{Status: CheckoutFailed, Terminal: true}, nil
	}

	switch event {
	case EventRemoteFailed:
		if recoverableSteps[state.Status] {
			return CheckoutState{Status: CheckoutFailed, RetryFrom: state.Status}, nil
		}
	case EventRequiredFieldMissing:
		if validationSteps[state.Status] {
			return terminal()
		}
	case EventPriceChanged:
		switch state.Status {
		case CheckoutReady, CheckoutAuthorizationRequesting:
			return next(CheckoutAuthorizationRequesting)
		case CheckoutSubmitting, CheckoutSucceeded, CheckoutSignInRequired:
		default:
			if !state.Terminal {
				return state, nil
			}
		}
	case EventRetry:
		if state.Status == CheckoutFailed && !state.Terminal && state.RetryFrom != "" {
			return next(state.RetryFrom)
		}
	}

	switch state.Status {
	case CheckoutInit:
		if event == EventMount {
			return next(CheckoutParamsLoading)
		}
	case CheckoutParamsLoading:
		if event == EventParamsResolved {
			return next(CheckoutParamsLoaded)
		}
	case CheckoutParamsLoaded:
		switch event {
		case EventSessionPresent:
			return next(CheckoutAuthenticating)
		case EventSessionMissing:
			return next(CheckoutSignInRequired)
		}
	case CheckoutAuthenticating:
		switch event {
		case EventSessionPresent:
			return next(CheckoutIdentityResolving)
		case EventSessionMissing:
			return next(CheckoutSignInRequired)
		}
	case CheckoutIdentityResolving:
		switch event {
		case EventIdentitiesResolved:
			return next(CheckoutDraftReadyPending)
		case EventProviderNotPayable:
			return terminal()
		case EventSessionMissing:
			return next(CheckoutSignInRequired)
		}
	case CheckoutDraftReadyPending:
		if event == EventTrigger {
			return next(CheckoutDraftCreating)
		}
	case CheckoutDraftCreating:
		switch event {
		case EventDraftCreated:
			return next(CheckoutAuthorizationRequesting)
		case EventProviderNotPayable:
			return terminal()
		}
	case CheckoutAuthorizationRequesting:
		if event == EventHandleIssued {
			return next(CheckoutReady)
		}
	case CheckoutReady:
		if event == EventSubmit {
			return next(CheckoutSubmitting)
		}
	case CheckoutSubmitting:
		switch event {
		case EventPaymentSucceeded:
			return next(CheckoutSucceeded)
		case EventPaymentDeclined:
			return next(CheckoutReady)
		}
	}

	return state, fmt.Errorf("%w: %s on %s", ErrCheckoutInvalidTransition, event, state.Status)
}
