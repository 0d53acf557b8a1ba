package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/taskilo/api/internal/domain"
)

const (
	bookingEntryPath    = "/auftrag/get-started"
	signInPath          = "/login"
	billingProfilePath  = "/register/user"
	customerDashboardFm = "/dashboard/user/%s"
)

// Error kinds reported in snapshots.
const (
	CheckoutErrorValidation         = "validation"
	CheckoutErrorBillingIncomplete  = "billing_incomplete"
	CheckoutErrorProviderNotPayable = "provider_not_payable"
	CheckoutErrorRemote             = "remote"
	CheckoutErrorPaymentDeclined    = "payment_declined"
)

// PaymentOutcome is the result of the client-side payment confirmation.
type PaymentOutcome struct {
	Succeeded bool
	Message   string
}

// CheckoutSnapshot is the read model exposed to the presentation layer.
type CheckoutSnapshot struct {
	SessionID    string
	State        CheckoutState
	ErrorMessage string
	ErrorKind    string
	Redirect     string
	Pricing      PricingResult
	Input        BookingInput
	Billing      BillingAddress
	DraftID      string
	ClientSecret string
	UpdatedAt    time.Time
}

// CheckoutOrchestrator sequences reconciliation, pricing, identity resolution,
// draft creation and payment authorization for one checkout session. State
// mutation is serialised by mu; remote calls run outside the lock and commit only
// while the orchestrator is alive.
type CheckoutOrchestrator struct {
	sessionID   string
	caller      Caller
	query       map[string]string
	returnPath  string
	currency    string
	autoTrigger bool

	params      *BookingParamsLoader
	pricing     *PricingEngine
	identities  *IdentityResolver
	drafts      *DraftGateway
	authorizer  *PaymentAuthorizer
	contexts    CheckoutContextStore
	transitions metric.Int64Counter
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)

	running atomic.Bool

	mu           sync.Mutex
	state        CheckoutState
	alive        bool
	mounted      bool
	triggered    bool
	priceVersion uint64
	input        BookingInput
	session      map[string]string
	profile      CustomerProfile
	provider     ProviderProfile
	billing      BillingAddress
	quote        PricingResult
	errMessage   string
	errKind      string
	redirect     string
	updatedAt    time.Time
}

// CheckoutOrchestratorDeps groups the collaborators of a single checkout session.
type CheckoutOrchestratorDeps struct {
	SessionID   string
	Caller      Caller
	Query       map[string]string
	ReturnPath  string
	Currency    string
	AutoTrigger bool

	Params      *BookingParamsLoader
	Pricing     *PricingEngine
	Identities  *IdentityResolver
	Drafts      *DraftGateway
	Authorizer  *PaymentAuthorizer
	Contexts    CheckoutContextStore
	Transitions metric.Int64Counter
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
}

// NewCheckoutOrchestrator constructs an orchestrator in the init state.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, errors.New("checkout orchestrator: session id is required")
	}
	if deps.Params == nil || deps.Pricing == nil || deps.Identities == nil || deps.Drafts == nil || deps.Authorizer == nil {
		return nil, errors.New("checkout orchestrator: params, pricing, identities, drafts and authorizer are required")
	}
	if deps.Contexts == nil {
		return nil, errors.New("checkout orchestrator: context store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	query := make(map[string]string, len(deps.Query))
	for k, v := range deps.Query {
		query[k] = v
	}
	returnPath := strings.TrimSpace(deps.ReturnPath)
	if returnPath == "" || !strings.HasPrefix(returnPath, "/") || strings.HasPrefix(returnPath, "//") {
		returnPath = bookingEntryPath
	}

	o := &CheckoutOrchestrator{
		sessionID:   deps.SessionID,
		caller:      deps.Caller,
		query:       query,
		returnPath:  returnPath,
		currency:    deps.Currency,
		autoTrigger: deps.AutoTrigger,
		params:      deps.Params,
		pricing:     deps.Pricing,
		identities:  deps.Identities,
		drafts:      deps.Drafts,
		authorizer:  deps.Authorizer,
		contexts:    deps.Contexts,
		transitions: deps.Transitions,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		state:  CheckoutState{Status: CheckoutInit},
		alive:  true,
	}
	o.updatedAt = o.clock()
	deps.Pricing.Subscribe(o.onPriceChanged)
	return o, nil
}

// SessionID returns the checkout session id.
func (o *CheckoutOrchestrator) SessionID() string {
	return o.sessionID
}

// OwnerUID returns the uid of the caller that opened the session.
func (o *CheckoutOrchestrator) OwnerUID() string {
	return o.caller.UID
}

// Start mounts the session and advances until user input is required. Calling it
// again is a no-op.
func (o *CheckoutOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	if o.mounted {
		o.mu.Unlock()
		return nil
	}
	o.mounted = true
	err := o.dispatchLocked(ctx, EventMount)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return o.advance(ctx)
}

// Trigger starts draft creation when the session waits for the user.
func (o *CheckoutOrchestrator) Trigger(ctx context.Context) error {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	o.triggered = true
	o.mu.Unlock()
	return o.advance(ctx)
}

// Retry re-enters the step that failed with a recoverable error.
func (o *CheckoutOrchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	if o.running.Load() {
		o.mu.Unlock()
		return ErrCheckoutBusy
	}
	err := o.dispatchLocked(ctx, EventRetry)
	if err == nil {
		o.errMessage = ""
		o.errKind = ""
	}
	o.mu.Unlock()
	if err != nil {
		return err
	}
	return o.advance(ctx)
}

// UpdateSchedule applies date, time, duration or description edits, reprices the
// booking and re-requests authorization when a handle was already issued.
func (o *CheckoutOrchestrator) UpdateSchedule(ctx context.Context, edits map[string]string) error {
	for field := range edits {
		switch field {
		case FieldDateFrom, FieldDateTo, FieldTimePreference, FieldDuration, FieldDescription:
		default:
			return fmt.Errorf("%w: %s", ErrBookingUnknownField, field)
		}
	}

	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	switch o.state.Status {
	case CheckoutInit, CheckoutParamsLoading, CheckoutSubmitting, CheckoutSucceeded, CheckoutSignInRequired:
		status := o.state.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: edit in %s", ErrCheckoutInvalidTransition, status)
	}
	if o.state.Terminal {
		o.mu.Unlock()
		return fmt.Errorf("%w: edit after terminal failure", ErrCheckoutInvalidTransition)
	}
	provider := o.provider
	o.mu.Unlock()

	reconciled, err := o.params.Apply(ctx, edits)
	if err != nil {
		return err
	}

	o.authorizer.Invalidate(0)
	o.drafts.Invalidate()

	quote := o.pricing.Quote(ctx, o.quoteRequest(reconciled.Input, provider))
	if err := o.params.RecordPrice(ctx, quote.PriceInCents, quote.BillableHours.InexactFloat64()); err != nil {
		o.logger(ctx, "checkout.record_price_failed", map[string]any{"sessionId": o.sessionID, "error": err.Error()})
	}

	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	o.input = reconciled.Input
	o.input.PriceInCents = quote.PriceInCents
	o.input.TotalHours = quote.BillableHours.InexactFloat64()
	o.session = reconciled.Session
	o.quote = quote
	o.priceVersion++
	o.authorizer.Invalidate(quote.PriceInCents)
	if !quote.OK() {
		o.failValidationLocked(ctx, pricingErrorMessage(quote.Err), CheckoutErrorValidation, bookingEntryPath)
		o.mu.Unlock()
		return nil
	}
	if o.state.Status == CheckoutReady || o.state.Status == CheckoutAuthorizationRequesting {
		if err := o.dispatchLocked(ctx, EventPriceChanged); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()
	return o.advance(ctx)
}

// ReportPayment records the result of the client-side payment confirmation.
func (o *CheckoutOrchestrator) ReportPayment(ctx context.Context, outcome PaymentOutcome) error {
	o.mu.Lock()
	if !o.alive {
		o.mu.Unlock()
		return ErrCheckoutClosed
	}
	if _, ok := o.authorizer.Current(); !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: no valid authorization handle", ErrCheckoutInvalidTransition)
	}
	if err := o.dispatchLocked(ctx, EventSubmit); err != nil {
		o.mu.Unlock()
		return err
	}
	if !outcome.Succeeded {
		err := o.dispatchLocked(ctx, EventPaymentDeclined)
		o.errMessage = strings.TrimSpace(outcome.Message)
		o.errKind = CheckoutErrorPaymentDeclined
		o.mu.Unlock()
		return err
	}
	if err := o.dispatchLocked(ctx, EventPaymentSucceeded); err != nil {
		o.mu.Unlock()
		return err
	}
	o.authorizer.Consume()
	o.errMessage = ""
	o.errKind = ""
	o.redirect = fmt.Sprintf(customerDashboardFm, url.PathEscape(o.caller.UID))
	o.mu.Unlock()

	if err := o.contexts.Clear(ctx, o.sessionID); err != nil {
		o.logger(ctx, "checkout.clear_context_failed", map[string]any{"sessionId": o.sessionID, "error": err.Error()})
	}
	return nil
}

// Close tears the session down; pending remote results are dropped.
func (o *CheckoutOrchestrator) Close() {
	o.mu.Lock()
	o.alive = false
	o.mu.Unlock()
}

// Alive reports whether the session has not been torn down.
func (o *CheckoutOrchestrator) Alive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alive
}

// Snapshot returns the current read model.
func (o *CheckoutOrchestrator) Snapshot() CheckoutSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := CheckoutSnapshot{
		SessionID:    o.sessionID,
		State:        o.state,
		ErrorMessage: o.errMessage,
		ErrorKind:    o.errKind,
		Redirect:     o.redirect,
		Pricing:      o.quote,
		Input:        o.input,
		Billing:      o.billing,
		UpdatedAt:    o.updatedAt,
	}
	if draft, ok := o.drafts.Current(); ok {
		snapshot.DraftID = draft.ID
	}
	if handle, ok := o.authorizer.Current(); ok {
		snapshot.ClientSecret = handle.Secret
	}
	return snapshot
}

// UpdatedAt returns the time of the last state change.
func (o *CheckoutOrchestrator) UpdatedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updatedAt
}

// advance runs steps until the state waits for input. Only one advance runs at a time.
func (o *CheckoutOrchestrator) advance(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger(ctx, "checkout.reentry_ignored", map[string]any{"sessionId": o.sessionID})
		return nil
	}
	defer o.running.Store(false)

	for {
		o.mu.Lock()
		if !o.alive {
			o.mu.Unlock()
			return ErrCheckoutClosed
		}
		status := o.state.Status
		if status == CheckoutDraftReadyPending && (o.autoTrigger || o.triggered) {
			o.triggered = false
			if err := o.dispatchLocked(ctx, EventTrigger); err != nil {
				o.mu.Unlock()
				return err
			}
			status = o.state.Status
		}
		o.triggered = false
		o.mu.Unlock()

		var step func(context.Context) error
		switch status {
		case CheckoutParamsLoading:
			step = o.loadParams
		case CheckoutParamsLoaded, CheckoutAuthenticating:
			step = o.authenticate
		case CheckoutIdentityResolving:
			step = o.resolveIdentities
		case CheckoutDraftCreating:
			step = o.createDraft
		case CheckoutAuthorizationRequesting:
			step = o.authorize
		default:
			return nil
		}
		if err := step(ctx); err != nil {
			return err
		}
	}
}

func (o *CheckoutOrchestrator) loadParams(ctx context.Context) error {
	reconciled, profile, err := o.params.Load(ctx, o.caller.UID, o.query)
	if err != nil {
		return o.commitRemoteFailure(ctx, CheckoutParamsLoading, err)
	}

	provider, err := o.identities.Provider(ctx, reconciled.Input.ProviderID)
	if err != nil {
		var fields *RequiredFieldsError
		if errors.As(err, &fields) {
			return o.commitValidation(ctx, CheckoutParamsLoading, err.Error(), CheckoutErrorValidation, bookingEntryPath)
		}
		return o.commitRemoteFailure(ctx, CheckoutParamsLoading, err)
	}

	quote := o.pricing.Quote(ctx, o.quoteRequest(reconciled.Input, provider))
	if quote.OK() && reconciled.Input.PriceInCents > 0 && reconciled.Input.PriceInCents != quote.PriceInCents {
		o.logger(ctx, "checkout.price_recomputed", map[string]any{
			"sessionId":   o.sessionID,
			"carried":     reconciled.Input.PriceInCents,
			"computed":    quote.PriceInCents,
			"priceSource": string(reconciled.PriceSource),
		})
	}
	if quote.OK() {
		if err := o.params.RecordPrice(ctx, quote.PriceInCents, quote.BillableHours.InexactFloat64()); err != nil {
			return o.commitRemoteFailure(ctx, CheckoutParamsLoading, err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive {
		return ErrCheckoutClosed
	}
	o.input = reconciled.Input
	o.input.PriceInCents = quote.PriceInCents
	o.input.TotalHours = quote.BillableHours.InexactFloat64()
	o.session = reconciled.Session
	o.profile = profile
	o.provider = provider
	o.quote = quote
	if !quote.OK() {
		o.failValidationLocked(ctx, pricingErrorMessage(quote.Err), CheckoutErrorValidation, bookingEntryPath)
		return nil
	}
	return o.dispatchLocked(ctx, EventParamsResolved)
}

func (o *CheckoutOrchestrator) authenticate(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive {
		return ErrCheckoutClosed
	}
	if !o.caller.Authenticated() {
		o.redirect = signInPath + "?redirectTo=" + url.QueryEscape(o.returnPath)
		return o.dispatchLocked(ctx, EventSessionMissing)
	}
	return o.dispatchLocked(ctx, EventSessionPresent)
}

func (o *CheckoutOrchestrator) resolveIdentities(ctx context.Context) error {
	o.mu.Lock()
	input := o.input
	billing := BuildBillingAddress(input.CustomerType, o.session, o.profile, o.caller.Email)
	o.billing = billing
	o.mu.Unlock()

	if err := ValidateBookingInput(input); err != nil {
		return o.commitValidation(ctx, CheckoutIdentityResolving, err.Error(), CheckoutErrorValidation, bookingEntryPath)
	}
	if !billing.Complete() {
		msg := fmt.Sprintf("%s: %s", ErrBillingAddressIncomplete.Error(), strings.Join(billing.MissingFields(), ", "))
		redirect := billingProfilePath + "?redirectTo=" + url.QueryEscape(o.returnPath)
		return o.commitValidation(ctx, CheckoutIdentityResolving, msg, CheckoutErrorBillingIncomplete, redirect)
	}

	_, err := o.identities.Resolve(ctx, o.caller, input.ProviderID, billing)
	switch {
	case err == nil:
		return o.commit(ctx, CheckoutIdentityResolving, EventIdentitiesResolved, nil)
	case errors.Is(err, ErrProviderNotPayable):
		return o.commitTerminal(ctx, CheckoutIdentityResolving, err)
	case errors.Is(err, ErrAuthenticationRequired):
		return o.commit(ctx, CheckoutIdentityResolving, EventSessionMissing, func() {
			o.redirect = signInPath + "?redirectTo=" + url.QueryEscape(o.returnPath)
		})
	default:
		return o.commitRemoteFailure(ctx, CheckoutIdentityResolving, err)
	}
}

func (o *CheckoutOrchestrator) createDraft(ctx context.Context) error {
	o.mu.Lock()
	input := o.input
	o.mu.Unlock()

	_, err := o.drafts.Create(ctx, o.caller, input)
	switch {
	case err == nil:
		return o.commit(ctx, CheckoutDraftCreating, EventDraftCreated, nil)
	case errors.Is(err, ErrProviderNotPayable):
		return o.commitTerminal(ctx, CheckoutDraftCreating, err)
	case errors.Is(err, ErrBookingRequiredFieldMissing):
		return o.commitValidation(ctx, CheckoutDraftCreating, err.Error(), CheckoutErrorValidation, bookingEntryPath)
	default:
		return o.commitRemoteFailure(ctx, CheckoutDraftCreating, err)
	}
}

func (o *CheckoutOrchestrator) authorize(ctx context.Context) error {
	o.mu.Lock()
	input := o.input
	billing := o.billing
	version := o.priceVersion
	o.mu.Unlock()

	draft, err := o.drafts.Create(ctx, o.caller, input)
	switch {
	case err == nil:
	case errors.Is(err, ErrProviderNotPayable):
		return o.commitTerminal(ctx, CheckoutAuthorizationRequesting, err)
	case errors.Is(err, ErrBookingRequiredFieldMissing):
		return o.commitValidation(ctx, CheckoutAuthorizationRequesting, err.Error(), CheckoutErrorValidation, bookingEntryPath)
	default:
		return o.commitRemoteFailure(ctx, CheckoutAuthorizationRequesting, err)
	}
	bindings, _ := o.identities.Bindings()

	_, err = o.authorizer.Authorize(ctx, AuthorizationRequest{
		Caller:            o.caller,
		PriceInCents:      input.PriceInCents,
		Currency:          o.currency,
		ProviderPayoutID:  firstNonEmpty(draft.ProviderPayoutID, bindings.ProviderPayoutID),
		DraftID:           draft.ID,
		CustomerPaymentID: bindings.CustomerPaymentID,
		Billing:           billing,
	})

	o.mu.Lock()
	stale := version != o.priceVersion
	o.mu.Unlock()
	if stale || errors.Is(err, ErrAuthorizationSuperseded) {
		o.logger(ctx, "checkout.authorization_discarded", map[string]any{"sessionId": o.sessionID})
		return nil
	}

	switch {
	case err == nil:
		return o.commit(ctx, CheckoutAuthorizationRequesting, EventHandleIssued, func() {
			o.errMessage = ""
			o.errKind = ""
		})
	case errors.Is(err, ErrAuthorizationInvalidPrice):
		return o.commitValidation(ctx, CheckoutAuthorizationRequesting, err.Error(), CheckoutErrorValidation, bookingEntryPath)
	case errors.Is(err, ErrBillingAddressIncomplete):
		redirect := billingProfilePath + "?redirectTo=" + url.QueryEscape(o.returnPath)
		return o.commitValidation(ctx, CheckoutAuthorizationRequesting, err.Error(), CheckoutErrorBillingIncomplete, redirect)
	default:
		return o.commitRemoteFailure(ctx, CheckoutAuthorizationRequesting, err)
	}
}

func (o *CheckoutOrchestrator) onPriceChanged(ctx context.Context, event PriceChangedEvent) {
	o.authorizer.Invalidate(event.Current.PriceInCents)
	o.drafts.Invalidate()
	o.logger(ctx, "checkout.price_changed", map[string]any{
		"sessionId": o.sessionID,
		"previous":  event.Previous.PriceInCents,
		"current":   event.Current.PriceInCents,
	})
}

func (o *CheckoutOrchestrator) quoteRequest(input BookingInput, provider ProviderProfile) PriceQuoteRequest {
	return PriceQuoteRequest{
		HourlyRate:     provider.HourlyRate,
		DateFrom:       input.DateFrom,
		DateTo:         input.DateTo,
		DurationString: input.DurationString,
		Category:       input.Category,
		Subcategory:    input.Subcategory,
	}
}

// commit applies event when the orchestrator is alive and still in step.
func (o *CheckoutOrchestrator) commit(ctx context.Context, step CheckoutStatus, event CheckoutEvent, mutate func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.alive {
		return ErrCheckoutClosed
	}
	if o.state.Status != step {
		o.logger(ctx, "checkout.result_dropped", map[string]any{
			"sessionId": o.sessionID,
			"step":      string(step),
			"state":     string(o.state.Status),
		})
		return nil
	}
	if mutate != nil {
		mutate()
	}
	return o.dispatchLocked(ctx, event)
}

func (o *CheckoutOrchestrator) commitRemoteFailure(ctx context.Context, step CheckoutStatus, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	o.logger(ctx, "checkout.remote_failed", map[string]any{
		"sessionId": o.sessionID,
		"step":      string(step),
		"error":     err.Error(),
	})
	return o.commit(ctx, step, EventRemoteFailed, func() {
		o.errMessage = err.Error()
		o.errKind = CheckoutErrorRemote
	})
}

func (o *CheckoutOrchestrator) commitTerminal(ctx context.Context, step CheckoutStatus, err error) error {
	return o.commit(ctx, step, EventProviderNotPayable, func() {
		o.errMessage = err.Error()
		o.errKind = CheckoutErrorProviderNotPayable
	})
}

func (o *CheckoutOrchestrator) commitValidation(ctx context.Context, step CheckoutStatus, message, kind, redirect string) error {
	return o.commit(ctx, step, EventRequiredFieldMissing, func() {
		o.errMessage = message
		o.errKind = kind
		o.redirect = redirect
	})
}

func (o *CheckoutOrchestrator) failValidationLocked(ctx context.Context, message, kind, redirect string) {
	if err := o.dispatchLocked(ctx, EventRequiredFieldMissing); err != nil {
		o.logger(ctx, "checkout.validation_transition_rejected", map[string]any{"sessionId": o.sessionID, "error": err.Error()})
		return
	}
	o.errMessage = message
	o.errKind = kind
	o.redirect = redirect
}

func (o *CheckoutOrchestrator) dispatchLocked(ctx context.Context, event CheckoutEvent) error {
	from := o.state
	next, err := Transition(from, event)
	if err != nil {
		return err
	}
	o.state = next
	o.updatedAt = o.clock()
	if o.transitions != nil {
		o.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from.Status)),
			attribute.String("to", string(next.Status)),
			attribute.String("event", string(event)),
		))
	}
	o.logger(ctx, "checkout.transition", map[string]any{
		"sessionId": o.sessionID,
		"from":      string(from.Status),
		"to":        string(next.Status),
		"event":     string(event),
	})
	return nil
}

func pricingErrorMessage(kind domain.PricingErrorKind) string {
	switch kind {
	case domain.PricingErrorMissingRate:
		return "provider has no hourly rate"
	case domain.PricingErrorInvalidDateRange:
		return "end date is before start date"
	case domain.PricingErrorInvalidDuration:
		return "duration must be a positive number of hours"
	default:
		return "price could not be calculated"
	}
}
