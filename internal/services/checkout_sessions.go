package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	checkoutSessionIDPrefix       = "chk_"
	defaultCheckoutSessionIdleTTL = 30 * time.Minute
	checkoutMeterName             = "github.com/taskilo/api/services/checkout"
)

// OpenCheckoutCommand opens a checkout session.
type OpenCheckoutCommand struct {
	Caller Caller
	// Query holds the URL query parameters of the confirmation page.
	Query map[string]string
	// Context seeds the session context with values captured on earlier steps.
	Context    map[string]string
	ReturnPath string
}

// CheckoutSessions keeps one orchestrator per checkout session and expires idle ones.
type CheckoutSessions struct {
	contexts          CheckoutContextStore
	profiles          CustomerProfileReader
	drafts            DraftFunctions
	customers         CustomerFunctions
	providers         ProviderFunctions
	intents           PaymentIntentFunctions
	rules             []FieldRule
	dayRateCategories []string
	settleDelay       time.Duration
	currency          string
	autoTrigger       bool
	idleTTL           time.Duration
	transitions       metric.Int64Counter
	clock             func() time.Time
	newID             func() string
	logger            func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*CheckoutOrchestrator
}

// CheckoutSessionsDeps carries the shared collaborators handed to every session.
type CheckoutSessionsDeps struct {
	Contexts          CheckoutContextStore
	Profiles          CustomerProfileReader
	Drafts            DraftFunctions
	Customers         CustomerFunctions
	Providers         ProviderFunctions
	Intents           PaymentIntentFunctions
	Taxonomy          *CategoryTaxonomy
	DayRateCategories []string
	SettleDelay       time.Duration
	Currency          string
	AutoTrigger       bool
	IdleTTL           time.Duration
	Meter             metric.Meter
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(context.Context, string, map[string]any)
}

// NewCheckoutSessions constructs an empty session registry.
func NewCheckoutSessions(deps CheckoutSessionsDeps) (*CheckoutSessions, error) {
	if deps.Contexts == nil {
		return nil, errors.New("checkout sessions: context store is required")
	}
	if deps.Drafts == nil || deps.Customers == nil || deps.Providers == nil || deps.Intents == nil {
		return nil, errors.New("checkout sessions: backend function clients are required")
	}
	taxonomy := deps.Taxonomy
	if taxonomy == nil {
		var err error
		taxonomy, err = DefaultCategoryTaxonomy()
		if err != nil {
			return nil, fmt.Errorf("checkout sessions: %w", err)
		}
	}
	idleTTL := deps.IdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultCheckoutSessionIdleTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return checkoutSessionIDPrefix + strings.ToLower(ulid.Make().String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterName)
	}
	transitions, err := meter.Int64Counter(
		"checkout.transitions",
		metric.WithDescription("Count of checkout state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("checkout sessions: create transition counter: %w", err)
	}

	return &CheckoutSessions{
		contexts:          deps.Contexts,
		profiles:          deps.Profiles,
		drafts:            deps.Drafts,
		customers:         deps.Customers,
		providers:         deps.Providers,
		intents:           deps.Intents,
		rules:             DefaultBookingParamRules(taxonomy),
		dayRateCategories: deps.DayRateCategories,
		settleDelay:       deps.SettleDelay,
		currency:          deps.Currency,
		autoTrigger:       deps.AutoTrigger,
		idleTTL:           idleTTL,
		transitions:       transitions,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		sessions: make(map[string]*CheckoutOrchestrator),
	}, nil
}

// Open creates a session, seeds its context and runs it until user input is needed.
// The returned orchestrator is registered even when the initial run fails.
func (s *CheckoutSessions) Open(ctx context.Context, cmd OpenCheckoutCommand) (*CheckoutOrchestrator, error) {
	s.prune()

	sessionID := s.newID()
	if len(cmd.Context) > 0 {
		if err := s.contexts.Save(ctx, sessionID, cmd.Context); err != nil {
			return nil, fmt.Errorf("checkout sessions: seed context: %w", err)
		}
	}

	orchestrator, err := s.build(sessionID, cmd)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionID] = orchestrator
	s.mu.Unlock()

	s.logger(ctx, "checkout.session_opened", map[string]any{"sessionId": sessionID, "uid": cmd.Caller.UID})
	if err := orchestrator.Start(ctx); err != nil {
		return orchestrator, err
	}
	return orchestrator, nil
}

// Get returns the orchestrator owned by uid.
func (s *CheckoutSessions) Get(sessionID, uid string) (*CheckoutOrchestrator, error) {
	s.prune()

	s.mu.Lock()
	orchestrator, ok := s.sessions[strings.TrimSpace(sessionID)]
	s.mu.Unlock()
	if !ok || !orchestrator.Alive() {
		return nil, ErrCheckoutSessionNotFound
	}
	if orchestrator.OwnerUID() != uid {
		return nil, ErrCheckoutForbidden
	}
	return orchestrator, nil
}

// Close tears the session down and clears its stored context.
func (s *CheckoutSessions) Close(ctx context.Context, sessionID, uid string) error {
	orchestrator, err := s.Get(sessionID, uid)
	if err != nil {
		return err
	}
	orchestrator.Close()

	s.mu.Lock()
	delete(s.sessions, orchestrator.SessionID())
	s.mu.Unlock()

	if err := s.contexts.Clear(ctx, orchestrator.SessionID()); err != nil {
		return fmt.Errorf("checkout sessions: clear context: %w", err)
	}
	s.logger(ctx, "checkout.session_closed", map[string]any{"sessionId": orchestrator.SessionID()})
	return nil
}

// Len reports the number of live sessions.
func (s *CheckoutSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *CheckoutSessions) prune() {
	cutoff := s.clock().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, orchestrator := range s.sessions {
		if orchestrator.UpdatedAt().Before(cutoff) {
			orchestrator.Close()
			delete(s.sessions, id)
		}
	}
}

func (s *CheckoutSessions) build(sessionID string, cmd OpenCheckoutCommand) (*CheckoutOrchestrator, error) {
	params, err := NewBookingParamsLoader(BookingParamsLoaderDeps{
		SessionID:   sessionID,
		Contexts:    s.contexts,
		Profiles:    s.profiles,
		Rules:       s.rules,
		SettleDelay: s.settleDelay,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, err
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{DayRateCategories: s.dayRateCategories, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	identities, err := NewIdentityResolver(IdentityResolverDeps{Customers: s.customers, Providers: s.providers, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	drafts, err := NewDraftGateway(DraftGatewayDeps{Drafts: s.drafts, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	authorizer, err := NewPaymentAuthorizer(PaymentAuthorizerDeps{Intents: s.intents, Currency: s.currency, Clock: s.clock, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	return NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		SessionID:   sessionID,
		Caller:      cmd.Caller,
		Query:       cmd.Query,
		ReturnPath:  cmd.ReturnPath,
		Currency:    s.currency,
		AutoTrigger: s.autoTrigger,
		Params:      params,
		Pricing:     pricing,
		Identities:  identities,
		Drafts:      drafts,
		Authorizer:  authorizer,
		Contexts:    s.contexts,
		Transitions: s.transitions,
		Clock:       s.clock,
		Logger:      s.logger,
	})
}
