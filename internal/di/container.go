package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/taskilo/api/internal/platform/config"
	"github.com/taskilo/api/internal/repositories"
	"github.com/taskilo/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Drafts    services.DraftService
	Customers services.CustomerService
	Providers services.ProviderDirectory
	Intents   services.PaymentIntentService
	Events    services.PaymentEventService
	Sweeper   services.DraftSweeper
	System    services.SystemService
	Checkout  *services.CheckoutSessions
}

// FunctionClient is the backend function surface the checkout orchestrator calls.
type FunctionClient interface {
	services.DraftFunctions
	services.CustomerFunctions
	services.ProviderFunctions
	services.PaymentIntentFunctions
}

// Dependencies carries the external collaborators that are not repositories.
// Payment-backed services are skipped when Payments is nil and the checkout
// registry is skipped when Functions is nil.
type Dependencies struct {
	Payments  services.PaymentGateway
	Publisher services.PaymentEventPublisher
	Functions FunctionClient
	Build     services.BuildInfo
	Meter     metric.Meter
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore registry, while tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, deps Dependencies) (Services, error) {
	var svc Services
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	drafts, err := services.NewDraftService(services.DraftServiceDeps{
		Drafts:            reg.Drafts(),
		Companies:         reg.Companies(),
		Clock:             clock,
		TTL:               cfg.Checkout.DraftTTL,
		DayRateCategories: cfg.Checkout.DayRateCategories,
		Logger:            deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build draft service: %w", err)
	}
	svc.Drafts = drafts

	providers, err := services.NewProviderDirectory(reg.Companies())
	if err != nil {
		return Services{}, fmt.Errorf("build provider directory: %w", err)
	}
	svc.Providers = providers

	sweeper, err := services.NewDraftSweeper(services.DraftSweeperDeps{
		Drafts:    reg.Drafts(),
		Clock:     clock,
		BatchSize: cfg.Checkout.DraftSweepBatchSize,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build draft sweeper: %w", err)
	}
	svc.Sweeper = sweeper

	if deps.Payments != nil {
		customers, err := services.NewCustomerService(services.CustomerServiceDeps{
			Users:    reg.Users(),
			Payments: deps.Payments,
			Currency: cfg.PSP.Currency,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build customer service: %w", err)
		}
		svc.Customers = customers

		intents, err := services.NewPaymentIntentService(services.PaymentIntentServiceDeps{
			Drafts:         reg.Drafts(),
			Payments:       deps.Payments,
			Clock:          clock,
			FeeBasisPoints: cfg.PSP.ServiceFeeBasisPoints,
			Currency:       cfg.PSP.Currency,
			Logger:         deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment intent service: %w", err)
		}
		svc.Intents = intents

		events, err := services.NewPaymentEventService(services.PaymentEventServiceDeps{
			Drafts:         reg.Drafts(),
			Payments:       deps.Payments,
			Publisher:      deps.Publisher,
			Clock:          clock,
			FeeBasisPoints: cfg.PSP.ServiceFeeBasisPoints,
			Logger:         deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment event service: %w", err)
		}
		svc.Events = events
	}

	if deps.Functions != nil {
		var profiles services.CustomerProfileReader
		if reader, ok := reg.Users().(services.CustomerProfileReader); ok {
			profiles = reader
		}
		sessions, err := services.NewCheckoutSessions(services.CheckoutSessionsDeps{
			Contexts:          reg.CheckoutContexts(),
			Profiles:          profiles,
			Drafts:            deps.Functions,
			Customers:         deps.Functions,
			Providers:         deps.Functions,
			Intents:           deps.Functions,
			DayRateCategories: cfg.Checkout.DayRateCategories,
			SettleDelay:       cfg.Checkout.SettleDelay,
			Currency:          cfg.PSP.Currency,
			AutoTrigger:       cfg.Checkout.AutoTrigger,
			IdleTTL:           cfg.Checkout.SessionIdleTTL,
			Meter:             deps.Meter,
			Clock:             clock,
			Logger:            deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout sessions: %w", err)
		}
		svc.Checkout = sessions
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		caps := services.CheckoutCapabilities{
			Payments:  deps.Payments != nil,
			Functions: deps.Functions != nil,
		}
		if sessions := svc.Checkout; sessions != nil {
			caps.ActiveSessions = sessions.Len
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Checkout:         caps,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
