package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/taskilo/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath     string
	timeout      time.Duration
	maxBodyBytes int64
	middlewares  []func(http.Handler) http.Handler
	health       *HealthHandlers

	functions routeGroup
	public    routeGroup
	checkout  routeGroup
	webhooks  routeGroup
	internal  routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix    = "/api/v1"
	defaultTimeout      = 60 * time.Second
	defaultMaxBodyBytes = 1 << 20
	errorNotFoundCode   = "route_not_found"
)

// NewRouter builds the HTTP surface of the service:
//
//	/healthz, /readyz            probes
//	/<function>                  backend functions called by the checkout orchestrator
//	/api/v1/public               unauthenticated client configuration
//	/api/v1/checkout             checkout sessions
//	/api/v1/webhooks             Stripe events
//	/api/v1/internal             scheduler jobs
//
// A group without a registrar answers 503 feature_disabled, which is what a
// deployment without Stripe credentials or a functions client looks like.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath:     defaultAPIPrefix,
		timeout:      defaultTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	if cfg.maxBodyBytes > 0 {
		r.Use(middleware.RequestSize(cfg.maxBodyBytes))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	// Function routes share the root with the probes, so an unconfigured
	// functions group registers nothing rather than a catch-all.
	if cfg.functions.registrar != nil {
		r.Group(func(group chi.Router) {
			for _, mw := range cfg.functions.middlewares {
				if mw != nil {
					group.Use(mw)
				}
			}
			cfg.functions.registrar(group)
		})
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		mount(api, "/public", "public", cfg.public)
		mount(api, "/checkout", "checkout", cfg.checkout)
		mount(api, "/webhooks", "webhooks", cfg.webhooks)
		mount(api, "/internal", "internal", cfg.internal)
	})

	return r
}

func mount(api chi.Router, path, name string, group routeGroup) {
	api.Route(path, func(sub chi.Router) {
		for _, mw := range group.middlewares {
			if mw != nil {
				sub.Use(mw)
			}
		}
		if group.registrar != nil {
			group.registrar(sub)
			return
		}
		registerDisabled(sub, name)
	})
}

func registerDisabled(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("feature_disabled", fmt.Sprintf("%s routes are not configured on this instance", name), http.StatusServiceUnavailable))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
}

// WithMiddlewares appends global middleware after the built-in request id, real ip,
// path cleaning, timeout and body limit middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithTimeout overrides the per-request timeout; zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		cfg.timeout = timeout
	}
}

// WithMaxBodyBytes overrides the request body limit; zero disables it.
func WithMaxBodyBytes(limit int64) Option {
	return func(cfg *routerConfig) {
		cfg.maxBodyBytes = limit
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithFunctionRoutes configures the root-level backend function endpoints.
func WithFunctionRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.functions = routeGroup{registrar: reg, middlewares: mw}
	}
}

func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.public.registrar = reg
	}
}

func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout.registrar = reg
	}
}

func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.registrar = reg
	}
}

// WithWebhookMiddlewares configures middlewares applied to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.middlewares = append(cfg.webhooks.middlewares, mw...)
	}
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal.registrar = reg
	}
}

// WithInternalMiddlewares configures middlewares applied to the /internal group,
// typically the scheduler OIDC check.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internal.middlewares = append(cfg.internal.middlewares, mw...)
	}
}
