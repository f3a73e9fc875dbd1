package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/httpx"
)

// RouteRegistrar registers a resource's routes on its sub-router.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// resources are mounted under apiPrefix in this order.
var resources = []string{"orders", "warehouses", "products"}

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	registrars  map[string]RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the API router. Resources without a registrar answer 501 so clients can
// tell a disabled surface from a wrong path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		timeout:    defaultRequestTimeout,
		registrars: make(map[string]RouteRegistrar, len(resources)),
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
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		msg := fmt.Sprintf("%s is not supported on %s", req.Method, req.URL.Path)
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, name := range resources {
			registrar := cfg.registrars[name]
			if registrar == nil {
				registrar = notImplemented(name)
			}
			api.Route("/"+name, registrar)
		}
	})
	return r
}

// WithRequestTimeout bounds every request's context. Non-positive values keep the default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithMiddlewares appends global middleware, run after request id and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers sets the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withResource("orders", reg) }

// WithWarehouseRoutes mounts /warehouses.
func WithWarehouseRoutes(reg RouteRegistrar) Option { return withResource("warehouses", reg) }

// WithProductRoutes mounts /products.
func WithProductRoutes(reg RouteRegistrar) Option { return withResource("products", reg) }

func withResource(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.registrars[name] = reg
	}
}

func notImplemented(name string) RouteRegistrar {
	return func(r chi.Router) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" endpoints are not available", http.StatusNotImplemented))
		}
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}
