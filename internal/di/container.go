// Package di assembles repositories and services for the API binary.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/config"
	"github.com/MeltyDeays/AgroApp-sub000/internal/platform/observability"
	"github.com/MeltyDeays/AgroApp-sub000/internal/repositories"
	"github.com/MeltyDeays/AgroApp-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders     services.OrderService
	Warehouses services.WarehouseService
	Catalog    services.CatalogService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerOptions struct {
	events services.OrderEventPublisher
	logger *zap.Logger
	meter  metric.Meter
	clock  func() time.Time
}

// Option customises NewContainer.
type Option func(*containerOptions)

// WithOrderEvents publishes order lifecycle events through publisher.
func WithOrderEvents(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

// WithLogger sets the base logger used when no request-scoped logger is present.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithMeter overrides the meter used for service counters.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.meter = meter
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies over reg. Tests supply the in-memory
// registry; production passes the Firestore one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, options containerOptions) (Services, error) {
	var svc Services

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:                 reg.Orders(),
		Products:               reg.Products(),
		Transactor:             reg,
		Events:                 options.events,
		Clock:                  options.clock,
		Logger:                 observability.EventLogger(logger.Named("orders")),
		Meter:                  options.meter,
		StrictCatalog:          cfg.Fulfillment.StrictCatalog,
		ConflictRetries:        cfg.Fulfillment.ConflictRetries,
		DefaultRejectionReason: cfg.Fulfillment.DefaultRejectionReason,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	warehouseSvc, err := services.NewWarehouseService(services.WarehouseServiceDeps{
		Warehouses: reg.Warehouses(),
		Transactor: reg,
		Clock:      options.clock,
		Logger:     observability.EventLogger(logger.Named("warehouses")),
		Meter:      options.meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build warehouse service: %w", err)
	}
	svc.Warehouses = warehouseSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Warehouses: reg.Warehouses(),
		Clock:      options.clock,
		Logger:     observability.EventLogger(logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	return svc, nil
}
