package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YetiPanda/jade-ecosystem-sub014/internal/payments"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/config"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart        services.CartService
	Validator   services.CartValidator
	Checkout    services.CheckoutService
	Fulfillment services.FulfillmentService
	Orders      services.OrderService
	System      services.SystemService
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container assembly.
type Option func(*containerConfig)

type containerConfig struct {
	events   services.OrderEventPublisher
	verifier services.PaymentVerifier
	logger   *zap.Logger
	build    services.BuildInfo
	clock    func() time.Time
}

// WithOrderEventPublisher routes order lifecycle events through the given publisher.
// Without one, events are dropped.
func WithOrderEventPublisher(events services.OrderEventPublisher) Option {
	return func(c *containerConfig) {
		c.events = events
	}
}

// WithPaymentVerifier overrides the Stripe-backed verifier assembled from configuration.
func WithPaymentVerifier(verifier services.PaymentVerifier) Option {
	return func(c *containerConfig) {
		c.verifier = verifier
	}
}

// WithLogger threads structured logging through every service.
func WithLogger(logger *zap.Logger) Option {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// WithBuildInfo exposes build metadata on the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(c *containerConfig) {
		c.build = build
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *containerConfig) {
		c.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Production wiring supplies the
// Firestore-backed registry, while tests can provide in-memory implementations.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	cc := containerConfig{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cc)
		}
	}
	if cc.logger == nil {
		cc.logger = zap.NewNop()
	}
	if cc.clock == nil {
		cc.clock = time.Now
	}
	if cc.build.Environment == "" {
		cc.build.Environment = cfg.Security.Environment
	}

	svc, err := buildServices(ctx, cfg, reg, cc)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources held by the repository registry.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, cc containerConfig) (Services, error) {
	var svc Services

	catalog := catalogGateway{repo: reg.Catalog()}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Catalog:         catalog,
		Clock:           cc.clock,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
		Logger:          zapEventLogger(cc.logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	validator, err := services.NewCartValidator(services.CartValidatorDeps{
		Catalog:             catalog,
		Carts:               cartSvc,
		PriceToleranceMinor: cfg.Checkout.PriceToleranceMinor,
		Logger:              zapEventLogger(cc.logger.Named("cart_validator")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart validator: %w", err)
	}
	svc.Validator = validator

	shipping, err := services.NewFlatRateShippingRater(services.FlatRateShippingRaterDeps{
		VendorRates: cfg.Shipping.VendorRates,
		DefaultRate: cfg.Shipping.DefaultRate,
		CacheTTL:    cfg.Shipping.CacheTTL,
		Clock:       cc.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping rater: %w", err)
	}

	verifier := cc.verifier
	if verifier == nil {
		verifier, err = buildStripeVerifier(cfg, cc)
		if err != nil {
			return Services{}, err
		}
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:     reg.Carts(),
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Validator: validator,
		Shipping:  shipping,
		Payments:  verifier,
		Tx:        reg,
		Events:    cc.events,
		Clock:     cc.clock,
		Logger:    zapEventLogger(cc.logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders: reg.Orders(),
		Events: cc.events,
		Clock:  cc.clock,
		Logger: zapEventLogger(cc.logger.Named("fulfillment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  reg.Orders(),
		Catalog: catalog,
		Carts:   cartSvc,
		Logger:  zapEventLogger(cc.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            cc.clock,
		Build:            cc.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func buildStripeVerifier(cfg config.Config, cc containerConfig) (services.PaymentVerifier, error) {
	provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: zapEventLogger(cc.logger.Named("stripe")),
		Clock:  cc.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe provider: %w", err)
	}
	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": provider,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	verifier, err := payments.NewVerifier(payments.VerifierDeps{
		Manager: manager,
		Logger:  zapEventLogger(cc.logger.Named("payments")),
	})
	if err != nil {
		return nil, fmt.Errorf("build payment verifier: %w", err)
	}
	return verifier, nil
}

// catalogGateway adapts the catalog repository to the narrow lookup
// contract services depend on.
type catalogGateway struct {
	repo repositories.CatalogRepository
}

func (g catalogGateway) Lookup(ctx context.Context, productID string, variantID string) (services.ProductSnapshot, error) {
	return g.repo.GetSnapshot(ctx, productID, variantID)
}

var _ services.CatalogGateway = catalogGateway{}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
