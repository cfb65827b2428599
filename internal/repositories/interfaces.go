package repositories

import (
	"context"
	"time"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence with optimistic locking. A nil
// expectedUpdatedAt on UpsertCart asserts the cart does not exist yet; a
// non-nil value asserts the stored cart was last written at that instant.
// Both return an IsConflict RepositoryError when violated.
type CartRepository interface {
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
	DeleteCart(ctx context.Context, buyerID string, expectedUpdatedAt *time.Time) error
}

// OrderRepository persists order aggregates and provides buyer and vendor query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByVendor(ctx context.Context, filter VendorOrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateSplit replaces one vendor split on the order. expectedVersion must
	// match the stored split version or an IsConflict RepositoryError is returned.
	UpdateSplit(ctx context.Context, orderID string, split domain.VendorOrderSplit, expectedVersion int64) (domain.Order, error)
}

// CatalogRepository reads point-in-time product state from the catalog projection.
type CatalogRepository interface {
	GetSnapshot(ctx context.Context, productID string, variantID string) (domain.ProductSnapshot, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	BuyerID    string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type VendorOrderListFilter struct {
	VendorID   string
	Status     []domain.FulfillmentStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
