package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	VendorCart           = domain.VendorCart
	CartIssue            = domain.CartIssue
	CartIssueReason      = domain.CartIssueReason
	CartValidation       = domain.CartValidation
	PricingTier          = domain.PricingTier
	ProductSnapshot      = domain.ProductSnapshot
	Order                = domain.Order
	OrderTotals          = domain.OrderTotals
	OrderLine            = domain.OrderLine
	VendorOrderSplit     = domain.VendorOrderSplit
	FulfillmentStatus    = domain.FulfillmentStatus
	OrderAggregateStatus = domain.OrderAggregateStatus
	UnavailableItem      = domain.UnavailableItem
	Address              = domain.Address
	SystemHealthReport   = domain.SystemHealthReport
)

// CartService owns the single active cart per buyer. All mutating operations
// for one buyer are serialized; distinct buyers proceed in parallel.
type CartService interface {
	GetCart(ctx context.Context, buyerID string) (Cart, error)
	GetVendorCarts(ctx context.Context, buyerID string) ([]VendorCart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, buyerID string, lineID string) (Cart, error)
	ClearCart(ctx context.Context, buyerID string) (Cart, error)
}

// CartValidator re-checks availability and price drift for every cart line
// immediately before checkout. Validation performs no writes.
type CartValidator interface {
	Validate(ctx context.Context, cart Cart) (CartValidation, error)
	ValidateBuyerCart(ctx context.Context, buyerID string) (CartValidation, error)
}

// CheckoutService converts a validated cart into a buyer order with one
// vendor split per represented vendor, atomically with cart clearing.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// FulfillmentService governs per-split lifecycle transitions and buyer cancellation.
type FulfillmentService interface {
	UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error)
}

// OrderService serves order reads and rebuilds carts from historical orders.
type OrderService interface {
	GetOrder(ctx context.Context, buyerID string, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListVendorOrders(ctx context.Context, filter VendorOrderListFilter) (domain.CursorPage[Order], error)
	Reorder(ctx context.Context, cmd ReorderCommand) (ReorderResult, error)
}

// SystemService aggregates dependency health for readiness endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// Collaborator interfaces ----------------------------------------------------

// CatalogGateway looks up the current catalog state for one purchasable variant.
type CatalogGateway interface {
	Lookup(ctx context.Context, productID string, variantID string) (ProductSnapshot, error)
}

// ShippingRater quotes a shipping cost in minor units for one vendor shipment.
type ShippingRater interface {
	Rate(ctx context.Context, vendorID string, destination Address) (int64, error)
}

// PaymentAuthorization identifies an externally authorized payment to verify at checkout.
type PaymentAuthorization struct {
	IntentID string
	Provider string
	Amount   int64
	Currency string
}

// PaymentVerifier confirms a payment authorization covers the order before persisting it.
type PaymentVerifier interface {
	VerifyAuthorization(ctx context.Context, auth PaymentAuthorization) error
}

// OrderEventMessage is the payload published after order lifecycle changes.
type OrderEventMessage struct {
	EventType  string    `json:"eventType"`
	OrderID    string    `json:"orderId"`
	BuyerID    string    `json:"buyerId"`
	VendorID   string    `json:"vendorId,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, msg OrderEventMessage) (string, error)
}

// Commands and results -------------------------------------------------------

// AddCartItemCommand adds quantity of one product/variant to the buyer's cart.
type AddCartItemCommand struct {
	BuyerID   string
	ProductID string
	VariantID string
	Quantity  int64
}

// AddCartItemResult returns the updated cart, the affected line, and whether
// the line was newly created rather than merged into an existing one.
type AddCartItemResult struct {
	Cart  Cart
	Item  CartItem
	IsNew bool
}

// UpdateCartItemCommand replaces the quantity of an existing cart line.
// Quantity zero removes the line.
type UpdateCartItemCommand struct {
	BuyerID  string
	LineID   string
	Quantity int64
}

// CheckoutCommand carries the inputs for converting a cart into an order.
type CheckoutCommand struct {
	BuyerID         string
	ShippingAddress Address
	BillingAddress  Address
	Payment         PaymentAuthorization
	Tax             int64
	Discount        int64
	Notes           string
}

// UpdateFulfillmentCommand mutates one vendor split on an order. A vendor may
// only mutate its own split; ExpectedVersion guards against stale writes.
type UpdateFulfillmentCommand struct {
	OrderID           string
	VendorID          string
	Status            FulfillmentStatus
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ExpectedVersion   int64
}

// CancelOrderCommand requests best-effort cancellation of every cancellable split.
type CancelOrderCommand struct {
	BuyerID string
	OrderID string
}

// CancelOrderResult reports which vendor splits were cancelled and which could
// not be because they had already shipped or been delivered.
type CancelOrderResult struct {
	Order        Order
	Cancelled    []string
	NotCancelled []string
}

// OrderListFilter pages a buyer's order history, newest first.
type OrderListFilter struct {
	BuyerID    string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

// VendorOrderListFilter pages orders containing a split for the vendor.
type VendorOrderListFilter struct {
	VendorID   string
	Status     []FulfillmentStatus
	Pagination Pagination
}

// ReorderCommand rebuilds the buyer's cart from a historical order.
type ReorderCommand struct {
	BuyerID string
	OrderID string
}

// ReorderResult reports the merged cart and the lines that could not be
// re-added. Success is false only when no line was re-addable.
type ReorderResult struct {
	Success     bool
	Cart        Cart
	Unavailable []UnavailableItem
}

// Shared repository error helpers --------------------------------------------

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}
