package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// PricingTier grants a percentage discount once a line reaches a minimum quantity.
// Tiers are vendor-defined per product and ordered by MinQuantity ascending.
type PricingTier struct {
	MinQuantity     int64
	DiscountPercent float64
}

// ProductSnapshot is the catalog view of a purchasable variant at a point in time.
type ProductSnapshot struct {
	ProductID    string
	VariantID    string
	VendorID     string
	Name         string
	BasePrice    int64
	Currency     string
	Tiers        []PricingTier
	Available    bool
	VendorActive bool
}

// Cart aggregates the mutable shopping state for a buyer. A buyer has at most
// one active cart; it is created lazily on first add and cleared only by a
// successful checkout or an explicit clear.
type Cart struct {
	ID        string
	BuyerID   string
	Currency  string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem stores one product/variant line within a cart. Lines are keyed by
// (ProductID, VariantID); adding the same key again merges quantities.
type CartItem struct {
	ID          string
	ProductID   string
	VariantID   string
	VendorID    string
	ProductName string
	Quantity    int64
	BasePrice   int64
	UnitPrice   int64
	AppliedTier *PricingTier
	LineTotal   int64
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// VendorCart is a read-only projection grouping cart lines by vendor.
type VendorCart struct {
	VendorID string
	Items    []CartItem
	Subtotal int64
}

// CartIssueReason enumerates why a cart line fails pre-checkout validation.
type CartIssueReason string

const (
	// CartIssueUnavailable indicates the product or variant is out of stock or gone.
	CartIssueUnavailable CartIssueReason = "unavailable"
	// CartIssuePriceChanged indicates the catalog price drifted past tolerance since add.
	CartIssuePriceChanged CartIssueReason = "price_changed"
	// CartIssueVendorUnavailable indicates the vendor is deactivated or suspended.
	CartIssueVendorUnavailable CartIssueReason = "vendor_unavailable"
)

// CartIssue itemizes a single validation failure for one cart line.
type CartIssue struct {
	LineID string
	Reason CartIssueReason
	Detail string
}

// CartValidation reports the outcome of pre-checkout validation.
type CartValidation struct {
	Valid  bool
	Issues []CartIssue
}

// FulfillmentStatus enumerates lifecycle states for a vendor order split.
type FulfillmentStatus string

const (
	// FulfillmentPending indicates the split awaits vendor acknowledgement.
	FulfillmentPending FulfillmentStatus = "pending"
	// FulfillmentProcessing indicates the vendor is preparing the shipment.
	FulfillmentProcessing FulfillmentStatus = "processing"
	// FulfillmentShipped indicates the shipment left the vendor with a tracking number.
	FulfillmentShipped FulfillmentStatus = "shipped"
	// FulfillmentDelivered indicates the shipment reached the buyer.
	FulfillmentDelivered FulfillmentStatus = "delivered"
	// FulfillmentCancelled indicates the split was cancelled before shipping.
	FulfillmentCancelled FulfillmentStatus = "cancelled"
)

// OrderAggregateStatus is the buyer-facing order status derived from splits.
type OrderAggregateStatus string

const (
	// OrderAggregateInProgress indicates at least one split has not reached a terminal state.
	OrderAggregateInProgress OrderAggregateStatus = "in_progress"
	// OrderAggregateCompleted indicates every split was delivered.
	OrderAggregateCompleted OrderAggregateStatus = "completed"
	// OrderAggregateCancelled indicates every split was cancelled.
	OrderAggregateCancelled OrderAggregateStatus = "cancelled"
)

// OrderLine is an immutable snapshot of a cart line taken at checkout. It is
// decoupled from live catalog prices so historical orders never change value.
type OrderLine struct {
	ID          string
	ProductID   string
	VariantID   string
	VendorID    string
	ProductName string
	Quantity    int64
	UnitPrice   int64
	AppliedTier *PricingTier
	LineTotal   int64
}

// VendorOrderSplit is the portion of an order attributable to one vendor,
// with its own totals and fulfillment lifecycle. Only the fulfillment fields
// mutate after creation, guarded by the Version counter.
type VendorOrderSplit struct {
	VendorID          string
	LineIDs           []string
	Subtotal          int64
	ShippingCost      int64
	VendorTotal       int64
	Status            FulfillmentStatus
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ShippedAt         *time.Time
	Version           int64
	UpdatedAt         time.Time
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Discount int64
	Total    int64
}

// Order is the immutable buyer-facing aggregate produced once per checkout.
// Invariant: Totals.Total == sum of split VendorTotal + Tax - Discount, with
// any rounding remainder carried by the first split in vendor-id order.
type Order struct {
	ID              string
	OrderNumber     string
	BuyerID         string
	Currency        string
	ShippingAddress Address
	BillingAddress  Address
	Totals          OrderTotals
	Lines           []OrderLine
	VendorOrders    []VendorOrderSplit
	PaymentIntentID string
	Notes           string
	PlacedAt        time.Time
	UpdatedAt       time.Time
}

// UnavailableItem describes a historical order line that could not be re-added
// during reorder, with the reason it was skipped.
type UnavailableItem struct {
	ProductID   string
	VariantID   string
	ProductName string
	Reason      CartIssueReason
}

// Address represents postal address structures shared by cart and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
