package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

var (
	errCheckoutCartsRequired     = errors.New("checkout service: cart repository is required")
	errCheckoutOrdersRequired    = errors.New("checkout service: order repository is required")
	errCheckoutCountersRequired  = errors.New("checkout service: counter repository is required")
	errCheckoutValidatorRequired = errors.New("checkout service: cart validator is required")
	errCheckoutShippingRequired  = errors.New("checkout service: shipping rater is required")
	errCheckoutPaymentsRequired  = errors.New("checkout service: payment verifier is required")
	errCheckoutClockRequired     = errors.New("checkout service: clock is required")
)

const (
	orderNumberCounter = "orders"
	maxOrderNotesLen   = 2000
)

// ErrCheckoutInvalidInput indicates the checkout command is malformed.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutEmptyCart indicates the buyer has no cart lines to check out.
var ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutValidation indicates the defensive pre-checkout validation failed.
var ErrCheckoutValidation = errors.New("checkout service: cart validation failed")

// ErrCheckoutPaymentNotAuthorized indicates the supplied payment does not cover the order.
var ErrCheckoutPaymentNotAuthorized = errors.New("checkout service: payment not authorized")

// ErrCheckoutConflict indicates a concurrent checkout mutated the cart first.
var ErrCheckoutConflict = errors.New("checkout service: conflict")

// ErrCheckoutDependency indicates an external collaborator failed mid-pipeline.
var ErrCheckoutDependency = errors.New("checkout service: dependency failure")

// ErrCheckoutUnavailable indicates persistence is unavailable.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

// CheckoutValidationError carries the itemized validation issues that blocked
// checkout so callers can correct the cart instead of retrying blindly.
type CheckoutValidationError struct {
	Issues []CartIssue
}

// Error implements the error interface.
func (e *CheckoutValidationError) Error() string {
	return fmt.Sprintf("checkout service: cart validation failed with %d issue(s)", len(e.Issues))
}

// Unwrap ties the typed error to the ErrCheckoutValidation sentinel.
func (e *CheckoutValidationError) Unwrap() error { return ErrCheckoutValidation }

// CheckoutServiceDeps wires the collaborators for the checkout pipeline.
type CheckoutServiceDeps struct {
	Carts       repositories.CartRepository
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Validator   CartValidator
	Shipping    ShippingRater
	Payments    PaymentVerifier
	Tx          repositories.UnitOfWork
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type checkoutService struct {
	carts     repositories.CartRepository
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	validator CartValidator
	shipping  ShippingRater
	payments  PaymentVerifier
	tx        repositories.UnitOfWork
	events    OrderEventPublisher
	sanitizer *bluemonday.Policy
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errCheckoutCartsRequired
	case deps.Orders == nil:
		return nil, errCheckoutOrdersRequired
	case deps.Counters == nil:
		return nil, errCheckoutCountersRequired
	case deps.Validator == nil:
		return nil, errCheckoutValidatorRequired
	case deps.Shipping == nil:
		return nil, errCheckoutShippingRequired
	case deps.Payments == nil:
		return nil, errCheckoutPaymentsRequired
	case deps.Clock == nil:
		return nil, errCheckoutClockRequired
	}

	tx := deps.Tx
	if tx == nil {
		tx = noopUnitOfWork{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &checkoutService{
		carts:     deps.Carts,
		orders:    deps.Orders,
		counters:  deps.Counters,
		validator: deps.Validator,
		shipping:  deps.Shipping,
		payments:  deps.Payments,
		tx:        tx,
		events:    deps.Events,
		sanitizer: bluemonday.StrictPolicy(),
		newID:     idGen,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
	}, nil
}

// noopUnitOfWork runs the function directly when no transactional backend is wired.
type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Checkout runs the ordered pipeline: load cart, re-validate defensively,
// split by vendor, rate shipping, reconcile totals, verify the payment
// authorization, then persist the order and clear the cart atomically. The
// pipeline short-circuits on first failure with no partial effects; the cart
// is never cleared unless the order fully persisted.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if s == nil || s.carts == nil {
		return Order{}, ErrCheckoutUnavailable
	}

	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrCheckoutInvalidInput)
	}
	if err := validateCheckoutAddress("shipping address", cmd.ShippingAddress); err != nil {
		return Order{}, err
	}
	if err := validateCheckoutAddress("billing address", cmd.BillingAddress); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(cmd.Payment.IntentID) == "" {
		return Order{}, fmt.Errorf("%w: missing payment intent", ErrCheckoutPaymentNotAuthorized)
	}
	if cmd.Tax < 0 || cmd.Discount < 0 {
		return Order{}, fmt.Errorf("%w: tax and discount must not be negative", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrCheckoutEmptyCart
		}
		return Order{}, s.translateRepoError(err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrCheckoutEmptyCart
	}
	cartUpdatedAt := cart.UpdatedAt

	// Re-validate even when the caller already did; the cart may have drifted
	// between the client's validate call and this one.
	validation, err := s.validator.Validate(ctx, cart)
	if err != nil {
		return Order{}, fmt.Errorf("%w: validation: %v", ErrCheckoutDependency, err)
	}
	if !validation.Valid {
		return Order{}, &CheckoutValidationError{Issues: validation.Issues}
	}

	now := s.now()
	lines, splits, err := s.buildSplits(ctx, cart, cmd.ShippingAddress, now)
	if err != nil {
		return Order{}, err
	}

	totals := reconcileTotals(splits, cmd.Tax, cmd.Discount)

	if err := s.payments.VerifyAuthorization(ctx, PaymentAuthorization{
		IntentID: cmd.Payment.IntentID,
		Provider: cmd.Payment.Provider,
		Amount:   totals.Total,
		Currency: cart.Currency,
	}); err != nil {
		if errors.Is(err, ErrCheckoutPaymentNotAuthorized) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentNotAuthorized, err)
	}

	orderNumber, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:              s.newID(),
		OrderNumber:     orderNumber,
		BuyerID:         buyerID,
		Currency:        cart.Currency,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.BillingAddress,
		Totals:          totals,
		Lines:           lines,
		VendorOrders:    splits,
		PaymentIntentID: cmd.Payment.IntentID,
		Notes:           s.sanitizeNotes(cmd.Notes),
		PlacedAt:        now,
		UpdatedAt:       now,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.carts.DeleteCart(txCtx, buyerID, &cartUpdatedAt)
	})
	if err != nil {
		if isRepoConflict(err) {
			return Order{}, fmt.Errorf("%w: cart changed during checkout", ErrCheckoutConflict)
		}
		return Order{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  "order.created",
		OrderID:    order.ID,
		BuyerID:    buyerID,
		OccurredAt: now,
	})

	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"buyerId":     buyerID,
		"vendors":     len(order.VendorOrders),
		"total":       order.Totals.Total,
	})
	return order, nil
}

// buildSplits partitions the cart by vendor in stable vendor-id order,
// snapshots every line into an immutable order line, and rates shipping per
// vendor against the destination address.
func (s *checkoutService) buildSplits(ctx context.Context, cart Cart, destination Address, now time.Time) ([]OrderLine, []VendorOrderSplit, error) {
	byVendor := make(map[string][]CartItem)
	for _, item := range cart.Items {
		byVendor[item.VendorID] = append(byVendor[item.VendorID], item)
	}

	vendorIDs := make([]string, 0, len(byVendor))
	for vendorID := range byVendor {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Strings(vendorIDs)

	lines := make([]OrderLine, 0, len(cart.Items))
	splits := make([]VendorOrderSplit, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		split := VendorOrderSplit{
			VendorID:  vendorID,
			Status:    domain.FulfillmentPending,
			Version:   1,
			UpdatedAt: now,
		}
		for _, item := range byVendor[vendorID] {
			line := snapshotOrderLine(item, s.newID())
			lines = append(lines, line)
			split.LineIDs = append(split.LineIDs, line.ID)
			split.Subtotal += line.LineTotal
		}

		cost, err := s.shipping.Rate(ctx, vendorID, destination)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: shipping rate for vendor %s: %v", ErrCheckoutDependency, vendorID, err)
		}
		if cost < 0 {
			cost = 0
		}
		split.ShippingCost = cost
		split.VendorTotal = split.Subtotal + split.ShippingCost
		splits = append(splits, split)
	}
	return lines, splits, nil
}

// snapshotOrderLine freezes a cart line into an immutable order line so later
// catalog changes never alter historical order value.
func snapshotOrderLine(item CartItem, id string) OrderLine {
	line := OrderLine{
		ID:          id,
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		VendorID:    item.VendorID,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		LineTotal:   item.LineTotal,
	}
	if item.AppliedTier != nil {
		tier := *item.AppliedTier
		line.AppliedTier = &tier
	}
	return line
}

// reconcileTotals rolls split contributions up into order totals. Discount
// stays on the order, never on individual splits, so
// Total == sum(VendorTotal) + Tax - Discount holds exactly: each split's
// VendorTotal is its Subtotal plus ShippingCost and nothing else.
func reconcileTotals(splits []VendorOrderSplit, tax int64, discount int64) OrderTotals {
	totals := OrderTotals{Tax: tax}
	for _, split := range splits {
		totals.Subtotal += split.Subtotal
		totals.Shipping += split.ShippingCost
	}
	if discount > totals.Subtotal+totals.Shipping {
		discount = totals.Subtotal + totals.Shipping
	}
	totals.Discount = discount
	totals.Total = totals.Subtotal + totals.Shipping + totals.Tax - totals.Discount
	return totals
}

func (s *checkoutService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("%w: order number: %v", ErrCheckoutUnavailable, err)
	}
	return fmt.Sprintf("SPA-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) sanitizeNotes(notes string) string {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(notes))
	if len(cleaned) > maxOrderNotesLen {
		cleaned = cleaned[:maxOrderNotesLen]
	}
	return cleaned
}

// publishEvent emits the order event without failing the checkout; the order
// is already durable at this point.
func (s *checkoutService) publishEvent(ctx context.Context, msg OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, msg); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": msg.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
}

func validateCheckoutAddress(label string, addr Address) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(addr.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if strings.TrimSpace(addr.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", ErrCheckoutInvalidInput, label, strings.Join(missing, ", "))
	}
	return nil
}
