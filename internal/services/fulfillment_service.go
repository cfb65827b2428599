package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

var (
	errFulfillmentOrdersRequired = errors.New("fulfillment service: order repository is required")
	errFulfillmentClockRequired  = errors.New("fulfillment service: clock is required")
)

// ErrFulfillmentInvalidInput indicates the caller supplied invalid input.
var ErrFulfillmentInvalidInput = errors.New("fulfillment service: invalid input")

// ErrFulfillmentInvalidTransition indicates the requested state change is not allowed.
var ErrFulfillmentInvalidTransition = errors.New("fulfillment service: invalid transition")

// ErrFulfillmentForbidden indicates the vendor does not own a split on the order.
var ErrFulfillmentForbidden = errors.New("fulfillment service: split not owned by vendor")

// ErrFulfillmentConflict indicates a concurrent update to the same split won.
var ErrFulfillmentConflict = errors.New("fulfillment service: concurrent modification")

// ErrFulfillmentUnavailable indicates persistence is unavailable.
var ErrFulfillmentUnavailable = errors.New("fulfillment service: unavailable")

// fulfillmentTransitions describes the legal per-split lifecycle. Cancellation
// is reachable only before the shipment leaves the vendor.
var fulfillmentTransitions = map[domain.FulfillmentStatus][]domain.FulfillmentStatus{
	domain.FulfillmentPending:    {domain.FulfillmentProcessing, domain.FulfillmentCancelled},
	domain.FulfillmentProcessing: {domain.FulfillmentShipped, domain.FulfillmentCancelled},
	domain.FulfillmentShipped:    {domain.FulfillmentDelivered},
	domain.FulfillmentDelivered:  {},
	domain.FulfillmentCancelled:  {},
}

func canTransitionFulfillment(from, to domain.FulfillmentStatus) bool {
	allowed, ok := fulfillmentTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// fulfillmentRank orders statuses by lifecycle progress for deriving the
// buyer-facing aggregate view.
var fulfillmentRank = map[domain.FulfillmentStatus]int{
	domain.FulfillmentPending:    0,
	domain.FulfillmentProcessing: 1,
	domain.FulfillmentShipped:    2,
	domain.FulfillmentDelivered:  3,
}

// AggregateFulfillment derives the buyer-facing order status from the split
// statuses. It is computed on read so there is no second source of truth to
// drift: all cancelled means cancelled, all delivered means completed,
// otherwise the order is in progress and the least-advanced non-cancelled
// split status is surfaced.
func AggregateFulfillment(order Order) (OrderAggregateStatus, FulfillmentStatus) {
	if len(order.VendorOrders) == 0 {
		return domain.OrderAggregateInProgress, domain.FulfillmentPending
	}

	allCancelled := true
	allDelivered := true
	least := domain.FulfillmentDelivered
	haveActive := false
	for _, split := range order.VendorOrders {
		if split.Status != domain.FulfillmentCancelled {
			allCancelled = false
			if !haveActive || fulfillmentRank[split.Status] < fulfillmentRank[least] {
				least = split.Status
				haveActive = true
			}
		}
		if split.Status != domain.FulfillmentDelivered {
			allDelivered = false
		}
	}

	switch {
	case allCancelled:
		return domain.OrderAggregateCancelled, domain.FulfillmentCancelled
	case allDelivered:
		return domain.OrderAggregateCompleted, domain.FulfillmentDelivered
	default:
		return domain.OrderAggregateInProgress, least
	}
}

// FulfillmentServiceDeps wires persistence and eventing for split transitions.
type FulfillmentServiceDeps struct {
	Orders repositories.OrderRepository
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

type fulfillmentService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs a FulfillmentService enforcing dependency validation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errFulfillmentOrdersRequired
	}
	if deps.Clock == nil {
		return nil, errFulfillmentClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		orders: deps.Orders,
		events: deps.Events,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// UpdateFulfillment applies one lifecycle transition to the vendor's split.
// Illegal transitions are rejected with the split untouched; a stale
// ExpectedVersion fails with a conflict so the vendor re-reads before retrying.
func (s *fulfillmentService) UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrFulfillmentUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	vendorID := strings.TrimSpace(cmd.VendorID)
	switch {
	case orderID == "":
		return Order{}, fmt.Errorf("%w: order id is required", ErrFulfillmentInvalidInput)
	case vendorID == "":
		return Order{}, fmt.Errorf("%w: vendor id is required", ErrFulfillmentInvalidInput)
	}
	if _, known := fulfillmentTransitions[cmd.Status]; !known {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrFulfillmentInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	split, ok := findSplit(order, vendorID)
	if !ok {
		return Order{}, fmt.Errorf("%w: vendor %s on order %s", ErrFulfillmentForbidden, vendorID, orderID)
	}

	expected := cmd.ExpectedVersion
	if expected == 0 {
		expected = split.Version
	}
	if expected != split.Version {
		return Order{}, fmt.Errorf("%w: split version is %d, expected %d", ErrFulfillmentConflict, split.Version, expected)
	}

	if !canTransitionFulfillment(split.Status, cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrFulfillmentInvalidTransition, split.Status, cmd.Status)
	}

	now := s.now()
	if cmd.Status == domain.FulfillmentShipped {
		tracking := strings.TrimSpace(cmd.TrackingNumber)
		if tracking == "" {
			return Order{}, fmt.Errorf("%w: shipped requires a tracking number", ErrFulfillmentInvalidTransition)
		}
		split.TrackingNumber = tracking
		split.ShippedAt = &now
	}
	if cmd.EstimatedDelivery != nil {
		est := cmd.EstimatedDelivery.UTC()
		split.EstimatedDelivery = &est
	}
	split.Status = cmd.Status
	split.Version++
	split.UpdatedAt = now

	updated, err := s.orders.UpdateSplit(ctx, orderID, split, expected)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		EventType:  "order.fulfillment_updated",
		OrderID:    orderID,
		BuyerID:    updated.BuyerID,
		VendorID:   vendorID,
		Status:     string(cmd.Status),
		OccurredAt: now,
	})

	s.logger(ctx, "fulfillment.split_updated", map[string]any{
		"orderId":  orderID,
		"vendorId": vendorID,
		"status":   string(cmd.Status),
	})
	return updated, nil
}

// CancelOrder attempts to cancel every split still in pending or processing.
// Splits that already shipped or delivered are reported back as not cancelled
// rather than failing the whole operation; cancellation is deliberately not
// atomic across splits.
func (s *fulfillmentService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error) {
	if s == nil || s.orders == nil {
		return CancelOrderResult{}, ErrFulfillmentUnavailable
	}

	buyerID := strings.TrimSpace(cmd.BuyerID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if buyerID == "" || orderID == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: buyer and order ids are required", ErrFulfillmentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CancelOrderResult{}, s.translateRepoError(err)
	}
	if order.BuyerID != buyerID {
		return CancelOrderResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	result := CancelOrderResult{Order: order}
	now := s.now()
	for _, split := range order.VendorOrders {
		switch split.Status {
		case domain.FulfillmentCancelled:
			result.Cancelled = append(result.Cancelled, split.VendorID)
			continue
		case domain.FulfillmentShipped, domain.FulfillmentDelivered:
			result.NotCancelled = append(result.NotCancelled, split.VendorID)
			continue
		}

		expected := split.Version
		split.Status = domain.FulfillmentCancelled
		split.Version++
		split.UpdatedAt = now

		updated, err := s.orders.UpdateSplit(ctx, orderID, split, expected)
		if err != nil {
			if isRepoConflict(err) {
				// A concurrent writer moved the split first; re-read and
				// report its final state instead of failing the cancel.
				if current, rerr := s.orders.FindByID(ctx, orderID); rerr == nil {
					if fresh, ok := findSplit(current, split.VendorID); ok && fresh.Status == domain.FulfillmentCancelled {
						result.Cancelled = append(result.Cancelled, split.VendorID)
						result.Order = current
						continue
					}
					result.Order = current
				}
				result.NotCancelled = append(result.NotCancelled, split.VendorID)
				continue
			}
			return CancelOrderResult{}, s.translateRepoError(err)
		}
		result.Order = updated
		result.Cancelled = append(result.Cancelled, split.VendorID)
	}

	if len(result.Cancelled) > 0 {
		s.publishEvent(ctx, OrderEventMessage{
			EventType:  "order.cancel_requested",
			OrderID:    orderID,
			BuyerID:    buyerID,
			OccurredAt: now,
		})
	}

	s.logger(ctx, "fulfillment.cancel_order", map[string]any{
		"orderId":      orderID,
		"cancelled":    len(result.Cancelled),
		"notCancelled": len(result.NotCancelled),
	})
	return result, nil
}

func (s *fulfillmentService) publishEvent(ctx context.Context, msg OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, msg); err != nil {
		s.logger(ctx, "fulfillment.event_publish_failed", map[string]any{
			"orderId": msg.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *fulfillmentService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrFulfillmentConflict, err)
	default:
		return fmt.Errorf("%w: %v", ErrFulfillmentUnavailable, err)
	}
}

func findSplit(order Order, vendorID string) (VendorOrderSplit, bool) {
	for _, split := range order.VendorOrders {
		if split.VendorID == vendorID {
			return split, true
		}
	}
	return VendorOrderSplit{}, false
}
