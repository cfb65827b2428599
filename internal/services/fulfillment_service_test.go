package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

type fulfillmentHarness struct {
	svc    FulfillmentService
	orders *memOrderRepository
	events *stubEventPublisher
}

func newFulfillmentHarness(t *testing.T) *fulfillmentHarness {
	t.Helper()
	h := &fulfillmentHarness{
		orders: newMemOrderRepository(),
		events: &stubEventPublisher{},
	}
	svc, err := NewFulfillmentService(FulfillmentServiceDeps{
		Orders: h.orders,
		Events: h.events,
		Clock:  fixedClock,
	})
	if err != nil {
		t.Fatalf("new fulfillment service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *fulfillmentHarness) seedOrder(splits ...domain.VendorOrderSplit) domain.Order {
	order := domain.Order{
		ID:           "order-1",
		OrderNumber:  "SPA-2026-000042",
		BuyerID:      "buyer-1",
		Currency:     "USD",
		VendorOrders: splits,
		PlacedAt:     fixedClock(),
		UpdatedAt:    fixedClock(),
	}
	h.orders.orders[order.ID] = order
	return order
}

func pendingSplit(vendorID string) domain.VendorOrderSplit {
	return domain.VendorOrderSplit{
		VendorID:     vendorID,
		Subtotal:     2000,
		ShippingCost: 500,
		VendorTotal:  2500,
		Status:       domain.FulfillmentPending,
		Version:      1,
		UpdatedAt:    fixedClock(),
	}
}

func splitWithStatus(vendorID string, status domain.FulfillmentStatus) domain.VendorOrderSplit {
	split := pendingSplit(vendorID)
	split.Status = status
	return split
}

func TestFulfillmentWalksFullLifecycle(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(pendingSplit("vendor-a"))
	ctx := context.Background()

	order, err := h.svc.UpdateFulfillment(ctx, UpdateFulfillmentCommand{OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentProcessing})
	if err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if order.VendorOrders[0].Version != 2 {
		t.Fatalf("expected version 2 after first transition, got %d", order.VendorOrders[0].Version)
	}

	order, err = h.svc.UpdateFulfillment(ctx, UpdateFulfillmentCommand{OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentShipped, TrackingNumber: "TRK-99"})
	if err != nil {
		t.Fatalf("to shipped: %v", err)
	}
	split := order.VendorOrders[0]
	if split.TrackingNumber != "TRK-99" {
		t.Fatalf("expected tracking recorded, got %q", split.TrackingNumber)
	}
	if split.ShippedAt == nil || !split.ShippedAt.Equal(fixedClock()) {
		t.Fatalf("expected shippedAt stamped, got %v", split.ShippedAt)
	}

	order, err = h.svc.UpdateFulfillment(ctx, UpdateFulfillmentCommand{OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentDelivered})
	if err != nil {
		t.Fatalf("to delivered: %v", err)
	}
	if order.VendorOrders[0].Status != domain.FulfillmentDelivered || order.VendorOrders[0].Version != 4 {
		t.Fatalf("expected delivered v4, got %+v", order.VendorOrders[0])
	}
	if len(h.events.msgs) != 3 {
		t.Fatalf("expected three fulfillment events, got %d", len(h.events.msgs))
	}
	if h.events.msgs[2].EventType != "order.fulfillment_updated" || h.events.msgs[2].VendorID != "vendor-a" {
		t.Fatalf("unexpected event payload %+v", h.events.msgs[2])
	}
}

func TestFulfillmentRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		from domain.FulfillmentStatus
		to   domain.FulfillmentStatus
	}{
		{name: "skip processing", from: domain.FulfillmentPending, to: domain.FulfillmentShipped},
		{name: "backwards", from: domain.FulfillmentDelivered, to: domain.FulfillmentProcessing},
		{name: "cancel after ship", from: domain.FulfillmentShipped, to: domain.FulfillmentCancelled},
		{name: "cancel after delivery", from: domain.FulfillmentDelivered, to: domain.FulfillmentCancelled},
		{name: "revive cancelled", from: domain.FulfillmentCancelled, to: domain.FulfillmentProcessing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newFulfillmentHarness(t)
			h.seedOrder(splitWithStatus("vendor-a", tc.from))

			_, err := h.svc.UpdateFulfillment(context.Background(), UpdateFulfillmentCommand{
				OrderID: "order-1", VendorID: "vendor-a", Status: tc.to, TrackingNumber: "TRK-1",
			})
			if !errors.Is(err, ErrFulfillmentInvalidTransition) {
				t.Fatalf("expected ErrFulfillmentInvalidTransition, got %v", err)
			}
			stored := h.orders.orders["order-1"].VendorOrders[0]
			if stored.Status != tc.from || stored.Version != 1 {
				t.Fatalf("expected split untouched, got %+v", stored)
			}
		})
	}
}

func TestFulfillmentShippedRequiresTracking(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(splitWithStatus("vendor-a", domain.FulfillmentProcessing))

	_, err := h.svc.UpdateFulfillment(context.Background(), UpdateFulfillmentCommand{
		OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentShipped,
	})
	if !errors.Is(err, ErrFulfillmentInvalidTransition) {
		t.Fatalf("expected ErrFulfillmentInvalidTransition, got %v", err)
	}
	stored := h.orders.orders["order-1"].VendorOrders[0]
	if stored.Status != domain.FulfillmentProcessing || stored.ShippedAt != nil {
		t.Fatalf("expected split untouched, got %+v", stored)
	}
}

func TestFulfillmentRejectsUnknownStatus(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(pendingSplit("vendor-a"))

	_, err := h.svc.UpdateFulfillment(context.Background(), UpdateFulfillmentCommand{
		OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentStatus("returned"),
	})
	if !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected ErrFulfillmentInvalidInput, got %v", err)
	}
}

func TestFulfillmentForbidsForeignVendor(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(pendingSplit("vendor-a"))

	_, err := h.svc.UpdateFulfillment(context.Background(), UpdateFulfillmentCommand{
		OrderID: "order-1", VendorID: "vendor-z", Status: domain.FulfillmentProcessing,
	})
	if !errors.Is(err, ErrFulfillmentForbidden) {
		t.Fatalf("expected ErrFulfillmentForbidden, got %v", err)
	}
}

func TestFulfillmentStaleVersionConflicts(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(splitWithStatus("vendor-a", domain.FulfillmentProcessing))
	h.orders.orders["order-1"].VendorOrders[0].Version = 3

	_, err := h.svc.UpdateFulfillment(context.Background(), UpdateFulfillmentCommand{
		OrderID: "order-1", VendorID: "vendor-a", Status: domain.FulfillmentShipped,
		TrackingNumber: "TRK-1", ExpectedVersion: 2,
	})
	if !errors.Is(err, ErrFulfillmentConflict) {
		t.Fatalf("expected ErrFulfillmentConflict, got %v", err)
	}
}

func TestAggregateFulfillmentDerivation(t *testing.T) {
	cases := []struct {
		name        string
		statuses    []domain.FulfillmentStatus
		wantAgg     domain.OrderAggregateStatus
		wantDerived domain.FulfillmentStatus
	}{
		{
			name:        "all pending",
			statuses:    []domain.FulfillmentStatus{domain.FulfillmentPending, domain.FulfillmentPending},
			wantAgg:     domain.OrderAggregateInProgress,
			wantDerived: domain.FulfillmentPending,
		},
		{
			name:        "least advanced wins",
			statuses:    []domain.FulfillmentStatus{domain.FulfillmentShipped, domain.FulfillmentProcessing, domain.FulfillmentDelivered},
			wantAgg:     domain.OrderAggregateInProgress,
			wantDerived: domain.FulfillmentProcessing,
		},
		{
			name:        "cancelled splits ignored for derivation",
			statuses:    []domain.FulfillmentStatus{domain.FulfillmentCancelled, domain.FulfillmentShipped},
			wantAgg:     domain.OrderAggregateInProgress,
			wantDerived: domain.FulfillmentShipped,
		},
		{
			name:        "all delivered",
			statuses:    []domain.FulfillmentStatus{domain.FulfillmentDelivered, domain.FulfillmentDelivered},
			wantAgg:     domain.OrderAggregateCompleted,
			wantDerived: domain.FulfillmentDelivered,
		},
		{
			name:        "all cancelled",
			statuses:    []domain.FulfillmentStatus{domain.FulfillmentCancelled, domain.FulfillmentCancelled},
			wantAgg:     domain.OrderAggregateCancelled,
			wantDerived: domain.FulfillmentCancelled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := domain.Order{}
			for i, status := range tc.statuses {
				split := pendingSplit("vendor-" + string(rune('a'+i)))
				split.Status = status
				order.VendorOrders = append(order.VendorOrders, split)
			}
			agg, derived := AggregateFulfillment(order)
			if agg != tc.wantAgg || derived != tc.wantDerived {
				t.Fatalf("expected %s/%s, got %s/%s", tc.wantAgg, tc.wantDerived, agg, derived)
			}
		})
	}
}

func TestCancelOrderIsBestEffortAcrossSplits(t *testing.T) {
	h := newFulfillmentHarness(t)
	shipped := splitWithStatus("vendor-b", domain.FulfillmentShipped)
	shipped.TrackingNumber = "TRK-7"
	h.seedOrder(
		pendingSplit("vendor-a"),
		shipped,
		splitWithStatus("vendor-c", domain.FulfillmentProcessing),
	)

	result, err := h.svc.CancelOrder(context.Background(), CancelOrderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if len(result.Cancelled) != 2 || result.Cancelled[0] != "vendor-a" || result.Cancelled[1] != "vendor-c" {
		t.Fatalf("expected vendor-a and vendor-c cancelled, got %v", result.Cancelled)
	}
	if len(result.NotCancelled) != 1 || result.NotCancelled[0] != "vendor-b" {
		t.Fatalf("expected vendor-b not cancelled, got %v", result.NotCancelled)
	}

	stored := h.orders.orders["order-1"]
	for _, split := range stored.VendorOrders {
		switch split.VendorID {
		case "vendor-b":
			if split.Status != domain.FulfillmentShipped {
				t.Fatalf("expected shipped split untouched, got %s", split.Status)
			}
		default:
			if split.Status != domain.FulfillmentCancelled || split.Version != 2 {
				t.Fatalf("expected %s cancelled v2, got %+v", split.VendorID, split)
			}
		}
	}

	if len(h.events.msgs) != 1 || h.events.msgs[0].EventType != "order.cancel_requested" {
		t.Fatalf("expected one cancel event, got %+v", h.events.msgs)
	}
}

func TestCancelOrderHidesForeignOrders(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(pendingSplit("vendor-a"))

	_, err := h.svc.CancelOrder(context.Background(), CancelOrderCommand{BuyerID: "buyer-2", OrderID: "order-1"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign buyer, got %v", err)
	}
}

func TestCancelOrderCountsConcurrentCancellation(t *testing.T) {
	h := newFulfillmentHarness(t)
	h.seedOrder(pendingSplit("vendor-a"))

	// A concurrent writer cancels the split between the service's read and its
	// write; the UpdateSplit attempt conflicts and the re-read classifies the
	// split as already cancelled.
	h.orders.onUpdate = func(orders map[string]domain.Order) {
		stored := orders["order-1"]
		stored.VendorOrders[0].Status = domain.FulfillmentCancelled
		stored.VendorOrders[0].Version = 2
		orders["order-1"] = stored
	}

	result, err := h.svc.CancelOrder(context.Background(), CancelOrderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if len(result.Cancelled) != 1 || result.Cancelled[0] != "vendor-a" {
		t.Fatalf("expected concurrent cancellation counted, got %+v", result)
	}
}
