package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

type orderHarness struct {
	svc     OrderService
	orders  *memOrderRepository
	catalog *stubCatalog
	carts   CartService
}

func newOrderHarness(t *testing.T, snapshots ...domain.ProductSnapshot) *orderHarness {
	t.Helper()
	h := &orderHarness{
		orders:  newMemOrderRepository(),
		catalog: newStubCatalog(snapshots...),
	}
	h.carts = newTestCartService(t, newMemCartRepository(), h.catalog)

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:  h.orders,
		Catalog: h.catalog,
		Carts:   h.carts,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *orderHarness) seedHistoricalOrder(buyerID string, lines ...domain.OrderLine) domain.Order {
	order := domain.Order{
		ID:          "order-1",
		OrderNumber: "SPA-2025-000311",
		BuyerID:     buyerID,
		Currency:    "USD",
		Lines:       lines,
		PlacedAt:    fixedClock().AddDate(-1, 0, 0),
		UpdatedAt:   fixedClock().AddDate(-1, 0, 0),
	}
	h.orders.orders[order.ID] = order
	return order
}

func historicalLine(id, productID, vendorID string, quantity, unitPrice int64) domain.OrderLine {
	return domain.OrderLine{
		ID:          id,
		ProductID:   productID,
		VariantID:   "v1",
		VendorID:    vendorID,
		ProductName: "Lavender Bath Soak",
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   quantity * unitPrice,
	}
}

func TestOrderServiceGetOrderHidesForeignOrders(t *testing.T) {
	h := newOrderHarness(t)
	h.seedHistoricalOrder("buyer-1", historicalLine("l1", "p1", "vendor-a", 1, 2000))

	if _, err := h.svc.GetOrder(context.Background(), "buyer-1", "order-1"); err != nil {
		t.Fatalf("get own order: %v", err)
	}

	_, err := h.svc.GetOrder(context.Background(), "buyer-2", "order-1")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign buyer, got %v", err)
	}

	_, err = h.svc.GetOrder(context.Background(), "buyer-1", "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for unknown order, got %v", err)
	}
}

func TestOrderServiceListOrdersRequiresBuyer(t *testing.T) {
	h := newOrderHarness(t)

	_, err := h.svc.ListOrders(context.Background(), OrderListFilter{})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceListVendorOrdersFiltersByStatus(t *testing.T) {
	h := newOrderHarness(t)
	order := h.seedHistoricalOrder("buyer-1")
	order.VendorOrders = []domain.VendorOrderSplit{
		{VendorID: "vendor-a", Status: domain.FulfillmentShipped, Version: 2},
	}
	h.orders.orders[order.ID] = order

	page, err := h.svc.ListVendorOrders(context.Background(), VendorOrderListFilter{
		VendorID: "vendor-a",
		Status:   []domain.FulfillmentStatus{domain.FulfillmentShipped},
	})
	if err != nil {
		t.Fatalf("list vendor orders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}

	page, err = h.svc.ListVendorOrders(context.Background(), VendorOrderListFilter{
		VendorID: "vendor-a",
		Status:   []domain.FulfillmentStatus{domain.FulfillmentPending},
	})
	if err != nil {
		t.Fatalf("list vendor orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no pending orders, got %d", len(page.Items))
	}
}

func TestReorderSkipsDiscontinuedLinesAndReprices(t *testing.T) {
	h := newOrderHarness(t,
		// p1 got cheaper since the original order; p3 picked up a tier.
		testSnapshot("p1", "v1", "vendor-a", 1800),
		testSnapshot("p3", "v1", "vendor-b", 1000, domain.PricingTier{MinQuantity: 5, DiscountPercent: 10}),
	)
	h.seedHistoricalOrder("buyer-1",
		historicalLine("l1", "p1", "vendor-a", 2, 2000),
		historicalLine("l2", "p2", "vendor-a", 1, 3000),
		historicalLine("l3", "p3", "vendor-b", 5, 1000),
	)

	result, err := h.svc.Reorder(context.Background(), ReorderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected partial reorder to succeed")
	}
	if len(result.Unavailable) != 1 || result.Unavailable[0].ProductID != "p2" {
		t.Fatalf("expected p2 itemized unavailable, got %+v", result.Unavailable)
	}
	if len(result.Cart.Items)+len(result.Unavailable) != 3 {
		t.Fatalf("expected every historical line accounted for")
	}

	for _, item := range result.Cart.Items {
		switch item.ProductID {
		case "p1":
			if item.Quantity != 2 || item.UnitPrice != 1800 {
				t.Fatalf("expected p1 re-priced to 1800, got %+v", item)
			}
		case "p3":
			if item.Quantity != 5 || item.UnitPrice != 900 || item.AppliedTier == nil {
				t.Fatalf("expected p3 tier-priced to 900, got %+v", item)
			}
		default:
			t.Fatalf("unexpected cart line %+v", item)
		}
	}
}

func TestReorderMergesIntoExistingCart(t *testing.T) {
	h := newOrderHarness(t, testSnapshot("p1", "v1", "vendor-a", 2000))
	h.seedHistoricalOrder("buyer-1", historicalLine("l1", "p1", "vendor-a", 2, 2000))

	if _, err := h.carts.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	result, err := h.svc.Reorder(context.Background(), ReorderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(result.Cart.Items) != 1 || result.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantities merged to 3, got %+v", result.Cart.Items)
	}
}

func TestReorderReportsVendorDeactivation(t *testing.T) {
	snapshot := testSnapshot("p1", "v1", "vendor-a", 2000)
	snapshot.VendorActive = false
	h := newOrderHarness(t)
	h.catalog.put(snapshot)
	h.seedHistoricalOrder("buyer-1", historicalLine("l1", "p1", "vendor-a", 1, 2000))

	result, err := h.svc.Reorder(context.Background(), ReorderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure when nothing is re-addable")
	}
	if len(result.Unavailable) != 1 || result.Unavailable[0].Reason != domain.CartIssueVendorUnavailable {
		t.Fatalf("expected vendor_unavailable reason, got %+v", result.Unavailable)
	}
}

func TestReorderFailsOnlyWhenNothingAvailable(t *testing.T) {
	h := newOrderHarness(t)
	h.seedHistoricalOrder("buyer-1",
		historicalLine("l1", "p1", "vendor-a", 1, 2000),
		historicalLine("l2", "p2", "vendor-b", 2, 1500),
	)

	result, err := h.svc.Reorder(context.Background(), ReorderCommand{BuyerID: "buyer-1", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if result.Success {
		t.Fatalf("expected success false for fully unavailable order")
	}
	if len(result.Unavailable) != 2 {
		t.Fatalf("expected both lines itemized, got %+v", result.Unavailable)
	}
	if len(result.Cart.Items) != 0 {
		t.Fatalf("expected cart untouched, got %+v", result.Cart.Items)
	}
}

func TestReorderForeignOrderNotFound(t *testing.T) {
	h := newOrderHarness(t)
	h.seedHistoricalOrder("buyer-1", historicalLine("l1", "p1", "vendor-a", 1, 2000))

	_, err := h.svc.Reorder(context.Background(), ReorderCommand{BuyerID: "buyer-2", OrderID: "order-1"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
