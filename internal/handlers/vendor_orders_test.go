package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/auth"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

func newVendorTestRouter(orders services.OrderService, fills services.FulfillmentService) chi.Router {
	handler := NewVendorOrderHandlers(nil, orders, fills)
	router := chi.NewRouter()
	router.Route("/", handler.Routes)
	return router
}

func asVendor(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleVendor}}))
}

func TestVendorOrderHandlersListOrders(t *testing.T) {
	var captured services.VendorOrderListFilter
	orders := &stubOrderService{
		listVendorOrdersFunc: func(ctx context.Context, filter services.VendorOrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items: []services.Order{testOrder("buyer-1")},
			}, nil
		},
	}
	router := newVendorTestRouter(orders, nil)

	req := asVendor(httptest.NewRequest(http.MethodGet, "/orders?status=pending,processing&page_size=5", nil), "vendor-a")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.VendorID != "vendor-a" {
		t.Fatalf("unexpected vendor id %q", captured.VendorID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.FulfillmentPending || captured.Status[1] != domain.FulfillmentProcessing {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var body struct {
		Items []struct {
			OrderID string `json:"order_id"`
			Lines   []struct {
				VendorID string `json:"vendor_id"`
			} `json:"lines"`
			Split struct {
				VendorID    string `json:"vendor_id"`
				VendorTotal int64  `json:"vendor_total"`
			} `json:"split"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON response: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(body.Items))
	}
	item := body.Items[0]
	if item.OrderID != "order-1" || item.Split.VendorID != "vendor-a" || item.Split.VendorTotal != 9500 {
		t.Fatalf("unexpected vendor view: %+v", item)
	}
	for _, line := range item.Lines {
		if line.VendorID != "vendor-a" {
			t.Fatalf("expected only vendor-a lines, got %q", line.VendorID)
		}
	}
}

func TestVendorOrderHandlersListOrdersUnknownStatus(t *testing.T) {
	router := newVendorTestRouter(&stubOrderService{
		listVendorOrdersFunc: func(ctx context.Context, filter services.VendorOrderListFilter) (domain.CursorPage[services.Order], error) {
			t.Fatal("service should not be called")
			return domain.CursorPage[services.Order]{}, nil
		},
	}, nil)

	req := asVendor(httptest.NewRequest(http.MethodGet, "/orders?status=lost", nil), "vendor-a")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestVendorOrderHandlersUpdateFulfillment(t *testing.T) {
	var captured services.UpdateFulfillmentCommand
	fills := &stubFulfillmentService{
		updateFunc: func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
			captured = cmd
			order := testOrder("buyer-1")
			order.VendorOrders[0].Status = domain.FulfillmentShipped
			order.VendorOrders[0].TrackingNumber = cmd.TrackingNumber
			order.VendorOrders[0].Version = 2
			return order, nil
		},
	}
	router := newVendorTestRouter(nil, fills)

	payload := bytes.NewBufferString(`{
		"status": "shipped",
		"tracking_number": "TRK-42",
		"estimated_delivery": "2024-03-10T00:00:00Z",
		"expected_version": 1
	}`)
	req := asVendor(httptest.NewRequest(http.MethodPatch, "/orders/order-1/fulfillment", payload), "vendor-a")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "order-1" || captured.VendorID != "vendor-a" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Status != domain.FulfillmentShipped || captured.TrackingNumber != "TRK-42" {
		t.Fatalf("unexpected transition: %+v", captured)
	}
	if captured.ExpectedVersion != 1 {
		t.Fatalf("expected version 1, got %d", captured.ExpectedVersion)
	}
	if captured.EstimatedDelivery == nil || !captured.EstimatedDelivery.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected estimated delivery: %v", captured.EstimatedDelivery)
	}

	var body struct {
		Order struct {
			Split struct {
				Status         string `json:"status"`
				TrackingNumber string `json:"tracking_number"`
				Version        int64  `json:"version"`
			} `json:"split"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON response: %v", err)
	}
	if body.Order.Split.Status != "shipped" || body.Order.Split.TrackingNumber != "TRK-42" || body.Order.Split.Version != 2 {
		t.Fatalf("unexpected split payload: %+v", body.Order.Split)
	}
}

func TestVendorOrderHandlersUpdateFulfillmentErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"forbidden", services.ErrFulfillmentForbidden, http.StatusForbidden, "fulfillment_forbidden"},
		{"invalid transition", fmt.Errorf("%w: delivered -> pending", services.ErrFulfillmentInvalidTransition), http.StatusConflict, "invalid_transition"},
		{"version conflict", services.ErrFulfillmentConflict, http.StatusConflict, "fulfillment_conflict"},
		{"order missing", services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newVendorTestRouter(nil, &stubFulfillmentService{
				updateFunc: func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})

			payload := bytes.NewBufferString(`{"status": "processing"}`)
			req := asVendor(httptest.NewRequest(http.MethodPatch, "/orders/order-1/fulfillment", payload), "vendor-a")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON response: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected error %q, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestVendorOrderHandlersUpdateFulfillmentMissingStatus(t *testing.T) {
	router := newVendorTestRouter(nil, &stubFulfillmentService{
		updateFunc: func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
			t.Fatal("service should not be called")
			return services.Order{}, nil
		},
	})

	payload := bytes.NewBufferString(`{"tracking_number": "TRK-1"}`)
	req := asVendor(httptest.NewRequest(http.MethodPatch, "/orders/order-1/fulfillment", payload), "vendor-a")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
