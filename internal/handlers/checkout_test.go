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
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
	return s.checkoutFunc(ctx, cmd)
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func newCheckoutTestRouter(checkout services.CheckoutService) chi.Router {
	handler := NewCheckoutHandlers(nil, checkout)
	router := chi.NewRouter()
	router.Route("/", handler.Routes)
	return router
}

func checkoutRequestBody() *bytes.Buffer {
	return bytes.NewBufferString(`{
		"shipping_address": {
			"recipient": "Jo Buyer",
			"line1": "12 Spring St",
			"city": "Portland",
			"postal_code": "97201",
			"country": "us"
		},
		"payment": {"intent_id": "pi_123", "provider": "stripe"},
		"tax": 800,
		"discount": 0,
		"notes": "leave at door"
	}`)
}

func testOrder(buyerID string) services.Order {
	placed := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "order-1",
		OrderNumber: "ORD-000001",
		BuyerID:     buyerID,
		Currency:    "USD",
		ShippingAddress: services.Address{
			Recipient:  "Jo Buyer",
			Line1:      "12 Spring St",
			City:       "Portland",
			PostalCode: "97201",
			Country:    "US",
		},
		BillingAddress: services.Address{
			Recipient:  "Jo Buyer",
			Line1:      "12 Spring St",
			City:       "Portland",
			PostalCode: "97201",
			Country:    "US",
		},
		Totals: services.OrderTotals{Subtotal: 9000, Shipping: 500, Tax: 800, Total: 10300},
		Lines: []domain.OrderLine{
			{
				ID:          "line-1",
				ProductID:   "prod-1",
				VariantID:   "var-1",
				VendorID:    "vendor-a",
				ProductName: "Cedar Sauna Bucket",
				Quantity:    2,
				UnitPrice:   4500,
				LineTotal:   9000,
			},
		},
		VendorOrders: []services.VendorOrderSplit{
			{
				VendorID:     "vendor-a",
				LineIDs:      []string{"line-1"},
				Subtotal:     9000,
				ShippingCost: 500,
				VendorTotal:  9500,
				Status:       domain.FulfillmentPending,
				Version:      1,
				UpdatedAt:    placed,
			},
		},
		PaymentIntentID: "pi_123",
		PlacedAt:        placed,
		UpdatedAt:       placed,
	}
}

func TestCheckoutHandlersCheckoutSuccess(t *testing.T) {
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			return testOrder(cmd.BuyerID), nil
		},
	}
	router := newCheckoutTestRouter(checkout)

	req := asBuyer(httptest.NewRequest(http.MethodPost, "/", checkoutRequestBody()), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if captured.BuyerID != "buyer-1" {
		t.Fatalf("unexpected buyer id %q", captured.BuyerID)
	}
	if captured.Payment.IntentID != "pi_123" || captured.Payment.Provider != "stripe" {
		t.Fatalf("unexpected payment authorization: %+v", captured.Payment)
	}
	if captured.ShippingAddress.Country != "US" {
		t.Fatalf("expected country normalised to US, got %q", captured.ShippingAddress.Country)
	}
	if captured.BillingAddress != captured.ShippingAddress {
		t.Fatalf("expected billing to default to shipping address")
	}
	if captured.Tax != 800 {
		t.Fatalf("expected tax 800, got %d", captured.Tax)
	}

	var body struct {
		Order struct {
			ID           string `json:"id"`
			Status       string `json:"status"`
			VendorOrders []struct {
				VendorID string `json:"vendor_id"`
				Status   string `json:"status"`
			} `json:"vendor_orders"`
			Totals struct {
				Total int64 `json:"total"`
			} `json:"totals"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON response: %v", err)
	}
	if body.Order.ID != "order-1" {
		t.Fatalf("unexpected order id %q", body.Order.ID)
	}
	if body.Order.Status != "in_progress" {
		t.Fatalf("expected aggregate status in_progress, got %q", body.Order.Status)
	}
	if len(body.Order.VendorOrders) != 1 || body.Order.VendorOrders[0].Status != "pending" {
		t.Fatalf("unexpected vendor orders: %+v", body.Order.VendorOrders)
	}
	if body.Order.Totals.Total != 10300 {
		t.Fatalf("expected total 10300, got %d", body.Order.Totals.Total)
	}
}

func TestCheckoutHandlersValidationFailure(t *testing.T) {
	checkout := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, &services.CheckoutValidationError{
				Issues: []services.CartIssue{
					{LineID: "line-1", Reason: domain.CartIssueUnavailable, Detail: "variant removed"},
				},
			}
		},
	}
	router := newCheckoutTestRouter(checkout)

	req := asBuyer(httptest.NewRequest(http.MethodPost, "/", checkoutRequestBody()), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var body struct {
		Error   string `json:"error"`
		Details struct {
			Issues []struct {
				LineID string `json:"line_id"`
				Reason string `json:"reason"`
			} `json:"issues"`
		} `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON response: %v", err)
	}
	if body.Error != "cart_validation_failed" {
		t.Fatalf("expected cart_validation_failed, got %q", body.Error)
	}
	if len(body.Details.Issues) != 1 || body.Details.Issues[0].Reason != "unavailable" {
		t.Fatalf("unexpected issues: %+v", body.Details.Issues)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty cart", services.ErrCheckoutEmptyCart, http.StatusConflict, "cart_empty"},
		{"invalid input", fmt.Errorf("%w: tax must not be negative", services.ErrCheckoutInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"payment not authorized", services.ErrCheckoutPaymentNotAuthorized, http.StatusPaymentRequired, "payment_not_authorized"},
		{"conflict", services.ErrCheckoutConflict, http.StatusConflict, "checkout_conflict"},
		{"dependency", services.ErrCheckoutDependency, http.StatusBadGateway, "checkout_dependency_failed"},
		{"unavailable", services.ErrCheckoutUnavailable, http.StatusServiceUnavailable, "checkout_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newCheckoutTestRouter(&stubCheckoutService{
				checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})

			req := asBuyer(httptest.NewRequest(http.MethodPost, "/", checkoutRequestBody()), "buyer-1")
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

func TestCheckoutHandlersEmptyBody(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			t.Fatal("service should not be called")
			return services.Order{}, nil
		},
	})

	req := asBuyer(httptest.NewRequest(http.MethodPost, "/", nil), "buyer-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersUnauthenticated(t *testing.T) {
	router := newCheckoutTestRouter(&stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			t.Fatal("service should not be called")
			return services.Order{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/", checkoutRequestBody())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
