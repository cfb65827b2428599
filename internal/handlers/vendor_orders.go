package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/auth"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

const maxFulfillmentBodySize = 8 * 1024

// VendorOrderHandlers exposes the vendor-facing order views and fulfillment
// transitions. The acting vendor is always the authenticated principal; a
// vendor can never address another vendor's split.
type VendorOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	fills  services.FulfillmentService
}

// NewVendorOrderHandlers constructs handlers restricted to vendor principals.
func NewVendorOrderHandlers(authn *auth.Authenticator, orders services.OrderService, fills services.FulfillmentService) *VendorOrderHandlers {
	return &VendorOrderHandlers{
		authn:  authn,
		orders: orders,
		fills:  fills,
	}
}

// Routes registers the /vendor endpoints.
func (h *VendorOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth("vendor"))
	}
	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{orderID}/fulfillment", h.updateFulfillment)
}

func (h *VendorOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseFulfillmentStatuses(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	pagination, err := parseOrderPagination(query.Get("page_size"), query.Get("page_token"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListVendorOrders(ctx, services.VendorOrderListFilter{
		VendorID:   identity.UID,
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]vendorOrderViewPayload, 0, len(page.Items))
	for _, order := range page.Items {
		if view, ok := buildVendorOrderView(order, identity.UID); ok {
			items = append(items, view)
		}
	}
	writeJSONResponse(w, http.StatusOK, vendorOrderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *VendorOrderHandlers) updateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fills == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateFulfillmentRequest
	if err := decodeJSONBody(r, maxFulfillmentBodySize, &req); err != nil {
		writeBodyError(r, w, err)
		return
	}

	status := domain.FulfillmentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateFulfillmentCommand{
		OrderID:         orderID,
		VendorID:        identity.UID,
		Status:          status,
		TrackingNumber:  strings.TrimSpace(req.TrackingNumber),
		ExpectedVersion: req.ExpectedVersion,
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		est, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &est
	}

	order, err := h.fills.UpdateFulfillment(ctx, cmd)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	view, ok := buildVendorOrderView(order, identity.UID)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "updated split missing from order", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, vendorOrderResponse{Order: view})
}

func parseFulfillmentStatuses(values []string) ([]domain.FulfillmentStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	known := map[domain.FulfillmentStatus]struct{}{
		domain.FulfillmentPending:    {},
		domain.FulfillmentProcessing: {},
		domain.FulfillmentShipped:    {},
		domain.FulfillmentDelivered:  {},
		domain.FulfillmentCancelled:  {},
	}

	var statuses []domain.FulfillmentStatus
	seen := make(map[domain.FulfillmentStatus]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := domain.FulfillmentStatus(part)
			if _, ok := known[status]; !ok {
				return nil, fmt.Errorf("unknown fulfillment status %q", part)
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

// buildVendorOrderView projects an order down to the lines and split owned by
// one vendor. Other vendors' splits and amounts are not exposed.
func buildVendorOrderView(order services.Order, vendorID string) (vendorOrderViewPayload, bool) {
	var split *services.VendorOrderSplit
	for i := range order.VendorOrders {
		if order.VendorOrders[i].VendorID == vendorID {
			split = &order.VendorOrders[i]
			break
		}
	}
	if split == nil {
		return vendorOrderViewPayload{}, false
	}

	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		if line.VendorID != vendorID {
			continue
		}
		entry := orderLinePayload{
			ID:          strings.TrimSpace(line.ID),
			ProductID:   strings.TrimSpace(line.ProductID),
			VariantID:   strings.TrimSpace(line.VariantID),
			VendorID:    strings.TrimSpace(line.VendorID),
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		}
		if line.AppliedTier != nil {
			entry.AppliedTier = &pricingTierPayload{
				MinQuantity:     line.AppliedTier.MinQuantity,
				DiscountPercent: line.AppliedTier.DiscountPercent,
			}
		}
		lines = append(lines, entry)
	}

	return vendorOrderViewPayload{
		OrderID:         strings.TrimSpace(order.ID),
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		Lines:           lines,
		Split:           buildSplitPayload(*split),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		PlacedAt:        formatTime(order.PlacedAt),
	}, true
}

type vendorOrderListResponse struct {
	Items         []vendorOrderViewPayload `json:"items"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

type vendorOrderResponse struct {
	Order vendorOrderViewPayload `json:"order"`
}

type vendorOrderViewPayload struct {
	OrderID         string                  `json:"order_id"`
	OrderNumber     string                  `json:"order_number"`
	Currency        string                  `json:"currency"`
	Lines           []orderLinePayload      `json:"lines"`
	Split           vendorOrderSplitPayload `json:"split"`
	ShippingAddress addressPayload          `json:"shipping_address"`
	PlacedAt        string                  `json:"placed_at"`
}

type updateFulfillmentRequest struct {
	Status            string `json:"status"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	ExpectedVersion   int64  `json:"expected_version,omitempty"`
}
