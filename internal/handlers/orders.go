package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"errors"

	"github.com/go-chi/chi/v5"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/auth"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes buyer-facing order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	fills  services.FulfillmentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, fills services.FulfillmentService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
		fills:  fills,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/reorder", h.reorder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pagination, err := parseOrderPagination(query.Get("page_size"), query.Get("page_token"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		BuyerID:    identity.UID,
		DateRange:  dateRange,
		Pagination: pagination,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.fills.CancelOrder(ctx, services.CancelOrderCommand{
		BuyerID: identity.UID,
		OrderID: orderID,
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Order:        buildOrderPayload(result.Order),
		Cancelled:    stringSlice(result.Cancelled),
		NotCancelled: stringSlice(result.NotCancelled),
	})
}

func (h *OrderHandlers) reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	result, err := h.orders.Reorder(ctx, services.ReorderCommand{
		BuyerID: identity.UID,
		OrderID: orderID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := reorderResponse{
		Success:     result.Success,
		Cart:        buildCartPayload(result.Cart),
		Unavailable: make([]unavailableItemPayload, 0, len(result.Unavailable)),
	}
	for _, item := range result.Unavailable {
		payload.Unavailable = append(payload.Unavailable, unavailableItemPayload{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Reason:      string(item.Reason),
		})
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	writeJSONResponse(w, status, payload)
}

func parseOrderPagination(rawSize, rawToken string) (services.Pagination, error) {
	pageSize := defaultOrderPageSize
	if trimmed := strings.TrimSpace(rawSize); trimmed != "" {
		size, err := strconv.Atoi(trimmed)
		if err != nil {
			return services.Pagination{}, errors.New("page_size must be an integer")
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	return services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(rawToken),
	}, nil
}

func buildOrderListResponse(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	VendorCount int    `json:"vendor_count"`
	PlacedAt    string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type cancelOrderResponse struct {
	Order        orderPayload `json:"order"`
	Cancelled    []string     `json:"cancelled"`
	NotCancelled []string     `json:"not_cancelled"`
}

type reorderResponse struct {
	Success     bool                     `json:"success"`
	Cart        cartPayload              `json:"cart"`
	Unavailable []unavailableItemPayload `json:"unavailable"`
}

type unavailableItemPayload struct {
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id"`
	ProductName string `json:"product_name,omitempty"`
	Reason      string `json:"reason"`
}

type orderPayload struct {
	ID              string                    `json:"id"`
	OrderNumber     string                    `json:"order_number"`
	BuyerID         string                    `json:"buyer_id"`
	Status          string                    `json:"status"`
	Currency        string                    `json:"currency"`
	Totals          orderTotalsPayload        `json:"totals"`
	Lines           []orderLinePayload        `json:"lines"`
	VendorOrders    []vendorOrderSplitPayload `json:"vendor_orders"`
	ShippingAddress addressPayload            `json:"shipping_address"`
	BillingAddress  addressPayload            `json:"billing_address"`
	PaymentIntentID string                    `json:"payment_intent_id,omitempty"`
	Notes           string                    `json:"notes,omitempty"`
	PlacedAt        string                    `json:"placed_at"`
	UpdatedAt       string                    `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal     int64  `json:"subtotal"`
	Shipping     int64  `json:"shipping"`
	Tax          int64  `json:"tax"`
	Discount     int64  `json:"discount"`
	Total        int64  `json:"total"`
	TotalDisplay string `json:"total_display,omitempty"`
}

type orderLinePayload struct {
	ID          string              `json:"id"`
	ProductID   string              `json:"product_id"`
	VariantID   string              `json:"variant_id"`
	VendorID    string              `json:"vendor_id"`
	ProductName string              `json:"product_name"`
	Quantity    int64               `json:"quantity"`
	UnitPrice   int64               `json:"unit_price"`
	AppliedTier *pricingTierPayload `json:"applied_tier,omitempty"`
	LineTotal   int64               `json:"line_total"`
}

type vendorOrderSplitPayload struct {
	VendorID          string   `json:"vendor_id"`
	LineIDs           []string `json:"line_ids"`
	Subtotal          int64    `json:"subtotal"`
	ShippingCost      int64    `json:"shipping_cost"`
	VendorTotal       int64    `json:"vendor_total"`
	Status            string   `json:"status"`
	TrackingNumber    string   `json:"tracking_number,omitempty"`
	EstimatedDelivery string   `json:"estimated_delivery,omitempty"`
	ShippedAt         string   `json:"shipped_at,omitempty"`
	Version           int64    `json:"version"`
	UpdatedAt         string   `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	aggregate, _ := services.AggregateFulfillment(order)
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(aggregate),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:       order.Totals.Total,
		VendorCount: len(order.VendorOrders),
		PlacedAt:    formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	aggregate, _ := services.AggregateFulfillment(order)
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		BuyerID:     strings.TrimSpace(order.BuyerID),
		Status:      string(aggregate),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal:     order.Totals.Subtotal,
			Shipping:     order.Totals.Shipping,
			Tax:          order.Totals.Tax,
			Discount:     order.Totals.Discount,
			Total:        order.Totals.Total,
			TotalDisplay: formatAmount(order.Currency, order.Totals.Total),
		},
		Lines:           make([]orderLinePayload, 0, len(order.Lines)),
		VendorOrders:    make([]vendorOrderSplitPayload, 0, len(order.VendorOrders)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		PaymentIntentID: strings.TrimSpace(order.PaymentIntentID),
		Notes:           strings.TrimSpace(order.Notes),
		PlacedAt:        formatTime(order.PlacedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
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
		payload.Lines = append(payload.Lines, entry)
	}

	for _, split := range order.VendorOrders {
		payload.VendorOrders = append(payload.VendorOrders, buildSplitPayload(split))
	}

	return payload
}

func buildSplitPayload(split services.VendorOrderSplit) vendorOrderSplitPayload {
	payload := vendorOrderSplitPayload{
		VendorID:       strings.TrimSpace(split.VendorID),
		LineIDs:        stringSlice(split.LineIDs),
		Subtotal:       split.Subtotal,
		ShippingCost:   split.ShippingCost,
		VendorTotal:    split.VendorTotal,
		Status:         string(split.Status),
		TrackingNumber: strings.TrimSpace(split.TrackingNumber),
		Version:        split.Version,
		UpdatedAt:      formatTime(split.UpdatedAt),
	}
	if split.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*split.EstimatedDelivery)
	}
	if split.ShippedAt != nil {
		payload.ShippedAt = formatTime(*split.ShippedAt)
	}
	return payload
}

func stringSlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFulfillmentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_forbidden", "order split does not belong to this vendor", http.StatusForbidden))
	case errors.Is(err, services.ErrFulfillmentInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_conflict", "order was modified concurrently; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
