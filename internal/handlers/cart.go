package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/auth"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

// CartHandlers exposes the authenticated cart endpoints for the current buyer.
type CartHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	validator services.CartValidator
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, validator services.CartValidator) *CartHandlers {
	return &CartHandlers{
		authn:     authn,
		carts:     carts,
		validator: validator,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/vendors", h.getVendorCarts)
	r.Post("/validate", h.validateCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	if etag := cartETag(cart); etag != "" {
		if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

// cartETag derives a weak freshness token from the cart's last write so
// clients can short-circuit unchanged reads.
func cartETag(cart services.Cart) string {
	id := strings.TrimSpace(cart.ID)
	if id == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	return fmt.Sprintf("%q", fmt.Sprintf("%s-%d", id, cart.UpdatedAt.UTC().UnixNano()))
}

func (h *CartHandlers) getVendorCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	groups, err := h.carts.GetVendorCarts(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := vendorCartsResponse{VendorCarts: make([]vendorCartPayload, 0, len(groups))}
	for _, group := range groups {
		payload.VendorCarts = append(payload.VendorCarts, vendorCartPayload{
			VendorID: group.VendorID,
			Items:    buildCartItems(group.Items),
			Subtotal: group.Subtotal,
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart validator is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	validation, err := h.validator.ValidateBuyerCart(ctx, identity.UID)
	if err != nil {
		if errors.Is(err, services.ErrCartValidatorUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog lookup failed during validation", http.StatusServiceUnavailable))
			return
		}
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildValidationPayload(validation))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r, w, err)
		return
	}

	result, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		BuyerID:   identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, addCartItemResponse{
		Cart: buildCartPayload(result.Cart),
		Item: buildCartItemPayload(result.Item),
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	var req updateCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(r, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		BuyerID:  identity.UID,
		LineID:   lineID,
		Quantity: *req.Quantity,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, identity.UID, lineID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.ClearCart(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		BuyerID:    strings.TrimSpace(cart.BuyerID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
	}

	var subtotal int64
	for _, item := range cart.Items {
		subtotal += item.LineTotal
	}
	payload.Subtotal = subtotal
	payload.SubtotalDisplay = formatAmount(payload.Currency, subtotal)

	if !cart.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(cart.CreatedAt)
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, buildCartItemPayload(item))
	}
	return payload
}

func buildCartItemPayload(item services.CartItem) cartItemPayload {
	entry := cartItemPayload{
		ID:          strings.TrimSpace(item.ID),
		ProductID:   strings.TrimSpace(item.ProductID),
		VariantID:   strings.TrimSpace(item.VariantID),
		VendorID:    strings.TrimSpace(item.VendorID),
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		BasePrice:   item.BasePrice,
		UnitPrice:   item.UnitPrice,
		LineTotal:   item.LineTotal,
	}
	if item.AppliedTier != nil {
		entry.AppliedTier = &pricingTierPayload{
			MinQuantity:     item.AppliedTier.MinQuantity,
			DiscountPercent: item.AppliedTier.DiscountPercent,
		}
	}
	if !item.AddedAt.IsZero() {
		entry.AddedAt = formatTime(item.AddedAt)
	}
	if !item.UpdatedAt.IsZero() {
		entry.UpdatedAt = formatTime(item.UpdatedAt)
	}
	return entry
}

func buildValidationPayload(validation services.CartValidation) cartValidationPayload {
	payload := cartValidationPayload{
		Valid:  validation.Valid,
		Issues: make([]cartIssuePayload, 0, len(validation.Issues)),
	}
	for _, issue := range validation.Issues {
		payload.Issues = append(payload.Issues, cartIssuePayload{
			LineID: issue.LineID,
			Reason: string(issue.Reason),
			Detail: issue.Detail,
		})
	}
	return payload
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID              string            `json:"id"`
	BuyerID         string            `json:"buyer_id"`
	Currency        string            `json:"currency"`
	ItemsCount      int               `json:"items_count"`
	Subtotal        int64             `json:"subtotal"`
	SubtotalDisplay string            `json:"subtotal_display,omitempty"`
	Items           []cartItemPayload `json:"items"`
	CreatedAt       string            `json:"created_at,omitempty"`
	UpdatedAt       string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID          string              `json:"id"`
	ProductID   string              `json:"product_id"`
	VariantID   string              `json:"variant_id"`
	VendorID    string              `json:"vendor_id"`
	ProductName string              `json:"product_name"`
	Quantity    int64               `json:"quantity"`
	BasePrice   int64               `json:"base_price"`
	UnitPrice   int64               `json:"unit_price"`
	AppliedTier *pricingTierPayload `json:"applied_tier,omitempty"`
	LineTotal   int64               `json:"line_total"`
	AddedAt     string              `json:"added_at,omitempty"`
	UpdatedAt   string              `json:"updated_at,omitempty"`
}

type pricingTierPayload struct {
	MinQuantity     int64   `json:"min_quantity"`
	DiscountPercent float64 `json:"discount_percent"`
}

type vendorCartsResponse struct {
	VendorCarts []vendorCartPayload `json:"vendor_carts"`
}

type vendorCartPayload struct {
	VendorID string            `json:"vendor_id"`
	Items    []cartItemPayload `json:"items"`
	Subtotal int64             `json:"subtotal"`
}

type cartValidationPayload struct {
	Valid  bool               `json:"valid"`
	Issues []cartIssuePayload `json:"issues"`
}

type cartIssuePayload struct {
	LineID string `json:"line_id"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
}

type addCartItemResponse struct {
	Cart cartPayload     `json:"cart"`
	Item cartItemPayload `json:"item"`
}

type updateCartItemRequest struct {
	Quantity *int64 `json:"quantity"`
}
