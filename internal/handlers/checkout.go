package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/auth"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

const maxCheckoutRequestBody = 32 * 1024

// CheckoutHandlers converts the buyer's cart into an order.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/", h.checkoutCart)
}

type checkoutRequest struct {
	ShippingAddress addressPayload         `json:"shipping_address"`
	BillingAddress  *addressPayload        `json:"billing_address,omitempty"`
	Payment         checkoutPaymentRequest `json:"payment"`
	Tax             int64                  `json:"tax"`
	Discount        int64                  `json:"discount"`
	Notes           string                 `json:"notes,omitempty"`
}

type checkoutPaymentRequest struct {
	IntentID string `json:"intent_id"`
	Provider string `json:"provider,omitempty"`
}

type checkoutResponse struct {
	Order orderPayload `json:"order"`
}

func (h *CheckoutHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(r, w, err)
		return
	}

	cmd := services.CheckoutCommand{
		BuyerID:         identity.UID,
		ShippingAddress: req.ShippingAddress.toAddress(),
		Payment: services.PaymentAuthorization{
			IntentID: strings.TrimSpace(req.Payment.IntentID),
			Provider: strings.TrimSpace(req.Payment.Provider),
		},
		Tax:      req.Tax,
		Discount: req.Discount,
		Notes:    strings.TrimSpace(req.Notes),
	}
	if req.BillingAddress != nil {
		cmd.BillingAddress = req.BillingAddress.toAddress()
	} else {
		cmd.BillingAddress = cmd.ShippingAddress
	}

	order, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.CheckoutValidationError
	switch {
	case errors.As(err, &validationErr):
		issues := make([]map[string]any, 0, len(validationErr.Issues))
		for _, issue := range validationErr.Issues {
			entry := map[string]any{
				"line_id": issue.LineID,
				"reason":  string(issue.Reason),
			}
			if issue.Detail != "" {
				entry["detail"] = issue.Detail
			}
			issues = append(issues, entry)
		}
		httpx.WriteError(ctx, w, httpx.NewError("cart_validation_failed", "cart failed validation; review the issues and retry", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"issues": issues}))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutPaymentNotAuthorized):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_authorized", "payment does not cover the order", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "cart has changed; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutDependency):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_dependency_failed", "a checkout dependency failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
