package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

// OrderFinder is the narrow read surface internal callers need; the order
// repository satisfies it.
type OrderFinder interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// InternalOrderHandlers serves trusted service-to-service reads. Unlike the
// buyer endpoints these are not scoped to the caller; the OIDC middleware on
// the /internal group is the authorisation boundary.
type InternalOrderHandlers struct {
	orders OrderFinder
}

// NewInternalOrderHandlers constructs the internal order lookup endpoints.
func NewInternalOrderHandlers(orders OrderFinder) *InternalOrderHandlers {
	return &InternalOrderHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}", h.getOrder)
}

func (h *InternalOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order lookup unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to load order", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
