package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/httpx"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/services"
)

const maxWebhookBodySize = 16 * 1024

// WebhookHandlers receives signed callbacks from shipping carriers and moves
// the matching vendor split along its lifecycle. Authentication happens in the
// HMAC middleware mounted on the /webhooks group, not here.
type WebhookHandlers struct {
	fills services.FulfillmentService
}

// NewWebhookHandlers constructs the webhook endpoints over the fulfillment service.
func NewWebhookHandlers(fills services.FulfillmentService) *WebhookHandlers {
	return &WebhookHandlers{fills: fills}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/carrier", h.carrierEvent)
}

type carrierEventRequest struct {
	OrderID           string `json:"order_id"`
	VendorID          string `json:"vendor_id"`
	Event             string `json:"event"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
}

type carrierEventResponse struct {
	OrderID  string `json:"order_id"`
	VendorID string `json:"vendor_id"`
	Status   string `json:"status"`
	Applied  bool   `json:"applied"`
}

// carrierEventStatus maps carrier event names onto fulfillment states. Events
// outside this table (customs holds, scan updates) are acknowledged unapplied
// so the carrier does not retry them.
var carrierEventStatus = map[string]domain.FulfillmentStatus{
	"shipment.picked_up": domain.FulfillmentShipped,
	"shipment.delivered": domain.FulfillmentDelivered,
}

func (h *WebhookHandlers) carrierEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fills == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req carrierEventRequest
	if err := decodeJSONBody(r, maxWebhookBodySize, &req); err != nil {
		writeBodyError(r, w, err)
		return
	}

	orderID := strings.TrimSpace(req.OrderID)
	vendorID := strings.TrimSpace(req.VendorID)
	event := strings.ToLower(strings.TrimSpace(req.Event))
	if orderID == "" || vendorID == "" || event == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id, vendor_id and event are required", http.StatusBadRequest))
		return
	}

	status, ok := carrierEventStatus[event]
	if !ok {
		writeJSONResponse(w, http.StatusOK, carrierEventResponse{
			OrderID:  orderID,
			VendorID: vendorID,
			Status:   event,
			Applied:  false,
		})
		return
	}

	cmd := services.UpdateFulfillmentCommand{
		OrderID:        orderID,
		VendorID:       vendorID,
		Status:         status,
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		est, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &est
	}

	if _, err := h.fills.UpdateFulfillment(ctx, cmd); err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, carrierEventResponse{
		OrderID:  orderID,
		VendorID: vendorID,
		Status:   string(status),
		Applied:  true,
	})
}
