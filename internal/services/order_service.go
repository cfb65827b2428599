package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

var (
	errOrderOrdersRequired  = errors.New("order service: order repository is required")
	errOrderCatalogRequired = errors.New("order service: catalog gateway is required")
	errOrderCartsRequired   = errors.New("order service: cart service is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the order could not be located for the caller.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderUnavailable indicates persistence is unavailable.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// OrderServiceDeps wires the read-model and reorder dependencies.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Catalog CatalogGateway
	Carts   CartService
	Logger  func(context.Context, string, map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	catalog CatalogGateway
	carts   CartService
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderOrdersRequired
	}
	if deps.Catalog == nil {
		return nil, errOrderCatalogRequired
	}
	if deps.Carts == nil {
		return nil, errOrderCartsRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		carts:   deps.Carts,
		logger:  logger,
	}, nil
}

// GetOrder returns the buyer's order. Orders belonging to other buyers are
// reported as not found rather than forbidden.
func (s *orderService) GetOrder(ctx context.Context, buyerID string, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}

	uid := strings.TrimSpace(buyerID)
	oid := strings.TrimSpace(orderID)
	if uid == "" || oid == "" {
		return Order{}, fmt.Errorf("%w: buyer and order ids are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if order.BuyerID != uid {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, oid)
	}
	return order, nil
}

// ListOrders pages the buyer's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}

	buyerID := strings.TrimSpace(filter.BuyerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByBuyer(ctx, repositories.OrderListFilter{
		BuyerID:    buyerID,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// ListVendorOrders pages orders containing a split for the vendor.
func (s *orderService) ListVendorOrders(ctx context.Context, filter VendorOrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}

	vendorID := strings.TrimSpace(filter.VendorID)
	if vendorID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: vendor id is required", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByVendor(ctx, repositories.VendorOrderListFilter{
		VendorID:   vendorID,
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// Reorder rebuilds the buyer's cart from a historical order. Every line is
// re-priced against the current catalog rather than its historical price;
// lines no longer purchasable are excluded and itemized. Partial availability
// is still a success; only an entirely unavailable order reports failure.
func (s *orderService) Reorder(ctx context.Context, cmd ReorderCommand) (ReorderResult, error) {
	if s == nil || s.orders == nil {
		return ReorderResult{}, ErrOrderUnavailable
	}

	order, err := s.GetOrder(ctx, cmd.BuyerID, cmd.OrderID)
	if err != nil {
		return ReorderResult{}, err
	}

	result := ReorderResult{}
	added := 0
	for _, line := range order.Lines {
		reason, ok := s.lineAvailability(ctx, line)
		if !ok {
			result.Unavailable = append(result.Unavailable, UnavailableItem{
				ProductID:   line.ProductID,
				VariantID:   line.VariantID,
				ProductName: line.ProductName,
				Reason:      reason,
			})
			continue
		}

		addResult, err := s.carts.AddItem(ctx, AddCartItemCommand{
			BuyerID:   cmd.BuyerID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
		})
		if err != nil {
			if errors.Is(err, ErrCartItemUnavailable) {
				result.Unavailable = append(result.Unavailable, UnavailableItem{
					ProductID:   line.ProductID,
					VariantID:   line.VariantID,
					ProductName: line.ProductName,
					Reason:      domain.CartIssueUnavailable,
				})
				continue
			}
			return ReorderResult{}, err
		}
		result.Cart = addResult.Cart
		added++
	}

	if added == 0 {
		result.Success = false
		if cart, err := s.carts.GetCart(ctx, cmd.BuyerID); err == nil {
			result.Cart = cart
		}
		s.logger(ctx, "order.reorder_nothing_available", map[string]any{
			"orderId": order.ID,
			"buyerId": cmd.BuyerID,
		})
		return result, nil
	}

	result.Success = true
	s.logger(ctx, "order.reordered", map[string]any{
		"orderId":     order.ID,
		"buyerId":     cmd.BuyerID,
		"added":       added,
		"unavailable": len(result.Unavailable),
	})
	return result, nil
}

// lineAvailability checks whether a historical line is still purchasable and,
// when it is not, which reason to report.
func (s *orderService) lineAvailability(ctx context.Context, line OrderLine) (CartIssueReason, bool) {
	snapshot, err := s.catalog.Lookup(ctx, line.ProductID, line.VariantID)
	if err != nil {
		return domain.CartIssueUnavailable, false
	}
	if !snapshot.VendorActive {
		return domain.CartIssueVendorUnavailable, false
	}
	if !snapshot.Available {
		return domain.CartIssueUnavailable, false
	}
	return "", true
}

func (s *orderService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
}
