package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

var errValidatorCatalogRequired = errors.New("cart validator: catalog gateway is required")

// ErrCartValidatorUnavailable indicates the validator cannot reach its dependencies.
var ErrCartValidatorUnavailable = errors.New("cart validator: unavailable")

// CartValidatorDeps wires the catalog and cart dependencies for validation.
type CartValidatorDeps struct {
	Catalog CatalogGateway
	Carts   CartService
	// PriceToleranceMinor is the absolute unit-price drift, in minor units,
	// tolerated before a line is flagged as price_changed. Zero means any
	// drift is flagged.
	PriceToleranceMinor int64
	Logger              func(context.Context, string, map[string]any)
}

type cartValidator struct {
	catalog   CatalogGateway
	carts     CartService
	tolerance int64
	logger    func(context.Context, string, map[string]any)
}

// NewCartValidator constructs a CartValidator enforcing dependency validation.
func NewCartValidator(deps CartValidatorDeps) (CartValidator, error) {
	if deps.Catalog == nil {
		return nil, errValidatorCatalogRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	tolerance := deps.PriceToleranceMinor
	if tolerance < 0 {
		tolerance = 0
	}

	return &cartValidator{
		catalog:   deps.Catalog,
		carts:     deps.Carts,
		tolerance: tolerance,
		logger:    logger,
	}, nil
}

// Validate re-checks every cart line against current catalog state. Issues are
// reported in cart line order; a line that fails more than one check reports
// the most severe reason (availability before price drift). No writes occur.
func (v *cartValidator) Validate(ctx context.Context, cart Cart) (CartValidation, error) {
	if v == nil || v.catalog == nil {
		return CartValidation{}, ErrCartValidatorUnavailable
	}

	issues := make([]CartIssue, 0)
	for _, line := range cart.Items {
		if issue, ok := v.validateLine(ctx, line); !ok {
			issues = append(issues, issue)
		}
	}

	result := CartValidation{Valid: len(issues) == 0, Issues: issues}
	if !result.Valid {
		v.logger(ctx, "cart.validation_failed", map[string]any{
			"buyerId": cart.BuyerID,
			"issues":  len(issues),
		})
	}
	return result, nil
}

// ValidateBuyerCart loads the buyer's active cart and validates it.
func (v *cartValidator) ValidateBuyerCart(ctx context.Context, buyerID string) (CartValidation, error) {
	if v == nil || v.carts == nil {
		return CartValidation{}, ErrCartValidatorUnavailable
	}
	cart, err := v.carts.GetCart(ctx, buyerID)
	if err != nil {
		return CartValidation{}, err
	}
	return v.Validate(ctx, cart)
}

func (v *cartValidator) validateLine(ctx context.Context, line CartItem) (CartIssue, bool) {
	snapshot, err := v.catalog.Lookup(ctx, line.ProductID, line.VariantID)
	if err != nil {
		// A line the catalog cannot resolve is not purchasable; fold lookup
		// failures into the unavailable reason rather than failing the whole
		// validation pass.
		detail := "product not found"
		if !isRepoNotFound(err) {
			detail = fmt.Sprintf("catalog lookup failed: %v", err)
		}
		return CartIssue{LineID: line.ID, Reason: domain.CartIssueUnavailable, Detail: detail}, false
	}

	if !snapshot.VendorActive {
		return CartIssue{
			LineID: line.ID,
			Reason: domain.CartIssueVendorUnavailable,
			Detail: fmt.Sprintf("vendor %s is not accepting orders", snapshot.VendorID),
		}, false
	}

	if !snapshot.Available {
		return CartIssue{
			LineID: line.ID,
			Reason: domain.CartIssueUnavailable,
			Detail: "out of stock",
		}, false
	}

	currentUnit, _, _ := priceSnapshotLine(snapshot, line.Quantity)
	if drift := absInt64(currentUnit - line.UnitPrice); drift > v.tolerance {
		return CartIssue{
			LineID: line.ID,
			Reason: domain.CartIssuePriceChanged,
			Detail: fmt.Sprintf("unit price moved from %d to %d", line.UnitPrice, currentUnit),
		}, false
	}

	return CartIssue{}, true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
