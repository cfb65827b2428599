package services

import (
	"math"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

// ResolveTier selects the wholesale tier applying to the requested quantity and
// returns the resulting unit price in minor units. The tier with the greatest
// MinQuantity not exceeding the quantity wins; if malformed data carries
// duplicate MinQuantity values the larger discount is preferred so resolution
// stays deterministic. When no tier qualifies the base price is returned with a
// nil tier. The function is pure and shared by cart mutation, order-line
// snapshotting, and reorder so historical lines stay reproducible.
func ResolveTier(basePrice int64, tiers []domain.PricingTier, quantity int64) (int64, *domain.PricingTier) {
	if quantity <= 0 || basePrice < 0 {
		return basePrice, nil
	}

	var applied *domain.PricingTier
	for i := range tiers {
		tier := tiers[i]
		if tier.MinQuantity <= 0 || tier.MinQuantity > quantity {
			continue
		}
		if applied == nil ||
			tier.MinQuantity > applied.MinQuantity ||
			(tier.MinQuantity == applied.MinQuantity && tier.DiscountPercent > applied.DiscountPercent) {
			copied := tier
			applied = &copied
		}
	}

	if applied == nil {
		return basePrice, nil
	}
	return discountedUnitPrice(basePrice, applied.DiscountPercent), applied
}

// discountedUnitPrice applies a percentage discount to a minor-unit price,
// rounding half up. Discounts outside [0, 100] are clamped.
func discountedUnitPrice(basePrice int64, percent float64) int64 {
	if percent <= 0 {
		return basePrice
	}
	if percent >= 100 {
		return 0
	}
	discounted := math.Round(float64(basePrice) * (100 - percent) / 100)
	if discounted < 0 {
		return 0
	}
	return int64(discounted)
}

// priceSnapshotLine resolves the tiered unit price and line total for a
// quantity of the given catalog snapshot.
func priceSnapshotLine(snapshot domain.ProductSnapshot, quantity int64) (unitPrice int64, applied *domain.PricingTier, lineTotal int64) {
	unitPrice, applied = ResolveTier(snapshot.BasePrice, snapshot.Tiers, quantity)
	return unitPrice, applied, unitPrice * quantity
}
