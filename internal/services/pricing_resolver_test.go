package services

import (
	"testing"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
)

func TestResolveTierSelectsGreatestQualifyingMinQuantity(t *testing.T) {
	tiers := []domain.PricingTier{
		{MinQuantity: 5, DiscountPercent: 10},
		{MinQuantity: 10, DiscountPercent: 20},
		{MinQuantity: 25, DiscountPercent: 30},
	}

	cases := []struct {
		name      string
		quantity  int64
		wantPrice int64
		wantMinQ  int64
	}{
		{name: "below all tiers", quantity: 4, wantPrice: 2000, wantMinQ: 0},
		{name: "exactly first tier", quantity: 5, wantPrice: 1800, wantMinQ: 5},
		{name: "between tiers", quantity: 9, wantPrice: 1800, wantMinQ: 5},
		{name: "second tier", quantity: 10, wantPrice: 1600, wantMinQ: 10},
		{name: "beyond last tier", quantity: 100, wantPrice: 1400, wantMinQ: 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price, applied := ResolveTier(2000, tiers, tc.quantity)
			if price != tc.wantPrice {
				t.Fatalf("unit price: expected %d, got %d", tc.wantPrice, price)
			}
			if tc.wantMinQ == 0 {
				if applied != nil {
					t.Fatalf("expected no tier, got %+v", applied)
				}
				return
			}
			if applied == nil || applied.MinQuantity != tc.wantMinQ {
				t.Fatalf("expected tier with min quantity %d, got %+v", tc.wantMinQ, applied)
			}
		})
	}
}

func TestResolveTierPrefersLargerDiscountOnDuplicateMinQuantity(t *testing.T) {
	tiers := []domain.PricingTier{
		{MinQuantity: 5, DiscountPercent: 10},
		{MinQuantity: 5, DiscountPercent: 15},
	}

	price, applied := ResolveTier(2000, tiers, 6)
	if applied == nil || applied.DiscountPercent != 15 {
		t.Fatalf("expected 15%% tier preferred, got %+v", applied)
	}
	if price != 1700 {
		t.Fatalf("expected unit price 1700, got %d", price)
	}
}

func TestResolveTierRoundsHalfUp(t *testing.T) {
	// 999 * 0.85 = 849.15 rounds to 849; 999 * 0.875 = 874.125 rounds to 874;
	// 150 * 0.95 = 142.5 rounds up to 143.
	cases := []struct {
		base    int64
		percent float64
		want    int64
	}{
		{base: 999, percent: 15, want: 849},
		{base: 999, percent: 12.5, want: 874},
		{base: 150, percent: 5, want: 143},
	}
	for _, tc := range cases {
		price, _ := ResolveTier(tc.base, []domain.PricingTier{{MinQuantity: 1, DiscountPercent: tc.percent}}, 1)
		if price != tc.want {
			t.Fatalf("base %d discount %.2f: expected %d, got %d", tc.base, tc.percent, tc.want, price)
		}
	}
}

func TestResolveTierClampsDegenerateDiscounts(t *testing.T) {
	if price, _ := ResolveTier(2000, []domain.PricingTier{{MinQuantity: 1, DiscountPercent: 150}}, 1); price != 0 {
		t.Fatalf("expected full discount to clamp at zero, got %d", price)
	}
	if price, applied := ResolveTier(2000, []domain.PricingTier{{MinQuantity: 1, DiscountPercent: -5}}, 1); price != 2000 || applied == nil {
		t.Fatalf("expected negative discount treated as none, got %d (%+v)", price, applied)
	}
}

func TestResolveTierIgnoresNonPositiveQuantity(t *testing.T) {
	price, applied := ResolveTier(2000, []domain.PricingTier{{MinQuantity: 1, DiscountPercent: 10}}, 0)
	if price != 2000 || applied != nil {
		t.Fatalf("expected base price with no tier, got %d (%+v)", price, applied)
	}
}
