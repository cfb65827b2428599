package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	pfirestore "github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/firestore"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

const (
	productCollection = "products"
	vendorCollection  = "vendors"
)

// CatalogRepository reads the product projection maintained by the catalog
// pipeline. Vendor availability lives on the vendor document so deactivating a
// vendor takes effect without rewriting every product.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
	vendors  *pfirestore.BaseRepository[vendorDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
		vendors:  pfirestore.NewBaseRepository[vendorDocument](provider, vendorCollection, nil, nil),
	}, nil
}

// GetSnapshot resolves the point-in-time purchasable state of one variant.
func (r *CatalogRepository) GetSnapshot(ctx context.Context, productID string, variantID string) (domain.ProductSnapshot, error) {
	if r == nil || r.products == nil {
		return domain.ProductSnapshot{}, errors.New("catalog repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	vid := strings.TrimSpace(variantID)
	if pid == "" || vid == "" {
		return domain.ProductSnapshot{}, errors.New("catalog repository: product and variant ids are required")
	}

	product, err := r.products.Get(ctx, pid)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	variant, ok := findVariant(product.Data.Variants, vid)
	if !ok {
		return domain.ProductSnapshot{}, statusNotFound(fmt.Sprintf("variant %s of product %s", vid, pid))
	}

	snapshot := domain.ProductSnapshot{
		ProductID: pid,
		VariantID: vid,
		VendorID:  product.Data.VendorID,
		Name:      product.Data.Name,
		BasePrice: variant.BasePrice,
		Currency:  strings.ToUpper(strings.TrimSpace(product.Data.Currency)),
		Tiers:     decodeTiers(variant.Tiers),
		Available: product.Data.Available && variant.Available,
	}

	vendor, err := r.vendors.Get(ctx, product.Data.VendorID)
	if err != nil {
		// A product pointing at a missing vendor is not purchasable; other
		// failures propagate so callers can distinguish outage from absence.
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			snapshot.VendorActive = false
			return snapshot, nil
		}
		return domain.ProductSnapshot{}, err
	}
	snapshot.VendorActive = vendor.Data.Active

	return snapshot, nil
}

func findVariant(variants []productVariantDocument, variantID string) (productVariantDocument, bool) {
	for _, variant := range variants {
		if variant.ID == variantID {
			return variant, true
		}
	}
	return productVariantDocument{}, false
}

func decodeTiers(tiers []pricingTierDocument) []domain.PricingTier {
	if len(tiers) == 0 {
		return nil
	}
	out := make([]domain.PricingTier, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, domain.PricingTier{
			MinQuantity:     tier.MinQuantity,
			DiscountPercent: tier.DiscountPercent,
		})
	}
	return out
}

type productDocument struct {
	VendorID  string                   `firestore:"vendorId"`
	Name      string                   `firestore:"name"`
	Currency  string                   `firestore:"currency"`
	Available bool                     `firestore:"available"`
	Variants  []productVariantDocument `firestore:"variants"`
	UpdatedAt time.Time                `firestore:"updatedAt"`
}

type productVariantDocument struct {
	ID        string                `firestore:"id"`
	BasePrice int64                 `firestore:"basePrice"`
	Available bool                  `firestore:"available"`
	Tiers     []pricingTierDocument `firestore:"tiers,omitempty"`
}

type vendorDocument struct {
	Name      string    `firestore:"name"`
	Active    bool      `firestore:"active"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
