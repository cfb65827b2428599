package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	pfirestore "github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/firestore"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists one cart document per buyer, keyed by buyer ID.
// Optimistic locking uses Firestore's document update time: GetCart surfaces
// it as the cart's UpdatedAt and mutations assert it as a precondition.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the buyer's cart with all lines.
func (r *CartRepository) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(doc.ID, doc.Data, doc.UpdateTime), nil
}

// UpsertCart writes the full cart document. A nil expectedUpdatedAt asserts
// the cart does not exist yet; a non-nil value must match the stored document's
// update time or the write fails with a conflict.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.BuyerID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	doc := encodeCart(cart)
	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	var updateTime time.Time
	if expectedUpdatedAt == nil || expectedUpdatedAt.IsZero() {
		result, err := ref.Create(ctx, doc)
		if err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.create", err)
		}
		updateTime = result.UpdateTime
	} else {
		result, err := ref.Update(ctx, cartUpdates(doc), firestore.LastUpdateTime(expectedUpdatedAt.UTC()))
		if err != nil {
			return domain.Cart{}, pfirestore.WrapError("carts.update", err)
		}
		updateTime = result.UpdateTime
	}

	saved := cart
	saved.ID = uid
	saved.UpdatedAt = updateTime
	return saved, nil
}

// DeleteCart removes the buyer's cart. Inside a unit of work the delete joins
// the ambient transaction so checkout can clear the cart atomically with the
// order insert.
func (r *CartRepository) DeleteCart(ctx context.Context, buyerID string, expectedUpdatedAt *time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return errors.New("cart repository: buyer id is required")
	}

	ref, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}

	preconditions := make([]firestore.Precondition, 0, 1)
	if expectedUpdatedAt != nil && !expectedUpdatedAt.IsZero() {
		preconditions = append(preconditions, firestore.LastUpdateTime(expectedUpdatedAt.UTC()))
	} else {
		preconditions = append(preconditions, firestore.Exists)
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("carts.delete", tx.Delete(ref, preconditions...))
	}

	_, err = ref.Delete(ctx, preconditions...)
	return pfirestore.WrapError("carts.delete", err)
}

func encodeCart(cart domain.Cart) cartDocument {
	doc := cartDocument{
		BuyerID:   strings.TrimSpace(cart.BuyerID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, encodeCartItem(item))
	}
	doc.ItemsCount = len(doc.Items)
	return doc
}

func encodeCartItem(item domain.CartItem) cartItemDocument {
	line := cartItemDocument{
		ID:          item.ID,
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		VendorID:    item.VendorID,
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		BasePrice:   item.BasePrice,
		UnitPrice:   item.UnitPrice,
		LineTotal:   item.LineTotal,
		AddedAt:     item.AddedAt.UTC(),
		UpdatedAt:   item.UpdatedAt.UTC(),
	}
	if item.AppliedTier != nil {
		line.AppliedTier = &pricingTierDocument{
			MinQuantity:     item.AppliedTier.MinQuantity,
			DiscountPercent: item.AppliedTier.DiscountPercent,
		}
	}
	return line
}

func decodeCart(buyerID string, doc cartDocument, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:        buyerID,
		BuyerID:   buyerID,
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:     make([]domain.CartItem, 0, len(doc.Items)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: updateTime,
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdatedAt
	}
	for _, line := range doc.Items {
		cart.Items = append(cart.Items, decodeCartItem(line))
	}
	return cart
}

func decodeCartItem(line cartItemDocument) domain.CartItem {
	item := domain.CartItem{
		ID:          line.ID,
		ProductID:   line.ProductID,
		VariantID:   line.VariantID,
		VendorID:    line.VendorID,
		ProductName: line.ProductName,
		Quantity:    line.Quantity,
		BasePrice:   line.BasePrice,
		UnitPrice:   line.UnitPrice,
		LineTotal:   line.LineTotal,
		AddedAt:     line.AddedAt,
		UpdatedAt:   line.UpdatedAt,
	}
	if line.AppliedTier != nil {
		item.AppliedTier = &domain.PricingTier{
			MinQuantity:     line.AppliedTier.MinQuantity,
			DiscountPercent: line.AppliedTier.DiscountPercent,
		}
	}
	return item
}

func cartUpdates(doc cartDocument) []firestore.Update {
	return []firestore.Update{
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "itemsCount", Value: len(doc.Items)},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
}

type cartDocument struct {
	BuyerID    string             `firestore:"buyerId"`
	Currency   string             `firestore:"currency"`
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID          string               `firestore:"id"`
	ProductID   string               `firestore:"productId"`
	VariantID   string               `firestore:"variantId"`
	VendorID    string               `firestore:"vendorId"`
	ProductName string               `firestore:"productName"`
	Quantity    int64                `firestore:"quantity"`
	BasePrice   int64                `firestore:"basePrice"`
	UnitPrice   int64                `firestore:"unitPrice"`
	AppliedTier *pricingTierDocument `firestore:"appliedTier,omitempty"`
	LineTotal   int64                `firestore:"lineTotal"`
	AddedAt     time.Time            `firestore:"addedAt"`
	UpdatedAt   time.Time            `firestore:"updatedAt"`
}

type pricingTierDocument struct {
	MinQuantity     int64   `firestore:"minQuantity"`
	DiscountPercent float64 `firestore:"discountPercent"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// statusConflict builds a precondition failure for callers that detect stale
// state before issuing the write.
func statusConflict(msg string) error {
	return status.Error(codes.FailedPrecondition, msg)
}

func statusNotFound(msg string) error {
	return status.Error(codes.NotFound, msg)
}
