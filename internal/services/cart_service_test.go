package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

// fakeRepoError satisfies repositories.RepositoryError for fault injection.
type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

func repoNotFound(msg string) error    { return &fakeRepoError{msg: msg, notFound: true} }
func repoConflict(msg string) error    { return &fakeRepoError{msg: msg, conflict: true} }
func repoUnavailable(msg string) error { return &fakeRepoError{msg: msg, unavailable: true} }

// memCartRepository is an in-memory CartRepository honoring update-time preconditions.
type memCartRepository struct {
	mu        sync.Mutex
	carts     map[string]domain.Cart
	getErr    error
	upsertErr error
	deleteErr error
	deletes   int
}

func newMemCartRepository() *memCartRepository {
	return &memCartRepository{carts: make(map[string]domain.Cart)}
}

func (r *memCartRepository) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.Cart{}, r.getErr
	}
	cart, ok := r.carts[buyerID]
	if !ok {
		return domain.Cart{}, repoNotFound("cart not found")
	}
	return cart, nil
}

func (r *memCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return domain.Cart{}, r.upsertErr
	}
	stored, exists := r.carts[cart.BuyerID]
	if expected == nil && exists {
		return domain.Cart{}, repoConflict("cart already exists")
	}
	if expected != nil {
		if !exists {
			return domain.Cart{}, repoNotFound("cart not found")
		}
		if !stored.UpdatedAt.Equal(*expected) {
			return domain.Cart{}, repoConflict("cart updated concurrently")
		}
	}
	r.carts[cart.BuyerID] = cart
	return cart, nil
}

func (r *memCartRepository) DeleteCart(ctx context.Context, buyerID string, expected *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	stored, exists := r.carts[buyerID]
	if !exists {
		return repoNotFound("cart not found")
	}
	if expected != nil && !stored.UpdatedAt.Equal(*expected) {
		return repoConflict("cart updated concurrently")
	}
	delete(r.carts, buyerID)
	r.deletes++
	return nil
}

// stubCatalog resolves product snapshots from a static table.
type stubCatalog struct {
	mu        sync.Mutex
	snapshots map[string]domain.ProductSnapshot
	err       error
}

func catalogKey(productID, variantID string) string { return productID + "|" + variantID }

func newStubCatalog(snapshots ...domain.ProductSnapshot) *stubCatalog {
	c := &stubCatalog{snapshots: make(map[string]domain.ProductSnapshot)}
	for _, s := range snapshots {
		c.snapshots[catalogKey(s.ProductID, s.VariantID)] = s
	}
	return c
}

func (c *stubCatalog) put(s domain.ProductSnapshot) {
	c.mu.Lock()
	c.snapshots[catalogKey(s.ProductID, s.VariantID)] = s
	c.mu.Unlock()
}

func (c *stubCatalog) Lookup(ctx context.Context, productID, variantID string) (domain.ProductSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return domain.ProductSnapshot{}, c.err
	}
	s, ok := c.snapshots[catalogKey(productID, variantID)]
	if !ok {
		return domain.ProductSnapshot{}, repoNotFound("product not found")
	}
	return s, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func testSnapshot(productID, variantID, vendorID string, basePrice int64, tiers ...domain.PricingTier) domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ProductID:    productID,
		VariantID:    variantID,
		VendorID:     vendorID,
		Name:         "Lavender Bath Soak",
		BasePrice:    basePrice,
		Currency:     "USD",
		Tiers:        tiers,
		Available:    true,
		VendorActive: true,
	}
}

func newTestCartService(t *testing.T, repo repositories.CartRepository, catalog CatalogGateway) CartService {
	t.Helper()
	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Repository:      repo,
		Catalog:         catalog,
		Clock:           fixedClock,
		DefaultCurrency: "USD",
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		},
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceAddItemMergesQuantitiesAndRetiers(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000, domain.PricingTier{MinQuantity: 5, DiscountPercent: 10}))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	first, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 2})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if !first.IsNew {
		t.Fatalf("expected first add to create a new line")
	}
	if first.Item.UnitPrice != 2000 || first.Item.AppliedTier != nil {
		t.Fatalf("expected untiered unit price 2000, got %d (tier %v)", first.Item.UnitPrice, first.Item.AppliedTier)
	}

	second, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 3})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if second.IsNew {
		t.Fatalf("expected merge, not a new line")
	}
	if len(second.Cart.Items) != 1 {
		t.Fatalf("expected one merged line, got %d", len(second.Cart.Items))
	}
	item := second.Cart.Items[0]
	if item.Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", item.Quantity)
	}
	if item.AppliedTier == nil || item.AppliedTier.MinQuantity != 5 {
		t.Fatalf("expected tier for quantity 5 applied, got %v", item.AppliedTier)
	}
	if item.UnitPrice != 1800 || item.LineTotal != 9000 {
		t.Fatalf("expected unit 1800 line total 9000, got %d / %d", item.UnitPrice, item.LineTotal)
	}
}

func TestCartServiceAddItemRejectsNonPositiveQuantity(t *testing.T) {
	svc := newTestCartService(t, newMemCartRepository(), newStubCatalog())

	for _, qty := range []int64{0, -3} {
		_, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: qty})
		if !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("quantity %d: expected ErrCartInvalidInput, got %v", qty, err)
		}
	}
}

func TestCartServiceAddItemUnavailableProduct(t *testing.T) {
	catalog := newStubCatalog()
	snapshot := testSnapshot("p1", "v1", "vendor-a", 2000)
	snapshot.Available = false
	catalog.put(snapshot)
	svc := newTestCartService(t, newMemCartRepository(), catalog)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1})
	if !errors.Is(err, ErrCartItemUnavailable) {
		t.Fatalf("expected ErrCartItemUnavailable, got %v", err)
	}

	_, err = svc.AddItem(context.Background(), AddCartItemCommand{BuyerID: "buyer-1", ProductID: "missing", VariantID: "v1", Quantity: 1})
	if !errors.Is(err, ErrCartItemUnavailable) {
		t.Fatalf("expected ErrCartItemUnavailable for unknown product, got %v", err)
	}
}

func TestCartServiceUpdateQuantityZeroRemovesLine(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	added, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{BuyerID: "buyer-1", LineID: added.Item.ID, Quantity: 0})
	if err != nil {
		t.Fatalf("update to zero: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(cart.Items))
	}
}

func TestCartServiceUpdateQuantityReresolvesTier(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000, domain.PricingTier{MinQuantity: 10, DiscountPercent: 20}))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	added, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{BuyerID: "buyer-1", LineID: added.Item.ID, Quantity: 10})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	item := cart.Items[0]
	if item.AppliedTier == nil || item.AppliedTier.MinQuantity != 10 {
		t.Fatalf("expected tier 10 applied, got %v", item.AppliedTier)
	}
	if item.UnitPrice != 1600 || item.LineTotal != 16000 {
		t.Fatalf("expected unit 1600 line total 16000, got %d / %d", item.UnitPrice, item.LineTotal)
	}
}

func TestCartServiceUpdateUnknownLine(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{BuyerID: "buyer-1", LineID: "nope", Quantity: 2})
	if !errors.Is(err, ErrCartLineNotFound) {
		t.Fatalf("expected ErrCartLineNotFound, got %v", err)
	}
}

func TestCartServiceRemoveItemIsIdempotent(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	added, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Removing a line that never existed succeeds and leaves the cart alone.
	cart, err := svc.RemoveItem(ctx, "buyer-1", "ghost-line")
	if err != nil {
		t.Fatalf("remove missing line: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected cart unchanged, got %d lines", len(cart.Items))
	}

	if _, err := svc.RemoveItem(ctx, "buyer-1", added.Item.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	cart, err = svc.RemoveItem(ctx, "buyer-1", added.Item.ID)
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(cart.Items))
	}

	// Clearing twice is also a no-op success.
	if _, err := svc.ClearCart(ctx, "buyer-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := svc.ClearCart(ctx, "buyer-1"); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestCartServiceVendorCartsGroupsBySortedVendor(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(
		testSnapshot("p1", "v1", "vendor-b", 3000),
		testSnapshot("p2", "v1", "vendor-a", 1000),
		testSnapshot("p3", "v1", "vendor-a", 500),
	)
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	for _, add := range []AddCartItemCommand{
		{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1},
		{BuyerID: "buyer-1", ProductID: "p2", VariantID: "v1", Quantity: 2},
		{BuyerID: "buyer-1", ProductID: "p3", VariantID: "v1", Quantity: 4},
	} {
		if _, err := svc.AddItem(ctx, add); err != nil {
			t.Fatalf("add %s: %v", add.ProductID, err)
		}
	}

	groups, err := svc.GetVendorCarts(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("vendor carts: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected two vendor groups, got %d", len(groups))
	}
	if groups[0].VendorID != "vendor-a" || groups[1].VendorID != "vendor-b" {
		t.Fatalf("expected vendor-id sorted groups, got %s, %s", groups[0].VendorID, groups[1].VendorID)
	}
	if groups[0].Subtotal != 4000 {
		t.Fatalf("expected vendor-a subtotal 4000, got %d", groups[0].Subtotal)
	}
	if groups[1].Subtotal != 3000 {
		t.Fatalf("expected vendor-b subtotal 3000, got %d", groups[1].Subtotal)
	}
}

func TestCartServiceSerializesMutationsPerBuyer(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent add: %v", err)
	}

	cart, err := svc.GetCart(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != workers {
		t.Fatalf("expected quantity %d, got %d", workers, cart.Items[0].Quantity)
	}
}

func TestCartServiceTranslatesRepositoryConflict(t *testing.T) {
	repo := newMemCartRepository()
	catalog := newStubCatalog(testSnapshot("p1", "v1", "vendor-a", 2000))
	svc := newTestCartService(t, repo, catalog)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1}); err != nil {
		t.Fatalf("seed add: %v", err)
	}

	repo.upsertErr = repoConflict("stale write")
	_, err := svc.AddItem(ctx, AddCartItemCommand{BuyerID: "buyer-1", ProductID: "p1", VariantID: "v1", Quantity: 1})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}
