package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog gateway is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartLineNotFound indicates the referenced line does not belong to the buyer's active cart.
var ErrCartLineNotFound = errors.New("cart service: line not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartItemUnavailable indicates the product, variant, or vendor cannot currently be purchased.
var ErrCartItemUnavailable = errors.New("cart service: item unavailable")

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Catalog         CatalogGateway
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo     repositories.CartRepository
	catalog  CatalogGateway
	newID    func() string
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
	locks    buyerLocks
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:     deps.Repository,
		catalog:  deps.Catalog,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		currency: defaultCurrency,
		logger:   logger,
	}
	return service, nil
}

// buyerLocks serializes mutations per buyer. Mutations on one buyer's cart are
// applied strictly one at a time; distinct buyers never contend.
type buyerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (b *buyerLocks) acquire(buyerID string) func() {
	b.mu.Lock()
	if b.locks == nil {
		b.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := b.locks[buyerID]
	if !ok {
		lock = &sync.Mutex{}
		b.locks[buyerID] = lock
	}
	b.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetCart loads the buyer's active cart, returning an empty cart when none
// exists. Reads never create persistent state.
func (s *cartService) GetCart(ctx context.Context, buyerID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return normaliseCart(cart, uid), nil
}

// GetVendorCarts groups the current cart lines by vendor with per-vendor
// subtotals. The projection is read-only and never mutates cart state.
func (s *cartService) GetVendorCarts(ctx context.Context, buyerID string) ([]VendorCart, error) {
	cart, err := s.GetCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]*VendorCart)
	for _, item := range cart.Items {
		group, ok := grouped[item.VendorID]
		if !ok {
			group = &VendorCart{VendorID: item.VendorID}
			grouped[item.VendorID] = group
		}
		group.Items = append(group.Items, item)
		group.Subtotal += item.LineTotal
	}

	vendorIDs := make([]string, 0, len(grouped))
	for vendorID := range grouped {
		vendorIDs = append(vendorIDs, vendorID)
	}
	sort.Strings(vendorIDs)

	result := make([]VendorCart, 0, len(vendorIDs))
	for _, vendorID := range vendorIDs {
		result = append(result, *grouped[vendorID])
	}
	return result, nil
}

// AddItem adds quantity of a product/variant to the buyer's cart. Adding a
// key already present merges quantities and re-resolves the tier for the
// combined quantity, which may change the unit price for the whole line.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error) {
	if s == nil || s.repo == nil {
		return AddCartItemResult{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(cmd.BuyerID)
	productID := strings.TrimSpace(cmd.ProductID)
	variantID := strings.TrimSpace(cmd.VariantID)
	switch {
	case uid == "":
		return AddCartItemResult{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	case productID == "" || variantID == "":
		return AddCartItemResult{}, fmt.Errorf("%w: product and variant ids are required", ErrCartInvalidInput)
	case cmd.Quantity <= 0:
		return AddCartItemResult{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	release := s.locks.acquire(uid)
	defer release()

	cart, exists, err := s.loadCart(ctx, uid)
	if err != nil {
		return AddCartItemResult{}, err
	}

	snapshot, err := s.lookupPurchasable(ctx, productID, variantID)
	if err != nil {
		return AddCartItemResult{}, err
	}

	if len(cart.Items) > 0 && !strings.EqualFold(cart.Currency, snapshot.Currency) {
		return AddCartItemResult{}, fmt.Errorf("%w: cart currency %s does not match item currency %s", ErrCartInvalidInput, cart.Currency, snapshot.Currency)
	}
	if len(cart.Items) == 0 && strings.TrimSpace(snapshot.Currency) != "" {
		cart.Currency = strings.ToUpper(snapshot.Currency)
	}

	now := s.now()
	idx := indexOfCartLine(cart.Items, productID, variantID)
	isNew := idx < 0

	var line CartItem
	if isNew {
		line = CartItem{
			ID:          s.newID(),
			ProductID:   productID,
			VariantID:   variantID,
			VendorID:    snapshot.VendorID,
			ProductName: snapshot.Name,
			Quantity:    cmd.Quantity,
			AddedAt:     now,
		}
	} else {
		line = cart.Items[idx]
		line.Quantity += cmd.Quantity
	}

	line.BasePrice = snapshot.BasePrice
	line.UnitPrice, line.AppliedTier, line.LineTotal = priceSnapshotLine(snapshot, line.Quantity)
	line.UpdatedAt = now

	if isNew {
		cart.Items = append(cart.Items, line)
	} else {
		cart.Items[idx] = line
	}

	saved, err := s.persistCart(ctx, cart, exists)
	if err != nil {
		return AddCartItemResult{}, err
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"buyerId":   uid,
		"productId": productID,
		"variantId": variantID,
		"quantity":  line.Quantity,
		"isNew":     isNew,
	})

	result := AddCartItemResult{Cart: saved, IsNew: isNew}
	if idx := indexOfCartLine(saved.Items, productID, variantID); idx >= 0 {
		result.Item = saved.Items[idx]
	} else {
		result.Item = line
	}
	return result, nil
}

// UpdateItemQuantity replaces the quantity of an existing line and re-resolves
// its tier. Quantity zero removes the line entirely.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(cmd.BuyerID)
	lineID := strings.TrimSpace(cmd.LineID)
	switch {
	case uid == "":
		return Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	case lineID == "":
		return Cart{}, fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	case cmd.Quantity < 0:
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}

	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, uid, lineID)
	}

	release := s.locks.acquire(uid)
	defer release()

	cart, exists, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !exists {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartLineNotFound, lineID)
	}

	idx := indexOfCartLineID(cart.Items, lineID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartLineNotFound, lineID)
	}

	line := cart.Items[idx]
	snapshot, err := s.lookupPurchasable(ctx, line.ProductID, line.VariantID)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	line.Quantity = cmd.Quantity
	line.BasePrice = snapshot.BasePrice
	line.UnitPrice, line.AppliedTier, line.LineTotal = priceSnapshotLine(snapshot, line.Quantity)
	line.UpdatedAt = now

	cart.Items[idx] = line

	saved, err := s.persistCart(ctx, cart, true)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_updated", map[string]any{
		"buyerId":  uid,
		"lineId":   lineID,
		"quantity": cmd.Quantity,
	})
	return saved, nil
}

// RemoveItem removes a line from the cart. Removing an absent line is a
// successful no-op so duplicate client retries stay harmless.
func (s *cartService) RemoveItem(ctx context.Context, buyerID string, lineID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(buyerID)
	trimmedLine := strings.TrimSpace(lineID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}
	if trimmedLine == "" {
		return Cart{}, fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}

	release := s.locks.acquire(uid)
	defer release()

	cart, exists, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !exists {
		return s.emptyCart(uid), nil
	}

	idx := indexOfCartLineID(cart.Items, trimmedLine)
	if idx < 0 {
		return cart, nil
	}

	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	saved, err := s.persistCart(ctx, cart, true)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_removed", map[string]any{
		"buyerId": uid,
		"lineId":  trimmedLine,
	})
	return saved, nil
}

// ClearCart empties the buyer's cart. Clearing an absent cart succeeds.
func (s *cartService) ClearCart(ctx context.Context, buyerID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}

	release := s.locks.acquire(uid)
	defer release()

	cart, exists, err := s.loadCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if !exists {
		return s.emptyCart(uid), nil
	}

	updatedAt := cart.UpdatedAt
	if err := s.repo.DeleteCart(ctx, uid, &updatedAt); err != nil && !isRepoNotFound(err) {
		return Cart{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.cleared", map[string]any{"buyerId": uid})
	return s.emptyCart(uid), nil
}

// loadCart fetches the stored cart, reporting whether it exists.
func (s *cartService) loadCart(ctx context.Context, buyerID string) (Cart, bool, error) {
	cart, err := s.repo.GetCart(ctx, buyerID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.emptyCart(buyerID), false, nil
		}
		return Cart{}, false, s.translateRepoError(err)
	}
	return normaliseCart(cart, buyerID), true, nil
}

// persistCart saves the cart under an update-time precondition derived from
// the stored UpdatedAt captured at load. The keyed lock already serializes
// callers in this process; the precondition catches writers from other
// replicas.
func (s *cartService) persistCart(ctx context.Context, cart Cart, exists bool) (Cart, error) {
	var expected *time.Time
	if exists {
		prev := cart.UpdatedAt
		expected = &prev
	}
	if cart.ID == "" {
		cart.ID = s.newID()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart, expected)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return normaliseCart(saved, cart.BuyerID), nil
}

func (s *cartService) lookupPurchasable(ctx context.Context, productID string, variantID string) (ProductSnapshot, error) {
	snapshot, err := s.catalog.Lookup(ctx, productID, variantID)
	if err != nil {
		if isRepoNotFound(err) {
			return ProductSnapshot{}, fmt.Errorf("%w: %s/%s", ErrCartItemUnavailable, productID, variantID)
		}
		return ProductSnapshot{}, fmt.Errorf("%w: catalog lookup failed: %v", ErrCartUnavailable, err)
	}
	if !snapshot.Available {
		return ProductSnapshot{}, fmt.Errorf("%w: %s/%s is out of stock", ErrCartItemUnavailable, productID, variantID)
	}
	if !snapshot.VendorActive {
		return ProductSnapshot{}, fmt.Errorf("%w: vendor %s is not active", ErrCartItemUnavailable, snapshot.VendorID)
	}
	return snapshot, nil
}

func (s *cartService) emptyCart(buyerID string) Cart {
	return Cart{
		BuyerID:  buyerID,
		Currency: s.currency,
		Items:    []CartItem{},
	}
}

func (s *cartService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrCartConflict, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
}

func normaliseCart(cart Cart, buyerID string) Cart {
	cart.BuyerID = buyerID
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if cart.Items == nil {
		cart.Items = []CartItem{}
	}
	return cart
}

func indexOfCartLine(items []CartItem, productID string, variantID string) int {
	for i, item := range items {
		if item.ProductID == productID && item.VariantID == variantID {
			return i
		}
	}
	return -1
}

func indexOfCartLineID(items []CartItem, lineID string) int {
	for i, item := range items {
		if item.ID == lineID {
			return i
		}
	}
	return -1
}
