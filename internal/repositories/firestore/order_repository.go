package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/YetiPanda/jade-ecosystem-sub014/internal/domain"
	pfirestore "github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/firestore"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/platform/pagination"
	"github.com/YetiPanda/jade-ecosystem-sub014/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order aggregates. Vendor splits live inside the
// order document; the vendorIds and vendorStatus arrays are denormalised so
// vendor-facing queries stay single-index array-contains lookups.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document. Inside a unit of work the create joins
// the ambient transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}

	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID loads one order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByBuyer pages the buyer's order history, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	buyerID := strings.TrimSpace(filter.BuyerID)
	if buyerID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: buyer id is required")
	}

	build := func(query firestore.Query) firestore.Query {
		query = query.Where("buyerId", "==", buyerID)
		if filter.DateRange.From != nil {
			query = query.Where("placedAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("placedAt", "<=", filter.DateRange.To.UTC())
		}
		return query
	}
	return r.page(ctx, build, filter.Pagination)
}

// ListByVendor pages orders containing a split for the vendor, optionally
// narrowed to specific fulfillment statuses.
func (r *OrderRepository) ListByVendor(ctx context.Context, filter repositories.VendorOrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	vendorID := strings.TrimSpace(filter.VendorID)
	if vendorID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: vendor id is required")
	}

	build := func(query firestore.Query) firestore.Query {
		if len(filter.Status) == 0 {
			return query.Where("vendorIds", "array-contains", vendorID)
		}
		keys := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			keys = append(keys, vendorStatusKey(vendorID, status))
		}
		return query.Where("vendorStatus", "array-contains-any", keys)
	}
	return r.page(ctx, build, filter.Pagination)
}

// UpdateSplit replaces one vendor split inside the order document within a
// transaction, guarded by the split version.
func (r *OrderRepository) UpdateSplit(ctx context.Context, orderID string, split domain.VendorOrderSplit, expectedVersion int64) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	vendorID := strings.TrimSpace(split.VendorID)
	if vendorID == "" {
		return domain.Order{}, errors.New("order repository: vendor id is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", id, err)
		}

		replaced := false
		for i, stored := range doc.VendorOrders {
			if stored.VendorID != vendorID {
				continue
			}
			if stored.Version != expectedVersion {
				return statusConflict(fmt.Sprintf("split %s on order %s is at version %d, expected %d", vendorID, id, stored.Version, expectedVersion))
			}
			doc.VendorOrders[i] = encodeSplit(split)
			replaced = true
			break
		}
		if !replaced {
			return statusNotFound(fmt.Sprintf("split %s on order %s", vendorID, id))
		}

		doc.VendorStatus = vendorStatusKeys(doc.VendorOrders)
		doc.UpdatedAt = split.UpdatedAt.UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = decodeOrder(id, doc)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update_split", err)
	}
	return updated, nil
}

// page runs the filtered query ordered newest first and cuts one page,
// returning an opaque continuation token when more results exist.
func (r *OrderRepository) page(ctx context.Context, build pfirestore.QueryBuilder, p domain.Pagination) (domain.CursorPage[domain.Order], error) {
	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	cursor, err := pagination.DecodeToken(p.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = build(query)
		query = query.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if after, ok := cursorStart(cursor); ok {
			query = query.StartAfter(after...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}

	if len(docs) > pageSize {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.PlacedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// cursorStart rehydrates the StartAfter values; the placedAt element round
// trips through the JSON token as an RFC3339 string.
func cursorStart(cursor pagination.Cursor) ([]any, bool) {
	if len(cursor.StartAfter) != 2 {
		return nil, false
	}
	raw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return nil, false
	}
	placedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, false
	}
	return []any{placedAt, cursor.StartAfter[1]}, true
}

func vendorStatusKey(vendorID string, status domain.FulfillmentStatus) string {
	return vendorID + "|" + string(status)
}

func vendorStatusKeys(splits []vendorSplitDocument) []string {
	keys := make([]string, 0, len(splits))
	for _, split := range splits {
		keys = append(keys, split.VendorID+"|"+split.Status)
	}
	return keys
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		ShippingAddress: encodeAddress(order.ShippingAddress),
		BillingAddress:  encodeAddress(order.BillingAddress),
		Totals: orderTotalsDocument{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Discount: order.Totals.Discount,
			Total:    order.Totals.Total,
		},
		Lines:           make([]orderLineDocument, 0, len(order.Lines)),
		VendorOrders:    make([]vendorSplitDocument, 0, len(order.VendorOrders)),
		VendorIDs:       make([]string, 0, len(order.VendorOrders)),
		PaymentIntentID: order.PaymentIntentID,
		Notes:           order.Notes,
		PlacedAt:        order.PlacedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, encodeOrderLine(line))
	}
	for _, split := range order.VendorOrders {
		doc.VendorOrders = append(doc.VendorOrders, encodeSplit(split))
		doc.VendorIDs = append(doc.VendorIDs, split.VendorID)
	}
	doc.VendorStatus = vendorStatusKeys(doc.VendorOrders)
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		BuyerID:         doc.BuyerID,
		Currency:        doc.Currency,
		ShippingAddress: decodeAddress(doc.ShippingAddress),
		BillingAddress:  decodeAddress(doc.BillingAddress),
		Totals: domain.OrderTotals{
			Subtotal: doc.Totals.Subtotal,
			Shipping: doc.Totals.Shipping,
			Tax:      doc.Totals.Tax,
			Discount: doc.Totals.Discount,
			Total:    doc.Totals.Total,
		},
		Lines:           make([]domain.OrderLine, 0, len(doc.Lines)),
		VendorOrders:    make([]domain.VendorOrderSplit, 0, len(doc.VendorOrders)),
		PaymentIntentID: doc.PaymentIntentID,
		Notes:           doc.Notes,
		PlacedAt:        doc.PlacedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, decodeOrderLine(line))
	}
	for _, split := range doc.VendorOrders {
		order.VendorOrders = append(order.VendorOrders, decodeSplit(split))
	}
	return order
}

func encodeOrderLine(line domain.OrderLine) orderLineDocument {
	doc := orderLineDocument{
		ID:          line.ID,
		ProductID:   line.ProductID,
		VariantID:   line.VariantID,
		VendorID:    line.VendorID,
		ProductName: line.ProductName,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		LineTotal:   line.LineTotal,
	}
	if line.AppliedTier != nil {
		doc.AppliedTier = &pricingTierDocument{
			MinQuantity:     line.AppliedTier.MinQuantity,
			DiscountPercent: line.AppliedTier.DiscountPercent,
		}
	}
	return doc
}

func decodeOrderLine(doc orderLineDocument) domain.OrderLine {
	line := domain.OrderLine{
		ID:          doc.ID,
		ProductID:   doc.ProductID,
		VariantID:   doc.VariantID,
		VendorID:    doc.VendorID,
		ProductName: doc.ProductName,
		Quantity:    doc.Quantity,
		UnitPrice:   doc.UnitPrice,
		LineTotal:   doc.LineTotal,
	}
	if doc.AppliedTier != nil {
		line.AppliedTier = &domain.PricingTier{
			MinQuantity:     doc.AppliedTier.MinQuantity,
			DiscountPercent: doc.AppliedTier.DiscountPercent,
		}
	}
	return line
}

func encodeSplit(split domain.VendorOrderSplit) vendorSplitDocument {
	doc := vendorSplitDocument{
		VendorID:       split.VendorID,
		LineIDs:        append([]string(nil), split.LineIDs...),
		Subtotal:       split.Subtotal,
		ShippingCost:   split.ShippingCost,
		VendorTotal:    split.VendorTotal,
		Status:         string(split.Status),
		TrackingNumber: split.TrackingNumber,
		Version:        split.Version,
		UpdatedAt:      split.UpdatedAt.UTC(),
	}
	if split.EstimatedDelivery != nil {
		est := split.EstimatedDelivery.UTC()
		doc.EstimatedDelivery = &est
	}
	if split.ShippedAt != nil {
		shipped := split.ShippedAt.UTC()
		doc.ShippedAt = &shipped
	}
	return doc
}

func decodeSplit(doc vendorSplitDocument) domain.VendorOrderSplit {
	split := domain.VendorOrderSplit{
		VendorID:       doc.VendorID,
		LineIDs:        append([]string(nil), doc.LineIDs...),
		Subtotal:       doc.Subtotal,
		ShippingCost:   doc.ShippingCost,
		VendorTotal:    doc.VendorTotal,
		Status:         domain.FulfillmentStatus(doc.Status),
		TrackingNumber: doc.TrackingNumber,
		Version:        doc.Version,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.EstimatedDelivery != nil {
		est := *doc.EstimatedDelivery
		split.EstimatedDelivery = &est
	}
	if doc.ShippedAt != nil {
		shipped := *doc.ShippedAt
		split.ShippedAt = &shipped
	}
	return split
}

func encodeAddress(addr domain.Address) addressDocument {
	doc := addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
	if addr.Line2 != nil {
		doc.Line2 = strings.TrimSpace(*addr.Line2)
	}
	if addr.State != nil {
		doc.State = strings.TrimSpace(*addr.State)
	}
	if addr.Phone != nil {
		doc.Phone = strings.TrimSpace(*addr.Phone)
	}
	return doc
}

func decodeAddress(doc addressDocument) domain.Address {
	addr := domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		City:       doc.City,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
	if doc.Line2 != "" {
		line2 := doc.Line2
		addr.Line2 = &line2
	}
	if doc.State != "" {
		state := doc.State
		addr.State = &state
	}
	if doc.Phone != "" {
		phone := doc.Phone
		addr.Phone = &phone
	}
	return addr
}

type orderDocument struct {
	OrderNumber     string                `firestore:"orderNumber"`
	BuyerID         string                `firestore:"buyerId"`
	Currency        string                `firestore:"currency"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	BillingAddress  addressDocument       `firestore:"billingAddress"`
	Totals          orderTotalsDocument   `firestore:"totals"`
	Lines           []orderLineDocument   `firestore:"lines"`
	VendorOrders    []vendorSplitDocument `firestore:"vendorOrders"`
	VendorIDs       []string              `firestore:"vendorIds"`
	VendorStatus    []string              `firestore:"vendorStatus"`
	PaymentIntentID string                `firestore:"paymentIntentId"`
	Notes           string                `firestore:"notes,omitempty"`
	PlacedAt        time.Time             `firestore:"placedAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type orderLineDocument struct {
	ID          string               `firestore:"id"`
	ProductID   string               `firestore:"productId"`
	VariantID   string               `firestore:"variantId"`
	VendorID    string               `firestore:"vendorId"`
	ProductName string               `firestore:"productName"`
	Quantity    int64                `firestore:"quantity"`
	UnitPrice   int64                `firestore:"unitPrice"`
	AppliedTier *pricingTierDocument `firestore:"appliedTier,omitempty"`
	LineTotal   int64                `firestore:"lineTotal"`
}

type vendorSplitDocument struct {
	VendorID          string     `firestore:"vendorId"`
	LineIDs           []string   `firestore:"lineIds"`
	Subtotal          int64      `firestore:"subtotal"`
	ShippingCost      int64      `firestore:"shippingCost"`
	VendorTotal       int64      `firestore:"vendorTotal"`
	Status            string     `firestore:"status"`
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	ShippedAt         *time.Time `firestore:"shippedAt,omitempty"`
	Version           int64      `firestore:"version"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
