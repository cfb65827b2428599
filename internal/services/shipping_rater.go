package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlatRateShippingRaterDeps configures the table-driven shipping rater.
type FlatRateShippingRaterDeps struct {
	// VendorRates maps vendor id to a flat shipment cost in minor units.
	VendorRates map[string]int64
	// DefaultRate applies to vendors without an explicit entry.
	DefaultRate int64
	CacheTTL    time.Duration
	Clock       func() time.Time
}

// flatRateShippingRater quotes a flat per-vendor shipment cost. Quotes are
// cached per vendor and destination since rates only change on redeploy.
type flatRateShippingRater struct {
	rates       map[string]int64
	defaultRate int64
	cache       *rateQuoteCache
}

// NewFlatRateShippingRater constructs a ShippingRater over a static rate table.
func NewFlatRateShippingRater(deps FlatRateShippingRaterDeps) (ShippingRater, error) {
	if deps.DefaultRate < 0 {
		return nil, errors.New("shipping rater: default rate must not be negative")
	}
	for vendorID, rate := range deps.VendorRates {
		if rate < 0 {
			return nil, fmt.Errorf("shipping rater: rate for vendor %s must not be negative", vendorID)
		}
	}

	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	rates := make(map[string]int64, len(deps.VendorRates))
	for vendorID, rate := range deps.VendorRates {
		rates[strings.TrimSpace(vendorID)] = rate
	}

	return &flatRateShippingRater{
		rates:       rates,
		defaultRate: deps.DefaultRate,
		cache:       newRateQuoteCache(ttl, clock),
	}, nil
}

// Rate returns the shipment cost for one vendor shipment to the destination.
func (r *flatRateShippingRater) Rate(ctx context.Context, vendorID string, destination Address) (int64, error) {
	if r == nil {
		return 0, errors.New("shipping rater: not initialised")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	vid := strings.TrimSpace(vendorID)
	if vid == "" {
		return 0, errors.New("shipping rater: vendor id is required")
	}

	key := rateCacheKey(vid, destination)
	if cost, ok := r.cache.Get(key); ok {
		return cost, nil
	}

	cost, ok := r.rates[vid]
	if !ok {
		cost = r.defaultRate
	}
	r.cache.Put(key, cost)
	return cost, nil
}

type rateQuoteCache struct {
	ttl time.Duration
	now func() time.Time
	mu  sync.RWMutex
	m   map[string]rateCacheEntry
}

type rateCacheEntry struct {
	cost    int64
	expires time.Time
}

func newRateQuoteCache(ttl time.Duration, now func() time.Time) *rateQuoteCache {
	return &rateQuoteCache{
		ttl: ttl,
		now: now,
		m:   make(map[string]rateCacheEntry),
	}
}

func (c *rateQuoteCache) Get(key string) (int64, bool) {
	c.mu.RLock()
	entry, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.now().After(entry.expires) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return 0, false
	}
	return entry.cost, true
}

func (c *rateQuoteCache) Put(key string, cost int64) {
	c.mu.Lock()
	c.m[key] = rateCacheEntry{cost: cost, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func rateCacheKey(vendorID string, addr Address) string {
	state := ""
	if addr.State != nil {
		state = *addr.State
	}
	return strings.Join([]string{
		vendorID,
		strings.ToUpper(strings.TrimSpace(addr.Country)),
		strings.ToUpper(strings.TrimSpace(addr.PostalCode)),
		strings.ToUpper(strings.TrimSpace(state)),
	}, "|")
}
