package state

import (
	"fmt"

	zmath "zyura/internal/math"
)

// Product is a coverage template policies are purchased against.
type Product struct {
	ProductID           uint64
	FlightRoute         string // e.g. "SGN-HAN", informational
	DelayThresholdMin   int64  // minutes of delay that trigger payout
	CoverageAmount      int64  // base units paid out on trigger
	PremiumRateBps      int64  // premium as basis points of coverage
	ClaimWindowHours    int64  // how long after departure a payout may land
	Active              bool
	PoliciesSold        int64
	CreatedAtTimestamp  int64
	UpdatedAtTimestamp  int64
}

// RequiredPremium computes the premium for this product's coverage at its
// basis-point rate, rounding down.
func (p *Product) RequiredPremium() int64 {
	return zmath.MulBps(p.CoverageAmount, p.PremiumRateBps)
}

// ValidateProductParams rejects parameter combinations no product may carry.
func ValidateProductParams(delayThresholdMin, coverageAmount, premiumRateBps, claimWindowHours int64) error {
	if delayThresholdMin <= 0 {
		return fmt.Errorf("delay threshold must be positive, got %d", delayThresholdMin)
	}
	if coverageAmount <= 0 {
		return fmt.Errorf("coverage amount must be positive, got %d", coverageAmount)
	}
	if !zmath.ValidBpsRate(premiumRateBps) {
		return fmt.Errorf("premium rate must be in (0, %d) bps, got %d", zmath.BpsDenominator, premiumRateBps)
	}
	if claimWindowHours <= 0 {
		return fmt.Errorf("claim window must be positive, got %d hours", claimWindowHours)
	}
	return nil
}

// ClaimWindowSeconds converts the product's claim window for timestamp
// arithmetic.
func (p *Product) ClaimWindowSeconds() int64 {
	return p.ClaimWindowHours * 3600
}

// Catalog holds all coverage products. Single-writer, no locking.
type Catalog struct {
	products map[uint64]*Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[uint64]*Product)}
}

func (c *Catalog) Get(productID uint64) (*Product, bool) {
	p, ok := c.products[productID]
	return p, ok
}

func (c *Catalog) Exists(productID uint64) bool {
	_, ok := c.products[productID]
	return ok
}

// Create registers a new product. Callers must have validated params and
// checked for duplicates.
func (c *Catalog) Create(p *Product) {
	c.products[p.ProductID] = p
}

func (c *Catalog) Remove(productID uint64) {
	delete(c.products, productID)
}

// All returns every product in unspecified order, for snapshots and queries.
func (c *Catalog) All() []*Product {
	out := make([]*Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	return out
}

func (c *Catalog) Count() int {
	return len(c.products)
}
