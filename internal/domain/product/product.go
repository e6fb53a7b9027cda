package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested variant does not exist.
var ErrNotFound = errors.New("product variant not found")

// Order quantity bounds applied when a product leaves them unset.
const (
	DefaultMinOrderQty = 1
	DefaultMaxOrderQty = 100
)

// Variant is a purchasable SKU of a product together with the product-level
// ordering policy. Stock is the available quantity (on hand minus reserved)
// at the checkout warehouse; it is filled by the storage layer on read.
type Variant struct {
	ID             int64
	ProductID      int64
	SKU            string
	ProductName    string
	Name           string
	Price          decimal.Decimal
	SalePrice      decimal.NullDecimal
	SaleStartsAt   *time.Time
	SaleEndsAt     *time.Time
	AllowBackorder bool
	MinOrderQty    int
	MaxOrderQty    int
	Stock          int
}

// OnSale reports whether the sale price applies at now: it must be set, be
// lower than the list price, and now must lie inside the optional window.
func (v *Variant) OnSale(now time.Time) bool {
	if !v.SalePrice.Valid || !v.SalePrice.Decimal.LessThan(v.Price) {
		return false
	}
	if v.SaleStartsAt != nil && now.Before(*v.SaleStartsAt) {
		return false
	}
	if v.SaleEndsAt != nil && now.After(*v.SaleEndsAt) {
		return false
	}
	return true
}

// EffectivePrice returns the sale price when OnSale, else the list price.
func (v *Variant) EffectivePrice(now time.Time) decimal.Decimal {
	if v.OnSale(now) {
		return v.SalePrice.Decimal
	}
	return v.Price
}

// OrderBounds returns the minimum and maximum quantity a single cart line
// may hold, falling back to the package defaults.
func (v *Variant) OrderBounds() (minQty, maxQty int) {
	minQty, maxQty = v.MinOrderQty, v.MaxOrderQty
	if minQty <= 0 {
		minQty = DefaultMinOrderQty
	}
	if maxQty <= 0 {
		maxQty = DefaultMaxOrderQty
	}
	return minQty, maxQty
}

// DisplayName is "<product> - <variant>" or just the product name.
func (v *Variant) DisplayName() string {
	if v.Name == "" {
		return v.ProductName
	}
	return v.ProductName + " - " + v.Name
}

// Repository reads variants. Implementations are bound to a transaction.
type Repository interface {
	// GetVariant returns a single variant or ErrNotFound.
	GetVariant(ctx context.Context, id int64) (*Variant, error)
	// LockVariants acquires exclusive row locks on the given variants in
	// ascending id order and returns them in that order. Unknown ids are
	// omitted from the result.
	LockVariants(ctx context.Context, ids []int64) ([]Variant, error)
}
