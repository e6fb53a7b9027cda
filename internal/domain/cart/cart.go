// Package cart implements the shopping cart aggregate: one cart per owner,
// line items keyed by variant, an optional applied coupon, and the merge of
// a guest cart into a user cart on login.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/owner"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/money"
)

var (
	// ErrNotFound is returned when the owner has no cart.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when an item id does not belong to the cart.
	ErrItemNotFound = errors.New("cart item not found")
)

// InvalidQuantityError indicates a line quantity below one or outside the
// product's order bounds.
type InvalidQuantityError struct {
	SKU      string
	Quantity int
	Min      int
	Max      int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for %s must be between %d and %d", e.Quantity, e.SKU, e.Min, e.Max)
}

// Cart is the container of an owner's items.
type Cart struct {
	ID        int64
	Owner     owner.Owner
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a cart line with its variant loaded.
type Item struct {
	ID        int64
	CartID    int64
	VariantID int64
	Quantity  int
	Variant   product.Variant
	CreatedAt time.Time
}

// UnitPrice is the variant's effective price at now, quantized.
func (i *Item) UnitPrice(now time.Time) decimal.Decimal {
	return money.Quantize(i.Variant.EffectivePrice(now))
}

// LineTotal is UnitPrice times Quantity, quantized.
func (i *Item) LineTotal(now time.Time) decimal.Decimal {
	return money.LineTotal(i.UnitPrice(now), i.Quantity)
}

// Subtotal sums the line totals of items and quantizes the result.
func Subtotal(items []Item, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range items {
		total = total.Add(items[i].LineTotal(now))
	}
	return money.Quantize(total)
}

// TotalQuantity sums item quantities.
func TotalQuantity(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// ValidateQuantity checks qty against the product's order bounds and, when
// backorders are disallowed, against the live stock of the variant.
func ValidateQuantity(v *product.Variant, qty int) error {
	minQty, maxQty := v.OrderBounds()
	if qty < 1 || qty < minQty || qty > maxQty {
		return &InvalidQuantityError{SKU: v.SKU, Quantity: qty, Min: minQty, Max: maxQty}
	}
	if !v.AllowBackorder && qty > v.Stock {
		return &stock.InsufficientError{SKU: v.SKU, Requested: qty, Available: max(v.Stock, 0)}
	}
	return nil
}

// Line is one row of a Summary.
type Line struct {
	ItemID    int64
	VariantID int64
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Summary is the priced view of a cart. Shipping and tax are zero until
// checkout selects a shipping method.
type Summary struct {
	CartID        int64
	Owner         owner.Owner
	Items         []Line
	TotalQuantity int
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Shipping      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	CouponCode    string
}

// Repository is the storage contract of the cart aggregate. Implementations
// are bound to a transaction.
type Repository interface {
	// FindCart returns the owner's cart and locks its row for the rest of
	// the transaction, or ErrNotFound.
	FindCart(ctx context.Context, o owner.Owner) (*Cart, error)
	// GetOrCreateCart returns the owner's cart, creating it if needed. It
	// relies on the per-owner unique index, so concurrent callers observe
	// the same row. The row is locked like FindCart.
	GetOrCreateCart(ctx context.Context, o owner.Owner) (*Cart, error)
	// DeleteCart removes the container together with its items and coupon.
	DeleteCart(ctx context.Context, cartID int64) error

	// ListCartItems returns items ordered by id with variants loaded.
	ListCartItems(ctx context.Context, cartID int64) ([]Item, error)
	// InsertCartItem adds a new line and returns it with ID set.
	InsertCartItem(ctx context.Context, cartID, variantID int64, qty int) (*Item, error)
	// SetCartItemQuantity overwrites the quantity of a line.
	SetCartItemQuantity(ctx context.Context, itemID int64, qty int) error
	// DeleteCartItem removes a line and reports whether it existed.
	DeleteCartItem(ctx context.Context, cartID, itemID int64) (bool, error)
	// ClearCartItems removes every line, keeping the container.
	ClearCartItems(ctx context.Context, cartID int64) error

	// GetCartCoupon returns the applied coupon or nil when none.
	GetCartCoupon(ctx context.Context, cartID int64) (*coupon.Coupon, error)
	// SetCartCoupon attaches couponID, replacing any previous coupon.
	SetCartCoupon(ctx context.Context, cartID, couponID int64) error
	// DeleteCartCoupon detaches the coupon and reports whether one existed.
	DeleteCartCoupon(ctx context.Context, cartID int64) (bool, error)
}

// Tx is everything a cart transaction touches.
type Tx interface {
	Repository
	product.Repository
	coupon.Repository
}

// Store runs fn inside one transaction; an error returned by fn rolls it back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
