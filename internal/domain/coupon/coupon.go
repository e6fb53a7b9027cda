package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercent takes Value percent off the subtotal.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes a fixed amount off, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercent || t == DiscountFixed
}

var (
	// ErrInvalidCoupon is returned when a coupon code is not found. It is
	// also the only reason surfaced to clients for any validity failure.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrInactive is returned by Check for disabled coupons.
	ErrInactive = errors.New("coupon inactive")
	// ErrNotStarted is returned by Check before the activity window opens.
	ErrNotStarted = errors.New("coupon not yet active")
	// ErrExpired is returned by Check after the activity window closes.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when a coupon has exhausted its
	// allowed redemptions, either at validation or at the conditional
	// usage increment.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrBelowMinimum is returned when the subtotal is below MinSubtotal.
	ErrBelowMinimum = errors.New("subtotal below coupon minimum")
)

// Coupon is a global discount code.
type Coupon struct {
	ID           int64
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	Active       bool
	StartsAt     *time.Time
	EndsAt       *time.Time
	// UsageLimit is nil for unlimited coupons.
	UsageLimit  *int
	UsedCount   int
	MinSubtotal decimal.Decimal
}

// NormalizeCode canonicalises a user-supplied code for storage and
// case-insensitive comparison.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides lookup and usage accounting of coupons. Implementations
// are bound to a transaction.
type Repository interface {
	// FindCouponByCode performs a case-insensitive exact match on code.
	// Returns ErrInvalidCoupon when no coupon matches.
	FindCouponByCode(ctx context.Context, code string) (*Coupon, error)
	// GetCoupon returns a coupon by id or ErrInvalidCoupon.
	GetCoupon(ctx context.Context, id int64) (*Coupon, error)
	// IncrementCouponUsage bumps used_count by one with a single conditional
	// update that respects usage_limit. It reports false when the limit was
	// already reached.
	IncrementCouponUsage(ctx context.Context, id int64) (bool, error)
	// ReleaseCouponUsage decrements used_count unless it is already zero.
	ReleaseCouponUsage(ctx context.Context, id int64) error
}
