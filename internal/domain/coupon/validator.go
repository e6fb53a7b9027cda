package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/money"
)

// Check returns nil when the coupon can be applied to subtotal at now, or
// the first failing reason. Callers exposing the result to clients should
// collapse every reason into ErrInvalidCoupon.
func (c *Coupon) Check(subtotal decimal.Decimal, now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrNotStarted
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if money.Quantize(subtotal).LessThan(money.Quantize(c.MinSubtotal)) {
		return ErrBelowMinimum
	}
	return nil
}

// IsValid reports whether Check passes.
func (c *Coupon) IsValid(subtotal decimal.Decimal, now time.Time) bool {
	return c.Check(subtotal, now) == nil
}

// Apply returns the discount for subtotal. Invalid coupons yield zero; the
// result is quantized, never negative, and never exceeds the subtotal.
func (c *Coupon) Apply(subtotal decimal.Decimal, now time.Time) decimal.Decimal {
	if !c.IsValid(subtotal, now) {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercent:
		amount = money.Quantize(subtotal.Mul(c.Value).Div(money.Hundred))
	case DiscountFixed:
		amount = money.Quantize(c.Value)
	default:
		return decimal.Zero
	}

	amount = decimal.Min(amount, money.Quantize(subtotal))
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// ApplyRedeemed is Apply for a coupon already attached to an order whose
// redemption was counted: the usage limit is not checked again.
func (c *Coupon) ApplyRedeemed(subtotal decimal.Decimal, now time.Time) decimal.Decimal {
	redeemed := *c
	redeemed.UsageLimit = nil
	return redeemed.Apply(subtotal, now)
}

// Lookup finds the coupon for code and checks it against subtotal. A missing
// or invalid coupon is a soft failure: it returns (nil, false, nil) so
// callers can present a generic rejection. Only storage failures are
// returned as errors.
func Lookup(ctx context.Context, repo Repository, code string, subtotal decimal.Decimal, now time.Time) (*Coupon, bool, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, false, nil
	}

	c, err := repo.FindCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "lookup coupon")
	}
	if !c.IsValid(subtotal, now) {
		return c, false, nil
	}
	return c, true, nil
}
