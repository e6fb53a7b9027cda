package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	couponColumns = `c.id, c.code, c.discount_type, c.value, c.active, c.starts_at, c.ends_at,
		c.usage_limit, c.used_count, c.min_subtotal`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons c WHERE UPPER(c.code) = UPPER($1)`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons c WHERE c.id = $1`

	incrementCouponUsageSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	releaseCouponUsageSQL = `UPDATE coupons SET used_count = used_count - 1 WHERE id = $1 AND used_count > 0`
)

// FindCouponByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no coupon matches.
func (q *Queries) FindCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, findCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return collectCoupon(rows)
}

// GetCoupon returns a coupon by id.
func (q *Queries) GetCoupon(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, getCouponSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %d: %w", id, err)
	}
	return collectCoupon(rows)
}

// IncrementCouponUsage bumps used_count unless the usage limit is reached.
func (q *Queries) IncrementCouponUsage(ctx context.Context, id int64) (bool, error) {
	tag, err := q.db.Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of coupon %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseCouponUsage gives back one redemption; used_count never drops below zero.
func (q *Queries) ReleaseCouponUsage(ctx context.Context, id int64) error {
	if _, err := q.db.Exec(ctx, releaseCouponUsageSQL, id); err != nil {
		return fmt.Errorf("releasing usage of coupon %d: %w", id, err)
	}
	return nil
}

func collectCoupon(rows pgx.Rows) (*coupon.Coupon, error) {
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("reading coupon: %w", err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(couponDest(&c)...)
	return c, err
}

// couponDest lists scan targets matching couponColumns.
func couponDest(c *coupon.Coupon) []any {
	return []any{
		&c.ID, &c.Code, (*string)(&c.DiscountType), &c.Value, &c.Active, &c.StartsAt, &c.EndsAt,
		&c.UsageLimit, &c.UsedCount, &c.MinSubtotal,
	}
}
