package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	upsertProductSQL = `INSERT INTO products (name, slug, description, allow_backorder, min_order_qty, max_order_qty)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
			allow_backorder = EXCLUDED.allow_backorder,
			min_order_qty = EXCLUDED.min_order_qty, max_order_qty = EXCLUDED.max_order_qty
		RETURNING id`

	upsertVariantSQL = `INSERT INTO product_variants (product_id, sku, name, price, sale_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sku) DO UPDATE
		SET product_id = EXCLUDED.product_id, name = EXCLUDED.name,
			price = EXCLUDED.price, sale_price = EXCLUDED.sale_price
		RETURNING id`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, active, starts_at, ends_at, usage_limit, min_subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ((UPPER(code))) DO UPDATE
		SET discount_type = EXCLUDED.discount_type, value = EXCLUDED.value, active = EXCLUDED.active,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
			usage_limit = EXCLUDED.usage_limit, min_subtotal = EXCLUDED.min_subtotal`

	upsertShippingMethodSQL = `INSERT INTO shipping_methods (code, name, base_cost, free_shipping_threshold)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, base_cost = EXCLUDED.base_cost,
			free_shipping_threshold = EXCLUDED.free_shipping_threshold, active = TRUE`

	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons ORDER BY id`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`
)

var (
	_ catalog.Sink        = (*Seeder)(nil)
	_ catalog.CouponStore = (*Seeder)(nil)
)

// Seeder writes catalog rows. Each call is its own statement; upserts make
// reruns idempotent.
type Seeder struct {
	db DBTX
}

// NewSeeder returns a Seeder over db.
func NewSeeder(db DBTX) *Seeder {
	return &Seeder{db: db}
}

// UpsertVariant upserts the product by slug and the variant by SKU.
func (s *Seeder) UpsertVariant(ctx context.Context, p catalog.Product, v catalog.Variant) (int64, error) {
	minQty, maxQty := p.MinOrderQty, p.MaxOrderQty
	if minQty <= 0 {
		minQty = product.DefaultMinOrderQty
	}
	if maxQty <= 0 {
		maxQty = max(product.DefaultMaxOrderQty, minQty)
	}

	var productID int64
	err := s.db.QueryRow(ctx, upsertProductSQL,
		p.Name, p.Slug, p.Description, p.AllowBackorder, minQty, maxQty,
	).Scan(&productID)
	if err != nil {
		return 0, fmt.Errorf("upserting product %q: %w", p.Slug, err)
	}

	var id int64
	if err := s.db.QueryRow(ctx, upsertVariantSQL, productID, v.SKU, v.Name, v.Price, v.SalePrice).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting variant %q: %w", v.SKU, err)
	}
	return id, nil
}

// UpsertCoupon upserts a coupon by case-insensitive code, keeping its
// usage counter.
func (s *Seeder) UpsertCoupon(ctx context.Context, c catalog.Coupon) error {
	_, err := s.db.Exec(ctx, upsertCouponSQL,
		coupon.NormalizeCode(c.Code), c.DiscountType, c.Value, !c.Disabled,
		c.StartsAt, c.EndsAt, c.UsageLimit, c.MinSubtotal,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// UpsertShippingMethod upserts a shipping method by code.
func (s *Seeder) UpsertShippingMethod(ctx context.Context, m catalog.ShippingMethod) error {
	_, err := s.db.Exec(ctx, upsertShippingMethodSQL, m.Code, m.Name, m.BaseCost, m.FreeShippingThreshold)
	if err != nil {
		return fmt.Errorf("upserting shipping method %q: %w", m.Code, err)
	}
	return nil
}

// ListCouponCodes streams every stored code.
func (s *Seeder) ListCouponCodes(ctx context.Context, fn func(code string) error) error {
	rows, err := s.db.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error { return fn(code) })
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// CouponExists reports whether a coupon with code is stored.
func (s *Seeder) CouponExists(ctx context.Context, code string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, couponExistsSQL, code).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", code, err)
	}
	return ok, nil
}
