// Package catalog loads seed data (products, variants, opening stock,
// coupons and shipping methods) into a storage driver.
package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// Catalog is the seed document.
type Catalog struct {
	Products        []Product        `json:"products" validate:"dive"`
	Coupons         []Coupon         `json:"coupons" validate:"dive"`
	ShippingMethods []ShippingMethod `json:"shipping_methods" validate:"dive"`
}

// Product groups variants sharing a name and ordering rules.
type Product struct {
	Name           string    `json:"name" validate:"required"`
	Slug           string    `json:"slug" validate:"required"`
	Description    string    `json:"description"`
	AllowBackorder bool      `json:"allow_backorder"`
	MinOrderQty    int       `json:"min_order_qty" validate:"gte=0"`
	MaxOrderQty    int       `json:"max_order_qty" validate:"gte=0"`
	Variants       []Variant `json:"variants" validate:"required,min=1,dive"`
}

// Variant is a sellable SKU with its opening stock.
type Variant struct {
	SKU       string              `json:"sku" validate:"required"`
	Name      string              `json:"name"`
	Price     decimal.Decimal     `json:"price"`
	SalePrice decimal.NullDecimal `json:"sale_price"`
	Stock     int                 `json:"stock" validate:"gte=0"`
}

// Coupon is a discount code definition.
type Coupon struct {
	Code         string          `json:"code" validate:"required,max=64"`
	DiscountType string          `json:"discount_type" validate:"oneof=percent fixed"`
	Value        decimal.Decimal `json:"value"`
	UsageLimit   *int            `json:"usage_limit,omitempty" validate:"omitempty,gte=0"`
	MinSubtotal  decimal.Decimal `json:"min_subtotal"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
	Disabled     bool            `json:"disabled"`
}

// ShippingMethod is a delivery option.
type ShippingMethod struct {
	Code                  string              `json:"code" validate:"required"`
	Name                  string              `json:"name" validate:"required"`
	BaseCost              decimal.Decimal     `json:"base_cost"`
	FreeShippingThreshold decimal.NullDecimal `json:"free_shipping_threshold"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a seed document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field rules and that every amount is non-negative.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "validate catalog")
	}
	for _, p := range c.Products {
		for _, v := range p.Variants {
			if v.Price.IsNegative() || (v.SalePrice.Valid && v.SalePrice.Decimal.IsNegative()) {
				return errors.Errorf("variant %s: negative price", v.SKU)
			}
		}
	}
	for _, cp := range c.Coupons {
		if err := cp.Validate(); err != nil {
			return err
		}
	}
	for _, m := range c.ShippingMethods {
		if m.BaseCost.IsNegative() {
			return errors.Errorf("shipping method %s: negative cost", m.Code)
		}
	}
	return nil
}

// Validate checks a single coupon definition.
func (c *Coupon) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrapf(err, "coupon %s", c.Code)
	}
	if c.Value.IsNegative() || c.MinSubtotal.IsNegative() {
		return errors.Errorf("coupon %s: negative amount", c.Code)
	}
	if coupon.DiscountType(c.DiscountType) == coupon.DiscountPercent && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Errorf("coupon %s: percentage above 100", c.Code)
	}
	return nil
}

// Sink receives catalog rows. Upserts are keyed by SKU and code so loading
// the same document twice is harmless.
type Sink interface {
	UpsertVariant(ctx context.Context, p Product, v Variant) (int64, error)
	UpsertCoupon(ctx context.Context, c Coupon) error
	UpsertShippingMethod(ctx context.Context, m ShippingMethod) error
}

// Load writes c into sink and tops the checkout warehouse stock of each
// variant up to its catalog quantity through ledger, so every seeded unit
// has an opening movement.
func Load(ctx context.Context, sink Sink, ledger *stock.Ledger, c *Catalog) error {
	lg := zctx.From(ctx)

	for _, p := range c.Products {
		for _, v := range p.Variants {
			id, err := sink.UpsertVariant(ctx, p, v)
			if err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.SKU)
			}
			if err := topUp(ctx, ledger, id, v.Stock); err != nil {
				return errors.Wrapf(err, "stock variant %s", v.SKU)
			}
		}
		lg.Info("Loaded product", zap.String("slug", p.Slug), zap.Int("variants", len(p.Variants)))
	}

	for _, cp := range c.Coupons {
		if err := sink.UpsertCoupon(ctx, cp); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", cp.Code)
		}
	}
	for _, m := range c.ShippingMethods {
		if err := sink.UpsertShippingMethod(ctx, m); err != nil {
			return errors.Wrapf(err, "upsert shipping method %s", m.Code)
		}
	}

	lg.Info("Catalog loaded",
		zap.Int("products", len(c.Products)),
		zap.Int("coupons", len(c.Coupons)),
		zap.Int("shipping_methods", len(c.ShippingMethods)),
	)
	return nil
}

func topUp(ctx context.Context, ledger *stock.Ledger, variantID int64, want int) error {
	lvl, err := ledger.Level(ctx, variantID, 0)
	if err != nil {
		return err
	}
	missing := want - lvl.OnHand
	if missing <= 0 {
		return nil
	}
	typ := stock.AdjustIncrease
	if lvl.OnHand == 0 {
		typ = stock.AdjustOpening
	}
	_, err = ledger.Adjust(ctx, stock.Adjustment{
		VariantID: variantID,
		Type:      typ,
		Quantity:  missing,
		Reference: "seed",
	})
	return err
}
