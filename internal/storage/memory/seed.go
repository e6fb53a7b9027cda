package memory

import (
	"context"
	"slices"

	"github.com/xenking/kart-checkout/internal/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
)

var (
	_ catalog.Sink        = (*Store)(nil)
	_ catalog.CouponStore = (*Store)(nil)
)

// UpsertVariant inserts or updates a variant keyed by SKU.
func (s *Store) UpsertVariant(_ context.Context, p catalog.Product, v catalog.Variant) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	productID, ok := s.st.products[p.Slug]
	if !ok {
		productID = s.st.id()
		s.st.products[p.Slug] = productID
	}

	row := product.Variant{
		ProductID:      productID,
		SKU:            v.SKU,
		ProductName:    p.Name,
		Name:           v.Name,
		Price:          v.Price,
		SalePrice:      v.SalePrice,
		AllowBackorder: p.AllowBackorder,
		MinOrderQty:    p.MinOrderQty,
		MaxOrderQty:    p.MaxOrderQty,
	}
	for id, existing := range s.st.variants {
		if existing.SKU == v.SKU {
			row.ID = id
			break
		}
	}
	if row.ID == 0 {
		row.ID = s.st.id()
	}
	s.st.variants[row.ID] = row
	return row.ID, nil
}

// UpsertCoupon inserts or replaces a coupon keyed by its normalized code.
// The usage counter of an existing coupon is kept.
func (s *Store) UpsertCoupon(_ context.Context, c catalog.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := coupon.Coupon{
		Code:         coupon.NormalizeCode(c.Code),
		DiscountType: coupon.DiscountType(c.DiscountType),
		Value:        c.Value,
		Active:       !c.Disabled,
		StartsAt:     c.StartsAt,
		EndsAt:       c.EndsAt,
		UsageLimit:   c.UsageLimit,
		MinSubtotal:  c.MinSubtotal,
	}
	for id, existing := range s.st.coupons {
		if existing.Code == row.Code {
			row.ID, row.UsedCount = id, existing.UsedCount
			break
		}
	}
	if row.ID == 0 {
		row.ID = s.st.id()
	}
	s.st.coupons[row.ID] = row
	return nil
}

// UpsertShippingMethod inserts or replaces a method keyed by code.
func (s *Store) UpsertShippingMethod(_ context.Context, m catalog.ShippingMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := shipping.Method{
		Code:                  m.Code,
		Name:                  m.Name,
		BaseCost:              m.BaseCost,
		FreeShippingThreshold: m.FreeShippingThreshold,
		Active:                true,
	}
	for id, existing := range s.st.methods {
		if existing.Code == m.Code {
			row.ID = id
			break
		}
	}
	if row.ID == 0 {
		row.ID = s.st.id()
	}
	s.st.methods[row.ID] = row
	return nil
}

// ListCouponCodes calls fn with every stored code in sorted order.
func (s *Store) ListCouponCodes(ctx context.Context, fn func(code string) error) error {
	var codes []string
	s.read(func(st *state) {
		for _, c := range st.coupons {
			codes = append(codes, c.Code)
		}
	})
	slices.Sort(codes)
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return nil
}

// CouponExists reports whether a coupon with code is stored.
func (s *Store) CouponExists(_ context.Context, code string) (bool, error) {
	code = coupon.NormalizeCode(code)
	var ok bool
	s.read(func(st *state) {
		for _, c := range st.coupons {
			if c.Code == code {
				ok = true
				return
			}
		}
	})
	return ok, nil
}
