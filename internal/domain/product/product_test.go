package product

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestVariantEffectivePrice(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)
	sale := decimal.NewNullDecimal(decimal.RequireFromString("80.00"))

	tests := []struct {
		name    string
		variant Variant
		want    string
	}{
		{
			name:    "no sale price",
			variant: Variant{Price: decimal.RequireFromString("100.00")},
			want:    "100",
		},
		{
			name:    "unbounded sale",
			variant: Variant{Price: decimal.RequireFromString("100.00"), SalePrice: sale},
			want:    "80",
		},
		{
			name:    "inside window",
			variant: Variant{Price: decimal.RequireFromString("100.00"), SalePrice: sale, SaleStartsAt: &before, SaleEndsAt: &after},
			want:    "80",
		},
		{
			name:    "not started",
			variant: Variant{Price: decimal.RequireFromString("100.00"), SalePrice: sale, SaleStartsAt: &after},
			want:    "100",
		},
		{
			name:    "ended",
			variant: Variant{Price: decimal.RequireFromString("100.00"), SalePrice: sale, SaleEndsAt: &before},
			want:    "100",
		},
		{
			name:    "sale not lower than price",
			variant: Variant{Price: decimal.RequireFromString("70.00"), SalePrice: sale},
			want:    "70",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.variant.EffectivePrice(now)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestVariantOrderBounds(t *testing.T) {
	v := Variant{}
	minQty, maxQty := v.OrderBounds()
	assert.Equal(t, DefaultMinOrderQty, minQty)
	assert.Equal(t, DefaultMaxOrderQty, maxQty)

	v = Variant{MinOrderQty: 2, MaxOrderQty: 5}
	minQty, maxQty = v.OrderBounds()
	assert.Equal(t, 2, minQty)
	assert.Equal(t, 5, maxQty)
}

func TestVariantDisplayName(t *testing.T) {
	assert.Equal(t, "Shirt", (&Variant{ProductName: "Shirt"}).DisplayName())
	assert.Equal(t, "Shirt - XL", (&Variant{ProductName: "Shirt", Name: "XL"}).DisplayName())
}
