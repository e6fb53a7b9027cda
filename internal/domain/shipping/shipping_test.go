package shipping

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMethodCostFor(t *testing.T) {
	base := decimal.RequireFromString("60.00")

	tests := []struct {
		name      string
		threshold decimal.NullDecimal
		subtotal  string
		want      string
	}{
		{name: "no threshold", subtotal: "5000", want: "60"},
		{name: "below threshold", threshold: decimal.NewNullDecimal(decimal.NewFromInt(1000)), subtotal: "999.99", want: "60"},
		{name: "at threshold", threshold: decimal.NewNullDecimal(decimal.NewFromInt(1000)), subtotal: "1000.00", want: "0"},
		{name: "above threshold", threshold: decimal.NewNullDecimal(decimal.NewFromInt(1000)), subtotal: "1500", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Method{BaseCost: base, FreeShippingThreshold: tt.threshold}
			got := m.CostFor(decimal.RequireFromString(tt.subtotal))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
