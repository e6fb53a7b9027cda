// Package shipping describes the shipping methods offered at checkout.
package shipping

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for unknown or inactive shipping methods.
var ErrNotFound = errors.New("shipping method not found")

// Method is a selectable shipping option.
type Method struct {
	ID                    int64
	Code                  string
	Name                  string
	BaseCost              decimal.Decimal
	FreeShippingThreshold decimal.NullDecimal
	Active                bool
}

// CostFor returns the shipping charge for an order with the given final
// subtotal: zero once the free-shipping threshold is met, else the base cost.
func (m *Method) CostFor(subtotal decimal.Decimal) decimal.Decimal {
	if m.FreeShippingThreshold.Valid && subtotal.GreaterThanOrEqual(m.FreeShippingThreshold.Decimal) {
		return decimal.Zero
	}
	return m.BaseCost
}

// Repository reads shipping methods.
type Repository interface {
	// GetShippingMethod returns an active method or ErrNotFound.
	GetShippingMethod(ctx context.Context, id int64) (*Method, error)
}
