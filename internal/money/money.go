// Package money holds the fixed-point helpers every monetary computation
// goes through. Amounts are shopspring decimals, never floats.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits stored for every amount.
const Places = 2

// Hundred is used by percentage computations.
var Hundred = decimal.NewFromInt(100)

// Quantize rounds d to exactly two fractional digits using banker's rounding
// (round half to even). The same rule is applied to cart display values and
// order totals so the two never diverge by a cent.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(Places)
}

// Sum adds amounts and quantizes the result.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Quantize(total)
}

// LineTotal returns quantize(unit * qty).
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return Quantize(unit.Mul(decimal.NewFromInt(int64(qty))))
}

// Format renders a quantized amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return Quantize(d).StringFixed(Places)
}

// Parse parses a decimal string and quantizes it. Negative amounts are
// rejected.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("amount %q is negative", s)
	}
	return Quantize(d), nil
}
