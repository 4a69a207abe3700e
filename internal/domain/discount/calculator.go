package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculator computes discount amounts in a currency with the given number
// of minor-unit decimal places (0 for VND or JPY, 2 for USD or EUR).
type Calculator struct {
	places int32
}

// NewCalculator returns a Calculator rounding to places decimal places.
func NewCalculator(places int32) *Calculator {
	return &Calculator{places: places}
}

// ComputeAmount returns the reduction d grants on lines. Only lines inside the
// discount scope contribute. The amount is clamped to the maximum discount
// and to the matching-lines subtotal, then rounded half away from zero once.
func (c *Calculator) ComputeAmount(d *Discount, lines []Line) (decimal.Decimal, error) {
	base := Subtotal(MatchingLines(d, lines))

	var amount decimal.Decimal
	switch d.Type {
	case TypePercentage:
		if !d.PercentageValue.Valid {
			return decimal.Zero, errors.Errorf("discount %q has no percentage value", d.Code)
		}
		amount = base.Mul(d.PercentageValue.Decimal).Div(hundred)
		if d.MaximumDiscountAmount.Valid {
			amount = decimal.Min(amount, d.MaximumDiscountAmount.Decimal)
		}
	case TypeFixedAmount:
		if !d.FixedValue.Valid {
			return decimal.Zero, errors.Errorf("discount %q has no fixed value", d.Code)
		}
		amount = d.FixedValue.Decimal
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type %q", d.Type)
	}

	amount = decimal.Min(amount, base).Round(c.places)
	if amount.GreaterThan(base) {
		// Only when base itself has more decimals than the currency.
		amount = base.RoundFloor(c.places)
	}
	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	return amount, nil
}
