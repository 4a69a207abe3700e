package discount

import "github.com/shopspring/decimal"

// Line is a priced cart line resolved against the catalog.
type Line struct {
	ItemID     string
	ProductID  string
	CategoryID string
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Subtotal returns UnitPrice * Quantity without rounding.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal sums the line subtotals.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// MatchingLines returns the lines inside the discount scope, in cart order.
func MatchingLines(d *Discount, lines []Line) []Line {
	if d.Scope == ScopeAllProducts {
		return lines
	}
	var out []Line
	for _, l := range lines {
		if d.Targets(l) {
			out = append(out, l)
		}
	}
	return out
}
