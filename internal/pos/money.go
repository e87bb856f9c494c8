package pos

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// BalanceTolerance is the largest gap between sale total and payments that
// still counts as balanced.
var BalanceTolerance = decimal.RequireFromString("0.01")

// WithinTolerance reports whether |a-b| <= BalanceTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(BalanceTolerance)
}

// Sum adds the values together.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
