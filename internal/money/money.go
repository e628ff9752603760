package money

import "github.com/shopspring/decimal"

// Tolerance is the slack, in cents, under which a balance counts as settled.
const Tolerance int64 = 1

func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FromDecimal converts to cents, rounding half away from zero.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// Format renders cents as a two-decimal amount, e.g. 15000 -> "150.00".
func Format(cents int64) string {
	return ToDecimal(cents).StringFixed(2)
}

// DivRound divides cents by n and rounds half away from zero.
func DivRound(cents int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	return decimal.NewFromInt(cents).DivRound(decimal.NewFromInt(int64(n)), 0).IntPart()
}
