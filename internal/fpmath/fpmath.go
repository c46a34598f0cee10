// Package fpmath wraps decimal arithmetic with the truncation semantics the
// clearing core settles at: every product and quotient is cut to 18 fractional
// digits toward zero, matching integer fixed-point math so that settlement
// amounts are reproducible bit for bit across nodes.
package fpmath

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits carried by all monetary values.
const Scale = 18

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

// Mul returns a*b truncated to Scale fractional digits toward zero.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}

// Div returns a/b truncated to Scale fractional digits toward zero.
// Division by zero panics, as with decimal.Decimal.Div.
func Div(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, Scale)
	return q
}

// Abs returns |a|.
func Abs(a decimal.Decimal) decimal.Decimal {
	return a.Abs()
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// SameSign reports whether a and b are both positive or both negative.
// Zero never shares a sign.
func SameSign(a, b decimal.Decimal) bool {
	return a.Sign()*b.Sign() == 1
}

// MustParse parses a decimal literal and panics on malformed input. Intended
// for constants and test fixtures.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
