// Package numeric holds the arithmetic conventions shared by the pricing,
// matching, and ledger layers.
//
// Two representations are used: currency amounts that gate a balance check
// are carried as int64 micro-units (scale 1e6), while pool reserves and
// share quantities are float64 compared under a fixed epsilon. Conversions
// between the two happen only at well-defined boundaries (order intake and
// ledger commit).
package numeric

import (
	"errors"
	"math"
)

const (
	// UnitScale is the number of micro-units per whole currency unit.
	// Balances and order amounts are stored as int64 multiples of 1/UnitScale.
	UnitScale = 1_000_000

	// Epsilon bounds all float comparisons on share and reserve quantities.
	Epsilon = 1e-9
)

// ErrDivisionByZero is returned by SafeDiv instead of producing Inf or NaN.
var ErrDivisionByZero = errors.New("numeric: division by zero")

// ToUnits converts a currency amount to micro-units, rounding half away
// from zero.
func ToUnits(v float64) int64 {
	return int64(math.Round(v * UnitScale))
}

// FromUnits converts micro-units back to a currency amount.
func FromUnits(u int64) float64 {
	return float64(u) / UnitScale
}

// ApproxEqual reports whether a and b differ by at most eps.
func ApproxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// Equal is ApproxEqual at the package epsilon.
func Equal(a, b float64) bool {
	return ApproxEqual(a, b, Epsilon)
}

// GreaterEqual reports a >= b within epsilon.
func GreaterEqual(a, b float64) bool {
	return b-a <= Epsilon
}

// LesserEqual reports a <= b within epsilon.
func LesserEqual(a, b float64) bool {
	return a-b <= Epsilon
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsFinitePositive reports whether v is finite and strictly positive.
func IsFinitePositive(v float64) bool {
	return IsFinite(v) && v > 0
}

// SafeDiv divides num by den, returning ErrDivisionByZero when den is zero
// and rejecting non-finite results.
func SafeDiv(num, den float64) (float64, error) {
	if den == 0 {
		return 0, ErrDivisionByZero
	}
	q := num / den
	if !IsFinite(q) {
		return 0, ErrDivisionByZero
	}
	return q, nil
}
