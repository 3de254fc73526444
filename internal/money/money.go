// Package money implements a fixed-point decimal type for all prices,
// notionals, and P&L in the trading core. No IEEE-754 float ever represents
// an amount of money: every float that reaches this package through JSON or
// strategy metadata is converted explicitly and loudly, never implicitly.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point decimal wrapping shopspring/decimal. Prices carry at
// least 4 decimal places of precision; notionals and cash at least 2.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// One represents $1.00 / a full contract payout.
var One = Money{d: decimal.NewFromInt(1)}

// New parses a decimal string into Money. Panics on malformed input, since
// every caller in this codebase passes a literal or a pre-validated field.
func New(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: invalid literal %q: %v", s, err))
	}
	return Money{d: d}
}

// NewFromString parses a decimal string, surfacing a typed error instead of
// panicking. Use this at any boundary where the string is untrusted input
// (venue responses, environment variables).
func NewFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// FromCents builds Money from an integer count of cents (e.g. 150 -> $1.50).
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// FromContracts builds Money representing an integer count of contracts,
// i.e. the same integer as a decimal (used where a quantity is compared
// against a Money-typed limit).
func FromContracts(n int64) Money {
	return Money{d: decimal.NewFromInt(n)}
}

// FromLossyFloat constructs Money from a float64. The name is deliberately
// loud: this is the one documented leakage path (signal metadata such as
// true_probability arrives as a JSON number) and every call site is grep-able
// by this name. The round trip through binary floating point is exact only
// up to ~15-17 significant digits — callers must expect values like 0.60 to
// arrive as 0.5999999999999996 and must not "clean up" that noise, since the
// Kelly sizer's behavior on that exact noise is part of the documented
// contract (see SPEC_FULL.md §9).
func FromLossyFloat(f float64) Money {
	return Money{d: decimal.NewFromFloat(f)}
}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }

// Mul returns m * o.
func (m Money) Mul(o Money) Money { return Money{d: m.d.Mul(o.d)} }

// MulInt64 returns m * n.
func (m Money) MulInt64(n int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(n))} }

// Div returns m / o. Panics on division by zero, matching the rest of this
// package's "fail loud on programmer error" stance.
func (m Money) Div(o Money) Money {
	if o.d.IsZero() {
		panic("money: division by zero")
	}
	return Money{d: m.d.Div(o.d)}
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Cmp returns -1, 0, or 1 as m is less than, equal to, or greater than o.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// LessThan reports whether m < o.
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

// LessThanOrEqual reports whether m <= o.
func (m Money) LessThanOrEqual(o Money) bool { return m.d.LessThanOrEqual(o.d) }

// GreaterThan reports whether m > o.
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }

// GreaterThanOrEqual reports whether m >= o.
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }

// Equal reports whether m == o.
func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

// IsZero reports whether m == 0.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// Abs returns the absolute value of m.
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// Min returns the lesser of m and o.
func (m Money) Min(o Money) Money {
	if m.d.LessThan(o.d) {
		return m
	}
	return o
}

// Max returns the greater of m and o.
func (m Money) Max(o Money) Money {
	if m.d.GreaterThan(o.d) {
		return m
	}
	return o
}

// Floor rounds toward negative infinity at 0 decimal places, i.e. an integer
// contract count derived from a notional/price division.
func (m Money) Floor() int64 {
	return m.d.Floor().IntPart()
}

// Ceil rounds toward positive infinity at 0 decimal places.
func (m Money) Ceil() int64 {
	return m.d.Ceil().IntPart()
}

// Clamp restricts m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m.d.LessThan(lo.d) {
		return lo
	}
	if m.d.GreaterThan(hi.d) {
		return hi
	}
	return m
}

// InexactFloat64 returns a float64 approximation of m. Reserved for quoting
// math that genuinely needs a continuous function (e.g. the Kelly sizer's
// b = (1-p)/p); the result must be converted back to Money before it ever
// touches balance, position, or order state.
func (m Money) InexactFloat64() float64 {
	f, _ := m.d.Float64()
	return f
}

// String renders m without rounding, dropping trailing fractional zeros
// (1.50 renders as "1.5"); use StringFixed for a fixed number of places.
func (m Money) String() string { return m.d.String() }

// StringFixed renders m to exactly places decimal places.
func (m Money) StringFixed(places int32) string { return m.d.StringFixed(places) }

// MarshalJSON encodes m as a JSON string to avoid float round-tripping.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.String() + `"`), nil
}

// UnmarshalJSON decodes m from a JSON string or number.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	m.d = d
	return nil
}
