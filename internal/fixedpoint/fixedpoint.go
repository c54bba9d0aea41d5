// Package fixedpoint implements the 18-decimal integer arithmetic shared by
// pricing, liquidity accounting and settlement.
//
// Amounts are unsigned 256-bit integers. Every division in the engine goes
// through MulDiv (floor) or MulDivUp (ceiling) so that the rounding direction
// is chosen explicitly at each call site: amounts the protocol receives round
// up, amounts it pays out round down.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in collateral and token units.
const Decimals = 18

// BasisPoints is the denominator for fee rates.
const BasisPoints = 10_000

var (
	// ErrArithmeticOverflow is returned when a result does not fit 256 bits.
	ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")

	// ErrDivisionByZero is returned when a denominator is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: subtraction underflow")

	// ErrInvalidAmount is returned when a textual amount cannot be parsed
	// into a non-negative integer number of base units.
	ErrInvalidAmount = errors.New("fixedpoint: invalid amount")
)

var one = uint256.NewInt(1_000_000_000_000_000_000)

// One returns 10^18, the base-unit value of one whole token or collateral unit.
func One() *uint256.Int {
	return new(uint256.Int).Set(one)
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// MulDiv computes floor(a*b/denominator) with a 512-bit intermediate product.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// MulDivUp computes ceil(a*b/denominator) with a 512-bit intermediate product.
func MulDivUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		return z, nil
	}
	if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// Add returns a+b or ErrArithmeticOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Mul returns a*b or ErrArithmeticOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Max returns a copy of the larger operand.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Bps returns floor(amount*bps/10000).
func Bps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(bps), uint256.NewInt(BasisPoints))
}

// Percent returns floor(amount*pct/100).
func Percent(amount *uint256.Int, pct uint64) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(pct), uint256.NewInt(100))
}

// ToDecimal converts base units to a human-readable decimal
// (1e18 base units -> 1).
func ToDecimal(a *uint256.Int) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.ToBig(), -Decimals)
}

// FromDecimal converts a human-readable decimal into base units. Values with
// more than 18 fractional digits or below zero are rejected.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, d)
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, d, Decimals)
	}
	z, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// ParseUnits parses a human-readable amount such as "0.1" into base units.
func ParseUnits(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// Parse parses a base-unit integer string such as "100000000000000000".
func Parse(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return z, nil
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(s string) *uint256.Int {
	z, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return z
}
