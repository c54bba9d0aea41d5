package fixedpoint

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestMulDiv_Floors(t *testing.T) {
	tests := []struct {
		a, b, d, want uint64
	}{
		{10, 10, 3, 33},
		{7, 1, 2, 3},
		{0, 5, 7, 0},
		{6, 4, 8, 3},
	}
	for _, tt := range tests {
		got, err := MulDiv(u(tt.a), u(tt.b), u(tt.d))
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d): unexpected error %v", tt.a, tt.b, tt.d, err)
		}
		if got.Uint64() != tt.want {
			t.Errorf("MulDiv(%d,%d,%d) = %d, want %d", tt.a, tt.b, tt.d, got.Uint64(), tt.want)
		}
	}
}

func TestMulDivUp_Ceils(t *testing.T) {
	tests := []struct {
		a, b, d, want uint64
	}{
		{10, 10, 3, 34},
		{7, 1, 2, 4},
		{6, 4, 8, 3}, // exact division is not bumped
		{0, 5, 7, 0},
	}
	for _, tt := range tests {
		got, err := MulDivUp(u(tt.a), u(tt.b), u(tt.d))
		if err != nil {
			t.Fatalf("MulDivUp(%d,%d,%d): unexpected error %v", tt.a, tt.b, tt.d, err)
		}
		if got.Uint64() != tt.want {
			t.Errorf("MulDivUp(%d,%d,%d) = %d, want %d", tt.a, tt.b, tt.d, got.Uint64(), tt.want)
		}
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	if _, err := MulDiv(u(1), u(1), u(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDivUp(u(1), u(1), u(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// max * max / max does not fit an intermediate 256-bit product but the
	// quotient does.
	max := new(uint256.Int).SetAllOne()
	got, err := MulDiv(max, max, max)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(max) {
		t.Errorf("expected max, got %s", got.Dec())
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := MulDiv(max, u(2), u(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
	if _, err := MulDivUp(max, u(1), u(1)); err != nil {
		t.Errorf("exact max quotient should not overflow, got %v", err)
	}
}

func TestAddSubMul(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, u(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	if _, err := Sub(u(1), u(2)); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
	if _, err := Mul(max, u(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	got, err := Sub(u(10), u(4))
	if err != nil || got.Uint64() != 6 {
		t.Errorf("Sub(10,4) = %v, %v", got, err)
	}
}

func TestSqrt(t *testing.T) {
	tests := []struct{ x, want uint64 }{
		{0, 0},
		{1, 1},
		{15, 3},
		{16, 4},
		{1_000_000, 1000},
	}
	for _, tt := range tests {
		if got := Sqrt(u(tt.x)); got.Uint64() != tt.want {
			t.Errorf("Sqrt(%d) = %d, want %d", tt.x, got.Uint64(), tt.want)
		}
	}
}

func TestBps(t *testing.T) {
	got, err := Bps(u(10_000), 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 250 {
		t.Errorf("expected 250, got %d", got.Uint64())
	}
	got, _ = Bps(u(39), 250)
	if got.Uint64() != 0 {
		t.Errorf("fee on 39 units should floor to 0, got %d", got.Uint64())
	}
}

func TestDecimalConversion(t *testing.T) {
	amt, err := ParseUnits("0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amt.Dec() != "100000000000000000" {
		t.Errorf("0.1 should be 1e17 base units, got %s", amt.Dec())
	}
	if !ToDecimal(amt).Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("round trip failed: %s", ToDecimal(amt))
	}

	if _, err := ParseUnits("-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := ParseUnits("0.0000000000000000001"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for 19 decimals, got %v", err)
	}
	if _, err := Parse("12abc"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if got, _ := Parse("1000"); got.Uint64() != 1000 {
		t.Errorf("Parse(1000) = %d", got.Uint64())
	}
}
