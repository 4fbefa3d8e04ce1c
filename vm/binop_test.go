package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

func TestBinaryOp(t *testing.T) {
	tests := []struct {
		name        string
		k           bytecode.BinOp
		left, right value.Value
		want        value.Value
	}{
		{"add wraps", bytecode.Add, value.I64(math.MaxInt64), value.I64(1), value.I64(math.MinInt64)},
		{"sub wraps unsigned", bytecode.Sub, value.Usize(0), value.Usize(1), value.Usize(math.MaxUint64)},
		{"mul", bytecode.Mul, value.U64(6), value.U64(7), value.U64(42)},
		{"div truncates", bytecode.Div, value.I64(-7), value.I64(2), value.I64(-3)},
		{"rem sign", bytecode.Rem, value.I64(-7), value.I64(2), value.I64(-1)},
		{"xor", bytecode.BitXor, value.U64(0b1100), value.U64(0b1010), value.U64(0b0110)},
		{"and", bytecode.BitAnd, value.U64(0b1100), value.U64(0b1010), value.U64(0b1000)},
		{"or", bytecode.BitOr, value.U64(0b1100), value.U64(0b1010), value.U64(0b1110)},
		{"shl masks count", bytecode.Shl, value.U64(1), value.U64(65), value.U64(2)},
		{"shr arithmetic", bytecode.Shr, value.I64(-8), value.I64(1), value.I64(-4)},
		{"shr negative count masked", bytecode.Shr, value.I64(256), value.I64(-60), value.I64(16)},
		{"eq", bytecode.Eq, value.Usize(3), value.Usize(3), value.Bool(true)},
		{"ne", bytecode.Ne, value.Usize(3), value.Usize(3), value.Bool(false)},
		{"lt signed", bytecode.Lt, value.I64(-1), value.I64(0), value.Bool(true)},
		{"le", bytecode.Le, value.U64(2), value.U64(2), value.Bool(true)},
		{"gt", bytecode.Gt, value.U64(1), value.U64(2), value.Bool(false)},
		{"ge", bytecode.Ge, value.Usize(2), value.Usize(2), value.Bool(true)},
		{"bool lt", bytecode.Lt, value.Bool(false), value.Bool(true), value.Bool(true)},
		{"bool ge", bytecode.Ge, value.Bool(false), value.Bool(true), value.Bool(false)},
		{"bool xor", bytecode.BitXor, value.Bool(true), value.Bool(true), value.Bool(false)},
		{"bool or", bytecode.BitOr, value.Bool(false), value.Bool(true), value.Bool(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := binaryOp(tt.k, tt.left, tt.right)
			if err != nil {
				t.Fatalf("binaryOp: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("%s %s %s = %s, want %s", tt.left, tt.k, tt.right, got, tt.want)
			}
		})
	}
}

func TestBinaryOpErrors(t *testing.T) {
	tests := []struct {
		name        string
		k           bytecode.BinOp
		left, right value.Value
		want        error
	}{
		{"div by zero", bytecode.Div, value.U64(1), value.U64(0), ErrDivideByZero},
		{"rem by zero", bytecode.Rem, value.I64(1), value.I64(0), ErrDivideByZero},
		{"mixed", bytecode.Add, value.U64(1), value.Usize(1), ErrType},
		{"bool arithmetic", bytecode.Add, value.Bool(true), value.Bool(true), ErrType},
		{"bool shift", bytecode.Shl, value.Bool(true), value.Bool(false), ErrType},
		{"func operands", bytecode.Eq, value.Func(1), value.Func(1), ErrType},
	}
	for _, tt := range tests {
		if _, err := binaryOp(tt.k, tt.left, tt.right); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}
