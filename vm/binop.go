package vm

import (
	"fmt"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

// binaryOp applies k to two operands of the same kind. Integer arithmetic
// wraps, shift counts are masked to 0..63 and division by zero faults.
func binaryOp(k bytecode.BinOp, left, right value.Value) (value.Value, error) {
	if left.Kind != right.Kind {
		return value.Value{}, fmt.Errorf("%w: %s %s %s", ErrType, left.Kind, k, right.Kind)
	}
	switch left.Kind {
	case value.KindI64:
		return intOp(k, left.Int, right.Int, value.I64)
	case value.KindU64:
		return intOp(k, left.Uint, right.Uint, value.U64)
	case value.KindUsize:
		return intOp(k, left.Uint, right.Uint, value.Usize)
	case value.KindBool:
		return boolOp(k, left.Bool, right.Bool)
	}
	return value.Value{}, fmt.Errorf("%w: %s on %s", ErrType, k, left.Kind)
}

func intOp[T int64 | uint64](k bytecode.BinOp, l, r T, wrap func(T) value.Value) (value.Value, error) {
	switch k {
	case bytecode.Add:
		return wrap(l + r), nil
	case bytecode.Sub:
		return wrap(l - r), nil
	case bytecode.Mul:
		return wrap(l * r), nil
	case bytecode.Div:
		if r == 0 {
			return value.Value{}, ErrDivideByZero
		}
		return wrap(l / r), nil
	case bytecode.Rem:
		if r == 0 {
			return value.Value{}, ErrDivideByZero
		}
		return wrap(l % r), nil
	case bytecode.BitXor:
		return wrap(l ^ r), nil
	case bytecode.BitAnd:
		return wrap(l & r), nil
	case bytecode.BitOr:
		return wrap(l | r), nil
	case bytecode.Shl:
		return wrap(l << (uint64(r) & 63)), nil
	case bytecode.Shr:
		return wrap(l >> (uint64(r) & 63)), nil
	case bytecode.Eq:
		return value.Bool(l == r), nil
	case bytecode.Ne:
		return value.Bool(l != r), nil
	case bytecode.Lt:
		return value.Bool(l < r), nil
	case bytecode.Le:
		return value.Bool(l <= r), nil
	case bytecode.Gt:
		return value.Bool(l > r), nil
	case bytecode.Ge:
		return value.Bool(l >= r), nil
	}
	return value.Value{}, fmt.Errorf("%w: binary operator %s", ErrUnimplemented, k)
}

// boolOp orders false before true.
func boolOp(k bytecode.BinOp, l, r bool) (value.Value, error) {
	switch k {
	case bytecode.Eq:
		return value.Bool(l == r), nil
	case bytecode.Ne:
		return value.Bool(l != r), nil
	case bytecode.Lt:
		return value.Bool(!l && r), nil
	case bytecode.Le:
		return value.Bool(!l || r), nil
	case bytecode.Gt:
		return value.Bool(l && !r), nil
	case bytecode.Ge:
		return value.Bool(l || !r), nil
	case bytecode.BitAnd:
		return value.Bool(l && r), nil
	case bytecode.BitOr:
		return value.Bool(l || r), nil
	case bytecode.BitXor:
		return value.Bool(l != r), nil
	}
	return value.Value{}, fmt.Errorf("%w: %s on bool", ErrType, k)
}
