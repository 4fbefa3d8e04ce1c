package value

import "fmt"

// StackValue is an operand-stack entry: either an owned Value or a
// reference to a cell (a place). Reads through a place always observe the
// latest write to the cell.
type StackValue struct {
	ref  bool
	val  Value
	cell CellID
}

// Owned wraps v as an owned stack value.
func Owned(v Value) StackValue {
	return StackValue{val: v}
}

// Ref makes a stack value that refers to cell id.
func Ref(id CellID) StackValue {
	return StackValue{ref: true, cell: id}
}

// IsRef reports whether sv is a place.
func (sv StackValue) IsRef() bool {
	return sv.ref
}

// Value returns the owned value. Fails for places, which must be
// materialized first.
func (sv StackValue) Value() (Value, error) {
	if sv.ref {
		return Value{}, fmt.Errorf("%w: expected owned value, got reference to cell%d", ErrShape, sv.cell)
	}
	return sv.val, nil
}

// Cell returns the referenced cell. Fails for owned values.
func (sv StackValue) Cell() (CellID, error) {
	if !sv.ref {
		return 0, fmt.Errorf("%w: expected reference, got owned %s", ErrShape, sv.val.Kind)
	}
	return sv.cell, nil
}

func (sv StackValue) String() string {
	if sv.ref {
		return fmt.Sprintf("ref(cell%d)", sv.cell)
	}
	return sv.val.String()
}
