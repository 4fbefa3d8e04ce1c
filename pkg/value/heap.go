package value

import (
	"errors"
	"fmt"
)

// ErrShape is returned when a stack value does not have the shape an
// operation requires, e.g. dereferencing a non-pointer.
var ErrShape = errors.New("value shape mismatch")

// CellID addresses a cell in a Heap. IDs are stable for the heap's
// lifetime and never reused.
type CellID uint32

// Heap is an arena of mutable cells. Locals, record fields and pointer
// targets all live here; holders keep CellIDs, so aliasing is expressed
// by sharing an ID.
type Heap struct {
	cells []Value
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{cells: make([]Value, 0, 64)}
}

// Alloc creates a new cell holding v.
func (h *Heap) Alloc(v Value) CellID {
	h.cells = append(h.cells, v)
	return CellID(len(h.cells) - 1)
}

// Load returns the current contents of a cell.
// Panics if the id was not allocated by this heap.
func (h *Heap) Load(id CellID) Value {
	return h.cells[id]
}

// Store overwrites the contents of a cell.
func (h *Heap) Store(id CellID, v Value) {
	h.cells[id] = v
}

// Len returns the number of allocated cells.
func (h *Heap) Len() int {
	return len(h.cells)
}

// Contains reports whether id was allocated by this heap.
func (h *Heap) Contains(id CellID) bool {
	return int(id) < len(h.cells)
}

// NewStruct allocates a record of size cells, each holding Unit.
func (h *Heap) NewStruct(size int) Value {
	fields := make([]CellID, size)
	for i := range fields {
		fields[i] = h.Alloc(Unit())
	}
	return Value{Kind: KindStruct, Fields: fields}
}

// Field returns the cell backing field idx of a record.
func (h *Heap) Field(s Value, idx int) (CellID, error) {
	if s.Kind != KindStruct {
		return 0, fmt.Errorf("%w: expected struct, got %s", ErrShape, s.Kind)
	}
	if idx < 0 || idx >= len(s.Fields) {
		return 0, fmt.Errorf("%w: field %d out of range for record of %d", ErrShape, idx, len(s.Fields))
	}
	return s.Fields[idx], nil
}

// SetField writes v into field idx of a record.
func (h *Heap) SetField(s Value, idx int, v Value) error {
	id, err := h.Field(s, idx)
	if err != nil {
		return err
	}
	h.Store(id, v)
	return nil
}

// Equal compares two values structurally, following records and pointers
// into the cells they name. Value.Equal stops at cell identity instead.
// Cyclic structures compare equal when every path through them does.
func (h *Heap) Equal(a, b Value) bool {
	return h.equal(a, b, make(map[[2]CellID]bool))
}

func (h *Heap) equal(a, b Value, seen map[[2]CellID]bool) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindStruct:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if !h.cellsEqual(a.Fields[i], b.Fields[i], seen) {
				return false
			}
		}
		return true
	case KindPtr:
		return h.cellsEqual(a.Cell, b.Cell, seen)
	}
	return a.Equal(b)
}

func (h *Heap) cellsEqual(x, y CellID, seen map[[2]CellID]bool) bool {
	if x == y {
		return true
	}
	if !h.Contains(x) || !h.Contains(y) {
		return false
	}
	pair := [2]CellID{x, y}
	if seen[pair] {
		return true
	}
	seen[pair] = true
	return h.equal(h.Load(x), h.Load(y), seen)
}

// Materialize collapses a place into an owned copy of its current
// contents. Owned values are returned unchanged.
func (h *Heap) Materialize(sv StackValue) StackValue {
	if !sv.ref {
		return sv
	}
	return Owned(h.Load(sv.cell))
}

// PromoteToCell wraps an owned value in a fresh cell. Places are returned
// unchanged, so promoting a reference keeps its aliasing.
func (h *Heap) PromoteToCell(sv StackValue) StackValue {
	if sv.ref {
		return sv
	}
	return Ref(h.Alloc(sv.val))
}

// TakeAddress converts a place into a pointer value. Owned values have no
// address and must be promoted first.
func (h *Heap) TakeAddress(sv StackValue) (StackValue, error) {
	if !sv.ref {
		return StackValue{}, fmt.Errorf("%w: cannot take the address of owned %s", ErrShape, sv.val.Kind)
	}
	return Owned(Ptr(sv.cell)), nil
}

// Deref converts a pointer value back into the place it addresses.
func (h *Heap) Deref(sv StackValue) (StackValue, error) {
	v := h.Materialize(sv).val
	if v.Kind != KindPtr {
		return StackValue{}, fmt.Errorf("%w: expected ptr, got %s", ErrShape, v.Kind)
	}
	if !h.Contains(v.Cell) {
		return StackValue{}, fmt.Errorf("%w: dangling pointer to cell%d", ErrShape, v.Cell)
	}
	return Ref(v.Cell), nil
}
