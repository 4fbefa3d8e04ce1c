// Package value implements the runtime object model of the grass engine:
// tagged values, the cell heap that backs locals and record fields, and
// the operand-stack entries that distinguish owned values from places.
package value

import (
	"fmt"
	"strings"
)

// Kind is the type of a value at runtime.
type Kind uint8

const (
	KindUnit   Kind = iota // placeholder held by fresh cells
	KindI64                // signed 64-bit integer
	KindU64                // unsigned 64-bit integer
	KindUsize              // pointer-sized unsigned integer (64 bits)
	KindBool               // boolean
	KindFunc               // index into the program's function table
	KindStruct             // aggregate record of cells
	KindPtr                // address of a cell
	KindStatic             // deferred constant, resolved through the program
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindI64:
		return "i64"
	case KindU64:
		return "u64"
	case KindUsize:
		return "usize"
	case KindBool:
		return "bool"
	case KindFunc:
		return "func"
	case KindStruct:
		return "struct"
	case KindPtr:
		return "ptr"
	case KindStatic:
		return "static"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a tagged runtime value. Only the fields that belong to Kind
// are meaningful. Values are never mutated in place; writes go through
// cells in a Heap.
type Value struct {
	Kind   Kind     `cbor:"1,keyasint"`
	Int    int64    `cbor:"2,keyasint,omitempty"` // KindI64
	Uint   uint64   `cbor:"3,keyasint,omitempty"` // KindU64, KindUsize, KindFunc, KindStatic
	Bool   bool     `cbor:"4,keyasint,omitempty"` // KindBool
	Cell   CellID   `cbor:"5,keyasint,omitempty"` // KindPtr
	Fields []CellID `cbor:"6,keyasint,omitempty"` // KindStruct
}

// Helpers

func Unit() Value {
	return Value{Kind: KindUnit}
}

func I64(v int64) Value {
	return Value{Kind: KindI64, Int: v}
}

func U64(v uint64) Value {
	return Value{Kind: KindU64, Uint: v}
}

func Usize(v uint64) Value {
	return Value{Kind: KindUsize, Uint: v}
}

func Bool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

// Func references function idx of the program.
func Func(idx int) Value {
	return Value{Kind: KindFunc, Uint: uint64(idx)}
}

// Static references the constant defined by function idx of the program.
func Static(idx int) Value {
	return Value{Kind: KindStatic, Uint: uint64(idx)}
}

// Ptr is the address of a cell.
func Ptr(id CellID) Value {
	return Value{Kind: KindPtr, Cell: id}
}

// Index returns the function index carried by a Func or Static value.
func (v Value) Index() int {
	return int(v.Uint)
}

// IsPrimitive reports whether v names no heap cells and can therefore be
// embedded in bytecode as a constant.
func (v Value) IsPrimitive() bool {
	return v.Kind != KindStruct && v.Kind != KindPtr
}

// Equal compares two values without a heap. Scalars compare by content;
// records and pointers compare by cell identity, so two aliases of the
// same record are equal and two records with equal contents are not. Use
// Heap.Equal to compare contents.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindUnit:
		return true
	case KindI64:
		return v.Int == o.Int
	case KindU64, KindUsize, KindFunc, KindStatic:
		return v.Uint == o.Uint
	case KindBool:
		return v.Bool == o.Bool
	case KindPtr:
		return v.Cell == o.Cell
	case KindStruct:
		if len(v.Fields) != len(o.Fields) {
			return false
		}
		for i := range v.Fields {
			if v.Fields[i] != o.Fields[i] {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindUnit:
		return "()"
	case KindI64:
		return fmt.Sprintf("%di64", v.Int)
	case KindU64:
		return fmt.Sprintf("%du64", v.Uint)
	case KindUsize:
		return fmt.Sprintf("%dusize", v.Uint)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindFunc:
		return fmt.Sprintf("fn#%d", v.Uint)
	case KindStatic:
		return fmt.Sprintf("static#%d", v.Uint)
	case KindPtr:
		return fmt.Sprintf("&cell%d", v.Cell)
	case KindStruct:
		var b strings.Builder
		b.WriteByte('(')
		for i, id := range v.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "cell%d", id)
		}
		b.WriteByte(')')
		return b.String()
	default:
		return "<invalid>"
	}
}
