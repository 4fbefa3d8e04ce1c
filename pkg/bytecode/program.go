package bytecode

import (
	"errors"
	"fmt"
)

// ErrInvalidProgram is returned by Validate for malformed programs.
var ErrInvalidProgram = errors.New("invalid program")

// Function is one entry of a program's function table.
type Function struct {
	Name       string `cbor:"1,keyasint,omitempty"`
	Params     int    `cbor:"2,keyasint"` // arguments popped by OpCall
	Locals     int    `cbor:"3,keyasint"` // frame size, >= Params
	MergePoint int    `cbor:"4,keyasint"` // opcode index hint for the loop header
	Code       []Op   `cbor:"5,keyasint"`
}

// NewFunction builds a function from the (locals, merge point, code)
// triple supplied by a bytecode producer. Every local is a parameter.
func NewFunction(locals, mergePoint int, code []Op) *Function {
	return &Function{
		Params:     locals,
		Locals:     locals,
		MergePoint: mergePoint,
		Code:       code,
	}
}

// NewConstant builds the single-opcode function that a KindStatic value
// resolves through.
func NewConstant(op Op) *Function {
	return &Function{Code: []Op{op}}
}

// Program is an ordered table of functions.
type Program struct {
	Functions []*Function `cbor:"1,keyasint"`
}

// NewProgram creates a program from the given functions.
func NewProgram(fns ...*Function) *Program {
	return &Program{Functions: fns}
}

// Function returns function idx, or nil if out of range.
func (p *Program) Function(idx int) *Function {
	if idx < 0 || idx >= len(p.Functions) {
		return nil
	}
	return p.Functions[idx]
}

// At returns the opcode at ip.
func (p *Program) At(ip IP) (Op, bool) {
	fn := p.Function(ip.Func)
	if fn == nil || ip.PC < 0 || ip.PC >= len(fn.Code) {
		return Op{}, false
	}
	return fn.Code[ip.PC], true
}

// Validate checks the structural invariants the interpreter relies on:
// jump targets inside their function, local slots inside the frame,
// static references to existing functions and primitive constants.
func (p *Program) Validate() error {
	for fi, fn := range p.Functions {
		if fn == nil {
			return fmt.Errorf("%w: function %d is nil", ErrInvalidProgram, fi)
		}
		if fn.Params > fn.Locals {
			return fmt.Errorf("%w: function %d has %d params but %d locals", ErrInvalidProgram, fi, fn.Params, fn.Locals)
		}
		for pc, op := range fn.Code {
			at := IP{Func: fi, PC: pc}
			switch op.Code {
			case OpSkip, OpSkipIf:
				if pc+op.N >= len(fn.Code) || op.N < 0 {
					return fmt.Errorf("%w: %s at %s jumps out of function", ErrInvalidProgram, op.Code, at)
				}
			case OpJumpBack, OpJumpBackIf:
				if op.N > pc || op.N < 0 {
					return fmt.Errorf("%w: %s at %s jumps before function start", ErrInvalidProgram, op.Code, at)
				}
			case OpLoad, OpStore:
				if op.N < 0 || op.N >= fn.Locals {
					return fmt.Errorf("%w: %s at %s uses slot %d of %d", ErrInvalidProgram, op.Code, at, op.N, fn.Locals)
				}
			case OpStatic:
				if p.Function(op.N) == nil {
					return fmt.Errorf("%w: %s at %s references function %d", ErrInvalidProgram, op.Code, at, op.N)
				}
			case OpConst:
				if !op.Value.IsPrimitive() {
					return fmt.Errorf("%w: constant at %s is a %s", ErrInvalidProgram, at, op.Value.Kind)
				}
			case OpGuard:
				return fmt.Errorf("%w: guard at %s outside a trace", ErrInvalidProgram, at)
			}
			if _, ok := opcodeInfoTable[op.Code]; !ok {
				return fmt.Errorf("%w: unknown opcode 0x%02X at %s", ErrInvalidProgram, byte(op.Code), at)
			}
		}
	}
	return nil
}

// Equal compares two instructions field by field.
func (o Op) Equal(p Op) bool {
	return o.Code == p.Code &&
		o.N == p.N &&
		o.Value.Equal(p.Value) &&
		o.Kind == p.Kind &&
		o.Guard == p.Guard &&
		o.Site == p.Site
}

// EqualOps compares two opcode sequences.
func EqualOps(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
