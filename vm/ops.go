package vm

import (
	"fmt"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

// transfer is the control-flow outcome of one opcode.
type transfer uint8

const (
	transferNext transfer = iota
	transferJump
	transferCall
	transferReturn
	transferStop
	transferGuardFailed
)

type dispatch struct {
	kind   transfer
	target bytecode.IP
	taken  bool
}

var next = dispatch{kind: transferNext}

// step evaluates one opcode. at is the opcode's position: jump targets are
// relative to at.PC and a call returns to at.Next(). Inside a trace at.PC
// is the trace position, except for calls, where it is the recorded call
// site.
func (in *Interpreter) step(op bytecode.Op, at bytecode.IP, inTrace bool) (dispatch, error) {
	switch op.Code {
	case bytecode.OpNoop:
		return next, nil

	case bytecode.OpPanic:
		return next, ErrPanic

	case bytecode.OpConst:
		in.pushValue(op.Value)
		return next, nil

	case bytecode.OpPop:
		_, err := in.popRaw()
		return next, err

	// Records

	case bytecode.OpTuple:
		if op.N < 0 {
			return next, fmt.Errorf("%w: record size %d", ErrIndex, op.N)
		}
		in.pushValue(in.heap.NewStruct(op.N))
		return next, nil

	case bytecode.OpTupleInit:
		return next, in.opTupleInit(op.N)

	case bytecode.OpTupleGet:
		return next, in.opTupleGet(op.N)

	case bytecode.OpTupleSet:
		return next, in.opTupleSet(op.N)

	case bytecode.OpArray:
		return next, in.opArray(op.N)

	case bytecode.OpRepeat:
		return next, in.opRepeat(op.N)

	case bytecode.OpLen:
		rec, err := in.popRecord()
		if err != nil {
			return next, err
		}
		in.pushValue(value.Usize(uint64(len(rec.Fields))))
		return next, nil

	case bytecode.OpGetIndex:
		return next, in.opGetIndex()

	case bytecode.OpAssignIdx:
		return next, in.opAssignIndex()

	// Places

	case bytecode.OpUse, bytecode.OpUnsize:
		v, err := in.popValue()
		if err != nil {
			return next, err
		}
		in.pushValue(v)
		return next, nil

	case bytecode.OpRef:
		sv, err := in.popRaw()
		if err != nil {
			return next, err
		}
		ptr, err := in.heap.TakeAddress(sv)
		if err != nil {
			return next, err
		}
		in.push(ptr)
		return next, nil

	case bytecode.OpDeref:
		sv, err := in.popRaw()
		if err != nil {
			return next, err
		}
		place, err := in.heap.Deref(sv)
		if err != nil {
			return next, err
		}
		in.push(place)
		return next, nil

	case bytecode.OpLoad:
		id, err := in.local(op.N)
		if err != nil {
			return next, err
		}
		in.push(value.Ref(id))
		return next, nil

	case bytecode.OpStore:
		v, err := in.popValue()
		if err != nil {
			return next, err
		}
		id, err := in.local(op.N)
		if err != nil {
			return next, err
		}
		in.heap.Store(id, v)
		return next, nil

	// Arithmetic and logic

	case bytecode.OpBinOp, bytecode.OpCheckedBinOp:
		right, err := in.popValue()
		if err != nil {
			return next, err
		}
		left, err := in.popValue()
		if err != nil {
			return next, err
		}
		result, err := binaryOp(op.Kind, left, right)
		if err != nil {
			return next, err
		}
		if op.Code == bytecode.OpCheckedBinOp {
			// Overflow is never reported: arithmetic wraps.
			pair := in.heap.NewStruct(2)
			in.heap.Store(pair.Fields[0], result)
			in.heap.Store(pair.Fields[1], value.Bool(false))
			result = pair
		}
		in.pushValue(result)
		return next, nil

	case bytecode.OpNot:
		v, err := in.popValue()
		if err != nil {
			return next, err
		}
		if v.Kind != value.KindBool {
			return next, fmt.Errorf("%w: not of %s", ErrType, v.Kind)
		}
		in.pushValue(value.Bool(!v.Bool))
		return next, nil

	case bytecode.OpNeg:
		v, err := in.popValue()
		if err != nil {
			return next, err
		}
		if v.Kind != value.KindI64 {
			return next, fmt.Errorf("%w: neg of %s", ErrType, v.Kind)
		}
		in.pushValue(value.I64(-v.Int))
		return next, nil

	// Control flow

	case bytecode.OpSkip:
		return jumpTo(at, at.PC+op.N)

	case bytecode.OpJumpBack:
		return jumpTo(at, at.PC-op.N)

	case bytecode.OpSkipIf, bytecode.OpJumpBackIf:
		cond, err := in.popBool()
		if err != nil {
			return next, err
		}
		if !cond {
			return next, nil
		}
		target := at.PC + op.N
		if op.Code == bytecode.OpJumpBackIf {
			target = at.PC - op.N
		}
		d, err := jumpTo(at, target)
		d.taken = true
		return d, err

	case bytecode.OpCall:
		callee, err := in.popValue()
		if err != nil {
			return next, err
		}
		if callee.Kind != value.KindFunc {
			return next, fmt.Errorf("%w: call of %s", ErrType, callee.Kind)
		}
		return in.enter(callee.Index(), at, true)

	case bytecode.OpStatic:
		return in.enter(op.N, at, false)

	case bytecode.OpReturn:
		if len(in.frames) == 0 {
			return next, ErrNoFrame
		}
		frame := in.frames[len(in.frames)-1]
		in.frames = in.frames[:len(in.frames)-1]
		if frame.Return == nil {
			return dispatch{kind: transferStop}, nil
		}
		return dispatch{kind: transferReturn, target: *frame.Return}, nil

	case bytecode.OpGuard:
		if !inTrace {
			return next, ErrGuardOutsideTrace
		}
		cond, err := in.peekBool()
		if err != nil {
			return next, err
		}
		if cond != op.Guard.Expected {
			return dispatch{kind: transferGuardFailed}, nil
		}
		in.stack = in.stack[:len(in.stack)-1]
		return next, nil
	}

	return next, fmt.Errorf("%w: %s", ErrUnimplemented, op.Code)
}

func jumpTo(at bytecode.IP, pc int) (dispatch, error) {
	if pc < 0 {
		return next, fmt.Errorf("%w: target %d", ErrBadJump, pc)
	}
	return dispatch{kind: transferJump, target: bytecode.IP{Func: at.Func, PC: pc}}, nil
}

// enter pushes a frame for function idx returning to at.Next(). With
// args, the callee's parameters are popped (last argument on top) and
// each promoted to a cell, so an argument passed as a place aliases the
// caller's cell.
func (in *Interpreter) enter(idx int, at bytecode.IP, args bool) (dispatch, error) {
	fn := in.prog.Function(idx)
	if fn == nil {
		return next, fmt.Errorf("%w: %d", ErrNoFunction, idx)
	}
	params := 0
	if args {
		params = fn.Params
	}
	if params > fn.Locals {
		return next, fmt.Errorf("%w: function %d takes %d params into %d locals", ErrIndex, idx, params, fn.Locals)
	}

	ret := at.Next()
	frame := &Frame{Func: idx, Locals: make([]value.CellID, fn.Locals), Return: &ret}
	for i := params - 1; i >= 0; i-- {
		sv, err := in.popRaw()
		if err != nil {
			return next, err
		}
		id, err := in.heap.PromoteToCell(sv).Cell()
		if err != nil {
			return next, err
		}
		frame.Locals[i] = id
	}
	for i := params; i < fn.Locals; i++ {
		frame.Locals[i] = in.heap.Alloc(value.Unit())
	}

	in.frames = append(in.frames, frame)
	return dispatch{kind: transferCall, target: bytecode.IP{Func: idx, PC: 0}}, nil
}

func (in *Interpreter) local(slot int) (value.CellID, error) {
	frame := in.Frame()
	if frame == nil {
		return 0, ErrNoFrame
	}
	id, ok := frame.Local(slot)
	if !ok {
		return 0, fmt.Errorf("%w: local %d of %d", ErrIndex, slot, len(frame.Locals))
	}
	return id, nil
}

func (in *Interpreter) popBool() (bool, error) {
	v, err := in.popValue()
	if err != nil {
		return false, err
	}
	if v.Kind != value.KindBool {
		return false, fmt.Errorf("%w: expected bool, got %s", ErrType, v.Kind)
	}
	return v.Bool, nil
}

func (in *Interpreter) peekBool() (bool, error) {
	v, err := in.peekValue()
	if err != nil {
		return false, err
	}
	if v.Kind != value.KindBool {
		return false, fmt.Errorf("%w: expected bool, got %s", ErrType, v.Kind)
	}
	return v.Bool, nil
}

func (in *Interpreter) popRecord() (value.Value, error) {
	v, err := in.popValue()
	if err != nil {
		return value.Value{}, err
	}
	if v.Kind != value.KindStruct {
		return value.Value{}, fmt.Errorf("%w: expected struct, got %s", ErrType, v.Kind)
	}
	return v, nil
}

func (in *Interpreter) popIndex() (int, error) {
	v, err := in.popValue()
	if err != nil {
		return 0, err
	}
	if v.Kind != value.KindUsize && v.Kind != value.KindU64 {
		return 0, fmt.Errorf("%w: index of kind %s", ErrType, v.Kind)
	}
	return int(v.Uint), nil
}

func (in *Interpreter) field(rec value.Value, idx int) (value.CellID, error) {
	if idx < 0 || idx >= len(rec.Fields) {
		return 0, fmt.Errorf("%w: field %d of record of %d", ErrIndex, idx, len(rec.Fields))
	}
	return rec.Fields[idx], nil
}

// TupleInit writes into the record left on top of the stack.
func (in *Interpreter) opTupleInit(idx int) error {
	v, err := in.popValue()
	if err != nil {
		return err
	}
	rec, err := in.peekValue()
	if err != nil {
		return err
	}
	if rec.Kind != value.KindStruct {
		return fmt.Errorf("%w: tuple init of %s", ErrType, rec.Kind)
	}
	id, err := in.field(rec, idx)
	if err != nil {
		return err
	}
	in.heap.Store(id, v)
	return nil
}

func (in *Interpreter) opTupleGet(idx int) error {
	rec, err := in.popRecord()
	if err != nil {
		return err
	}
	id, err := in.field(rec, idx)
	if err != nil {
		return err
	}
	in.push(value.Ref(id))
	return nil
}

func (in *Interpreter) opTupleSet(idx int) error {
	rec, err := in.popRecord()
	if err != nil {
		return err
	}
	v, err := in.popValue()
	if err != nil {
		return err
	}
	id, err := in.field(rec, idx)
	if err != nil {
		return err
	}
	in.heap.Store(id, v)
	return nil
}

// Array pops n elements; the last element is on top.
func (in *Interpreter) opArray(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: array size %d", ErrIndex, n)
	}
	rec := in.heap.NewStruct(n)
	for i := n - 1; i >= 0; i-- {
		v, err := in.popValue()
		if err != nil {
			return err
		}
		in.heap.Store(rec.Fields[i], v)
	}
	in.pushValue(rec)
	return nil
}

func (in *Interpreter) opRepeat(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: repeat count %d", ErrIndex, n)
	}
	v, err := in.popValue()
	if err != nil {
		return err
	}
	rec := in.heap.NewStruct(n)
	for _, id := range rec.Fields {
		in.heap.Store(id, v)
	}
	in.pushValue(rec)
	return nil
}

func (in *Interpreter) opGetIndex() error {
	rec, err := in.popRecord()
	if err != nil {
		return err
	}
	idx, err := in.popIndex()
	if err != nil {
		return err
	}
	id, err := in.field(rec, idx)
	if err != nil {
		return err
	}
	in.push(value.Ref(id))
	return nil
}

func (in *Interpreter) opAssignIndex() error {
	rec, err := in.popRecord()
	if err != nil {
		return err
	}
	idx, err := in.popIndex()
	if err != nil {
		return err
	}
	v, err := in.popValue()
	if err != nil {
		return err
	}
	id, err := in.field(rec, idx)
	if err != nil {
		return err
	}
	in.heap.Store(id, v)
	return nil
}
