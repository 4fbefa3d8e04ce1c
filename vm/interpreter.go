package vm

import (
	"fmt"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

// ---------------------------------------------------------------------------
// Interpreter: operand stack, frames and heap for one invocation
// ---------------------------------------------------------------------------

// Recorder observes every opcode executed by Record, after it has been
// evaluated. taken is the popped condition of SkipIf/JumpBackIf and false
// for every other opcode.
type Recorder interface {
	RecordOp(op bytecode.Op, at bytecode.IP, taken bool)
}

// Exit reports why a baseline run stopped.
type Exit uint8

const (
	ExitReturn     Exit = iota // the outermost frame returned
	ExitLoop                   // a transfer left the run's window backwards
	ExitMergePoint             // the outermost frame reached the merge point
)

func (e Exit) String() string {
	switch e {
	case ExitReturn:
		return "return"
	case ExitLoop:
		return "loop"
	case ExitMergePoint:
		return "merge-point"
	default:
		return fmt.Sprintf("Exit(%d)", uint8(e))
	}
}

// Interpreter executes a program. It is created per merge-point
// invocation and discarded afterwards, together with its heap.
type Interpreter struct {
	prog   *bytecode.Program
	heap   *value.Heap
	stack  []value.StackValue
	frames []*Frame
}

// NewInterpreter creates an interpreter with an empty heap and no frames.
func NewInterpreter(prog *bytecode.Program) *Interpreter {
	return &Interpreter{
		prog:   prog,
		heap:   value.NewHeap(),
		stack:  make([]value.StackValue, 0, 64),
		frames: make([]*Frame, 0, 8),
	}
}

// Heap returns the cell arena backing this invocation.
func (in *Interpreter) Heap() *value.Heap {
	return in.heap
}

// Program returns the program being executed.
func (in *Interpreter) Program() *bytecode.Program {
	return in.prog
}

// NewFrame allocates an outermost frame for function fn with every local
// holding Unit. The frame is not active until pushed.
func (in *Interpreter) NewFrame(fn int) (*Frame, error) {
	f := in.prog.Function(fn)
	if f == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoFunction, fn)
	}
	frame := &Frame{Func: fn, Locals: make([]value.CellID, f.Locals)}
	for i := range frame.Locals {
		frame.Locals[i] = in.heap.Alloc(value.Unit())
	}
	return frame, nil
}

// PushFrame makes f the active frame.
func (in *Interpreter) PushFrame(f *Frame) {
	in.frames = append(in.frames, f)
}

// Frame returns the active frame, or nil if there is none.
func (in *Interpreter) Frame() *Frame {
	if len(in.frames) == 0 {
		return nil
	}
	return in.frames[len(in.frames)-1]
}

// Depth returns the number of active frames.
func (in *Interpreter) Depth() int {
	return len(in.frames)
}

// Stack returns a copy of the operand stack, bottom first.
func (in *Interpreter) Stack() []value.StackValue {
	out := make([]value.StackValue, len(in.stack))
	copy(out, in.stack)
	return out
}

// ---------------------------------------------------------------------------
// Baseline runs
// ---------------------------------------------------------------------------

// Execute runs from start until the outermost frame returns.
func (in *Interpreter) Execute(start bytecode.IP) error {
	_, err := in.run(start, runWindow{})
	return err
}

// Record runs from start reporting every executed opcode to rec. It stops
// once a transfer inside the starting frame lands at or before start, i.e.
// the loop body has been walked once, or when the outermost frame returns.
func (in *Interpreter) Record(start bytecode.IP, rec Recorder) (Exit, error) {
	return in.run(start, runWindow{rec: rec, loop: true, closeAt: start.PC})
}

// Blackhole resumes baseline execution at a failed guard's recovery
// point and runs until the interrupted iteration is complete: a transfer
// in the recovery frame lands before the recovery point, the outermost
// frame reaches mergePoint, or the outermost frame returns.
func (in *Interpreter) Blackhole(recovery, mergePoint bytecode.IP) (Exit, error) {
	return in.run(recovery, runWindow{
		loop:       true,
		closeAt:    recovery.PC - 1,
		mergePoint: &mergePoint,
	})
}

// runWindow configures when a baseline run stops early.
type runWindow struct {
	rec        Recorder
	loop       bool         // stop on a backward transfer in the home frame
	closeAt    int          // ... that lands at or before this pc
	mergePoint *bytecode.IP // stop when the outermost frame reaches this ip
}

func (in *Interpreter) run(start bytecode.IP, w runWindow) (Exit, error) {
	home := in.Frame()
	if home == nil {
		return ExitReturn, &Fault{At: start, Err: ErrNoFrame}
	}
	root := in.frames[0]

	ip := start
	for {
		op, ok := in.prog.At(ip)
		if !ok {
			return ExitReturn, &Fault{At: ip, Err: fmt.Errorf("%w: no opcode at %s", ErrBadJump, ip)}
		}

		d, err := in.step(op, ip, false)
		if err != nil {
			return ExitReturn, &Fault{Op: op, At: ip, Err: err}
		}
		if w.rec != nil {
			w.rec.RecordOp(op, ip, d.taken)
		}

		switch d.kind {
		case transferNext:
			ip = ip.Next()
		case transferStop:
			return ExitReturn, nil
		default:
			ip = d.target
		}

		top := in.Frame()
		if w.loop && (d.kind == transferJump || d.kind == transferReturn) && top == home && ip.PC <= w.closeAt {
			return ExitLoop, nil
		}
		if w.mergePoint != nil && top == root && ip == *w.mergePoint {
			return ExitMergePoint, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Trace execution
// ---------------------------------------------------------------------------

// RunTrace executes a recorded trace on the current frames. The trace is
// treated as a loop body: past its last opcode execution wraps to the
// first. It returns the first guard whose condition does not match; the
// condition is left on the stack for Blackhole to consume.
func (in *Interpreter) RunTrace(code []bytecode.Op) (bytecode.Guard, error) {
	if len(code) == 0 {
		return bytecode.Guard{}, &Fault{Trace: true, Err: ErrEmptyTrace}
	}

	pos := 0
	for {
		if pos >= len(code) {
			pos = 0
		}
		op := code[pos]

		top := in.Frame()
		if top == nil {
			return bytecode.Guard{}, &Fault{Op: op, At: bytecode.IP{PC: pos}, Trace: true, Err: ErrNoFrame}
		}
		at := bytecode.IP{Func: top.Func, PC: pos}
		if op.Code.IsCall() {
			at = op.Site
		}

		d, err := in.step(op, at, true)
		if err != nil {
			return bytecode.Guard{}, &Fault{Op: op, At: bytecode.IP{Func: top.Func, PC: pos}, Trace: true, Err: err}
		}

		switch d.kind {
		case transferGuardFailed:
			return op.Guard, nil
		case transferJump:
			pos = d.target.PC
		case transferStop:
			return bytecode.Guard{}, &Fault{Op: op, At: bytecode.IP{Func: top.Func, PC: pos}, Trace: true,
				Err: fmt.Errorf("%w: outermost frame returned inside a trace", ErrBadJump)}
		default:
			// Calls and returns switch frames but the callee body is
			// already inlined in the trace.
			pos++
		}
	}
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (in *Interpreter) push(sv value.StackValue) {
	in.stack = append(in.stack, sv)
}

func (in *Interpreter) pushValue(v value.Value) {
	in.stack = append(in.stack, value.Owned(v))
}

func (in *Interpreter) popRaw() (value.StackValue, error) {
	if len(in.stack) == 0 {
		return value.StackValue{}, ErrStackUnderflow
	}
	sv := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return sv, nil
}

// popValue pops the top of stack, materializing places and resolving
// static references.
func (in *Interpreter) popValue() (value.Value, error) {
	sv, err := in.popRaw()
	if err != nil {
		return value.Value{}, err
	}
	return in.resolve(sv)
}

func (in *Interpreter) peekValue() (value.Value, error) {
	if len(in.stack) == 0 {
		return value.Value{}, ErrStackUnderflow
	}
	return in.resolve(in.stack[len(in.stack)-1])
}

func (in *Interpreter) resolve(sv value.StackValue) (value.Value, error) {
	v, err := in.heap.Materialize(sv).Value()
	if err != nil {
		return value.Value{}, err
	}
	for hops := 0; v.Kind == value.KindStatic; hops++ {
		if hops > len(in.prog.Functions) {
			return value.Value{}, fmt.Errorf("%w: static reference cycle through function %d", ErrType, v.Index())
		}
		fn := in.prog.Function(v.Index())
		if fn == nil || len(fn.Code) == 0 || fn.Code[0].Code != bytecode.OpConst {
			return value.Value{}, fmt.Errorf("%w: function %d does not define a constant", ErrType, v.Index())
		}
		v = fn.Code[0].Value
	}
	return v, nil
}
