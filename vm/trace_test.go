package vm

import (
	"errors"
	"testing"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

// recordOnce records one iteration of the loop at mergePoint into a new
// tracer and returns the trace.
func recordOnce(t *testing.T, in *Interpreter, mergePoint bytecode.IP) *Trace {
	t.Helper()
	tr := NewTracer(DefaultHotThreshold)
	tr.StartRecording(NewLoopKey(0, mergePoint, 0))
	exit, err := in.Record(mergePoint, tr)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if exit != ExitLoop {
		t.Fatalf("Record exit = %s, want loop", exit)
	}
	trace := tr.Finish()
	if trace == nil {
		t.Fatal("Finish returned no trace")
	}
	return trace
}

func TestRecordThenReplayMatchesBaseline(t *testing.T) {
	mergePoint := bytecode.IP{Func: 0, PC: 1}

	// Baseline.
	base, baseFrame := newRun(t, countingLoop(6))
	base.Heap().Store(baseFrame.Locals[0], value.I64(0))
	if err := base.Execute(bytecode.IP{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Record one iteration, replay until the exit guard fails, recover.
	in, frame := newRun(t, countingLoop(6))
	in.Heap().Store(frame.Locals[0], value.I64(0))
	trace := recordOnce(t, in, mergePoint)

	guard, err := in.RunTrace(trace.Code)
	if err != nil {
		t.Fatalf("RunTrace: %v", err)
	}
	if guard.Recovery != (bytecode.IP{Func: 0, PC: 8}) || !guard.Expected {
		t.Errorf("failed guard = %+v", guard)
	}
	exit, err := in.Blackhole(guard.Recovery, mergePoint)
	if err != nil {
		t.Fatalf("Blackhole: %v", err)
	}
	if exit != ExitReturn {
		t.Errorf("Blackhole exit = %s, want return", exit)
	}

	got, want := loadLocal(in, frame, 0), loadLocal(base, baseFrame, 0)
	if !got.Equal(want) {
		t.Errorf("replayed counter = %s, baseline = %s", got, want)
	}
}

func TestGuardMismatchLeavesCondition(t *testing.T) {
	in, _ := newRun(t, bytecode.NewProgram(fn(0, bytecode.Return())))
	g := bytecode.Guard{Expected: true, Recovery: bytecode.IP{Func: 0, PC: 3}}
	guard, err := in.RunTrace([]bytecode.Op{bytecode.ConstBool(false), bytecode.GuardOp(g)})
	if err != nil {
		t.Fatalf("RunTrace: %v", err)
	}
	if guard != g {
		t.Errorf("guard = %+v, want %+v", guard, g)
	}
	stack := in.Stack()
	if len(stack) != 1 {
		t.Fatalf("stack depth = %d, want the condition left behind", len(stack))
	}
	if v, _ := stack[0].Value(); !v.Equal(value.Bool(false)) {
		t.Errorf("stack top = %s", stack[0])
	}
}

func TestTraceWrapsAround(t *testing.T) {
	in, frame := newRun(t, bytecode.NewProgram(fn(1, bytecode.Return())))
	in.Heap().Store(frame.Locals[0], value.U64(0))
	trace := []bytecode.Op{
		bytecode.Load(0),
		bytecode.ConstU64(1),
		bytecode.Binary(bytecode.Add),
		bytecode.Store(0),
		bytecode.Load(0),
		bytecode.ConstU64(4),
		bytecode.Binary(bytecode.Lt),
		bytecode.GuardOp(bytecode.Guard{Expected: true}),
	}
	if _, err := in.RunTrace(trace); err != nil {
		t.Fatalf("RunTrace: %v", err)
	}
	if got := loadLocal(in, frame, 0); !got.Equal(value.U64(4)) {
		t.Errorf("counter = %s after wrapping, want 4u64", got)
	}
}

func TestTraceWithInlinedCall(t *testing.T) {
	loop := fn(1,
		bytecode.Noop(),
		bytecode.Load(0), // 1: merge point
		bytecode.ConstFunc(1),
		bytecode.Call(),
		bytecode.Load(0),
		bytecode.ConstI64(5),
		bytecode.Binary(bytecode.Lt),
		bytecode.SkipIf(2), // 7: -> 9
		bytecode.Return(),
		bytecode.JumpBack(8), // 9: -> 1
	)
	incr := &bytecode.Function{Params: 1, Locals: 1, Code: []bytecode.Op{
		bytecode.Load(0),
		bytecode.ConstI64(1),
		bytecode.Binary(bytecode.Add),
		bytecode.Store(0),
		bytecode.Return(),
	}}
	prog := bytecode.NewProgram(loop, incr)
	mergePoint := bytecode.IP{Func: 0, PC: 1}

	in, frame := newRun(t, prog)
	in.Heap().Store(frame.Locals[0], value.I64(0))
	trace := recordOnce(t, in, mergePoint)

	var call bytecode.Op
	for _, op := range trace.Code {
		if op.Code == bytecode.OpCall {
			call = op
		}
	}
	if call.Site != (bytecode.IP{Func: 0, PC: 3}) {
		t.Fatalf("recorded call site = %s", call.Site)
	}

	guard, err := in.RunTrace(trace.Code)
	if err != nil {
		t.Fatalf("RunTrace: %v", err)
	}
	if in.Depth() != 1 {
		t.Errorf("Depth() = %d after replay, want 1", in.Depth())
	}
	if _, err := in.Blackhole(guard.Recovery, mergePoint); err != nil {
		t.Fatalf("Blackhole: %v", err)
	}
	if got := loadLocal(in, frame, 0); !got.Equal(value.I64(5)) {
		t.Errorf("counter = %s, want 5i64", got)
	}
}

func TestBlackholeInsideCallee(t *testing.T) {
	// A guard that fails inside the callee resumes there and returns to
	// the recorded call site.
	caller := fn(1,
		bytecode.ConstFunc(1),
		bytecode.Call(),
		bytecode.ConstI64(3),
		bytecode.Store(0),
		bytecode.Return(),
	)
	callee := fn(0,
		bytecode.ConstBool(false),
		bytecode.SkipIf(1),
		bytecode.Return(),
	)
	in, frame := newRun(t, bytecode.NewProgram(caller, callee))
	trace := []bytecode.Op{
		bytecode.ConstFunc(1),
		{Code: bytecode.OpCall, Site: bytecode.IP{Func: 0, PC: 1}},
		bytecode.ConstBool(false),
		bytecode.GuardOp(bytecode.Guard{Expected: true, Recovery: bytecode.IP{Func: 1, PC: 1}}),
	}
	guard, err := in.RunTrace(trace)
	if err != nil {
		t.Fatalf("RunTrace: %v", err)
	}
	exit, err := in.Blackhole(guard.Recovery, bytecode.IP{Func: 0, PC: 0})
	if err != nil {
		t.Fatalf("Blackhole: %v", err)
	}
	if exit != ExitReturn {
		t.Errorf("exit = %s, want return", exit)
	}
	if got := loadLocal(in, frame, 0); !got.Equal(value.I64(3)) {
		t.Errorf("local 0 = %s, want 3i64", got)
	}
}

func TestRunTraceFaults(t *testing.T) {
	in, _ := newRun(t, bytecode.NewProgram(fn(0, bytecode.Return())))
	if _, err := in.RunTrace(nil); !errors.Is(err, ErrEmptyTrace) {
		t.Errorf("empty trace error = %v", err)
	}

	_, err := in.RunTrace([]bytecode.Op{bytecode.Noop(), bytecode.Pop()})
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("error = %v, want ErrStackUnderflow", err)
	}
	fault, _ := IsFault(err)
	if !fault.Trace || fault.At.PC != 1 {
		t.Errorf("fault = %+v, want trace position 1", fault)
	}

	_, err = in.RunTrace([]bytecode.Op{bytecode.Return()})
	if !errors.Is(err, ErrBadJump) {
		t.Errorf("outermost return error = %v, want ErrBadJump", err)
	}
}
