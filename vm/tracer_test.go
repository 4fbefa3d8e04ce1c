package vm

import (
	"testing"

	"github.com/chazu/grass/pkg/bytecode"
)

func TestHandleStartsRecordingAfterThreshold(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	key := NewLoopKey(0, bytecode.IP{Func: 0, PC: 1}, 0)

	for i := 0; i < DefaultHotThreshold; i++ {
		if d := tr.Handle(key); d.Action != ActionNone {
			t.Fatalf("visit %d: action = %s, want none", i+1, d.Action)
		}
	}
	if d := tr.Handle(key); d.Action != ActionStartTrace {
		t.Fatalf("visit %d: action = %s, want start-trace", DefaultHotThreshold+1, d.Action)
	}
	if got, ok := tr.Recording(); !ok || got != key {
		t.Errorf("Recording() = %x, %t", uint64(got), ok)
	}
}

func TestHandleClearsAllCountersWhenRecordingStarts(t *testing.T) {
	tr := NewTracer(2)
	hot := NewLoopKey(0, bytecode.IP{}, 1)
	warm := NewLoopKey(0, bytecode.IP{}, 2)

	tr.Handle(warm)
	tr.Handle(warm)
	tr.Handle(hot)
	tr.Handle(hot)
	if d := tr.Handle(hot); d.Action != ActionStartTrace {
		t.Fatalf("action = %s, want start-trace", d.Action)
	}
	if n := tr.Profiler().Count(warm); n != 0 {
		t.Errorf("warm counter = %d after reset, want 0", n)
	}

	// Counters do not advance while recording.
	tr.Handle(warm)
	if n := tr.Profiler().Count(warm); n != 0 {
		t.Errorf("warm counter = %d while recording, want 0", n)
	}
}

func TestHandleFinishesRecordingWhenLoopRepeats(t *testing.T) {
	tr := NewTracer(0)
	key := NewLoopKey(0, bytecode.IP{}, 5)

	if d := tr.Handle(key); d.Action != ActionStartTrace {
		t.Fatalf("action = %s, want start-trace", d.Action)
	}
	tr.RecordOp(bytecode.Load(3), bytecode.IP{Func: 0, PC: 1}, false)

	if d := tr.Handle(key); d.Action != ActionNone {
		t.Fatalf("closing visit: action = %s, want none", d.Action)
	}
	d := tr.Handle(key)
	if d.Action != ActionTrace || d.Trace == nil {
		t.Fatalf("action = %s, want trace", d.Action)
	}
	if d.Trace.Start != (bytecode.IP{Func: 0, PC: 1}) {
		t.Errorf("trace start = %s", d.Trace.Start)
	}
	if tr.Stats().Hits != 1 {
		t.Errorf("hits = %d, want 1", tr.Stats().Hits)
	}
}

func TestStartRecordingTwicePanics(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.StartRecording(1)

	defer func() {
		if recover() == nil {
			t.Error("second StartRecording should panic")
		}
	}()
	tr.StartRecording(2)
}

func TestRecordOpWithoutRecordingPanics(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	defer func() {
		if recover() == nil {
			t.Error("RecordOp while idle should panic")
		}
	}()
	tr.RecordOp(bytecode.Noop(), bytecode.IP{}, false)
}

func TestRecordOpTransform(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.StartRecording(7)

	tr.RecordOp(bytecode.Load(1), bytecode.IP{Func: 0, PC: 1}, false)
	tr.RecordOp(bytecode.SkipIf(4), bytecode.IP{Func: 0, PC: 2}, false)
	tr.RecordOp(bytecode.Skip(3), bytecode.IP{Func: 0, PC: 3}, false)
	tr.RecordOp(bytecode.JumpBackIf(2), bytecode.IP{Func: 0, PC: 6}, true)
	tr.RecordOp(bytecode.Call(), bytecode.IP{Func: 0, PC: 7}, false)
	tr.RecordOp(bytecode.Return(), bytecode.IP{Func: 1, PC: 0}, false)
	tr.RecordOp(bytecode.JumpBack(8), bytecode.IP{Func: 0, PC: 8}, false)

	trace := tr.Finish()
	want := []bytecode.Op{
		bytecode.Load(1),
		bytecode.GuardOp(bytecode.Guard{Expected: false, Recovery: bytecode.IP{Func: 0, PC: 2}}),
		bytecode.GuardOp(bytecode.Guard{Expected: true, Recovery: bytecode.IP{Func: 0, PC: 6}}),
		{Code: bytecode.OpCall, Site: bytecode.IP{Func: 0, PC: 7}},
		bytecode.Return(),
	}
	if !bytecode.EqualOps(trace.Code, want) {
		t.Errorf("trace\n%s\nwant\n%s", bytecode.Disassemble(trace.Code), bytecode.Disassemble(want))
	}
	if trace.Guards() != 2 {
		t.Errorf("Guards() = %d, want 2", trace.Guards())
	}
	for _, op := range trace.Code {
		if op.Code.IsJump() {
			t.Errorf("trace contains jump %s", op)
		}
	}
}

func TestFinishDiscardsEmptyRecording(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.StartRecording(3)
	tr.RecordOp(bytecode.JumpBack(1), bytecode.IP{Func: 0, PC: 1}, false)
	if trace := tr.Finish(); trace != nil {
		t.Errorf("Finish() = %v, want nil for an empty recording", trace.Code)
	}
	if _, ok := tr.Lookup(3); ok {
		t.Error("empty trace should not be cached")
	}
	if _, ok := tr.Recording(); ok {
		t.Error("recording should have ended")
	}
}

func TestAbortDropsRecording(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	var published int
	tr.OnTrace = func(*Trace) { published++ }

	tr.StartRecording(4)
	tr.RecordOp(bytecode.Load(1), bytecode.IP{}, false)
	tr.Abort()
	tr.Abort()

	if _, ok := tr.Recording(); ok {
		t.Error("recording should have been aborted")
	}
	if _, ok := tr.Lookup(4); ok {
		t.Error("aborted recording should not be cached")
	}
	if published != 0 {
		t.Errorf("OnTrace called %d times", published)
	}
	if s := tr.Stats(); s.Aborted != 1 {
		t.Errorf("aborted = %d, want 1", s.Aborted)
	}
	tr.StartRecording(5) // idle again
}

func TestFinishOptimizes(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.Optimize = true
	tr.StartRecording(9)
	for _, op := range []bytecode.Op{
		bytecode.ConstI64(1),
		bytecode.Store(2),
		bytecode.ConstI64(2),
		bytecode.Store(2),
	} {
		tr.RecordOp(op, bytecode.IP{}, false)
	}
	trace := tr.Finish()
	want := []bytecode.Op{bytecode.ConstI64(1), bytecode.Pop(), bytecode.ConstI64(2), bytecode.Store(2)}
	if !bytecode.EqualOps(trace.Code, want) {
		t.Errorf("optimized trace\n%s\nwant\n%s", bytecode.Disassemble(trace.Code), bytecode.Disassemble(want))
	}
}

func TestMaxTracesEvictsOldest(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.MaxTraces = 2
	for key := LoopKey(1); key <= 3; key++ {
		tr.Install(&Trace{Key: key, Code: []bytecode.Op{bytecode.Noop()}})
	}

	if _, ok := tr.Lookup(1); ok {
		t.Error("oldest trace should have been evicted")
	}
	traces := tr.Traces()
	if len(traces) != 2 || traces[0].Key != 2 || traces[1].Key != 3 {
		t.Errorf("Traces() keys = %v", traceKeys(traces))
	}
	if s := tr.Stats(); s.Evicted != 1 || s.Installed != 3 || s.Cached != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestInstallReplacesWithoutReordering(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	tr.Install(&Trace{Key: 1, Code: []bytecode.Op{bytecode.Noop()}})
	tr.Install(&Trace{Key: 2, Code: []bytecode.Op{bytecode.Noop()}})
	tr.Install(&Trace{Key: 1, Code: []bytecode.Op{bytecode.Pop()}})
	tr.Install(nil)
	tr.Install(&Trace{Key: 3})

	keys := traceKeys(tr.Traces())
	if len(keys) != 2 || keys[0] != 1 || keys[1] != 2 {
		t.Errorf("Traces() keys = %v, want [1 2]", keys)
	}
	if trace, _ := tr.Lookup(1); trace.Code[0].Code != bytecode.OpPop {
		t.Error("Install should replace the cached trace")
	}
}

func TestOnTraceCalledForRecordedTraces(t *testing.T) {
	tr := NewTracer(DefaultHotThreshold)
	var got []*Trace
	tr.OnTrace = func(trace *Trace) { got = append(got, trace) }

	tr.StartRecording(11)
	tr.RecordOp(bytecode.Noop(), bytecode.IP{Func: 2, PC: 4}, false)
	tr.Finish()
	tr.Install(&Trace{Key: 12, Code: []bytecode.Op{bytecode.Noop()}})

	if len(got) != 1 || got[0].Key != 11 {
		t.Errorf("OnTrace saw %v, want only the recorded trace", traceKeys(got))
	}
}

func traceKeys(traces []*Trace) []LoopKey {
	keys := make([]LoopKey, len(traces))
	for i, trace := range traces {
		keys[i] = trace.Key
	}
	return keys
}
