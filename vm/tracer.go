package vm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/grass/pkg/bytecode"
)

var log = commonlog.GetLogger("grass.vm")

// DefaultHotThreshold is the number of visits a loop may have before the
// next visit starts a recording.
const DefaultHotThreshold = 2

// Action is the Tracer's answer to a merge-point visit.
type Action uint8

const (
	ActionNone       Action = iota // keep interpreting natively
	ActionStartTrace               // run the loop body once, recording it
	ActionTrace                    // replay the cached trace
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStartTrace:
		return "start-trace"
	case ActionTrace:
		return "trace"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// Decision is returned by Handle. Trace is set for ActionTrace only.
type Decision struct {
	Action Action
	Trace  *Trace
}

// Trace is a recorded loop body: straight-line code whose branches are
// guards. Traces are immutable once cached.
type Trace struct {
	Key   LoopKey       `cbor:"1,keyasint"`
	Start bytecode.IP   `cbor:"2,keyasint"` // merge point the recording began at
	Code  []bytecode.Op `cbor:"3,keyasint"`
}

// Guards returns the number of guards in the trace.
func (t *Trace) Guards() int {
	n := 0
	for _, op := range t.Code {
		if op.Code == bytecode.OpGuard {
			n++
		}
	}
	return n
}

// TracerStats holds aggregate tracer statistics.
type TracerStats struct {
	Profiler   ProfilerStats `yaml:"profiler"`
	Recordings uint64        `yaml:"recordings"` // traces finished
	Aborted    uint64        `yaml:"aborted"`    // recordings dropped
	Installed  uint64        `yaml:"installed"`  // traces preloaded
	Evicted    uint64        `yaml:"evicted"`    // traces dropped by MaxTraces
	Hits       uint64        `yaml:"hits"`       // visits answered with a trace
	Cached     int           `yaml:"cached"`     // traces currently cached
}

// Tracer decides, per merge-point visit, whether to keep interpreting,
// record the loop body or replay a cached trace. At most one recording is
// in flight. A Tracer is not safe for concurrent use.
type Tracer struct {
	profiler *Profiler

	traces map[LoopKey]*Trace
	order  []LoopKey // insertion order, for eviction

	recording bool
	loopKey   LoopKey
	start     bytecode.IP
	started   bool // start has been set by the first recorded opcode
	buffer    []bytecode.Op

	// MaxTraces bounds the cache; the oldest trace is evicted first.
	// Zero means unbounded.
	MaxTraces int

	// Optimize runs EliminateDeadStores over each finished trace.
	Optimize bool

	// OnTrace is called with every trace that enters the cache through
	// a finished recording.
	OnTrace func(*Trace)

	recordings uint64
	aborted    uint64
	installed  uint64
	evicted    uint64
	hits       uint64
}

// NewTracer creates an idle tracer with an empty cache.
func NewTracer(threshold uint64) *Tracer {
	t := &Tracer{
		profiler: NewProfiler(threshold),
		traces:   make(map[LoopKey]*Trace),
	}
	t.profiler.OnHot = func(key LoopKey, profile *LoopProfile) {
		log.Debugf("loop %016x hot after %d visits", uint64(key), profile.Visits)
	}
	return t
}

// Profiler returns the tracer's hotness counters.
func (t *Tracer) Profiler() *Profiler {
	return t.profiler
}

// Handle processes one merge-point visit:
//   - a cached trace for key is returned for replay, counters untouched
//   - when idle, the key's counter is incremented; once it exceeds the
//     threshold all counters are cleared and a recording of key starts
//   - when recording and key closes the recorded loop, the recording is
//     finished into the cache
func (t *Tracer) Handle(key LoopKey) Decision {
	if trace, ok := t.traces[key]; ok {
		t.hits++
		return Decision{Action: ActionTrace, Trace: trace}
	}

	if !t.recording {
		if t.profiler.Visit(key) {
			t.profiler.Reset()
			t.StartRecording(key)
			return Decision{Action: ActionStartTrace}
		}
		return Decision{Action: ActionNone}
	}

	if key == t.loopKey {
		t.Finish()
	}
	return Decision{Action: ActionNone}
}

// StartRecording begins recording the loop identified by key. It panics
// if a recording is already in flight.
func (t *Tracer) StartRecording(key LoopKey) {
	if t.recording {
		panic(fmt.Sprintf("vm: recording of loop %016x started while %016x is in flight", uint64(key), uint64(t.loopKey)))
	}
	t.recording = true
	t.loopKey = key
	t.started = false
	t.start = bytecode.IP{}
	t.buffer = make([]bytecode.Op, 0, 64)
	log.Debugf("recording loop %016x", uint64(key))
}

// Recording reports whether a recording is in flight, and of which loop.
func (t *Tracer) Recording() (LoopKey, bool) {
	return t.loopKey, t.recording
}

// RecordOp appends the trace form of an executed opcode to the recording:
// unconditional jumps are dropped, conditional jumps become guards
// expecting the observed outcome and recovering at the jump itself, and
// calls remember their call site. It panics when no recording is active.
func (t *Tracer) RecordOp(op bytecode.Op, at bytecode.IP, taken bool) {
	if !t.recording {
		panic(fmt.Sprintf("vm: opcode %s at %s recorded with no recording in flight", op, at))
	}
	if !t.started {
		t.start = at
		t.started = true
	}

	switch op.Code {
	case bytecode.OpSkip, bytecode.OpJumpBack:
		return
	case bytecode.OpSkipIf, bytecode.OpJumpBackIf:
		op = bytecode.GuardOp(bytecode.Guard{Expected: taken, Recovery: at})
	case bytecode.OpCall, bytecode.OpStatic:
		op.Site = at
	}
	t.buffer = append(t.buffer, op)
}

// Finish ends the recording and caches its trace. An empty recording is
// discarded and nil returned, since replaying it would never terminate.
func (t *Tracer) Finish() *Trace {
	if !t.recording {
		panic("vm: finish with no recording in flight")
	}
	key, code, start := t.loopKey, t.buffer, t.start
	t.recording = false
	t.buffer = nil

	if len(code) == 0 {
		t.aborted++
		log.Warningf("discarding empty recording of loop %016x", uint64(key))
		return nil
	}
	if t.Optimize {
		before := len(code)
		code = bytecode.EliminateDeadStores(code, bytecode.Slots(code))
		log.Debugf("optimized trace %016x: %d -> %d opcodes", uint64(key), before, len(code))
	}

	trace := &Trace{Key: key, Start: start, Code: code}
	t.insert(trace)
	t.recordings++
	log.Infof("recorded trace %016x at %s: %d opcodes, %d guards", uint64(key), start, len(code), trace.Guards())

	if t.OnTrace != nil {
		t.OnTrace(trace)
	}
	return trace
}

// Abort drops an in-flight recording, e.g. after the recording run
// faulted. It is a no-op when idle.
func (t *Tracer) Abort() {
	if !t.recording {
		return
	}
	log.Warningf("aborting recording of loop %016x after %d opcodes", uint64(t.loopKey), len(t.buffer))
	t.recording = false
	t.buffer = nil
	t.aborted++
}

// Install adds a previously recorded trace to the cache, replacing any
// trace with the same key.
func (t *Tracer) Install(trace *Trace) {
	if trace == nil || len(trace.Code) == 0 {
		return
	}
	t.insert(trace)
	t.installed++
}

func (t *Tracer) insert(trace *Trace) {
	if _, exists := t.traces[trace.Key]; !exists {
		t.order = append(t.order, trace.Key)
	}
	t.traces[trace.Key] = trace

	for t.MaxTraces > 0 && len(t.traces) > t.MaxTraces {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.traces, oldest)
		t.evicted++
		log.Debugf("evicted trace %016x", uint64(oldest))
	}
}

// Lookup returns the cached trace for key.
func (t *Tracer) Lookup(key LoopKey) (*Trace, bool) {
	trace, ok := t.traces[key]
	return trace, ok
}

// Traces returns the cached traces, oldest first.
func (t *Tracer) Traces() []*Trace {
	out := make([]*Trace, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.traces[key])
	}
	return out
}

// Stats returns aggregate tracer statistics.
func (t *Tracer) Stats() TracerStats {
	return TracerStats{
		Profiler:   t.profiler.Stats(),
		Recordings: t.recordings,
		Aborted:    t.aborted,
		Installed:  t.installed,
		Evicted:    t.evicted,
		Hits:       t.hits,
		Cached:     len(t.traces),
	}
}
