// Package driver is the embedding API of the grass engine. An interpreter
// written in Go calls Driver.MergePoint at the head of its dispatch loop;
// the driver counts visits per loop position, records hot iterations on
// the engine's own bytecode rendition of that loop and replays cached
// traces on later visits, handing the updated program counter and cell
// back to the native loop.
package driver

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
	"github.com/chazu/grass/vm"
)

var log = commonlog.GetLogger("grass.driver")

// maxPrograms bounds the per-program validation cache; it is cleared when
// full.
const maxPrograms = 64

type programInfo struct {
	fingerprint uint64
	err         error
}

// Root frame layout of the merge-point function.
const (
	SlotProgram = 1 // record of the user opcodes, as usize
	SlotCell    = 2 // the cell, as usize
	SlotPC      = 3 // the user program counter, as usize

	minLocals = 4
)

// Journal persists traces as they are recorded.
type Journal interface {
	SaveTrace(session uuid.UUID, trace *vm.Trace) error
}

// Stats holds counters for one Driver.
type Stats struct {
	Session       string         `yaml:"session"`
	Visits        uint64         `yaml:"visits"`         // MergePoint calls
	Recordings    uint64         `yaml:"recordings"`     // record runs
	Replays       uint64         `yaml:"replays"`        // trace runs
	GuardFailures uint64         `yaml:"guard-failures"` // replays ending in Blackhole
	Faults        uint64         `yaml:"faults"`         // calls that returned an error
	JournalErrors uint64         `yaml:"journal-errors"` // traces the journal rejected
	Tracer        vm.TracerStats `yaml:"tracer"`
}

// Driver owns a Tracer for its lifetime. It is single-threaded and
// synchronous; it is not safe for concurrent use.
type Driver struct {
	opts    Options
	tracer  *vm.Tracer
	session uuid.UUID
	journal Journal

	programs map[*bytecode.Program]programInfo

	visits        uint64
	recordings    uint64
	replays       uint64
	guardFailures uint64
	faults        uint64
	journalErrors uint64
}

// New creates a driver with an empty trace cache.
func New(opts ...Option) *Driver {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d := &Driver{
		opts:     o,
		tracer:   vm.NewTracer(o.HotThreshold),
		session:  uuid.New(),
		programs: make(map[*bytecode.Program]programInfo),
	}
	d.tracer.MaxTraces = o.MaxTraces
	d.tracer.Optimize = o.Optimize
	d.tracer.OnTrace = d.publish

	log.Debugf("session %s: threshold=%d max-traces=%d optimize=%t disabled=%t",
		d.session, o.HotThreshold, o.MaxTraces, o.Optimize, o.Disabled)
	return d
}

// WithJournal makes d persist every trace it records to j.
func (d *Driver) WithJournal(j Journal) *Driver {
	d.journal = j
	return d
}

// Session identifies this driver's traces in a journal.
func (d *Driver) Session() uuid.UUID {
	return d.session
}

// Options returns the options d was created with.
func (d *Driver) Options() Options {
	return d.opts
}

// Tracer returns the driver's tracer.
func (d *Driver) Tracer() *vm.Tracer {
	return d.tracer
}

// Warm preloads traces, e.g. from a journal, so their loops replay on
// the first visit.
func (d *Driver) Warm(traces []*vm.Trace) {
	for _, t := range traces {
		d.tracer.Install(t)
	}
	log.Infof("warmed trace cache with %d traces", len(traces))
}

// Traces returns the cached traces, oldest first.
func (d *Driver) Traces() []*vm.Trace {
	return d.tracer.Traces()
}

// Stats returns the driver's counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Session:       d.session.String(),
		Visits:        d.visits,
		Recordings:    d.recordings,
		Replays:       d.replays,
		GuardFailures: d.guardFailures,
		Faults:        d.faults,
		JournalErrors: d.journalErrors,
		Tracer:        d.tracer.Stats(),
	}
}

// MergePoint is called by the embedding interpreter at its loop header
// with the current program counter. at names the engine program's
// corresponding loop header; its function must have at least four
// locals, and prog must not change after its first visit (see Forget).
// Depending on the tracer's decision the engine records one iteration,
// replays a cached trace, or does nothing; the returned program counter
// and *cell reflect whatever the engine executed.
//
// A fault aborts the call: the error is returned, *cell is left
// untouched and an in-flight recording is dropped.
func (d *Driver) MergePoint(prog *bytecode.Program, at bytecode.IP, user []uint64, pc uint64, cell *uint64) (uint64, error) {
	d.visits++
	if d.opts.Disabled {
		return pc, nil
	}
	fingerprint, err := d.program(prog)
	if err != nil {
		d.faults++
		return pc, err
	}

	key := vm.NewLoopKey(fingerprint, at, pc)
	decision := d.tracer.Handle(key)

	var next uint64
	switch decision.Action {
	case vm.ActionStartTrace:
		next, err = d.record(prog, at, user, pc, cell)
		if err != nil {
			d.tracer.Abort()
		}
	case vm.ActionTrace:
		next, err = d.replay(prog, at, decision.Trace, user, pc, cell)
	default:
		return pc, nil
	}

	if err != nil {
		d.faults++
		log.Errorf("merge point %s (pc %d): %s", at, pc, err)
		return pc, err
	}
	return next, nil
}

// program validates and fingerprints prog on its first visit. Programs
// are treated as immutable from then on; call Forget after changing one.
func (d *Driver) program(prog *bytecode.Program) (uint64, error) {
	if prog == nil {
		return 0, fmt.Errorf("%w: nil program", bytecode.ErrInvalidProgram)
	}
	info, seen := d.programs[prog]
	if !seen {
		info.err = prog.Validate()
		if info.err == nil {
			info.fingerprint, info.err = prog.Fingerprint()
		}
		if len(d.programs) >= maxPrograms {
			clear(d.programs)
		}
		d.programs[prog] = info
	}
	return info.fingerprint, info.err
}

// Forget drops what d cached about prog, so that the next visit validates
// and fingerprints it again. Traces recorded against the old content stay
// cached but no longer match its loop keys.
func (d *Driver) Forget(prog *bytecode.Program) {
	delete(d.programs, prog)
}

func (d *Driver) record(prog *bytecode.Program, at bytecode.IP, user []uint64, pc uint64, cell *uint64) (uint64, error) {
	d.recordings++
	in, frame, err := seed(prog, at, user, pc, *cell)
	if err != nil {
		return pc, err
	}

	exit, err := in.Record(at, d.tracer)
	if err != nil {
		return pc, err
	}
	if exit == vm.ExitLoop {
		d.tracer.Finish()
	} else {
		// The program finished inside the iteration; there is no loop
		// to replay.
		log.Debugf("recording at %s ended by %s, dropping it", at, exit)
		d.tracer.Abort()
	}
	return readBack(in, frame, cell)
}

func (d *Driver) replay(prog *bytecode.Program, at bytecode.IP, trace *vm.Trace, user []uint64, pc uint64, cell *uint64) (uint64, error) {
	d.replays++
	in, frame, err := seed(prog, at, user, pc, *cell)
	if err != nil {
		return pc, err
	}

	guard, err := in.RunTrace(trace.Code)
	if err != nil {
		return pc, err
	}
	d.guardFailures++
	log.Debugf("trace %016x left at guard %s", uint64(trace.Key), guard.Recovery)

	if _, err := in.Blackhole(guard.Recovery, at); err != nil {
		return pc, err
	}
	return readBack(in, frame, cell)
}

// seed creates an interpreter whose outermost frame runs at.Func with
// the user program, cell and program counter in their slots.
func seed(prog *bytecode.Program, at bytecode.IP, user []uint64, pc, cell uint64) (*vm.Interpreter, *vm.Frame, error) {
	in := vm.NewInterpreter(prog)
	frame, err := in.NewFrame(at.Func)
	if err != nil {
		return nil, nil, &vm.Fault{At: at, Err: err}
	}
	if len(frame.Locals) < minLocals {
		return nil, nil, &vm.Fault{At: at, Err: fmt.Errorf("%w: merge-point function %d has %d locals, need %d",
			vm.ErrIndex, at.Func, len(frame.Locals), minLocals)}
	}

	heap := in.Heap()
	ops := heap.NewStruct(len(user))
	for i, op := range user {
		heap.Store(ops.Fields[i], value.Usize(op))
	}
	heap.Store(frame.Locals[SlotProgram], ops)
	heap.Store(frame.Locals[SlotCell], value.Usize(cell))
	heap.Store(frame.Locals[SlotPC], value.Usize(pc))

	in.PushFrame(frame)
	return in, frame, nil
}

// readBack copies the cell and program counter out of the root frame. The
// frame is held directly since it may already have returned.
func readBack(in *vm.Interpreter, frame *vm.Frame, cell *uint64) (uint64, error) {
	c := in.Heap().Load(frame.Locals[SlotCell])
	pc := in.Heap().Load(frame.Locals[SlotPC])
	if c.Kind != value.KindUsize || pc.Kind != value.KindUsize {
		return 0, &vm.Fault{At: bytecode.IP{Func: frame.Func}, Err: fmt.Errorf("%w: cell is %s and pc is %s, want usize",
			vm.ErrType, c.Kind, pc.Kind)}
	}
	*cell = c.Uint
	return pc.Uint, nil
}

func (d *Driver) publish(trace *vm.Trace) {
	if d.journal == nil {
		return
	}
	if err := d.journal.SaveTrace(d.session, trace); err != nil {
		d.journalErrors++
		log.Errorf("journal trace %016x: %s", uint64(trace.Key), err)
	}
}

// IsFault reports whether err came from the engine rather than from the
// driver's own checks.
func IsFault(err error) bool {
	var f *vm.Fault
	return errors.As(err, &f)
}
