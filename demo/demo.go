// Package demo is a toy counter language used to exercise the engine.
//
// A user program is a list of opcodes over a single cell:
//
//	DEC  decrement the cell
//	REP  if the cell is positive, go back one opcode
//	INC  increment the cell
//
// The package carries the language twice: as a native Go dispatch loop
// (RunNative, and Run, which calls the engine at the loop header) and as
// engine bytecode performing one dispatch step (Program).
package demo

import (
	"github.com/chazu/grass/pkg/bytecode"
)

// User-level opcodes.
const (
	DEC uint64 = 0
	REP uint64 = 1
	INC uint64 = 2
)

// Reference user programs.
var (
	// Counter counts the cell down to zero.
	Counter = []uint64{DEC, REP}

	// Interleaved counts down, up by five, down again and up by one.
	Interleaved = []uint64{DEC, REP, INC, INC, INC, INC, INC, DEC, REP, INC}
)

// Entry is the loop header of Program's step function.
var Entry = bytecode.IP{Func: 0, PC: 1}

// Engine is the merge-point API Run drives; *driver.Driver implements it.
type Engine interface {
	MergePoint(prog *bytecode.Program, at bytecode.IP, user []uint64, pc uint64, cell *uint64) (uint64, error)
}

// Locals of the step function. Slots 1 to 3 are seeded by the driver.
const (
	slotProgram = 1
	slotCell    = 2
	slotPC      = 3
	slotOpcode  = 4
	numLocals   = 5
)

// Program returns the engine rendition of the dispatch loop: one
// function that decodes the opcode at pc, applies it to the cell,
// advances pc and jumps back to its header, returning once pc runs off
// the end of the user program.
func Program() *bytecode.Program {
	code := []bytecode.Op{
		bytecode.Noop(),

		// 1: header; halt once pc >= len(program)
		bytecode.Load(slotPC),
		bytecode.Load(slotProgram),
		bytecode.Len(),
		bytecode.Binary(bytecode.Ge),
		bytecode.SkipIf(40), // -> 45

		// 6: fetch
		bytecode.Load(slotPC),
		bytecode.Load(slotProgram),
		bytecode.GetIndex(),
		bytecode.Store(slotOpcode),

		// 10: DEC
		bytecode.Load(slotOpcode),
		bytecode.ConstUsize(DEC),
		bytecode.Binary(bytecode.Eq),
		bytecode.Not(),
		bytecode.SkipIf(6), // -> 20
		bytecode.Load(slotCell),
		bytecode.ConstUsize(1),
		bytecode.Binary(bytecode.Sub),
		bytecode.Store(slotCell),
		bytecode.Skip(21), // -> 40

		// 20: INC
		bytecode.Load(slotOpcode),
		bytecode.ConstUsize(INC),
		bytecode.Binary(bytecode.Eq),
		bytecode.Not(),
		bytecode.SkipIf(6), // -> 30
		bytecode.Load(slotCell),
		bytecode.ConstUsize(1),
		bytecode.Binary(bytecode.Add),
		bytecode.Store(slotCell),
		bytecode.Skip(11), // -> 40

		// 30: REP
		bytecode.Load(slotCell),
		bytecode.ConstUsize(0),
		bytecode.Binary(bytecode.Gt),
		bytecode.Not(),
		bytecode.SkipIf(6), // -> 40
		bytecode.Load(slotPC),
		bytecode.ConstUsize(1),
		bytecode.Binary(bytecode.Sub),
		bytecode.Store(slotPC),
		bytecode.JumpBack(39), // -> 0

		// 40: advance
		bytecode.Load(slotPC),
		bytecode.ConstUsize(1),
		bytecode.Binary(bytecode.Add),
		bytecode.Store(slotPC),
		bytecode.JumpBack(44), // -> 0

		// 45
		bytecode.Return(),
	}

	return bytecode.NewProgram(&bytecode.Function{
		Name:       "step",
		Locals:     numLocals,
		MergePoint: Entry.PC,
		Code:       code,
	})
}

// RunNative runs a user program without the engine and returns the
// final cell and program counter.
func RunNative(user []uint64, cell uint64) (uint64, uint64) {
	var pc uint64
	for pc < uint64(len(user)) {
		pc, cell = step(user, pc, cell)
	}
	return cell, pc
}

// Run runs a user program natively, calling e at the loop header before
// every step. Whatever the engine executed is reflected in the program
// counter and cell it hands back.
func Run(e Engine, user []uint64, cell uint64) (uint64, uint64, error) {
	prog := Program()
	var pc uint64
	for {
		next, err := e.MergePoint(prog, Entry, user, pc, &cell)
		if err != nil {
			return cell, pc, err
		}
		pc = next
		if pc >= uint64(len(user)) {
			return cell, pc, nil
		}
		pc, cell = step(user, pc, cell)
	}
}

func step(user []uint64, pc, cell uint64) (uint64, uint64) {
	switch user[pc] {
	case DEC:
		cell--
	case INC:
		cell++
	default:
		if cell > 0 {
			return pc - 1, cell
		}
	}
	return pc + 1, cell
}
