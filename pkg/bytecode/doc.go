// Package bytecode defines the instruction set executed by the grass
// engine: opcodes, functions and programs, instruction pointers and the
// guards that the tracer records in place of conditional branches.
//
// # Instruction Format
//
// An instruction is an Op value rather than an encoded byte stream. Each
// Op carries its Opcode plus whichever operand the opcode needs: a slot,
// size, field index, jump distance or function index in N, a constant in
// Value, an operator in Kind, or a Guard. Jumps are relative: Skip and
// SkipIf add N to the program counter, JumpBack and JumpBackIf subtract it.
//
// # Programs
//
// A Program is an ordered function table. Each Function declares how many
// arguments a call pops (Params), how many local cells its frame holds
// (Locals), the opcode index of its loop header (MergePoint) and its code.
// Deferred constants (value.Static) resolve through the function table:
// the referenced function's first opcode must be a Const.
//
// # Traces
//
// A trace is a bare []Op recorded from one path through a hot loop. It
// contains no relative jumps; conditional branches appear as OpGuard.
// EliminateDeadStores can be applied to a finished trace before it is
// cached.
//
// # Serialization
//
// Programs and traces serialize to canonical CBOR (MarshalProgram,
// MarshalOps) for storage in the trace journal or transport between
// processes.
package bytecode
