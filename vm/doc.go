// Package vm implements the grass execution engine.
//
// This package contains:
//   - the baseline interpreter (Execute) and its recording variant (Record)
//   - the trace executor (RunTrace) and guard-failure recovery (Blackhole)
//   - the hotness profiler that counts merge-point visits
//   - the Tracer that decides when to record and caches finished traces
//
// All four execution modes share one per-opcode evaluation function, so
// a trace replay and a baseline run of the same opcodes produce the same
// heap state.
//
// An Interpreter is single-threaded and lives for one merge-point
// invocation. A Tracer outlives interpreters; it is not safe for
// concurrent use.
package vm
