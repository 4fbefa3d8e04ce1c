package bytecode

import (
	"fmt"

	"github.com/chazu/grass/pkg/value"
)

// Opcode identifies a bytecode instruction.
type Opcode uint8

const (
	// ========================================================================
	// Miscellaneous
	// ========================================================================

	OpNoop  Opcode = iota // No operation
	OpPanic               // Abort the invocation
	OpConst               // Push Op.Value
	OpPop                 // Discard top of stack

	// ========================================================================
	// Records
	// ========================================================================

	OpTuple     // Push a record of N placeholder cells
	OpTupleInit // Pop value, write field N of the record left on top
	OpTupleGet  // Pop record, push place of field N
	OpTupleSet  // Pop record, pop value, write field N
	OpArray     // Pop N values (last element on top), push record
	OpRepeat    // Pop value, push record of N copies
	OpLen       // Pop record, push its length as usize
	OpGetIndex  // Pop record, pop usize index, push place of element
	OpAssignIdx // Pop record, pop usize index, pop value, write element

	// ========================================================================
	// Places
	// ========================================================================

	OpUse    // Materialize top of stack
	OpUnsize // Materialize top of stack
	OpRef    // Place -> pointer value
	OpDeref  // Pointer value -> place
	OpLoad   // Push place of local N
	OpStore  // Pop value, write it into local N

	// ========================================================================
	// Arithmetic and logic
	// ========================================================================

	OpBinOp        // Pop right, pop left, push left <Kind> right
	OpCheckedBinOp // Like OpBinOp, pushes (result, false)
	OpNot          // Boolean negation
	OpNeg          // Signed negation

	// ========================================================================
	// Control flow
	// ========================================================================

	OpSkip       // Jump forward N
	OpJumpBack   // Jump backward N
	OpSkipIf     // Pop bool, jump forward N if true
	OpJumpBackIf // Pop bool, jump backward N if true
	OpCall       // Pop function reference and its arguments, enter callee
	OpStatic     // Enter function N without arguments
	OpReturn     // Leave the current frame
	OpGuard      // Trace only: check top-of-stack bool against Op.Guard
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name        string // Human-readable name
	HasOperand  bool   // Whether Op.N is meaningful
	Jump        bool   // Relative control transfer
	Conditional bool   // Pops a bool to decide the transfer
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNoop:  {"NOOP", false, false, false},
	OpPanic: {"PANIC", false, false, false},
	OpConst: {"CONST", false, false, false},
	OpPop:   {"POP", false, false, false},

	OpTuple:     {"TUPLE", true, false, false},
	OpTupleInit: {"TUPLE_INIT", true, false, false},
	OpTupleGet:  {"TUPLE_GET", true, false, false},
	OpTupleSet:  {"TUPLE_SET", true, false, false},
	OpArray:     {"ARRAY", true, false, false},
	OpRepeat:    {"REPEAT", true, false, false},
	OpLen:       {"LEN", false, false, false},
	OpGetIndex:  {"GET_INDEX", false, false, false},
	OpAssignIdx: {"ASSIGN_INDEX", false, false, false},

	OpUse:    {"USE", false, false, false},
	OpUnsize: {"UNSIZE", false, false, false},
	OpRef:    {"REF", false, false, false},
	OpDeref:  {"DEREF", false, false, false},
	OpLoad:   {"LOAD", true, false, false},
	OpStore:  {"STORE", true, false, false},

	OpBinOp:        {"BINOP", false, false, false},
	OpCheckedBinOp: {"CHECKED_BINOP", false, false, false},
	OpNot:          {"NOT", false, false, false},
	OpNeg:          {"NEG", false, false, false},

	OpSkip:       {"SKIP", true, true, false},
	OpJumpBack:   {"JUMP_BACK", true, true, false},
	OpSkipIf:     {"SKIP_IF", true, true, true},
	OpJumpBackIf: {"JUMP_BACK_IF", true, true, true},
	OpCall:       {"CALL", false, false, false},
	OpStatic:     {"STATIC", true, false, false},
	OpReturn:     {"RETURN", false, false, false},
	OpGuard:      {"GUARD", false, false, false},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true for the four relative jump opcodes.
func (op Opcode) IsJump() bool {
	return GetOpcodeInfo(op).Jump
}

// IsConditional returns true for jumps that depend on a popped bool.
func (op Opcode) IsConditional() bool {
	return GetOpcodeInfo(op).Conditional
}

// IsCall returns true if this opcode enters a new frame.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpStatic
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// BinOp selects the operator of OpBinOp and OpCheckedBinOp.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	BitXor
	BitAnd
	BitOr
	Shl
	Shr
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
)

var binOpNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Rem: "rem",
	BitXor: "xor", BitAnd: "and", BitOr: "or", Shl: "shl", Shr: "shr",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
}

func (k BinOp) String() string {
	if int(k) < len(binOpNames) {
		return binOpNames[k]
	}
	return fmt.Sprintf("BinOp(%d)", uint8(k))
}

// IsComparison reports whether k yields a bool.
func (k BinOp) IsComparison() bool {
	return k >= Eq && k <= Ge
}

// IP identifies an instruction: opcode PC of function Func.
type IP struct {
	Func int `cbor:"1,keyasint"`
	PC   int `cbor:"2,keyasint"`
}

// Next returns the instruction following ip.
func (ip IP) Next() IP {
	return IP{Func: ip.Func, PC: ip.PC + 1}
}

func (ip IP) String() string {
	return fmt.Sprintf("%d:%d", ip.Func, ip.PC)
}

// Guard is a recorded branch outcome. A trace stays valid while the
// branch keeps resolving to Expected; otherwise execution resumes in the
// baseline interpreter at Recovery.
type Guard struct {
	Expected bool `cbor:"1,keyasint"`
	Recovery IP   `cbor:"2,keyasint"`
}

// Op is one instruction. Which fields are meaningful depends on Code.
type Op struct {
	Code  Opcode      `cbor:"1,keyasint"`
	N     int         `cbor:"2,keyasint,omitempty"` // slot, size, field, distance or function
	Value value.Value `cbor:"3,keyasint,omitempty"` // OpConst
	Kind  BinOp       `cbor:"4,keyasint,omitempty"` // OpBinOp, OpCheckedBinOp
	Guard Guard       `cbor:"5,keyasint,omitempty"` // OpGuard
	Site  IP          `cbor:"6,keyasint,omitempty"` // call site of a recorded OpCall/OpStatic
}

// Constructors

func Noop() Op { return Op{Code: OpNoop} }
func Panic() Op { return Op{Code: OpPanic} }
func Const(v value.Value) Op { return Op{Code: OpConst, Value: v} }
func Pop() Op { return Op{Code: OpPop} }
func Tuple(n int) Op { return Op{Code: OpTuple, N: n} }
func TupleInit(i int) Op { return Op{Code: OpTupleInit, N: i} }
func TupleGet(i int) Op { return Op{Code: OpTupleGet, N: i} }
func TupleSet(i int) Op { return Op{Code: OpTupleSet, N: i} }
func Array(n int) Op { return Op{Code: OpArray, N: n} }
func Repeat(n int) Op { return Op{Code: OpRepeat, N: n} }
func Len() Op { return Op{Code: OpLen} }
func GetIndex() Op { return Op{Code: OpGetIndex} }
func AssignIndex() Op { return Op{Code: OpAssignIdx} }
func Use() Op { return Op{Code: OpUse} }
func Unsize() Op { return Op{Code: OpUnsize} }
func Ref() Op { return Op{Code: OpRef} }
func Deref() Op { return Op{Code: OpDeref} }
func Load(slot int) Op { return Op{Code: OpLoad, N: slot} }
func Store(slot int) Op { return Op{Code: OpStore, N: slot} }
func Binary(k BinOp) Op { return Op{Code: OpBinOp, Kind: k} }
func CheckedBinary(k BinOp) Op { return Op{Code: OpCheckedBinOp, Kind: k} }
func Not() Op { return Op{Code: OpNot} }
func Neg() Op { return Op{Code: OpNeg} }
func Skip(n int) Op { return Op{Code: OpSkip, N: n} }
func JumpBack(n int) Op { return Op{Code: OpJumpBack, N: n} }
func SkipIf(n int) Op { return Op{Code: OpSkipIf, N: n} }
func JumpBackIf(n int) Op { return Op{Code: OpJumpBackIf, N: n} }
func Call() Op { return Op{Code: OpCall} }
func Static(fn int) Op { return Op{Code: OpStatic, N: fn} }
func Return() Op { return Op{Code: OpReturn} }
func GuardOp(g Guard) Op { return Op{Code: OpGuard, Guard: g} }
func ConstUsize(v uint64) Op { return Const(value.Usize(v)) }
func ConstBool(v bool) Op { return Const(value.Bool(v)) }
func ConstI64(v int64) Op { return Const(value.I64(v)) }
func ConstU64(v uint64) Op { return Const(value.U64(v)) }
func ConstFunc(fn int) Op { return Const(value.Func(fn)) }
func ConstStatic(fn int) Op { return Const(value.Static(fn)) }
