package bytecode

import (
	"fmt"
	"strings"
)

// String returns a one-line rendering of the instruction.
func (o Op) String() string {
	switch o.Code {
	case OpConst:
		return fmt.Sprintf("%s %s", o.Code, o.Value)
	case OpBinOp, OpCheckedBinOp:
		return fmt.Sprintf("%s %s", o.Code, o.Kind)
	case OpGuard:
		return fmt.Sprintf("%s expect=%t recover=%s", o.Code, o.Guard.Expected, o.Guard.Recovery)
	case OpCall:
		if o.Site != (IP{}) {
			return fmt.Sprintf("%s site=%s", o.Code, o.Site)
		}
		return o.Code.String()
	}
	if GetOpcodeInfo(o.Code).HasOperand {
		return fmt.Sprintf("%s %d", o.Code, o.N)
	}
	return o.Code.String()
}

// Disassemble returns a listing of a bare opcode sequence, such as a trace.
func Disassemble(code []Op) string {
	var sb strings.Builder
	writeCode(&sb, code, -1)
	return sb.String()
}

// Disassemble returns a human-readable listing of the whole program.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for i, fn := range p.Functions {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fn.disassembleHeader(i))
		writeCode(&sb, fn.Code, fn.MergePoint)
	}
	return sb.String()
}

func (fn *Function) disassembleHeader(idx int) string {
	name := fn.Name
	if name == "" {
		name = fmt.Sprintf("fn%d", idx)
	}
	return fmt.Sprintf("; === %s ===\n; Params: %d  Locals: %d  MergePoint: %d\n",
		name, fn.Params, fn.Locals, fn.MergePoint)
}

func writeCode(sb *strings.Builder, code []Op, mergePoint int) {
	for pc, op := range code {
		marker := "  "
		if pc == mergePoint {
			marker = "=>"
		}
		line := fmt.Sprintf("%s %04d  %s", marker, pc, op)
		if target, ok := jumpTarget(op, pc); ok {
			line += fmt.Sprintf("  ; -> %04d", target)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}

func jumpTarget(op Op, pc int) (int, bool) {
	switch op.Code {
	case OpSkip, OpSkipIf:
		return pc + op.N, true
	case OpJumpBack, OpJumpBackIf:
		return pc - op.N, true
	}
	return 0, false
}
