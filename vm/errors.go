package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/grass/pkg/bytecode"
)

// Sentinel errors wrapped by Fault.
var (
	ErrStackUnderflow    = errors.New("operand stack underflow")
	ErrNoFrame           = errors.New("no active frame")
	ErrNoFunction        = errors.New("no such function")
	ErrType              = errors.New("type mismatch")
	ErrIndex             = errors.New("index out of range")
	ErrPanic             = errors.New("panic opcode executed")
	ErrUnimplemented     = errors.New("unimplemented opcode")
	ErrBadJump           = errors.New("control transfer out of range")
	ErrDivideByZero      = errors.New("integer division by zero")
	ErrGuardOutsideTrace = errors.New("guard executed outside a trace")
	ErrEmptyTrace        = errors.New("empty trace")
)

// Fault is a runtime error raised while executing an opcode. It aborts the
// interpreter invocation; there is no in-interpreter recovery.
type Fault struct {
	Op    bytecode.Op
	At    bytecode.IP
	Trace bool // At.PC is a trace position rather than a function offset
	Err   error
}

func (f *Fault) Error() string {
	where := f.At.String()
	if f.Trace {
		where = fmt.Sprintf("trace+%d", f.At.PC)
	}
	return fmt.Sprintf("fault at %s (%s): %v", where, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// IsFault reports whether err is (or wraps) a Fault and returns it.
func IsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
