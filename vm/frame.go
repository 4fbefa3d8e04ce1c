package vm

import (
	"github.com/chazu/grass/pkg/bytecode"
	"github.com/chazu/grass/pkg/value"
)

// Frame is one activation: the function being executed, its locals and
// where to resume when it returns. A nil Return marks the outermost frame.
type Frame struct {
	Func   int
	Locals []value.CellID
	Return *bytecode.IP
}

// Local returns the cell of local slot i.
func (f *Frame) Local(i int) (value.CellID, bool) {
	if i < 0 || i >= len(f.Locals) {
		return 0, false
	}
	return f.Locals[i], true
}
