package vm

import (
	"testing"

	"github.com/chazu/grass/pkg/bytecode"
)

func TestLoopKeyDistinguishesPositions(t *testing.T) {
	at := bytecode.IP{Func: 0, PC: 1}
	if NewLoopKey(7, at, 3) != NewLoopKey(7, at, 3) {
		t.Error("equal inputs should hash equally")
	}

	keys := map[LoopKey]string{}
	for name, k := range map[string]LoopKey{
		"pc 0":          NewLoopKey(7, at, 0),
		"pc 1":          NewLoopKey(7, at, 1),
		"other pc":      NewLoopKey(7, bytecode.IP{Func: 0, PC: 2}, 0),
		"other func":    NewLoopKey(7, bytecode.IP{Func: 1, PC: 1}, 0),
		"swapped ip":    NewLoopKey(7, bytecode.IP{Func: 1, PC: 0}, 0),
		"other program": NewLoopKey(8, at, 0),
	} {
		if prev, dup := keys[k]; dup {
			t.Errorf("%s collides with %s", name, prev)
		}
		keys[k] = name
	}
}
