package bytecode

import (
	"testing"

	"github.com/chazu/grass/pkg/value"
)

func TestEliminateDeadStoreBecomesPop(t *testing.T) {
	code := []Op{ConstI64(1), Store(1), ConstI64(2), Store(2), Load(2)}
	got := EliminateDeadStores(code, nil)
	want := []Op{ConstI64(1), Pop(), ConstI64(2)}
	if !EqualOps(got, want) {
		t.Errorf("got\n%s\nwant\n%s", Disassemble(got), Disassemble(want))
	}
}

func TestEliminateOverwrittenStore(t *testing.T) {
	code := []Op{ConstI64(1), Store(1), ConstI64(2), Store(1)}
	got := EliminateDeadStores(code, []int{1})
	want := []Op{ConstI64(1), Pop(), ConstI64(2), Store(1)}
	if !EqualOps(got, want) {
		t.Errorf("got\n%s\nwant\n%s", Disassemble(got), Disassemble(want))
	}
}

func TestStoreLoadCollapse(t *testing.T) {
	code := []Op{ConstI64(1), Store(3), Load(3), Not()}
	got := EliminateDeadStores(code, nil)
	want := []Op{ConstI64(1), Not()}
	if !EqualOps(got, want) {
		t.Errorf("got\n%s\nwant\n%s", Disassemble(got), Disassemble(want))
	}
}

func TestStoreLoadKeptWhenLiveOut(t *testing.T) {
	code := []Op{ConstI64(1), Store(3), Load(3), Not()}
	got := EliminateDeadStores(code, []int{3})
	if !EqualOps(got, code) {
		t.Errorf("live-out store should survive:\n%s", Disassemble(got))
	}
}

func TestStoreLoadKeptWhenLoadedTwice(t *testing.T) {
	code := []Op{ConstI64(1), Store(3), Load(3), Load(3), Binary(Add)}
	got := EliminateDeadStores(code, nil)
	if !EqualOps(got, code) {
		t.Errorf("store with two uses should survive:\n%s", Disassemble(got))
	}
}

func TestEmptyTupleThenPop(t *testing.T) {
	code := []Op{Load(0), Tuple(0), Pop(), Return()}
	got := EliminateDeadStores(code, []int{0})
	want := []Op{Load(0), Return()}
	if !EqualOps(got, want) {
		t.Errorf("got\n%s\nwant\n%s", Disassemble(got), Disassemble(want))
	}

	// A dead store of an empty tuple disappears entirely.
	got = EliminateDeadStores([]Op{Tuple(0), Store(1)}, nil)
	if len(got) != 0 {
		t.Errorf("expected empty sequence, got\n%s", Disassemble(got))
	}
}

func TestGuardIsBarrier(t *testing.T) {
	g := GuardOp(Guard{Expected: true, Recovery: IP{Func: 0, PC: 9}})
	code := []Op{ConstI64(1), Store(2), Load(4), g, ConstI64(5), Store(2)}
	got := EliminateDeadStores(code, []int{2, 4})
	if !EqualOps(got, code) {
		t.Errorf("store before a guard must survive:\n%s", Disassemble(got))
	}
}

func TestJumpsLeaveCodeUnchanged(t *testing.T) {
	code := []Op{ConstI64(1), Store(1), Skip(1), Noop()}
	got := EliminateDeadStores(code, nil)
	if !EqualOps(got, code) {
		t.Errorf("code with jumps should be unchanged:\n%s", Disassemble(got))
	}
	got[0] = Noop()
	if code[0].Code != OpConst {
		t.Error("result must not alias the input")
	}
}

func TestEliminateDeadStoresIdempotent(t *testing.T) {
	g := GuardOp(Guard{Expected: false, Recovery: IP{Func: 0, PC: 3}})
	cases := []struct {
		code    []Op
		liveOut []int
	}{
		{[]Op{ConstI64(1), Store(1), ConstI64(2), Store(1), Load(1)}, nil},
		{[]Op{Store(1), Store(1), Load(1)}, nil},
		{[]Op{Load(1), Store(1)}, []int{1}},
		{[]Op{Tuple(0), Store(2), ConstI64(3), Store(1), Load(1), Tuple(0), Pop()}, []int{1}},
		{[]Op{Load(2), ConstI64(1), Binary(Sub), Store(2), Load(3), g, Load(3), ConstI64(1), Binary(Add), Store(3)}, []int{1, 2, 3}},
		{[]Op{Const(value.Usize(0)), Store(4), Load(4), Load(4), Store(5), Static(1), Load(5)}, []int{4}},
	}
	for i, tc := range cases {
		once := EliminateDeadStores(tc.code, tc.liveOut)
		twice := EliminateDeadStores(once, tc.liveOut)
		if !EqualOps(once, twice) {
			t.Errorf("case %d not idempotent:\nonce\n%s\ntwice\n%s", i, Disassemble(once), Disassemble(twice))
		}
	}
}

func TestSlots(t *testing.T) {
	got := Slots([]Op{Load(3), Store(1), Load(3), Noop(), Store(0)})
	want := []int{3, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("Slots() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slots()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
