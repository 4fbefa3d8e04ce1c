package bytecode

// EliminateDeadStores runs a single backward pass over a straight-line
// opcode sequence:
//
//   - a Store whose value is never loaded before the slot is stored again
//     (or before the end, for slots not in liveOut) becomes a Pop
//   - a Store immediately followed by the only Load of its value is
//     removed together with that Load, leaving the value on the stack
//   - Tuple(0) immediately followed by Pop is removed
//
// Guards, calls and returns are barriers: every liveOut slot counts as
// read there, because a failing guard hands the frame to the baseline
// interpreter and a call switches frames. Sequences containing relative
// jumps are returned unchanged since removing opcodes would shift their
// targets. The pass is idempotent.
func EliminateDeadStores(code []Op, liveOut []int) []Op {
	for _, op := range code {
		if op.Code.IsJump() {
			out := make([]Op, len(code))
			copy(out, code)
			return out
		}
	}

	uses := make(map[int]int)
	markLive := func() {
		for _, slot := range liveOut {
			if uses[slot] == 0 {
				uses[slot] = 1
			}
		}
	}
	markLive()

	rev := make([]Op, 0, len(code))
	last := func() (Op, bool) {
		if len(rev) == 0 {
			return Op{}, false
		}
		return rev[len(rev)-1], true
	}

	for i := len(code) - 1; i >= 0; i-- {
		op := code[i]
		switch {
		case op.Code == OpLoad:
			uses[op.N]++
			rev = append(rev, op)

		case op.Code == OpStore:
			slot := op.N
			if uses[slot] == 0 {
				rev = append(rev, Pop())
				continue
			}
			if next, ok := last(); ok && next.Code == OpLoad && next.N == slot && uses[slot] == 1 {
				rev = rev[:len(rev)-1]
				uses[slot] = 0
				continue
			}
			rev = append(rev, op)
			uses[slot] = 0

		case op.Code == OpTuple && op.N == 0:
			if next, ok := last(); ok && next.Code == OpPop {
				rev = rev[:len(rev)-1]
				continue
			}
			rev = append(rev, op)

		case op.Code == OpGuard || op.Code.IsCall() || op.Code == OpReturn:
			markLive()
			rev = append(rev, op)

		default:
			rev = append(rev, op)
		}
	}

	out := make([]Op, len(rev))
	for i, op := range rev {
		out[len(rev)-1-i] = op
	}
	return out
}

// Slots returns every local slot loaded or stored by code, in first-use
// order.
func Slots(code []Op) []int {
	seen := make(map[int]bool)
	var slots []int
	for _, op := range code {
		if (op.Code == OpLoad || op.Code == OpStore) && !seen[op.N] {
			seen[op.N] = true
			slots = append(slots, op.N)
		}
	}
	return slots
}
