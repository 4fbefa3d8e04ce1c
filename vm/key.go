package vm

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/chazu/grass/pkg/bytecode"
)

// LoopKey identifies a loop position: a merge point in a particular
// engine program combined with the embedding program's counter there. Two
// visits share a key exactly when they are the same user-level loop header
// of the same program.
type LoopKey uint64

// NewLoopKey hashes the program fingerprint (see Program.Fingerprint),
// the merge-point ip and pc.
func NewLoopKey(program uint64, at bytecode.IP, pc uint64) LoopKey {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], program)
	binary.LittleEndian.PutUint64(buf[8:], uint64(at.Func))
	binary.LittleEndian.PutUint64(buf[16:], uint64(at.PC))
	binary.LittleEndian.PutUint64(buf[24:], pc)
	return LoopKey(xxh3.Hash(buf[:]))
}
