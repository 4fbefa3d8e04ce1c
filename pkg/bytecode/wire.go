package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"
)

// WireVersion is the current version of the CBOR program format.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// programEnvelope versions the serialized program.
type programEnvelope struct {
	Version uint16   `cbor:"1,keyasint"`
	Program *Program `cbor:"2,keyasint"`
}

// opsEnvelope versions a serialized opcode sequence (a trace).
type opsEnvelope struct {
	Version uint16 `cbor:"1,keyasint"`
	Code    []Op   `cbor:"2,keyasint"`
}

// MarshalProgram serializes a Program to CBOR bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(programEnvelope{Version: WireVersion, Program: p})
}

// UnmarshalProgram deserializes and validates a Program from CBOR bytes.
func UnmarshalProgram(data []byte) (*Program, error) {
	var env programEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if env.Version != WireVersion {
		return nil, fmt.Errorf("bytecode: unsupported program version %d (want %d)", env.Version, WireVersion)
	}
	if env.Program == nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: empty envelope")
	}
	if err := env.Program.Validate(); err != nil {
		return nil, err
	}
	return env.Program, nil
}

// Fingerprint hashes the canonical encoding of p. Programs with the same
// functions and code share a fingerprint whatever their address.
func (p *Program) Fingerprint() (uint64, error) {
	data, err := MarshalProgram(p)
	if err != nil {
		return 0, fmt.Errorf("bytecode: fingerprint: %w", err)
	}
	return xxh3.Hash(data), nil
}

// MarshalOps serializes an opcode sequence to CBOR bytes.
func MarshalOps(code []Op) ([]byte, error) {
	return cborEncMode.Marshal(opsEnvelope{Version: WireVersion, Code: code})
}

// UnmarshalOps deserializes an opcode sequence from CBOR bytes.
func UnmarshalOps(data []byte) ([]Op, error) {
	var env opsEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal ops: %w", err)
	}
	if env.Version != WireVersion {
		return nil, fmt.Errorf("bytecode: unsupported ops version %d (want %d)", env.Version, WireVersion)
	}
	return env.Code, nil
}
