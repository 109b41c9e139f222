package textdiff

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// JumpSize is the length of both a near relative jump and a no-op placeholder.
	JumpSize = 5

	// OpcodeJmpRel32 is the opcode of jmp rel32.
	OpcodeJmpRel32 = 0xe9
)

// JumpInstruction is a decoded near relative jump.
type JumpInstruction struct {
	Opcode       byte
	Displacement int32
}

// DecodeJump decodes the first JumpSize bytes of b as a jmp rel32 in the
// given address mode (32 or 64). Any other encoding is rejected with
// ErrBadOpcode.
func DecodeJump(b []byte, mode int) (JumpInstruction, error) {
	if len(b) < JumpSize {
		return JumpInstruction{}, fmt.Errorf("%w: window of %d bytes", ErrBadOpcode, len(b))
	}

	if b[0] != OpcodeJmpRel32 {
		return JumpInstruction{}, fmt.Errorf("%w: opcode 0x%02x", ErrBadOpcode, b[0])
	}

	inst, err := x86asm.Decode(b[:JumpSize], mode)
	if err != nil {
		return JumpInstruction{}, fmt.Errorf("%w: %v", ErrBadOpcode, err)
	}

	rel, ok := inst.Args[0].(x86asm.Rel)
	if inst.Op != x86asm.JMP || inst.Len != JumpSize || !ok {
		return JumpInstruction{}, fmt.Errorf("%w: decoded %s", ErrBadOpcode, inst.Op)
	}

	return JumpInstruction{
		Opcode:       b[0],
		Displacement: int32(rel),
	}, nil
}

// Target returns the destination of the jump located at src. Only the low
// 32 bits are computed; the high bits are inherited from src, since code
// regions never straddle a 4 GiB boundary.
func (j JumpInstruction) Target(src uint64) uint64 {
	low := uint32(src) + JumpSize + uint32(j.Displacement)
	return src&^0xffffffff | uint64(low)
}

// Rebase translates addr, an address inside a copy mapped at copyBase, to the
// address of the same byte in the region mapped at regionBase.
func Rebase(regionBase, copyBase, addr uint64) uint64 {
	return addr - copyBase + regionBase
}
