package textdiff

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnrecognizedDifference is returned when bytes differ and neither side
	// holds a whitelisted no-op.
	ErrUnrecognizedDifference = errors.New("unrecognized difference")

	// ErrBadOpcode is returned when the side expected to hold the jump does not
	// decode as jmp rel32.
	ErrBadOpcode = errors.New("bad opcode")

	// ErrSymbolMismatch is returned when the jump leaves the function it lives in
	// and does not land in that function's cold path.
	ErrSymbolMismatch = errors.New("symbol mismatch")

	// ErrColdPathNameOverflow is returned when the cold path candidate name does
	// not fit the symbol name limit. It is a kind of ErrSymbolMismatch.
	ErrColdPathNameOverflow = fmt.Errorf("cold path name overflow: %w", ErrSymbolMismatch)

	// ErrLengthMismatch is returned when the live copy, the baseline and the
	// region disagree on length.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrRegionTooSmall is returned for regions shorter than JumpSize.
	ErrRegionTooSmall = errors.New("region too small")
)

// Direction is the kind of transition observed at a difference.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionNopToJump
	DirectionJumpToNop
)

func (d Direction) String() string {
	switch d {
	case DirectionNopToJump:
		return "NOP->JMP"
	case DirectionJumpToNop:
		return "JMP->NOP"
	default:
		return "unknown"
	}
}

// ViolationReport describes the first difference that could not be explained
// as a legitimate self-modification.
type ViolationReport struct {
	Kind      error
	Offset    int
	Direction Direction

	// Baseline and Live hold the window starting at Offset in each buffer.
	Baseline []byte
	Live     []byte

	// The fields below are only meaningful when Decoded is set.
	Decoded      bool
	Displacement int32
	SourceVA     uint64
	DestVA       uint64
	SourceSymbol string
	DestSymbol   string

	// Anomalous is set for rejected JMP->NOP reverts, which the platform
	// itself should never produce.
	Anomalous bool
}

func (v *ViolationReport) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%v at offset 0x%x", v.Kind, v.Offset)
	if v.Direction != DirectionUnknown {
		fmt.Fprintf(&sb, " [%s]", v.Direction)
	}
	fmt.Fprintf(&sb, " old[% x] new[% x]", v.Baseline, v.Live)

	if v.Decoded {
		fmt.Fprintf(&sb, " VA[0x%x] -> VA[0x%x] sym[%s] -> sym[%s]",
			v.SourceVA, v.DestVA, v.SourceSymbol, v.DestSymbol)
	}

	if v.Anomalous {
		sb.WriteString(" (anomalous)")
	}

	return sb.String()
}

func (v *ViolationReport) Unwrap() error {
	return v.Kind
}
