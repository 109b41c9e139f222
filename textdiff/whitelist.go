package textdiff

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// NopPattern is an exact 5-byte no-op placeholder that the self-patching
// mechanism installs and later replaces with a near relative jump.
type NopPattern [JumpSize]byte

// Well-known 5-byte atomic no-op encodings.
var (
	// P6Nop5 is nopl 0x0(%rax,%rax,1).
	P6Nop5 = NopPattern{0x0f, 0x1f, 0x44, 0x00, 0x00}

	// K8Nop5 is four operand-size prefixes followed by nop.
	K8Nop5 = NopPattern{0x66, 0x66, 0x66, 0x66, 0x90}

	// GenericNop5 is ds: lea 0x0(%esi,%eiz,1),%esi.
	GenericNop5 = NopPattern{0x3e, 0x8d, 0x74, 0x26, 0x00}
)

// AMD64Whitelist returns the no-op patterns used by the jump label
// mechanism on x86-64.
func AMD64Whitelist() []NopPattern {
	return []NopPattern{P6Nop5, K8Nop5}
}

// I386Whitelist returns the no-op patterns used on 32-bit x86.
func I386Whitelist() []NopPattern {
	return []NopPattern{GenericNop5, P6Nop5}
}

// Matches reports whether b starts with exactly this pattern.
func (p NopPattern) Matches(b []byte) bool {
	return len(b) >= JumpSize && bytes.Equal(p[:], b[:JumpSize])
}

func (p NopPattern) String() string {
	parts := make([]string, len(p))
	for i, b := range p {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

// ParseNopPattern parses a pattern written as hex bytes, optionally separated
// by spaces or commas (e.g. "0f 1f 44 00 00" or "0f,1f,44,00,00").
func ParseNopPattern(s string) (NopPattern, error) {
	var p NopPattern

	clean := strings.NewReplacer(" ", "", ",", "", "\t", "").Replace(s)
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return p, fmt.Errorf("invalid no-op pattern %q: %w", s, err)
	}

	if len(raw) != JumpSize {
		return p, fmt.Errorf("invalid no-op pattern %q: need %d bytes, got %d", s, JumpSize, len(raw))
	}

	if raw[0] == OpcodeJmpRel32 {
		return p, fmt.Errorf("invalid no-op pattern %q: starts with the jump opcode", s)
	}

	copy(p[:], raw)
	return p, nil
}

// matchesAny reports whether b starts with any of the patterns.
func matchesAny(patterns []NopPattern, b []byte) bool {
	for _, p := range patterns {
		if p.Matches(b) {
			return true
		}
	}
	return false
}
