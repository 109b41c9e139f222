package textdiff

import (
	"fmt"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Comparator classifies differences between a baseline and a live copy of a
// code region. It is safe for concurrent use as long as no two calls share a
// baseline buffer.
type Comparator struct {
	whitelist []NopPattern
	symbols   SymbolResolver
	modules   ModuleLocator
	mode      int
	nameLimit int
	log       *logger.Logger
	quiet     bool
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithWhitelist replaces the recognized no-op patterns.
func WithWhitelist(patterns ...NopPattern) Option {
	return func(c *Comparator) {
		c.whitelist = append([]NopPattern(nil), patterns...)
	}
}

// WithAddressMode sets the decoder address size, 32 or 64.
func WithAddressMode(bits int) Option {
	return func(c *Comparator) {
		c.mode = bits
	}
}

// WithSymbolNameLimit sets the maximum symbol name size, terminator included.
func WithSymbolNameLimit(n int) Option {
	return func(c *Comparator) {
		c.nameLimit = n
	}
}

// WithLogger sets the logger accepted patches and violations are reported to.
func WithLogger(l *logger.Logger) Option {
	return func(c *Comparator) {
		c.log = l
	}
}

// WithoutLogging silences the comparator. Violations are still returned.
func WithoutLogging() Option {
	return func(c *Comparator) {
		c.quiet = true
	}
}

// New creates a Comparator. modules may be nil when no code modules exist.
func New(symbols SymbolResolver, modules ModuleLocator, options ...Option) *Comparator {
	c := &Comparator{
		whitelist: AMD64Whitelist(),
		symbols:   symbols,
		modules:   modules,
		mode:      64,
		nameLimit: DefaultSymbolNameLimit,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.modules == nil {
		c.modules = noModules{}
	}

	if c.log == nil && !c.quiet {
		c.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "textdiff"))
	}

	return c
}

// Compare walks live and baseline and returns nil when every difference is a
// legitimate self-modification. Accepted patches are copied into baseline so
// the next call sees them as the known good state. The first violation stops
// the scan and is returned as a *ViolationReport; patches accepted before it
// stay applied.
func (c *Comparator) Compare(live, baseline []byte, region Region) error {
	_, err := c.Reconcile(live, baseline, region)
	return err
}

// Reconcile is Compare that also returns the patches it accepted, including
// those applied before a violation.
func (c *Comparator) Reconcile(live, baseline []byte, region Region) ([]Patch, error) {
	if len(live) != len(baseline) || len(live) != region.Length {
		return nil, fmt.Errorf("%w: live %d, baseline %d, region %d",
			ErrLengthMismatch, len(live), len(baseline), region.Length)
	}

	if len(live) < JumpSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrRegionTooSmall, len(live))
	}

	var patches []Patch

	for i := 0; i < len(live); {
		if live[i] == baseline[i] {
			i++
			continue
		}

		patch, err := c.classify(live, baseline, i, region)
		if err != nil {
			c.warn("Violation in region ", fmt.Sprintf("0x%x", region.Base), ": ", err)
			return patches, err
		}

		c.infoln("Detected legit self-modification at VA", fmt.Sprintf("0x%x", patch.SourceVA),
			"function", patch.Symbol, fmt.Sprintf("[%s]", patch.Direction))

		copy(baseline[i:i+JumpSize], live[i:i+JumpSize])
		patches = append(patches, patch)

		i += JumpSize
	}

	return patches, nil
}

// classify explains the difference at offset i or returns a *ViolationReport.
func (c *Comparator) classify(live, baseline []byte, i int, region Region) (Patch, error) {
	end := min(i+JumpSize, len(live))

	report := &ViolationReport{
		Offset:   i,
		Baseline: append([]byte(nil), baseline[i:end]...),
		Live:     append([]byte(nil), live[i:end]...),
	}

	c.debugln("Offset", fmt.Sprintf("0x%x", i),
		fmt.Sprintf("old[% x]", report.Baseline), fmt.Sprintf("new[% x]", report.Live))

	if end-i < JumpSize {
		report.Kind = ErrUnrecognizedDifference
		return Patch{}, report
	}

	var jumpSide []byte
	switch {
	case matchesAny(c.whitelist, baseline[i:end]):
		report.Direction = DirectionNopToJump
		jumpSide = live[i:end]
	case matchesAny(c.whitelist, live[i:end]):
		report.Direction = DirectionJumpToNop
		jumpSide = baseline[i:end]
	default:
		report.Kind = ErrUnrecognizedDifference
		return Patch{}, report
	}

	jmp, err := DecodeJump(jumpSide, c.mode)
	if err != nil {
		report.Kind = ErrBadOpcode
		if report.Direction == DirectionJumpToNop {
			report.Anomalous = true
			c.warn("[WEIRD] reverted instruction at offset ", fmt.Sprintf("0x%x", i),
				" was not a jump: ", err)
		}
		return Patch{}, report
	}

	src := Rebase(region.Base, 0, uint64(i))
	dst := jmp.Target(src)
	sym1 := c.symbols.ResolveSymbol(src)
	sym2 := c.symbols.ResolveSymbol(dst)

	report.Decoded = true
	report.Displacement = jmp.Displacement
	report.SourceVA = src
	report.DestVA = dst
	report.SourceSymbol = sym1
	report.DestSymbol = sym2

	c.debugln(fmt.Sprintf("[%s]", report.Direction),
		fmt.Sprintf("disp[0x%x] VA1[0x%x] VA2[0x%x] sym1[%s] sym2[%s]", uint32(jmp.Displacement), src, dst, sym1, sym2))

	if err := c.matchSymbols(sym1, sym2, dst, region); err != nil {
		report.Kind = err
		if report.Direction == DirectionJumpToNop {
			report.Anomalous = true
			c.warn("[WEIRD] reverted jump at VA ", fmt.Sprintf("0x%x", src),
				" pointed outside of ", sym1)
		}
		return Patch{}, report
	}

	return Patch{
		Offset:       i,
		Direction:    report.Direction,
		Displacement: jmp.Displacement,
		SourceVA:     src,
		DestVA:       dst,
		Symbol:       sym1,
		Target:       sym2,
	}, nil
}

func (c *Comparator) infoln(v ...interface{}) {
	if !c.quiet {
		c.log.Infoln(v...)
	}
}

func (c *Comparator) debugln(v ...interface{}) {
	if !c.quiet {
		c.log.Debugln(v...)
	}
}

func (c *Comparator) warn(v ...interface{}) {
	if !c.quiet {
		c.log.Warn(v...)
	}
}
