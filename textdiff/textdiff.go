// Package textdiff validates a live copy of a code region against its
// baseline. Every byte difference must be explained by the jump label
// pattern: a whitelisted 5-byte no-op swapped for a near relative jump that
// stays inside the same function (or its compiler-generated cold path), or
// such a jump reverted to the no-op. Anything else is a violation.
package textdiff

// Region describes where a scanned code region is really mapped.
type Region struct {
	// Base is the virtual address of the first byte of the region.
	Base uint64

	// Length is the size of the region in bytes.
	Length int

	// Owner names the module the region belongs to, or "" for core code.
	Owner string
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Base + uint64(r.Length)
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// SymbolResolver maps an address to the name of the function containing it,
// without any offset. Unknown addresses resolve to "".
type SymbolResolver interface {
	ResolveSymbol(addr uint64) string
}

// ModuleLocator returns the module whose code contains addr, if any.
type ModuleLocator interface {
	OwningModule(addr uint64) (string, bool)
}

// SymbolResolverFunc adapts a function to SymbolResolver.
type SymbolResolverFunc func(addr uint64) string

func (f SymbolResolverFunc) ResolveSymbol(addr uint64) string {
	return f(addr)
}

// ModuleLocatorFunc adapts a function to ModuleLocator.
type ModuleLocatorFunc func(addr uint64) (string, bool)

func (f ModuleLocatorFunc) OwningModule(addr uint64) (string, bool) {
	return f(addr)
}

type noModules struct{}

func (noModules) OwningModule(uint64) (string, bool) {
	return "", false
}

// Patch is a difference accepted as a legitimate self-modification.
type Patch struct {
	Offset       int
	Direction    Direction
	Displacement int32
	SourceVA     uint64
	DestVA       uint64
	Symbol       string
	Target       string
}
