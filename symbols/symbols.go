// Package symbols resolves code addresses to the name of the function
// containing them.
package symbols

import (
	"fmt"
	"sort"
)

// Symbol is a function in the address space.
type Symbol struct {
	Start uint64
	// Size of the function, 0 when unknown. Unsized symbols extend to the
	// next symbol.
	Size   uint64
	Name   string
	Module string
}

// String renders the symbol the way it is resolved: module symbols carry
// their module name after a space.
func (s Symbol) String() string {
	if s.Module == "" {
		return s.Name
	}
	return fmt.Sprintf("%s [%s]", s.Name, s.Module)
}

// Table is an address ordered symbol table.
type Table struct {
	syms []Symbol
}

// NewTable builds a table from syms in any order.
func NewTable(syms []Symbol) *Table {
	t := &Table{syms: append([]Symbol(nil), syms...)}

	// ResolveSymbol binary searches by start address
	sort.SliceStable(t.syms, func(i, j int) bool {
		return t.syms[i].Start < t.syms[j].Start
	})

	return t
}

// Len returns the number of symbols in the table.
func (t *Table) Len() int {
	return len(t.syms)
}

// Merge returns a table holding the symbols of t and other.
func (t *Table) Merge(other *Table) *Table {
	return NewTable(append(append([]Symbol(nil), t.syms...), other.syms...))
}

// Lookup returns the symbol containing addr.
func (t *Table) Lookup(addr uint64) (*Symbol, bool) {
	// first symbol starting after addr
	i := sort.Search(len(t.syms), func(i int) bool {
		return t.syms[i].Start > addr
	})
	if i == 0 {
		return nil, false
	}

	sym := &t.syms[i-1]
	if sym.Size != 0 && addr-sym.Start >= sym.Size {
		return nil, false
	}

	return sym, true
}

// ResolveSymbol returns the name of the symbol containing addr, without
// offset, or "" when no symbol covers it.
func (t *Table) ResolveSymbol(addr uint64) string {
	sym, ok := t.Lookup(addr)
	if !ok {
		return ""
	}
	return sym.String()
}
