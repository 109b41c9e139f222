package textdiff

import "strings"

const (
	// ColdSuffix separates a function name from its cold path clone number.
	ColdSuffix = ".cold."

	// DefaultSymbolNameLimit bounds resolved symbol names, terminator included.
	DefaultSymbolNameLimit = 512
)

// matchSymbols decides whether a jump from src (in function sym1) to dst (in
// function sym2) stays within the same function.
func (c *Comparator) matchSymbols(sym1, sym2 string, dst uint64, region Region) error {
	if sym1 == "" || sym2 == "" {
		return ErrSymbolMismatch
	}

	if sym1 == sym2 {
		return nil
	}

	cold, err := c.coldCandidate(sym1, dst, region)
	if err != nil {
		return err
	}

	if strings.HasPrefix(sym2, cold) {
		return nil
	}

	return ErrSymbolMismatch
}

// coldCandidate builds the prefix every cold path clone of sym1 starts with.
// Module symbols carry their module name after the first space, which is cut
// off before the suffix is appended.
func (c *Comparator) coldCandidate(sym1 string, dst uint64, region Region) (string, error) {
	name := sym1

	mod, inModule := c.modules.OwningModule(dst)
	if region.Owner != "" {
		if !inModule || mod != region.Owner {
			return "", ErrSymbolMismatch
		}
		if i := strings.IndexByte(sym1, ' '); i >= 0 {
			name = sym1[:i]
		}
	} else if inModule {
		// core code never legitimately jumps into a module's cold path
		return "", ErrSymbolMismatch
	}

	if len(name)+len(ColdSuffix)+1 > c.nameLimit {
		return "", ErrColdPathNameOverflow
	}

	return name + ColdSuffix, nil
}
