package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadKallsyms parses symbols in /proc/kallsyms format:
//
//	ffffffff81000000 T _stext
//	ffffffffc0a01000 t ext4_fill_super	[ext4]
//
// Only text symbols are kept. Zeroed addresses, as printed to readers
// without the privilege to see them, are skipped.
func LoadKallsyms(r io.Reader) (*Table, error) {
	var syms []Symbol

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		if !isTextType(fields[1]) {
			continue
		}

		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid kallsyms address %q: %w", fields[0], err)
		}
		if addr == 0 {
			continue
		}

		sym := Symbol{
			Start: addr,
			Name:  fields[2],
		}
		if len(fields) > 3 {
			sym.Module = strings.Trim(fields[3], "[]")
		}

		syms = append(syms, sym)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read kallsyms: %w", err)
	}

	return NewTable(syms), nil
}

// LoadKallsymsFile parses the kallsyms file at path.
func LoadKallsymsFile(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadKallsyms(file)
}

func isTextType(t string) bool {
	switch t {
	case "t", "T", "w", "W":
		return true
	}
	return false
}
