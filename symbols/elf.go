package symbols

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

// LoadELF reads the function symbols of an ELF image. bias is added to every
// symbol value, use it for position independent images loaded at an offset.
// module is recorded on every symbol, leave it empty for the main image.
func LoadELF(r io.ReaderAt, bias uint64, module string) (*Table, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer f.Close()

	elfSyms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		elfSyms, err = f.DynamicSymbols()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}

	var syms []Symbol
	for _, s := range elfSyms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}

		syms = append(syms, Symbol{
			Start:  s.Value + bias,
			Size:   s.Size,
			Name:   s.Name,
			Module: module,
		})
	}

	if len(syms) == 0 {
		return nil, fmt.Errorf("no function symbols found")
	}

	return NewTable(syms), nil
}

// LoadBias returns the bias to pass to LoadELF for an image whose first page
// (file offset 0) is mapped at mapped. Images that are not position
// independent have no bias.
func LoadBias(r io.ReaderAt, mapped uint64) (uint64, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return 0, nil
	}

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Off == 0 {
			return mapped - prog.Vaddr, nil
		}
	}

	return mapped, nil
}

// LoadMappedELFFile reads the function symbols of the ELF image at path that
// is mapped at mapped, applying its load bias.
func LoadMappedELFFile(path string, mapped uint64, module string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	bias, err := LoadBias(file, mapped)
	file.Close()
	if err != nil {
		return nil, err
	}

	return LoadELFFile(path, bias, module)
}

// LoadELFFile reads the function symbols of the ELF image at path.
func LoadELFFile(path string, bias uint64, module string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadELF(file, bias, module)
}
