// Package modules tracks dynamically loaded code units and answers which of
// them, if any, owns an address.
package modules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"textguard/process/memory_map"
)

// Module is a loaded code unit.
type Module struct {
	Name string
	Base uint64
	Size uint64
}

// Contains reports whether addr is inside the module's code.
func (m Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

// Registry is an address ordered set of modules.
type Registry struct {
	mods []Module
}

// NewRegistry builds a registry from mods in any order.
func NewRegistry(mods []Module) *Registry {
	r := &Registry{mods: append([]Module(nil), mods...)}

	sort.Slice(r.mods, func(i, j int) bool {
		return r.mods[i].Base < r.mods[j].Base
	})

	return r
}

// Modules returns a copy of the registered modules.
func (r *Registry) Modules() []Module {
	return append([]Module(nil), r.mods...)
}

// OwningModule returns the name of the module containing addr.
func (r *Registry) OwningModule(addr uint64) (string, bool) {
	i := sort.Search(len(r.mods), func(i int) bool {
		return r.mods[i].Base+r.mods[i].Size > addr
	})
	if i < len(r.mods) && r.mods[i].Contains(addr) {
		return r.mods[i].Name, true
	}
	return "", false
}

// LoadProcModules parses /proc/modules:
//
//	ext4 933888 1 - Live 0xffffffffc0a00000
//
// Modules whose address is hidden (printed as 0) are skipped.
func LoadProcModules(r io.Reader) (*Registry, error) {
	var mods []Module

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}

		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size for module %s: %w", fields[0], err)
		}

		base, err := strconv.ParseUint(strings.TrimPrefix(fields[5], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address for module %s: %w", fields[0], err)
		}
		if base == 0 {
			continue
		}

		mods = append(mods, Module{Name: fields[0], Base: base, Size: size})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read modules: %w", err)
	}

	return NewRegistry(mods), nil
}

// LoadProcModulesFile parses the modules list at path.
func LoadProcModulesFile(path string) (*Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadProcModules(file)
}

// FromMemoryMap turns every executable file mapping of a process, except
// those of the main executable at mainPath, into a module named after the
// file.
func FromMemoryMap(items []memory_map.MemoryMapItem, mainPath string) *Registry {
	var mods []Module

	for _, item := range items {
		if !item.IsExecutable() || item.Path == "" || strings.HasPrefix(item.Path, "[") {
			continue
		}
		if item.Path == mainPath {
			continue
		}

		mods = append(mods, Module{
			Name: filepath.Base(item.Path),
			Base: item.Address,
			Size: uint64(item.Size),
		})
	}

	return NewRegistry(mods)
}
