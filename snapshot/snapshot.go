// Package snapshot acquires copies of monitored code regions and persists
// their baselines.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"textguard/process"
	"textguard/textdiff"
)

// Source produces a fresh copy of a code region.
type Source interface {
	Read(ctx context.Context, region textdiff.Region) ([]byte, error)
}

// ProcessSource reads regions from the memory of a live process.
type ProcessSource struct {
	proc process.Process
}

// NewProcessSource creates a Source backed by proc.
func NewProcessSource(proc process.Process) *ProcessSource {
	return &ProcessSource{proc: proc}
}

func (s *ProcessSource) Read(ctx context.Context, region textdiff.Region) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.proc.ReadMemory(process.ProcessMemoryAddress(region.Base), process.ProcessMemorySize(region.Length))
	if err != nil {
		return nil, fmt.Errorf("failed to read region 0x%x: %w", region.Base, err)
	}

	return data, nil
}

// BufferSource serves regions out of an in-memory copy of an address space
// starting at base. Writes model the running system patching its own code.
type BufferSource struct {
	mu   sync.RWMutex
	base uint64
	data []byte
}

// NewBufferSource creates a BufferSource over a copy of data mapped at base.
func NewBufferSource(base uint64, data []byte) *BufferSource {
	return &BufferSource{
		base: base,
		data: append([]byte(nil), data...),
	}
}

func (s *BufferSource) Read(ctx context.Context, region textdiff.Region) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := s.offset(region.Base, region.Length)
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), s.data[start:start+region.Length]...), nil
}

// Write overwrites the bytes at addr.
func (s *BufferSource) Write(addr uint64, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, err := s.offset(addr, len(b))
	if err != nil {
		return err
	}

	copy(s.data[start:], b)
	return nil
}

func (s *BufferSource) offset(addr uint64, size int) (int, error) {
	if addr < s.base || addr-s.base+uint64(size) > uint64(len(s.data)) {
		return 0, fmt.Errorf("%w: 0x%x+%d", process.ErrAddressNotMapped, addr, size)
	}
	return int(addr - s.base), nil
}

// FileSource reads regions out of a file holding an image of the address
// space, with the byte at base stored at offset.
type FileSource struct {
	r      io.ReaderAt
	base   uint64
	offset int64
}

// NewFileSource creates a FileSource over r.
func NewFileSource(r io.ReaderAt, base uint64, offset int64) *FileSource {
	return &FileSource{r: r, base: base, offset: offset}
}

func (s *FileSource) Read(ctx context.Context, region textdiff.Region) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if region.Base < s.base {
		return nil, fmt.Errorf("%w: 0x%x", process.ErrAddressNotMapped, region.Base)
	}

	data := make([]byte, region.Length)
	n, err := s.r.ReadAt(data, s.offset+int64(region.Base-s.base))
	if n == len(data) {
		return data, nil
	}
	if err == nil || err == io.EOF {
		err = process.ErrPartialRead
	}

	return nil, fmt.Errorf("failed to read region 0x%x: %w", region.Base, err)
}
