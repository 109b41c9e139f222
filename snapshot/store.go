package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"textguard/textdiff"
)

const metadataFile = "metadata.json"

// ErrNoBaseline is returned when the store holds no baseline for a region.
var ErrNoBaseline = errors.New("no baseline")

type regionEntry struct {
	Base   uint64 `json:"base"`
	Length int    `json:"length"`
	Owner  string `json:"owner,omitempty"`
	File   string `json:"file"`
}

type metadata struct {
	Regions []regionEntry `json:"regions"`
}

// Store keeps baselines in a directory: one blob per region plus a
// metadata.json index.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes baseline as the known good contents of region.
func (s *Store) Save(region textdiff.Region, baseline []byte) error {
	if len(baseline) != region.Length {
		return fmt.Errorf("%w: baseline %d, region %d", textdiff.ErrLengthMismatch, len(baseline), region.Length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	meta, err := s.readMetadata()
	if err != nil {
		return err
	}

	entry := regionEntry{
		Base:   region.Base,
		Length: region.Length,
		Owner:  region.Owner,
		File:   fmt.Sprintf("blob_0x%x_%d.bin", region.Base, region.Length),
	}

	if err := os.WriteFile(filepath.Join(s.dir, entry.File), baseline, 0644); err != nil {
		return fmt.Errorf("failed to write baseline for region 0x%x: %w", region.Base, err)
	}

	replaced := false
	for i := range meta.Regions {
		if meta.Regions[i].Base == entry.Base {
			meta.Regions[i] = entry
			replaced = true
		}
	}
	if !replaced {
		meta.Regions = append(meta.Regions, entry)
	}

	sort.Slice(meta.Regions, func(i, j int) bool {
		return meta.Regions[i].Base < meta.Regions[j].Base
	})

	metadataJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, metadataFile), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	return nil
}

// Load returns the stored baseline of region.
func (s *Store) Load(region textdiff.Region) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadata()
	if err != nil {
		return nil, err
	}

	for _, entry := range meta.Regions {
		if entry.Base != region.Base {
			continue
		}
		if entry.Length != region.Length || entry.Owner != region.Owner {
			return nil, fmt.Errorf("%w: stored region 0x%x has length %d owner %q",
				textdiff.ErrLengthMismatch, entry.Base, entry.Length, entry.Owner)
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read baseline for region 0x%x: %w", region.Base, err)
		}
		if len(data) != region.Length {
			return nil, fmt.Errorf("%w: baseline file %s has %d bytes", textdiff.ErrLengthMismatch, entry.File, len(data))
		}

		return data, nil
	}

	return nil, fmt.Errorf("%w for region 0x%x", ErrNoBaseline, region.Base)
}

// Regions lists the regions the store holds baselines for.
func (s *Store) Regions() ([]textdiff.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadata()
	if err != nil {
		return nil, err
	}

	regions := make([]textdiff.Region, 0, len(meta.Regions))
	for _, entry := range meta.Regions {
		regions = append(regions, textdiff.Region{Base: entry.Base, Length: entry.Length, Owner: entry.Owner})
	}

	return regions, nil
}

// readMetadata must be called with s.mu held. A missing index is an empty store.
func (s *Store) readMetadata() (metadata, error) {
	var meta metadata

	metadataBytes, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}

	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return meta, nil
}
