// Package storage keeps one JSON document per hour under a data directory.
//
// A unit is written as a pretty-printed JSON array to <dir>/<unit>.json. Old units
// may be compressed to <dir>/<unit>.json.zst by the cleaner; both forms are readable.
//
// Unit names carry a 1-based month (logs-9-16-10-2026 is October). Files named with
// the older 0-based month point at the wrong hour and must be renamed to be reopened.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coffersTech/logstore/internal/engine"
	"github.com/coffersTech/logstore/internal/model"
	"github.com/klauspost/compress/zstd"
)

const (
	unitExt    = ".json"
	archiveExt = ".json.zst"
)

// Store is a file-backed engine.UnitStore.
type Store struct {
	dir string

	// mu serializes file operations so archive and remove never race a rewrite.
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore creates a Store rooted at dir. The directory is created on first write.
func NewStore(dir string) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Store{dir: dir, encoder: enc, decoder: dec}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the plain JSON path of a unit.
func (s *Store) Path(key engine.HourKey) string {
	return filepath.Join(s.dir, key.String()+unitExt)
}

func (s *Store) archivePath(key engine.HourKey) string {
	return filepath.Join(s.dir, key.String()+archiveExt)
}

// Write replaces the unit with records. The file is written to a temporary name,
// synced and renamed, so readers see either the old or the new content.
func (s *Store) Write(key engine.HourKey, records []model.LogRecord) error {
	if records == nil {
		records = []model.LogRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode unit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(s.Path(key), data); err != nil {
		return err
	}
	// A rewritten unit supersedes any archived copy.
	if err := os.Remove(s.archivePath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Archive compresses a unit to its .json.zst form and removes the plain file.
// Archiving an already archived unit is a no-op.
func (s *Store) Archive(key engine.HourKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	compressed := s.encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	if err := writeFileAtomic(s.archivePath(key), compressed); err != nil {
		return err
	}
	return os.Remove(path)
}

// Remove deletes every form of a unit.
func (s *Store) Remove(key engine.HourKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range []string{s.Path(key), s.archivePath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close releases the compression resources.
func (s *Store) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
