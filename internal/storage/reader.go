package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/coffersTech/logstore/internal/engine"
	"github.com/coffersTech/logstore/internal/model"
)

// Read returns the records of a unit. A missing or empty unit has no records.
func (s *Store) Read(key engine.HourKey) ([]model.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		data, err = s.readArchive(key)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeUnit(key, data)
}

func (s *Store) readArchive(key engine.HourKey) ([]byte, error) {
	compressed, err := os.ReadFile(s.archivePath(key))
	if err != nil {
		return nil, err
	}
	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	return data, nil
}

func decodeUnit(key engine.HourKey, data []byte) ([]model.LogRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []model.LogRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return records, nil
}

// List returns the units found in the data directory, oldest first.
// Files that are not units are ignored.
func (s *Store) List() ([]engine.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byKey := make(map[engine.HourKey]engine.Unit)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var base string
		archived := false
		switch {
		case strings.HasSuffix(name, archiveExt):
			base, archived = strings.TrimSuffix(name, archiveExt), true
		case strings.HasSuffix(name, unitExt):
			base = strings.TrimSuffix(name, unitExt)
		default:
			continue
		}
		key, err := engine.ParseHourKey(base)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// The plain file wins if both forms exist.
		if prev, ok := byKey[key]; ok && !prev.Archived {
			continue
		}
		byKey[key] = engine.Unit{Key: key, Archived: archived, Size: info.Size()}
	}

	units := make([]engine.Unit, 0, len(byKey))
	for _, u := range byKey {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Key.Start().Before(units[j].Key.Start())
	})
	return units, nil
}
