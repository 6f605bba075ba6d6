// Package snapshot persists the learned state the core itself keeps in
// memory only: temporal association weights and user dictionary
// overlays. The core stays stateless; this is the external snapshotter
// it delegates to. Files are msgpack with a CRC32 header, written to a
// temp file and atomically renamed into place.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sutraworks/sutra/pkg/core"
	"github.com/sutraworks/sutra/pkg/steno"
	"github.com/sutraworks/sutra/pkg/temporal"
)

const (
	associationsFile = "associations.snap"
	dictionaryFile   = "dictionary.snap"

	formatVersion = 1
)

// associationsDoc is the on-disk association snapshot.
type associationsDoc struct {
	Version      uint32                            `msgpack:"version"`
	SavedAtUnix  int64                             `msgpack:"saved_at_unix"`
	Associations map[uint64][]temporal.Association `msgpack:"associations"`
}

// dictionaryDoc is the on-disk dictionary overlay.
type dictionaryDoc struct {
	Version     uint32        `msgpack:"version"`
	SavedAtUnix int64         `msgpack:"saved_at_unix"`
	Entries     []steno.Entry `msgpack:"entries"`
}

// Store writes snapshots under one base directory.
type Store struct {
	basePath string
	mu       sync.Mutex

	saves uint64
	loads uint64
}

// NewStore creates the base directory if needed.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot path: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// SaveAssociations persists learned association weights.
func (s *Store) SaveAssociations(assocs map[core.ConceptID][]temporal.Association) error {
	doc := associationsDoc{
		Version:      formatVersion,
		SavedAtUnix:  time.Now().Unix(),
		Associations: make(map[uint64][]temporal.Association, len(assocs)),
	}
	for c, list := range assocs {
		doc.Associations[uint64(c)] = list
	}
	return s.write(associationsFile, &doc)
}

// LoadAssociations restores association weights. A missing file is an
// empty result, not an error.
func (s *Store) LoadAssociations() (map[core.ConceptID][]temporal.Association, error) {
	var doc associationsDoc
	ok, err := s.read(associationsFile, &doc)
	if err != nil || !ok {
		return nil, err
	}

	out := make(map[core.ConceptID][]temporal.Association, len(doc.Associations))
	for c, list := range doc.Associations {
		out[core.ConceptID(c)] = list
	}
	return out, nil
}

// SaveDictionary persists user dictionary overlay entries.
func (s *Store) SaveDictionary(entries []steno.Entry) error {
	doc := dictionaryDoc{
		Version:     formatVersion,
		SavedAtUnix: time.Now().Unix(),
		Entries:     entries,
	}
	return s.write(dictionaryFile, &doc)
}

// LoadDictionary restores overlay entries into a dictionary.
func (s *Store) LoadDictionary(dict *steno.Dictionary) (int, error) {
	var doc dictionaryDoc
	ok, err := s.read(dictionaryFile, &doc)
	if err != nil || !ok {
		return 0, err
	}

	loaded := 0
	for _, e := range doc.Entries {
		seq, err := steno.ParseSequence(e.SequenceText)
		if err != nil {
			continue
		}
		if err := dict.Add(seq, e.Concept, e.CanonicalName); err == nil {
			loaded++
		}
	}
	return loaded, nil
}

// write encodes and atomically replaces the target file.
func (s *Store) write(name string, doc any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(doc)
	if err != nil {
		return err
	}

	target := filepath.Join(s.basePath, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit snapshot: %w", err)
	}
	s.saves++
	return nil
}

// read loads and decodes a snapshot; ok=false when the file does not
// exist.
func (s *Store) read(name string, doc any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}
	if err := decode(data, doc); err != nil {
		return false, err
	}
	s.loads++
	return true, nil
}

// Stats returns store statistics.
func (s *Store) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"base_path": s.basePath,
		"saves":     s.saves,
		"loads":     s.loads,
	}
}
