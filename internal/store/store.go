// Package store persists the whole todo tree as a single JSON document.
// Every mutation rewrites the file in full; there is no incremental
// persistence.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taskbox/internal/domain"
)

type Store struct {
	path string

	// One lock around every read-modify-write-persist sequence. The data is
	// a single process-wide tree, so requests must be effectively serial.
	mu   sync.Mutex
	root domain.Root
}

// Open loads the backing file, seeding it with an empty root when absent.
// A file that exists but does not parse is a startup error; there is no
// recovery path for a corrupt document.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.root = domain.Root{Apps: []domain.App{}}
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("seed %s: %w", path, err)
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.root.Apps == nil {
		s.root.Apps = []domain.App{}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// View runs fn against the in-memory root under the store lock. fn must not
// retain pointers into the tree past its return.
func (s *Store) View(fn func(*domain.Root) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.root)
}

// Update runs fn under the store lock and rewrites the backing file when fn
// succeeds. A failed write leaves the in-memory tree ahead of disk until the
// next successful save; that matches the one-write-per-mutation contract.
func (s *Store) Update(fn func(*domain.Root) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.root); err != nil {
		return err
	}
	return s.save()
}

// save writes the full document through a temp file and renames it over the
// target, so a crash mid-write cannot truncate the document.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.root, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".taskbox-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
