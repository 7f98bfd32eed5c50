package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"taskbox/internal/domain"
)

func TestOpenSeedsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbox.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read seeded file: %v", err)
	}
	var root domain.Root
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("parse seeded file: %v", err)
	}
	if root.Apps == nil || len(root.Apps) != 0 {
		t.Fatalf("expected empty Apps array, got %#v", root.Apps)
	}
	if err := s.View(func(r *domain.Root) error {
		if len(r.Apps) != 0 {
			t.Fatalf("expected empty in-memory root")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbox.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestUpdatePersistsWholeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbox.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s.Update(func(r *domain.Root) error {
		r.Apps = append(r.Apps, domain.App{ID: 1, Name: "home", Todos: []domain.Todo{}})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.View(func(r *domain.Root) error {
		if len(r.Apps) != 1 || r.Apps[0].Name != "home" {
			t.Fatalf("unexpected reloaded root: %#v", r.Apps)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateErrorDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbox.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	before, _ := os.ReadFile(path)
	wantErr := os.ErrInvalid
	err = s.Update(func(r *domain.Root) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected fn error back, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("file changed despite failed update")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskbox.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Update(func(r *domain.Root) error { return nil }); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the data file in %s, got %d entries", dir, len(entries))
	}
}
