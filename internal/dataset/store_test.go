package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadMissingFileReturnsEmpty(t *testing.T) {
	store := New(t.TempDir())

	records, err := store.Read("multi-turn/nope.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty sequence, got %d records", len(records))
	}
}

func TestReadCorruptFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "single-turn"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "single-turn", "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := New(dir)
	records, err := store.Read("single-turn/bad.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty sequence for corrupt file, got %d records", len(records))
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	want := []Record{
		json.RawMessage(`{"a":1}`),
		json.RawMessage(`{"a":2}`),
	}
	if err := store.Write("multi-turn/sample_set.json", want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := store.Read("multi-turn/sample_set.json")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}

	path, _ := store.Resolve("multi-turn/sample_set.json")
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if !strings.Contains(string(payload), "\n  ") {
		t.Fatal("expected pretty-printed output")
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	store := New(t.TempDir())

	if err := store.Write("single-turn/clean.json", []Record{json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.BaseDir(), "single-turn"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "clean.json" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())

	bad := []string{
		"../etc/passwd",
		"multi-turn/../../etc/passwd",
		"multi-turn/..",
		"other/file.json",
		"multi-turn/file.txt",
		"multi-turn/",
		"multi-turn/.hidden.json",
		"plain.json",
	}
	for _, path := range bad {
		if _, err := store.Resolve(path); err == nil {
			t.Errorf("Resolve(%q) accepted an invalid path", path)
		}
	}
}

func TestListScansCategories(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"multi-turn/chat_logs.json", "single-turn/qa-pairs.json"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("[]"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-JSON files are skipped.
	if err := os.WriteFile(filepath.Join(dir, "multi-turn", "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := New(dir)
	items, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d datasets, want 2", len(items))
	}
	if items[0].Path != "multi-turn/chat_logs.json" || items[0].Name != "Chat Logs" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Category != "single-turn" || items[1].Name != "Qa Pairs" {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}

func TestDeleteRemovesCanonicalFile(t *testing.T) {
	store := New(t.TempDir())
	if err := store.Write("single-turn/qa.json", []Record{json.RawMessage(`{"a":1}`)}); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("single-turn/qa.json") {
		t.Fatal("expected file after Write")
	}

	if err := store.Delete("single-turn/qa.json"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if store.Exists("single-turn/qa.json") {
		t.Fatal("file still present after Delete")
	}

	if err := store.Delete("single-turn/qa.json"); err == nil {
		t.Fatal("expected error deleting a missing file")
	}
	if err := store.Delete("../etc/passwd"); err == nil {
		t.Fatal("expected error for invalid path")
	}
}
