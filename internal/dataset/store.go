// Package dataset manages the canonical on-disk JSON dataset files.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record is one opaque entry of a dataset sequence.
type Record = json.RawMessage

// Categories are the dataset groupings recognized on disk.
var Categories = []string{"multi-turn", "single-turn"}

var ErrInvalidPath = errors.New("invalid dataset path")

type Info struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Category string `json:"type"`
}

// Store reads and writes canonical dataset files under a single base
// directory resolved once at startup.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

// Resolve validates a "<category>/<file>.json" path and returns the
// absolute location on disk.
func (s *Store) Resolve(datasetPath string) (string, error) {
	category, file, ok := strings.Cut(datasetPath, "/")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, datasetPath)
	}
	if !validCategory(category) {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidPath, category)
	}
	if file == "" || file != filepath.Base(file) || strings.HasPrefix(file, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, datasetPath)
	}
	if !strings.HasSuffix(file, ".json") {
		return "", fmt.Errorf("%w: %q is not a JSON file", ErrInvalidPath, datasetPath)
	}
	return filepath.Join(s.baseDir, category, file), nil
}

// Read loads the canonical sequence for a dataset. A missing or
// unparsable file counts as an empty dataset, not an error: new
// datasets may not exist on disk yet.
func (s *Store) Read(datasetPath string) ([]Record, error) {
	path, err := s.Resolve(datasetPath)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(payload, &records); err != nil {
		return []Record{}, nil
	}
	return records, nil
}

// Exists reports whether the canonical file is present on disk.
func (s *Store) Exists(datasetPath string) bool {
	path, err := s.Resolve(datasetPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Write replaces the canonical sequence. The file is written to a
// temporary path in the same directory and renamed into place so a
// crash mid-write never leaves a corrupt canonical file.
func (s *Store) Write(datasetPath string, records []Record) error {
	path, err := s.Resolve(datasetPath)
	if err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset %s: %w", datasetPath, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp dataset file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write dataset %s: %w", datasetPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close dataset %s: %w", datasetPath, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace dataset %s: %w", datasetPath, err)
	}
	return nil
}

// Delete removes the canonical file from disk.
func (s *Store) Delete(datasetPath string) error {
	path, err := s.Resolve(datasetPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete dataset %s: %w", datasetPath, err)
	}
	return nil
}

// List scans the category directories for dataset files.
func (s *Store) List() ([]Info, error) {
	items := make([]Info, 0)
	for _, category := range Categories {
		entries, err := os.ReadDir(filepath.Join(s.baseDir, category))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			items = append(items, Info{
				Path:     category + "/" + entry.Name(),
				Name:     displayName(entry.Name()),
				Category: category,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func validCategory(category string) bool {
	for _, known := range Categories {
		if category == known {
			return true
		}
	}
	return false
}

func displayName(file string) string {
	stem := strings.TrimSuffix(file, ".json")
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' })
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
