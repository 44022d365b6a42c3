// Package store persists resolved locators as a single JSON document mapping
// cache keys to results. The whole map is rewritten on every mutation; there
// is no eviction, TTL, or size bound, so growth is linear in distinct
// (origin, description) pairs. That trade-off is deliberate: resolved
// selectors are tiny and re-deriving one costs a backend round-trip.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/locus/pkg/locator"
)

// FileStore is a durable key to locator result map backed by one JSON file.
type FileStore struct {
	path    string
	mu      sync.RWMutex
	entries map[string]*locator.Result
}

// NewFileStore opens (or lazily creates) a store at path. If path is empty,
// defaults to ~/.locus/locators.json. A missing or corrupt file degrades to
// an empty map rather than failing the process.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, ".locus", "locators.json")
	}

	s := &FileStore{
		path:    path,
		entries: make(map[string]*locator.Result),
	}
	s.load()
	return s, nil
}

// load reads the backing file. Any failure, including corruption, leaves the
// store empty; a later Set rewrites the file whole.
func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var entries map[string]*locator.Result
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	if entries != nil {
		s.entries = entries
	}
}

// Get returns the stored result for key, or false when absent. The returned
// value is a copy; mutating it does not affect the store.
func (s *FileStore) Get(key string) (*locator.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return res.Clone(), true
}

// Set stores the result under key and durably persists the full map before
// returning. Existing entries for the same key are overwritten, which is how
// healed resolutions replace stale selectors.
func (s *FileStore) Set(key string, res *locator.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = res.Clone()
	return s.persist()
}

// persist writes the whole map via a temp file and atomic rename. Callers
// must hold the write lock.
func (s *FileStore) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp store file: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}
