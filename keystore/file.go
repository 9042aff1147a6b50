// Package keystore provides concrete implementations of ddp.KeyStorage.
// spec.md §1 treats persistent key storage as an external collaborator
// referenced only through an interface; this package supplies a JSON-file
// and a sqlite implementation, grounded on the teacher's own
// credential-persistence code (internal/auth/cache.go writes a single JSON
// file; internal/store/store.go persists to sqlite), plus an in-memory one.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists keys as a single JSON object on disk, the same shape
// as the teacher's CredentialsCache (internal/auth/cache.go), generalized
// from three named fields to an arbitrary key set.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore backed by path. The parent directory is
// created with owner-only permissions if missing.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("keystore: read %s: %w", f.path, err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", f.path, err)
	}
	return m, nil
}

func (f *FileStore) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}
	return os.WriteFile(f.path, data, 0600)
}

// GetItem implements ddp.KeyStorage.
func (f *FileStore) GetItem(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// SetItem implements ddp.KeyStorage.
func (f *FileStore) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = value
	return f.save(m)
}

// RemoveItem implements ddp.KeyStorage.
func (f *FileStore) RemoveItem(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.load()
	if err != nil {
		return err
	}
	delete(m, key)
	return f.save(m)
}
