package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore persists a single value as an indented JSON document. The file is
// replaced atomically on every save so a crash never leaves a torn snapshot.
type JSONStore struct {
	mu       sync.RWMutex
	filePath string
}

// NewJSONStore creates the data directory if needed and returns a store for
// dataDir/filename.
func NewJSONStore(dataDir, filename string) (*JSONStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	return &JSONStore{
		filePath: filepath.Join(dataDir, filename),
	}, nil
}

// Load decodes the snapshot into data. A missing file leaves data untouched.
func (s *JSONStore) Load(data interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(data)
}

// Save writes data to a temp file in the same directory, syncs it and renames
// it over the snapshot.
func (s *JSONStore) Save(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.CreateTemp(filepath.Dir(s.filePath), filepath.Base(s.filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tempFile := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, s.filePath)
}
