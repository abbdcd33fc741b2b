package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/visual-dictionary/internal/utils"
)

// FileStore keeps the whole list as one JSON document. Every change is a
// read-modify-write of the full list.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path; the file is created on first write
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return err
	}
	if hasID(list, entry.ID) {
		return duplicateID(entry.ID)
	}
	return s.write(prepend(list, entry))
}

func (s *FileStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.read()
	if err != nil {
		return err
	}
	return s.write(without(list, id))
}

func (s *FileStore) read() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	list := []Entry{}
	if len(data) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary %s: %w", s.path, err)
	}
	if list == nil {
		list = []Entry{}
	}
	return list, nil
}

// write replaces the file atomically through a temp file in the same directory
func (s *FileStore) write(list []Entry) error {
	dir := filepath.Dir(s.path)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create dictionary directory: %w", err)
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal dictionary: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write dictionary: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace dictionary: %w", err)
	}
	return nil
}
