package dictionary

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if hasID(s.entries, entry.ID) {
		return duplicateID(entry.ID)
	}
	s.entries = prepend(s.entries, entry)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = without(s.entries, id)
	return nil
}
