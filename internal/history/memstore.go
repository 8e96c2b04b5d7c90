package history

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. The zero value is ready to
// use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[uuid.UUID]Entry)}
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Set implements [Store.Set].
func (s *MemStore) Set(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		s.entries = make(map[uuid.UUID]Entry)
	}
	s.entries[e.ID] = e
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	return selectEntries(all, f), nil
}

// Close implements [Store.Close]. It is a no-op.
func (s *MemStore) Close() error { return nil }
