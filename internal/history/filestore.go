package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// fileVersion is written into every history file.
const fileVersion = 1

// fileDocument is the on-disk layout of a [FileStore].
type fileDocument struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

var _ Store = (*FileStore)(nil)

// FileStore keeps the whole history in a single JSON file. The file is read
// once on open and rewritten atomically (temp file + rename) on every change,
// so a crash never leaves a half-written history behind.
type FileStore struct {
	path string

	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
}

// OpenFileStore loads the history at path. A missing file is an empty
// history; its directory is created on the first write.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, entries: make(map[uuid.UUID]Entry)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", path, err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("history: %s has version %d, newest supported is %d", path, doc.Version, fileVersion)
	}
	for _, e := range doc.Entries {
		s.entries[e.ID] = e
	}
	return s, nil
}

// Path returns the location of the history file.
func (s *FileStore) Path() string { return s.path }

// Get implements [Store.Get].
func (s *FileStore) Get(_ context.Context, id uuid.UUID) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Set implements [Store.Set].
func (s *FileStore) Set(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.entries[e.ID]
	s.entries[e.ID] = e
	if err := s.writeLocked(); err != nil {
		if existed {
			s.entries[e.ID] = prev
		} else {
			delete(s.entries, e.ID)
		}
		return err
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *FileStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	if err := s.writeLocked(); err != nil {
		s.entries[id] = prev
		return err
	}
	return nil
}

// List implements [Store.List].
func (s *FileStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	return selectEntries(all, f), nil
}

// Close implements [Store.Close]. Every change is already on disk.
func (s *FileStore) Close() error { return nil }

// writeLocked serialises all entries, oldest first, and replaces the file.
// Must be called with s.mu held.
func (s *FileStore) writeLocked() error {
	all := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	all = selectEntries(all, Filter{})
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	data, err := json.MarshalIndent(fileDocument{Version: fileVersion, Entries: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("history: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("history: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}
	return nil
}
