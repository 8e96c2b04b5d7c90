// Package history persists finished practice sessions: what the learner was
// asked, what the live captions caught, where the audio went and how the
// answer was scored.
//
// Three [Store] backends exist: [MemStore] for tests, [FileStore] (a single
// JSON document, the default for a local install) and [PostgresStore] for a
// classroom deployment where several machines share one history.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// ErrNotFound is returned when no entry matches the requested ID.
var ErrNotFound = errors.New("history: entry not found")

// ErrAmbiguous is returned by [FindByPrefix] when several entries share the
// prefix.
var ErrAmbiguous = errors.New("history: ambiguous id prefix")

// Entry is one finished practice session.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Topic is the reconciled topic: the assigned one, or the candidate the
	// evaluator recognised.
	Topic      string   `json:"topic"`
	Candidates []string `json:"candidates,omitempty"`
	Language   string   `json:"language"`

	// StudentID and ClassID are free-form tags for an instructor tracking a class.
	StudentID string `json:"student_id,omitempty"`
	ClassID   string `json:"class_id,omitempty"`

	// Transcript is the live caption text collected while recording.
	Transcript string `json:"transcript"`

	AudioMIME     string        `json:"audio_mime"`
	AudioDuration time.Duration `json:"audio_duration"`

	// AudioPath is where the recording was saved, if it was kept.
	AudioPath string `json:"audio_path,omitempty"`

	// Result is nil when evaluation was skipped or failed.
	Result *evaluate.Result `json:"result,omitempty"`

	// EvalError describes why Result is nil after a failed evaluation.
	EvalError string `json:"eval_error,omitempty"`
}

// NewEntry returns an entry with a fresh ID and creation time.
func NewEntry(now time.Time) Entry {
	return Entry{ID: uuid.New(), CreatedAt: now.UTC()}
}

// Filter narrows [Store.List]. Zero fields match everything.
type Filter struct {
	StudentID string
	ClassID   string

	// Since keeps entries created at or after this instant.
	Since time.Time

	// Limit caps the number of entries returned. 0 means no limit.
	Limit int
}

// Match reports whether e passes the filter's field conditions. Limit is not
// considered.
func (f Filter) Match(e Entry) bool {
	if f.StudentID != "" && e.StudentID != f.StudentID {
		return false
	}
	if f.ClassID != "" && e.ClassID != f.ClassID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store persists history entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the entry with the given ID or [ErrNotFound].
	Get(ctx context.Context, id uuid.UUID) (Entry, error)

	// Set inserts e or replaces the entry with the same ID.
	Set(ctx context.Context, e Entry) error

	// Delete removes the entry with the given ID or returns [ErrNotFound].
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns the entries matching f, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)

	// Close releases the store's resources.
	Close() error
}

// FindByPrefix resolves a full or abbreviated entry ID, the way short commit
// hashes are resolved.
func FindByPrefix(ctx context.Context, s Store, prefix string) (Entry, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if id, err := uuid.Parse(prefix); err == nil {
		return s.Get(ctx, id)
	}
	if prefix == "" {
		return Entry{}, ErrNotFound
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		return Entry{}, err
	}
	var found []Entry
	for _, e := range all {
		if strings.HasPrefix(e.ID.String(), prefix) {
			found = append(found, e)
		}
	}
	switch len(found) {
	case 0:
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return Entry{}, fmt.Errorf("%w: %q matches %d entries", ErrAmbiguous, prefix, len(found))
	}
}

// selectEntries filters, sorts newest first and truncates. It is shared by
// the in-process backends.
func selectEntries(entries []Entry, f Filter) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
