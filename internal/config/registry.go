package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	capture       map[string]func(CaptureConfig) (capture.Device, error)
	transcription map[string]func(ProviderEntry) (transcribe.Provider, error)
	evaluation    map[string]func(ProviderEntry) (evaluate.Evaluator, error)
	history       map[HistoryBackend]func(HistoryConfig) (history.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:       make(map[string]func(CaptureConfig) (capture.Device, error)),
		transcription: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		evaluation:    make(map[string]func(ProviderEntry) (evaluate.Evaluator, error)),
		history:       make(map[HistoryBackend]func(HistoryConfig) (history.Store, error)),
	}
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (capture.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterTranscription registers a live transcription provider factory under name.
func (r *Registry) RegisterTranscription(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcription[name] = factory
}

// RegisterEvaluator registers an evaluator factory under name.
func (r *Registry) RegisterEvaluator(name string, factory func(ProviderEntry) (evaluate.Evaluator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluation[name] = factory
}

// RegisterHistory registers a history store factory for backend.
func (r *Registry) RegisterHistory(backend HistoryBackend, factory func(HistoryConfig) (history.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[backend] = factory
}

// CreateCapture instantiates the capture device named by cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(cfg CaptureConfig) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateTranscription instantiates a transcription provider using the factory
// registered under entry.Name.
func (r *Registry) CreateTranscription(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcription[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEvaluator instantiates an evaluator using the factory registered
// under entry.Name.
func (r *Registry) CreateEvaluator(entry ProviderEntry) (evaluate.Evaluator, error) {
	r.mu.RLock()
	factory, ok := r.evaluation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: evaluation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateHistory opens the history store selected by cfg.Backend.
func (r *Registry) CreateHistory(cfg HistoryConfig) (history.Store, error) {
	r.mu.RLock()
	factory, ok := r.history[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: history/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// Names returns the registered names per provider kind, sorted. Used for
// startup logging.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string][]string{
		"capture":       keys(r.capture),
		"transcription": keys(r.transcription),
		"evaluation":    keys(r.evaluation),
	}
	var backends []string
	for b := range r.history {
		backends = append(backends, string(b))
	}
	sort.Strings(backends)
	out["history"] = backends
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
