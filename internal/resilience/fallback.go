package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is applied to the breaker of every entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own [CircuitBreaker]. Register all entries before first use.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	log     *slog.Logger
	members []member[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cfg := fg.cfg.CircuitBreaker
	cfg.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cfg)})
}

// Names lists the entries in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		names = append(names, m.name)
	}
	return names
}

// Breaker returns the breaker of the named entry, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, m := range fg.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Try calls fn on each entry in order and returns the first result together
// with the name of the entry that produced it. Entries with an open breaker
// are skipped. A context error ends the walk at once and is returned as is,
// since every later entry would see the same context. When all entries fail
// the error wraps [ErrAllFailed] and each entry's error.
func Try[T, R any](fg *FallbackGroup[T], fn func(name string, v T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range fg.members {
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.name, m.value)
			return err
		})
		switch {
		case err == nil:
			return res, m.name, nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return zero, m.name, err
		case errors.Is(err, ErrCircuitOpen):
			fg.log.Debug("skipping provider, circuit open", "provider", m.name)
		default:
			fg.log.Warn("provider failed, trying next", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
