// Package resilience keeps a practice session usable when a scoring backend
// misbehaves.
//
// [CircuitBreaker] stops calling a backend that keeps failing, so a learner
// does not wait out a full evaluation timeout on every attempt. [FallbackGroup]
// puts one breaker in front of each backend and walks them in order;
// [EvaluatorFallback] is that group specialised to [evaluate.Evaluator].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/clock"
)

// ErrCircuitOpen is returned without calling the backend while its breaker is
// open or its half-open probe slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; a single failure opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults
// suited to slow calls such as scoring a three-minute recording.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 60s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes let through, and the number of
	// successful probes needed to close again. Default: 1.
	HalfOpenMax int

	// Clock defaults to [clock.Real].
	Clock clock.Clock

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// OnStateChange, if set, is called on every transition with the
	// breaker's lock held. It must not call back into the breaker.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a closed/open/half-open breaker around one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *slog.Logger

	mu       sync.Mutex
	state    State
	failures int       // consecutive, while closed
	openedAt time.Time // last transition to open
	probes   int       // in flight or finished, while half-open
	probeOK  int       // successful probes, while half-open
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		cfg: cfg,
		log: cfg.Logger.With("breaker", cfg.Name),
	}
}

// Execute calls fn unless the breaker rejects the call with [ErrCircuitOpen].
// fn's error is returned unchanged. An error wrapping [context.Canceled] is
// not counted against the backend: the learner gave up, not the backend.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.succeeded(probe)
	case errors.Is(err, context.Canceled):
		if probe && cb.state == StateHalfOpen {
			cb.probes--
		}
	default:
		cb.failed(probe)
	}
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Clock.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

func (cb *CircuitBreaker) succeeded(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.probeOK++
	if cb.probeOK >= cb.cfg.HalfOpenMax {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) failed(probe bool) {
	if probe {
		if cb.state == StateHalfOpen {
			cb.transition(StateOpen)
		}
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.transition(StateOpen)
	}
}

// transition moves to s and resets the counters of the new state. Callers
// hold cb.mu.
func (cb *CircuitBreaker) transition(s State) {
	from := cb.state
	cb.state = s
	cb.probes, cb.probeOK = 0, 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.cfg.Clock.Now()
		cb.log.Warn("circuit breaker opened", "from", from, "consecutive_failures", cb.failures)
	case StateClosed:
		cb.failures = 0
		cb.log.Info("circuit breaker closed", "from", from)
	case StateHalfOpen:
		cb.log.Info("circuit breaker half-open, probing")
	}
	if cb.cfg.OnStateChange != nil && from != s {
		cb.cfg.OnStateChange(cb.cfg.Name, from, s)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
