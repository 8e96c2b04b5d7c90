// Package activity detects sustained silence in a live microphone signal.
//
// The [Monitor] computes the RMS energy of every frame it is fed. A frame below
// the threshold arms a single deferred timer; a frame above the threshold
// disarms it. If the timer fires, the monitor reports [SilenceStarted]; the
// first loud frame after that reports [SilenceEnded]. Short pauses therefore
// never produce events: silence must persist for the full timeout.
//
// Events are delivered on a buffered channel and never block [Monitor.OnFrame],
// which runs on the capture callback goroutine.
package activity

import (
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/clock"
	"github.com/MrWong99/speakwell/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultThreshold = 0.008
	DefaultTimeout   = 5 * time.Second

	eventBuffer = 16
)

// Event is a silence state transition.
type Event int

const (
	// SilenceStarted is emitted when the signal has stayed below the threshold
	// for the full timeout.
	SilenceStarted Event = iota + 1

	// SilenceEnded is emitted on the first loud frame after SilenceStarted.
	SilenceEnded
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case SilenceStarted:
		return "silence_started"
	case SilenceEnded:
		return "silence_ended"
	default:
		return "unknown"
	}
}

// Config holds the monitor parameters.
type Config struct {
	// Threshold is the RMS energy (on the [-1, 1] signal) below which a frame
	// counts as silent. Zero means [DefaultThreshold].
	Threshold float64

	// Timeout is how long the signal must stay silent before SilenceStarted is
	// emitted. Zero means [DefaultTimeout].
	Timeout time.Duration

	// Clock drives the deferred timer. Nil means the wall clock.
	Clock clock.Clock
}

// Monitor is a silence detector for one recording. It is safe for concurrent
// use; OnFrame is typically called from the capture goroutine while Stop is
// called from the controller.
type Monitor struct {
	threshold float64
	timeout   time.Duration
	clk       clock.Clock
	events    chan Event

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	silent  bool
	stopped bool
	dropped int
	frames  int
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Monitor{
		threshold: cfg.Threshold,
		timeout:   cfg.Timeout,
		clk:       cfg.Clock,
		events:    make(chan Event, eventBuffer),
	}
}

// Events returns the channel on which silence transitions are delivered. The
// channel is never closed.
func (m *Monitor) Events() <-chan Event { return m.events }

// OnFrame feeds one frame into the detector. It never blocks.
func (m *Monitor) OnFrame(frame audio.Frame) {
	level := audio.RMS(frame.Samples)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.frames++

	if level < m.threshold {
		// Already armed or already silent: nothing to do.
		if m.timer != nil || m.silent {
			return
		}
		m.gen++
		gen := m.gen
		m.timer = m.clk.AfterFunc(m.timeout, func() { m.fire(gen) })
		return
	}

	m.disarm()
	if m.silent {
		m.silent = false
		m.emit(SilenceEnded)
	}
}

// Silent reports whether the monitor currently considers the signal silent.
func (m *Monitor) Silent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silent
}

// Armed reports whether a silence timer is pending.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Frames returns the number of frames analysed before Stop.
func (m *Monitor) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Dropped returns the number of events discarded because the channel was full.
func (m *Monitor) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Stop cancels any pending timer. Further frames are ignored. Stop is
// idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.disarm()
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A stale timer whose Stop lost the race against firing.
	if m.stopped || gen != m.gen || m.timer == nil {
		return
	}
	m.timer = nil
	m.silent = true
	m.emit(SilenceStarted)
}

// disarm cancels the pending timer. Must be called with m.mu held.
func (m *Monitor) disarm() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.gen++
}

// emit delivers ev without blocking. Must be called with m.mu held.
func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.dropped++
	}
}
