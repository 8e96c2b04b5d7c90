// Package mock provides in-memory mock implementations of [capture.Device]
// and [capture.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{Rate: 16000}
//	dev := &mock.Device{Stream: stream}
//	s, err := dev.Acquire(ctx)
//	_ = s.Start(func(f audio.Frame) { ... })
//	stream.Emit(audio.Frame{Samples: make([]float32, 1600), SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device].
type Device struct {
	mu sync.Mutex

	// Stream is returned by Acquire when AcquireErr is nil.
	Stream *Stream

	// AcquireErr is returned by Acquire.
	AcquireErr error

	// Gate, when non-nil, makes Acquire block until the channel is closed or
	// receives a value. It deliberately ignores ctx to simulate a platform
	// permission prompt that resolves regardless of the caller.
	Gate <-chan struct{}

	// Entered, when non-nil, receives a value as soon as Acquire is called
	// (before waiting on Gate).
	Entered chan<- struct{}

	// AcquireCalls counts Acquire invocations.
	AcquireCalls int
}

var _ capture.Device = (*Device)(nil)

// Acquire implements [capture.Device].
func (d *Device) Acquire(_ context.Context) (capture.Stream, error) {
	d.mu.Lock()
	d.AcquireCalls++
	gate, entered := d.Gate, d.Entered
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AcquireErr != nil {
		return nil, d.AcquireErr
	}
	if d.Stream == nil {
		d.Stream = &Stream{}
	}
	return d.Stream, nil
}

// Calls returns the number of Acquire invocations.
func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.AcquireCalls
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [capture.Stream]. Frames are injected by
// the test through [Stream.Emit].
type Stream struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// StartErr is returned by Start.
	StartErr error

	// ReleaseErr is returned by every Release call.
	ReleaseErr error

	// ReleasePanic, when non-nil, is raised by Release after it has been
	// recorded.
	ReleasePanic any

	// StartCalls counts Start invocations.
	StartCalls int

	// ReleaseCalls counts Release invocations.
	ReleaseCalls int

	tap      func(audio.Frame)
	released bool
}

var _ capture.Stream = (*Stream)(nil)

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Rate == 0 {
		return 16000
	}
	return s.Rate
}

// Start implements [capture.Stream].
func (s *Stream) Start(tap func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	if !s.released {
		s.tap = tap
	}
	return nil
}

// Release implements [capture.Stream].
func (s *Stream) Release() error {
	s.mu.Lock()
	s.ReleaseCalls++
	s.released = true
	s.tap = nil
	p, err := s.ReleasePanic, s.ReleaseErr
	s.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

// Emit delivers frame to the registered tap, as the device callback would.
// It reports whether the frame was delivered (false before Start or after
// Release).
func (s *Stream) Emit(frame audio.Frame) bool {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap == nil {
		return false
	}
	tap(frame)
	return true
}

// Released reports whether Release has been called.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Releases returns the number of Release invocations.
func (s *Stream) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReleaseCalls
}
