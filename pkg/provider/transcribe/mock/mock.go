// Package mock provides test doubles for the transcribe package.
//
// [Provider] hands out a preconfigured [Session] (or an error) and records
// every Open call. [Session] records sent frames, lets the test inject
// fragments with [Session.Emit], and counts Close calls.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single Open invocation.
type OpenCall struct {
	Config transcribe.Config
}

// Provider is a mock implementation of [transcribe.Provider].
type Provider struct {
	mu sync.Mutex

	// Session is returned by Open when OpenErr is nil. A fresh Session is
	// created on first use when nil.
	Session *Session

	// OpenErr is returned by Open.
	OpenErr error

	// Gate, when non-nil, makes Open block until it is closed or receives a
	// value. Like a slow handshake, it ignores ctx.
	Gate <-chan struct{}

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

var _ transcribe.Provider = (*Provider)(nil)

// Open implements [transcribe.Provider].
func (p *Provider) Open(_ context.Context, cfg transcribe.Config) (transcribe.SessionHandle, error) {
	p.mu.Lock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Config: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns the number of Open invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.OpenCalls)
}

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [transcribe.SessionHandle]. It starts
// Open.
type Session struct {
	mu sync.Mutex

	// Reject makes Send report false (and count a drop) for every frame.
	Reject bool

	// ClosePanic, when non-nil, is raised by the first Close call after the
	// session has been marked closed.
	ClosePanic any

	// CloseGate, when non-nil, blocks the first Close until it is closed.
	// CloseEntered, when non-nil, is signalled before blocking.
	CloseGate    <-chan struct{}
	CloseEntered chan<- struct{}

	// SentFrames records every accepted frame in order.
	SentFrames []audio.Frame

	// CloseCalls counts Close invocations.
	CloseCalls int

	state     transcribe.State
	err       error
	dropped   int
	fragments chan string
}

var _ transcribe.SessionHandle = (*Session)(nil)

// NewSession returns an Open mock session with a buffered fragment channel.
func NewSession() *Session {
	return &Session{state: transcribe.Open, fragments: make(chan string, 64)}
}

// State implements [transcribe.SessionHandle].
func (s *Session) State() transcribe.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send implements [transcribe.SessionHandle].
func (s *Session) Send(frame audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Reject || s.state != transcribe.Open {
		s.dropped++
		return false
	}
	s.SentFrames = append(s.SentFrames, frame)
	return true
}

// Fragments implements [transcribe.SessionHandle].
func (s *Session) Fragments() <-chan string { return s.fragments }

// Err implements [transcribe.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped implements [transcribe.SessionHandle].
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close implements [transcribe.SessionHandle].
func (s *Session) Close() {
	s.mu.Lock()
	s.CloseCalls++
	first := !s.state.Terminal()
	if first {
		s.state = transcribe.Closed
		close(s.fragments)
	}
	p := s.ClosePanic
	gate, entered := s.CloseGate, s.CloseEntered
	s.mu.Unlock()
	if first && gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}
	if first && p != nil {
		panic(p)
	}
}

// Emit delivers a transcript fragment as if it had arrived from the service.
// It reports false if the session has already ended.
func (s *Session) Emit(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.fragments <- text
	return true
}

// Fail moves the session to Failed with err and closes the fragment channel,
// as a mid-stream disconnect would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = transcribe.Failed
	s.err = err
	close(s.fragments)
}

// Sent returns the number of accepted frames.
func (s *Session) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentFrames)
}

// Closes returns the number of Close invocations.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}
