// Package transcribe defines the Provider interface for live, streaming
// speech-to-text sessions used to caption a recording while it is in progress.
//
// A session is an explicit state machine:
//
//	Connecting ──► Open ──► Closing ──► Closed
//	     │          │
//	     └──────────┴──► Failed
//
// Audio is fed through [SessionHandle.Send], which never blocks: frames that
// cannot be queued are dropped and counted. Transcript fragments arrive on
// [SessionHandle.Fragments] in the order the service produced them. Live
// captions are best-effort; the recording they accompany never depends on
// them.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// ErrStream is wrapped by every error caused by the streaming transport or the
// remote service (dial failures, handshake rejection, mid-stream disconnects).
var ErrStream = errors.New("transcribe: stream error")

// State is the lifecycle state of a transcription session.
type State int

const (
	// Connecting is the state while the transport and handshake are in flight.
	Connecting State = iota
	// Open means audio may be sent and fragments may arrive.
	Open
	// Closing means Close has been called and teardown is in progress.
	Closing
	// Closed is terminal: the session ended normally.
	Closed
	// Failed is terminal: the session ended because of a stream error.
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is Closed or Failed.
func (s State) Terminal() bool { return s == Closed || s == Failed }

// CanTransition reports whether moving from s to next is a legal transition.
func (s State) CanTransition(next State) bool {
	switch s {
	case Connecting:
		return next == Open || next == Failed || next == Closing
	case Open:
		return next == Closing || next == Failed
	case Closing:
		return next == Closed
	default:
		return false
	}
}

// Config holds the parameters for one transcription session.
type Config struct {
	// Languages restricts recognition to these languages (BCP-47 tags or
	// English language names, e.g. "en-US" or "German"). Typically two.
	Languages []string

	// Instruction overrides the default system instruction. Leave empty to use
	// [SystemInstruction] over Languages.
	Instruction string
}

// SystemInstruction returns the fixed instruction for verbatim transcription
// restricted to langs.
func SystemInstruction(langs []string) string {
	var b strings.Builder
	b.WriteString("You are a verbatim speech transcriber. ")
	b.WriteString("Transcribe exactly what the speaker says, including hesitations and mistakes. ")
	b.WriteString("Do not translate, correct, summarise, answer or comment on the speech. ")
	if len(langs) > 0 {
		fmt.Fprintf(&b, "The speaker uses only these languages: %s. ", strings.Join(langs, " and "))
		b.WriteString("Never transcribe into any other language.")
	}
	return strings.TrimSpace(b.String())
}

// SessionHandle is an open transcription session.
type SessionHandle interface {
	// State returns the current lifecycle state.
	State() State

	// Send enqueues a frame for transmission without blocking. It reports
	// whether the frame was accepted; frames are dropped when the session is
	// not Open or the send queue is full.
	Send(frame audio.Frame) bool

	// Fragments returns the channel of transcript fragments, verbatim and in
	// arrival order. It is closed when the session reaches a terminal state.
	Fragments() <-chan string

	// Err returns the error that moved the session to Failed, or nil.
	Err() error

	// Dropped returns the number of frames discarded by Send.
	Dropped() int

	// Close ends the session. It is best-effort and idempotent: transport
	// errors during close are swallowed.
	Close()
}

// Provider opens transcription sessions.
type Provider interface {
	// Open establishes a session and completes the service handshake. The
	// returned session is Open. Errors wrap [ErrStream] unless caused by ctx.
	Open(ctx context.Context, cfg Config) (SessionHandle, error)
}
