package recorder

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrCancelled is returned by Start, Stop and Wait when the recording was
	// cancelled.
	ErrCancelled = errors.New("recorder: cancelled")

	// ErrInvalidState is returned when an operation is not valid in the
	// controller's current state.
	ErrInvalidState = errors.New("recorder: invalid state")
)

// State is the lifecycle state of a recording session.
type State int

const (
	// Idle is the initial state before Start.
	Idle State = iota
	// Requesting means Start is acquiring the microphone and opening the
	// transcription session.
	Requesting
	// Active means audio is being captured.
	Active
	// Stopping means the encoder is being finalised and subordinates are
	// being torn down.
	Stopping
	// Stopped is terminal: the recording completed or was cancelled.
	Stopped
	// Failed is terminal: the recording could not be produced.
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is Stopped or Failed.
func (s State) Terminal() bool { return s == Stopped || s == Failed }

// FailureReason explains why a session ended in [Failed].
type FailureReason int

const (
	// NoFailure is the zero value; the session has not failed.
	NoFailure FailureReason = iota
	// MicrophoneDenied means the microphone could not be acquired.
	MicrophoneDenied
	// StreamError means a required transcription session could not be
	// established.
	StreamError
	// Unknown covers encoder and stream-start failures.
	Unknown
)

// String returns the reason name.
func (r FailureReason) String() string {
	switch r {
	case NoFailure:
		return "none"
	case MicrophoneDenied:
		return "microphone_denied"
	case StreamError:
		return "stream_error"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("FailureReason(%d)", int(r))
	}
}

// Snapshot is a point-in-time copy of the recording session.
type Snapshot struct {
	// ID uniquely identifies the session.
	ID string

	State State

	// Elapsed is the number of one-second ticks observed while Active.
	Elapsed int

	// Chunks is the number of encoded chunks captured so far.
	Chunks int

	// Transcript is the live transcript accumulated so far.
	Transcript string

	// SilenceActive is true while the activity monitor reports silence.
	SilenceActive bool

	// FailureReason is set only in the Failed state.
	FailureReason FailureReason

	// Cancelled is true when the session ended through Cancel.
	Cancelled bool

	// StartedAt is when the session became Active (zero before that).
	StartedAt time.Time
}
