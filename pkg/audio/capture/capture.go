// Package capture defines the microphone capture abstraction used by the
// recorder and provides a PortAudio-backed implementation.
//
// A [Device] grants access to the microphone via [Device.Acquire]. The returned
// [Stream] delivers mono [audio.Frame] values to a single tap function once
// [Stream.Start] has been called, and releases every underlying resource on
// [Stream.Release].
package capture

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// Sentinel errors returned (wrapped) by [Device.Acquire] and [Stream.Start].
var (
	// ErrPermissionDenied is returned when the platform refuses microphone
	// access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("capture: no input device available")
)

// Device grants access to a microphone.
type Device interface {
	// Acquire requests microphone access. On failure no resources remain
	// held. Acquire may block while the platform prompts for permission.
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is an acquired microphone.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// SampleRate returns the native capture rate in Hz.
	SampleRate() int

	// Start begins delivering frames to tap. tap is invoked from a
	// device-owned goroutine and must not block. Start may be called once.
	Start(tap func(audio.Frame)) error

	// Release stops delivery and frees the device. It is idempotent; no tap
	// invocation begins after Release returns.
	Release() error
}

// permissionHints are lower-cased fragments of host error texts that mean the
// platform refused access rather than that the device is unusable.
var permissionHints = []string{"permission", "denied", "not permitted", "access", "unauthori"}

// classifyHostError picks the sentinel for an error reported by the audio
// host while opening or starting a stream.
func classifyHostError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, h := range permissionHints {
		if strings.Contains(msg, h) {
			return ErrPermissionDenied
		}
	}
	return ErrDeviceUnavailable
}
