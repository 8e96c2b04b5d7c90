// Package audio defines the frame, chunk and artifact types shared by the
// capture device, the encoder, the activity monitor, the visualiser and the
// live-transcription session, together with the PCM conversion helpers they
// rely on.
//
// A [Frame] is the unit of the raw-sample tap: one fixed-size buffer of mono
// samples normalised to [-1, 1], produced once per capture callback. Frames
// are transient; the encoder turns them into [EncodedChunk] values which are
// concatenated into a single [Artifact] when a recording stops.
package audio

import (
	"strings"
	"time"
)

// Frame is one buffer of raw mono audio captured from the microphone.
type Frame struct {
	// Samples holds mono samples normalised to [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for a typical microphone, 16000 for STT).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the audio time covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EncodedChunk is one compressed segment emitted periodically by an encoder.
// Chunks are ordered by Seq, which equals their capture order.
type EncodedChunk struct {
	// Seq is the zero-based position of this chunk in the recording.
	Seq int

	// Data is the encoded payload. Its format is defined by the encoder's
	// MIME type; concatenating chunk data in Seq order yields a playable stream
	// for streaming containers such as Ogg.
	Data []byte

	// Duration is the audio time represented by this chunk.
	Duration time.Duration
}

// Artifact is the final encoded recording handed to the caller on a
// successful stop.
type Artifact struct {
	// MIMEType is the negotiated container/codec, e.g. "audio/ogg;codecs=opus".
	MIMEType string

	// Data is the complete encoded recording.
	Data []byte

	// Duration is the total audio time captured.
	Duration time.Duration

	// Chunks is the number of encoded chunks the artifact was assembled from.
	Chunks int
}

// Extension returns a file extension suitable for the artifact's MIME type.
func (a Artifact) Extension() string {
	switch {
	case strings.HasPrefix(a.MIMEType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(a.MIMEType, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(a.MIMEType, "audio/wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
