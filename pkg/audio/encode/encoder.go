// Package encode turns captured [audio.Frame] values into periodically emitted
// [audio.EncodedChunk] values and assembles those chunks into the final
// [audio.Artifact] of a recording.
//
// The container is chosen by [Negotiate], which walks an ordered preference
// list of MIME types and picks the first one this package can produce. Opus
// in Ogg is preferred; WAV is the universally supported fallback.
//
// Chunk cadence is measured in audio time rather than wall-clock time, so the
// number of chunks produced for a given input is fully deterministic.
package encode

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// MIME types probed by [Negotiate].
const (
	MIMEWebMOpus = "audio/webm;codecs=opus"
	MIMEOggOpus  = "audio/ogg;codecs=opus"
	MIMEWebM     = "audio/webm"
	MIMEOgg      = "audio/ogg"
	MIMEWAV      = "audio/wav"
)

// DefaultPreferences is the fixed probe order used when no preference list is
// configured.
var DefaultPreferences = []string{MIMEWebMOpus, MIMEOggOpus, MIMEWebM, MIMEOgg, MIMEWAV}

const (
	// DefaultChunkInterval is the audio time covered by one emitted chunk.
	DefaultChunkInterval = time.Second

	// targetSampleRate is the rate every encoder resamples its input to.
	targetSampleRate = 16000
)

// Sentinel errors.
var (
	// ErrUnsupported is returned when none of the requested MIME types can be
	// produced.
	ErrUnsupported = errors.New("encode: no supported format")

	// ErrNoChunks is returned by Assemble when there is nothing to assemble.
	ErrNoChunks = errors.New("encode: no chunks")

	// ErrClosed is returned when writing to an encoder that has been flushed.
	ErrClosed = errors.New("encode: encoder closed")
)

// Encoder accumulates raw frames and emits encoded chunks.
//
// Implementations must be safe for concurrent use: Write is called from the
// capture callback goroutine while Flush may be called from the stop path.
type Encoder interface {
	// MIMEType returns the negotiated container/codec.
	MIMEType() string

	// Write consumes one frame and returns any chunks completed by it. Most
	// calls return no chunks.
	Write(frame audio.Frame) ([]audio.EncodedChunk, error)

	// Flush finalises the stream and returns the trailing partial chunk, if
	// any. Subsequent Write calls return [ErrClosed].
	Flush() ([]audio.EncodedChunk, error)

	// Assemble concatenates chunks (in Seq order) into the final artifact.
	// Returns [ErrNoChunks] when chunks is empty.
	Assemble(chunks []audio.EncodedChunk) (audio.Artifact, error)
}

// Options configures a negotiated encoder.
type Options struct {
	// ChunkInterval is the audio time per emitted chunk. Zero means
	// [DefaultChunkInterval].
	ChunkInterval time.Duration
}

// Supported reports whether mimeType can be produced by this package.
func Supported(mimeType string) bool {
	switch normalise(mimeType) {
	case MIMEOggOpus, MIMEOgg, MIMEWAV:
		return true
	default:
		return false
	}
}

// Negotiate returns an encoder for the first supported MIME type in prefs.
// A nil or empty prefs uses [DefaultPreferences]. A format whose encoder
// cannot be created is skipped.
func Negotiate(prefs []string, opts Options) (Encoder, error) {
	if len(prefs) == 0 {
		prefs = DefaultPreferences
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = DefaultChunkInterval
	}
	for _, p := range prefs {
		switch normalise(p) {
		case MIMEOggOpus, MIMEOgg:
			enc, err := openOpus(opts)
			if err != nil {
				slog.Warn("opus encoder unavailable, trying next format", "mime", p, "err", err)
				continue
			}
			return enc, nil
		case MIMEWAV:
			return newWAVEncoder(opts), nil
		}
	}
	return nil, fmt.Errorf("%w (tried %s)", ErrUnsupported, strings.Join(prefs, ", "))
}

// openOpus is swapped in tests to simulate a missing codec.
var openOpus = func(opts Options) (Encoder, error) { return newOpusEncoder(opts) }

func normalise(mimeType string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mimeType)), " ", "")
}

// ── Cadence ──────────────────────────────────────────────────────────────────

// cadence tracks how much source audio has been consumed since the last
// emitted chunk. Counting source samples at the source rate keeps the chunk
// count independent of resampling rounding.
type cadence struct {
	interval time.Duration
	pending  time.Duration
	seq      int
}

// add records d of consumed audio and reports whether a chunk boundary has
// been reached.
func (c *cadence) add(d time.Duration) bool {
	c.pending += d
	return c.pending >= c.interval
}

// take returns the sequence number and duration of the chunk being closed.
func (c *cadence) take() (int, time.Duration) {
	seq, d := c.seq, c.pending
	c.seq++
	c.pending = 0
	return seq, d
}

// sumDuration returns the total audio time covered by chunks.
func sumDuration(chunks []audio.EncodedChunk) time.Duration {
	var d time.Duration
	for _, c := range chunks {
		d += c.Duration
	}
	return d
}
