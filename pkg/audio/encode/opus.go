package encode

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// Speech-tuned Opus at 16 kHz mono, 20 ms frames.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms frame.
	opusFrameSize = targetSampleRate * opusFrameSizeMs / 1000 // 320
	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000
	// oggGranuleStep advances the Ogg granule position per frame. Ogg Opus
	// granules always count 48 kHz samples regardless of the input rate.
	oggGranuleStep = 48000 * opusFrameSizeMs / 1000 // 960
)

// opusEncoder produces a single Ogg Opus logical stream. Each chunk carries the
// Ogg pages written since the previous chunk, so concatenating chunk data in
// order reconstructs the complete file; the first chunk carries the stream
// headers.
type opusEncoder struct {
	mu      sync.Mutex
	enc     *gopus.Encoder
	ogg     *oggwriter.OggWriter
	out     *bytes.Buffer
	pcm     []int16
	ts      uint32
	cadence cadence
	closed  bool
}

var _ Encoder = (*opusEncoder)(nil)

func newOpusEncoder(opts Options) (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(targetSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("encode: create opus encoder: %w", err)
	}
	out := &bytes.Buffer{}
	ogg, err := oggwriter.NewWith(out, targetSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("encode: create ogg writer: %w", err)
	}
	return &opusEncoder{
		enc:     enc,
		ogg:     ogg,
		out:     out,
		cadence: cadence{interval: opts.ChunkInterval},
	}, nil
}

// MIMEType implements [Encoder].
func (e *opusEncoder) MIMEType() string { return MIMEOggOpus }

// Write implements [Encoder].
func (e *opusEncoder) Write(frame audio.Frame) ([]audio.EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	samples := audio.ResampleFloat32(frame.Samples, frame.SampleRate, targetSampleRate)
	e.pcm = append(e.pcm, audio.Float32ToInt16(samples)...)
	if err := e.encodeFull(); err != nil {
		return nil, err
	}

	if !e.cadence.add(frame.Duration()) {
		return nil, nil
	}
	return []audio.EncodedChunk{e.cut()}, nil
}

// Flush implements [Encoder].
func (e *opusEncoder) Flush() ([]audio.EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil
	}
	e.closed = true

	var firstErr error
	if len(e.pcm) > 0 {
		padded := make([]int16, opusFrameSize)
		copy(padded, e.pcm)
		e.pcm = padded
		firstErr = e.encodeFull()
	}
	if err := e.ogg.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("encode: close ogg writer: %w", err)
	}

	if e.out.Len() == 0 && e.cadence.pending == 0 {
		return nil, firstErr
	}
	return []audio.EncodedChunk{e.cut()}, firstErr
}

// Assemble implements [Encoder]. Ogg is a streaming container, so the chunks
// are simply concatenated.
func (e *opusEncoder) Assemble(chunks []audio.EncodedChunk) (audio.Artifact, error) {
	if len(chunks) == 0 {
		return audio.Artifact{}, ErrNoChunks
	}
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data)
	}
	return audio.Artifact{
		MIMEType: MIMEOggOpus,
		Data:     buf.Bytes(),
		Duration: sumDuration(chunks),
		Chunks:   len(chunks),
	}, nil
}

// encodeFull encodes every complete 20 ms frame in e.pcm and writes the
// resulting packets as Ogg pages. Must be called with e.mu held.
func (e *opusEncoder) encodeFull() error {
	for len(e.pcm) >= opusFrameSize {
		pkt, err := e.enc.Encode(e.pcm[:opusFrameSize], opusFrameSize, opusMaxPacket)
		if err != nil {
			return fmt.Errorf("encode: opus encode: %w", err)
		}
		e.pcm = e.pcm[opusFrameSize:]
		if err := e.ogg.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Timestamp: e.ts},
			Payload: pkt,
		}); err != nil {
			return fmt.Errorf("encode: write ogg page: %w", err)
		}
		e.ts += oggGranuleStep
	}
	return nil
}

// cut drains the pending Ogg bytes into a chunk. Must be called with e.mu held.
func (e *opusEncoder) cut() audio.EncodedChunk {
	seq, d := e.cadence.take()
	data := bytes.Clone(e.out.Bytes())
	e.out.Reset()
	return audio.EncodedChunk{Seq: seq, Data: data, Duration: d}
}
