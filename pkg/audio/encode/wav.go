package encode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/speakwell/pkg/audio"
)

// wavEncoder emits raw 16 kHz PCM16 chunks; the RIFF header is written once
// when the chunks are assembled.
type wavEncoder struct {
	mu      sync.Mutex
	pending bytes.Buffer
	cadence cadence
	closed  bool
}

var _ Encoder = (*wavEncoder)(nil)

func newWAVEncoder(opts Options) *wavEncoder {
	return &wavEncoder{cadence: cadence{interval: opts.ChunkInterval}}
}

// MIMEType implements [Encoder].
func (e *wavEncoder) MIMEType() string { return MIMEWAV }

// Write implements [Encoder].
func (e *wavEncoder) Write(frame audio.Frame) ([]audio.EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	samples := audio.ResampleFloat32(frame.Samples, frame.SampleRate, targetSampleRate)
	e.pending.Write(audio.PCM16(samples))
	if !e.cadence.add(frame.Duration()) {
		return nil, nil
	}
	return []audio.EncodedChunk{e.cut()}, nil
}

// Flush implements [Encoder].
func (e *wavEncoder) Flush() ([]audio.EncodedChunk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil
	}
	e.closed = true
	if e.pending.Len() == 0 {
		return nil, nil
	}
	return []audio.EncodedChunk{e.cut()}, nil
}

// Assemble implements [Encoder].
func (e *wavEncoder) Assemble(chunks []audio.EncodedChunk) (audio.Artifact, error) {
	if len(chunks) == 0 {
		return audio.Artifact{}, ErrNoChunks
	}

	var total int
	for _, c := range chunks {
		total += len(c.Data) / 2
	}
	data := make([]int, 0, total)
	for _, c := range chunks {
		for _, s := range audio.BytesToInt16(c.Data) {
			data = append(data, int(s))
		}
	}

	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, targetSampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: targetSampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return audio.Artifact{}, fmt.Errorf("encode: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return audio.Artifact{}, fmt.Errorf("encode: close wav: %w", err)
	}

	return audio.Artifact{
		MIMEType: MIMEWAV,
		Data:     ws.buf,
		Duration: sumDuration(chunks),
		Chunks:   len(chunks),
	}, nil
}

// cut drains pending PCM into a chunk. Must be called with e.mu held.
func (e *wavEncoder) cut() audio.EncodedChunk {
	seq, d := e.cadence.take()
	data := bytes.Clone(e.pending.Bytes())
	e.pending.Reset()
	return audio.EncodedChunk{Seq: seq, Data: data, Duration: d}
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch the RIFF sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.buf) {
		b.buf = append(b.buf, make([]byte, need-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("encode: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("encode: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}
