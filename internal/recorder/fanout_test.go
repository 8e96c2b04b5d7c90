package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/speakwell/internal/clock/fake"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/audio"
	capmock "github.com/MrWong99/speakwell/pkg/audio/capture/mock"
	"github.com/MrWong99/speakwell/pkg/audio/encode"
	trmock "github.com/MrWong99/speakwell/pkg/provider/transcribe/mock"
)

type nopRenderer struct{}

func (nopRenderer) Render([]float64) error { return nil }
func (nopRenderer) Clear() error           { return nil }

// countingEncoder records every frame written to it.
type countingEncoder struct {
	encode.Encoder
	mu     sync.Mutex
	frames []time.Duration
}

func (e *countingEncoder) Write(f audio.Frame) ([]audio.EncodedChunk, error) {
	e.mu.Lock()
	e.frames = append(e.frames, f.Timestamp)
	e.mu.Unlock()
	return e.Encoder.Write(f)
}

func TestOnFrame_PublishesEachFrameOnceToEveryConsumer(t *testing.T) {
	t.Parallel()

	stream := &capmock.Stream{}
	sess := trmock.NewSession()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	enc := &countingEncoder{}
	c := New(&capmock.Device{Stream: stream},
		WithTranscriber(&trmock.Provider{Session: sess}),
		WithRenderer(nopRenderer{}),
		WithClock(fake.New(time.Unix(0, 0))),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics),
		WithEncoderFactory(func(prefs []string, opts encode.Options) (encode.Encoder, error) {
			inner, err := encode.Negotiate([]string{encode.MIMEWAV}, opts)
			enc.Encoder = inner
			return enc, err
		}),
	)
	t.Cleanup(c.Cancel)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.mu.Lock()
	monitor, vis := c.monitor, c.vis
	c.mu.Unlock()

	const n = 37
	for i := range n {
		stream.Emit(audio.Frame{
			Samples:    make([]float32, 1600),
			SampleRate: 16000,
			Timestamp:  time.Duration(i) * 100 * time.Millisecond,
		})
	}

	if got := monitor.Frames(); got != n {
		t.Errorf("activity monitor frames = %d, want %d", got, n)
	}
	if got := vis.Frames(); got != n {
		t.Errorf("visualiser frames = %d, want %d", got, n)
	}
	if got := sess.Sent(); got != n {
		t.Errorf("transcription frames = %d, want %d", got, n)
	}
	enc.mu.Lock()
	written := append([]time.Duration(nil), enc.frames...)
	enc.mu.Unlock()
	if len(written) != n {
		t.Fatalf("encoder frames = %d, want %d", len(written), n)
	}
	for i, ts := range written {
		if want := time.Duration(i) * 100 * time.Millisecond; ts != want {
			t.Errorf("encoder frame %d timestamp = %v, want %v (capture order)", i, ts, want)
		}
	}

	if _, err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stream.Emit(audio.Frame{Samples: make([]float32, 1600), SampleRate: 16000})
	if got := monitor.Frames(); got != n {
		t.Errorf("monitor saw frames after Stop: %d", got)
	}
	if got := sess.Sent(); got != n {
		t.Errorf("session saw frames after Stop: %d", got)
	}
}

func TestOnFrame_IgnoredUnlessActive(t *testing.T) {
	t.Parallel()

	c := New(&capmock.Device{})
	// Not started: no subordinates exist and the call must be a no-op.
	c.onFrame(audio.Frame{Samples: make([]float32, 160), SampleRate: 16000})
	if got := c.Snapshot().Chunks; got != 0 {
		t.Errorf("chunks = %d, want 0", got)
	}
}
