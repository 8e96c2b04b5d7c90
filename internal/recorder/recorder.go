// Package recorder implements the recording controller: the state machine that
// owns one practice recording from microphone acquisition to the final encoded
// artifact.
//
// A [Controller] acquires a [capture.Device], negotiates an encoder, opens a
// live transcription session and then publishes every captured frame, in a
// single explicit step, to the activity monitor, the visualiser, the
// transcription session and the encoder. A one-second ticker enforces the
// maximum recording time. [Controller.Stop] finalises the artifact;
// [Controller.Cancel] discards it. Both tear down every subordinate exactly
// once, isolating failures so that one broken component never prevents the
// others from being released.
//
// A Controller is one-shot: once it reaches [Stopped] or [Failed] a new
// Controller must be created for the next recording.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/speakwell/internal/activity"
	"github.com/MrWong99/speakwell/internal/clock"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/visualize"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	"github.com/MrWong99/speakwell/pkg/audio/encode"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
)

// DefaultMaxDuration is the recording cap.
const DefaultMaxDuration = 180 * time.Second

// tracerName is the instrumentation scope for recorder spans.
const tracerName = "github.com/MrWong99/speakwell/internal/recorder"

// Config holds the tunables of one recording.
type Config struct {
	// MaxDuration caps the recording. It is enforced in whole seconds of the
	// elapsed-time ticker. Zero means [DefaultMaxDuration].
	MaxDuration time.Duration

	// Formats is the encoder MIME preference list. Empty means
	// [encode.DefaultPreferences].
	Formats []string

	// ChunkInterval is the audio time per encoded chunk. Zero means
	// [encode.DefaultChunkInterval].
	ChunkInterval time.Duration

	// Silence configures the activity monitor. Its Clock field is ignored;
	// the controller's clock is used instead.
	Silence activity.Config

	// Languages restricts live transcription. Empty means English and German.
	Languages []string

	// VisualizerFPS is the render cadence when a renderer is configured.
	VisualizerFPS int

	// RequireTranscription makes a failed transcription handshake fatal
	// (Failed with [StreamError]). By default the recording continues
	// without live captions.
	RequireTranscription bool
}

// DefaultLanguages is used when [Config.Languages] is empty.
var DefaultLanguages = []string{"en-US", "de-DE"}

// NegotiateFunc creates the encoder for a recording.
type NegotiateFunc func(prefs []string, opts encode.Options) (encode.Encoder, error)

// Option configures a [Controller].
type Option func(*Controller)

// WithTranscriber sets the live transcription provider. Without one, no
// captions are produced.
func WithTranscriber(p transcribe.Provider) Option {
	return func(c *Controller) { c.transcriber = p }
}

// WithRenderer enables the live visualiser, drawing with r.
func WithRenderer(r visualize.Renderer) Option {
	return func(c *Controller) { c.renderer = r }
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithClock overrides the wall clock (tests).
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clk = clk }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithConfig sets the recording parameters.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithEncoderFactory replaces [encode.Negotiate].
func WithEncoderFactory(f NegotiateFunc) Option {
	return func(c *Controller) { c.negotiate = f }
}

// Controller drives one recording session. All exported methods are safe for
// concurrent use.
type Controller struct {
	device      capture.Device
	transcriber transcribe.Provider
	renderer    visualize.Renderer
	observer    Observer
	clk         clock.Clock
	log         *slog.Logger
	metrics     *observe.Metrics
	tracer      trace.Tracer
	cfg         Config
	negotiate   NegotiateFunc

	id   string
	done chan struct{}

	// emitMu serialises observer callbacks; silenced is set once the
	// terminal callback has been delivered.
	emitMu   sync.Mutex
	silenced bool

	mu         sync.Mutex
	state      State
	reason     FailureReason
	cancelled  bool
	failing    bool // a failure owns the Stopping state
	elapsed    int
	maxTicks   int
	chunks     []audio.EncodedChunk
	encErr     error
	transcript strings.Builder
	silent     bool
	startedAt  time.Time
	artifact   audio.Artifact
	result     error

	startCancel context.CancelFunc
	loopCancel  context.CancelFunc
	loopDone    chan struct{}

	stream  capture.Stream
	enc     encode.Encoder
	sess    transcribe.SessionHandle
	monitor *activity.Monitor
	vis     *visualize.Visualizer
	ticker  clock.Ticker

	teardownOnce sync.Once
}

// New creates an Idle controller capturing from device.
func New(device capture.Device, opts ...Option) *Controller {
	c := &Controller{
		device: device,
		id:     uuid.NewString(),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.observer == nil {
		c.observer = ObserverFuncs{}
	}
	if c.clk == nil {
		c.clk = clock.Real{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.negotiate == nil {
		c.negotiate = encode.Negotiate
	}
	if c.cfg.MaxDuration <= 0 {
		c.cfg.MaxDuration = DefaultMaxDuration
	}
	if len(c.cfg.Languages) == 0 {
		c.cfg.Languages = DefaultLanguages
	}
	c.maxTicks = int(c.cfg.MaxDuration / time.Second)
	if c.maxTicks < 1 {
		c.maxTicks = 1
	}
	c.tracer = otel.Tracer(tracerName)
	c.log = c.log.With("recording_id", c.id)
	return c
}

// ID returns the unique identifier of this recording.
func (c *Controller) ID() string { return c.id }

// Done is closed once the controller reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:            c.id,
		State:         c.state,
		Elapsed:       c.elapsed,
		Chunks:        len(c.chunks),
		Transcript:    c.transcript.String(),
		SilenceActive: c.silent,
		FailureReason: c.reason,
		Cancelled:     c.cancelled,
		StartedAt:     c.startedAt,
	}
}

// Start acquires the microphone, opens live transcription and begins
// capturing. It returns once the controller is Active or has ended.
//
// Start suspends on device acquisition and on the transcription handshake.
// If [Controller.Cancel] is called meanwhile, whatever resolves late is
// released and Start returns [ErrCancelled].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("recorder: start in state %s: %w", st, ErrInvalidState)
	}
	c.state = Requesting
	startCtx, cancel := context.WithCancel(ctx)
	c.startCancel = cancel
	c.mu.Unlock()
	defer cancel()

	ctx, span := c.tracer.Start(startCtx, "recorder.start",
		trace.WithAttributes(attribute.String("recording.id", c.id)))
	defer span.End()

	// Microphone.
	stream, err := c.device.Acquire(ctx)
	if err != nil {
		if !c.failNoTeardown(MicrophoneDenied, err) {
			return ErrCancelled
		}
		c.log.Warn("microphone acquisition failed", "err", err)
		span.RecordError(err)
		return fmt.Errorf("recorder: acquire microphone: %w", err)
	}
	if !c.adopt(func() { c.stream = stream }) {
		c.releaseLate("stream", stream.Release)
		return ErrCancelled
	}

	// Encoder.
	enc, err := c.negotiate(c.cfg.Formats, encode.Options{ChunkInterval: c.cfg.ChunkInterval})
	if err != nil {
		c.log.Error("encoder negotiation failed", "err", err)
		span.RecordError(err)
		if c.failWithTeardown(Unknown, err) {
			return fmt.Errorf("recorder: negotiate encoder: %w", err)
		}
		return ErrCancelled
	}
	if !c.adopt(func() { c.enc = enc }) {
		return ErrCancelled
	}

	// Live transcription.
	if c.transcriber != nil {
		sess, err := c.transcriber.Open(ctx, transcribe.Config{Languages: c.cfg.Languages})
		switch {
		case err != nil && !c.stillRequesting():
			return ErrCancelled
		case err != nil && c.cfg.RequireTranscription:
			c.log.Error("transcription unavailable", "err", err)
			c.metrics.RecordTranscriptionError(ctx, "open")
			span.RecordError(err)
			if c.failWithTeardown(StreamError, err) {
				return fmt.Errorf("recorder: open transcription: %w", err)
			}
			return ErrCancelled
		case err != nil:
			c.log.Warn("transcription unavailable, continuing without captions", "err", err)
			c.metrics.RecordTranscriptionError(ctx, "open")
		default:
			if !c.adopt(func() { c.sess = sess }) {
				c.releaseLate("transcription", func() error { sess.Close(); return nil })
				return ErrCancelled
			}
		}
	}

	return c.activate(ctx)
}

// activate starts the subordinates and the event loop and moves to Active.
func (c *Controller) activate(ctx context.Context) error {
	monCfg := c.cfg.Silence
	monCfg.Clock = c.clk
	monitor := activity.New(monCfg)

	var vis *visualize.Visualizer
	if c.renderer != nil {
		vis = visualize.New(visualize.Config{
			FPS:      c.cfg.VisualizerFPS,
			Renderer: c.renderer,
			Clock:    c.clk,
		})
	}

	loopCtx, loopCancel := context.WithCancel(context.WithoutCancel(ctx))
	loopDone := make(chan struct{})

	c.mu.Lock()
	if c.state != Requesting {
		c.mu.Unlock()
		loopCancel()
		monitor.Stop()
		return ErrCancelled
	}
	ticker := c.clk.NewTicker(time.Second)
	c.monitor = monitor
	c.vis = vis
	c.ticker = ticker
	c.loopCancel = loopCancel
	c.loopDone = loopDone
	c.state = Active
	c.startedAt = c.clk.Now()
	stream := c.stream
	mime := c.enc.MIMEType()
	var fragments <-chan string
	if c.sess != nil {
		fragments = c.sess.Fragments()
	}
	c.mu.Unlock()

	c.metrics.ActiveRecordings.Add(ctx, 1)
	go c.loop(loopCtx, loopDone, ticker, monitor.Events(), fragments)
	if vis != nil {
		vis.Start(loopCtx)
	}

	if err := stream.Start(c.onFrame); err != nil {
		c.log.Error("capture stream failed to start", "err", err)
		if c.failWithTeardown(Unknown, err) {
			return fmt.Errorf("recorder: start capture: %w", err)
		}
		return ErrCancelled
	}

	c.log.Info("recording started",
		"max_seconds", c.maxTicks,
		"format", mime,
		"captions", fragments != nil,
	)
	return nil
}

// onFrame is the capture callback: the single publish step of the frame
// fan-out. Each consumer receives every frame captured while Active exactly
// once.
func (c *Controller) onFrame(frame audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return
	}
	ctx := context.Background()
	c.metrics.FramesProcessed.Add(ctx, 1)

	c.monitor.OnFrame(frame)
	if c.vis != nil {
		c.vis.Push(frame)
	}
	if c.sess != nil && !c.sess.Send(frame) {
		c.metrics.RecordFrameDropped(ctx, "transcription")
	}

	chunks, err := c.enc.Write(frame)
	if err != nil {
		if c.encErr == nil {
			c.encErr = err
			c.log.Warn("encoder write failed", "err", err)
		}
		return
	}
	if len(chunks) > 0 {
		c.chunks = append(c.chunks, chunks...)
		c.metrics.EncodedChunks.Add(ctx, int64(len(chunks)))
	}
}

// loop is the controller event loop. It is the only writer of elapsed time,
// silence and transcript state.
func (c *Controller) loop(ctx context.Context, done chan<- struct{}, ticker clock.Ticker, events <-chan activity.Event, fragments <-chan string) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C():
			c.mu.Lock()
			if c.state != Active {
				c.mu.Unlock()
				continue
			}
			c.elapsed++
			elapsed := c.elapsed
			capped := elapsed >= c.maxTicks
			if capped {
				c.state = Stopping
			}
			c.mu.Unlock()

			c.emit(func(o Observer) { o.OnElapsedTick(elapsed) })
			if capped {
				c.log.Info("maximum recording time reached", "seconds", elapsed)
				go c.finishStop()
			}

		case ev := <-events:
			silent := ev == activity.SilenceStarted
			c.mu.Lock()
			active := c.state == Active
			if active {
				c.silent = silent
			}
			c.mu.Unlock()
			if active {
				c.emit(func(o Observer) { o.OnSilenceChanged(silent) })
			}

		case text, ok := <-fragments:
			if !ok {
				fragments = nil
				c.mu.Lock()
				sess := c.sess
				c.mu.Unlock()
				if sess != nil {
					if err := sess.Err(); err != nil {
						c.log.Warn("live transcription ended, captions stopped", "err", err)
						c.metrics.RecordTranscriptionError(ctx, "stream")
					}
				}
				continue
			}
			c.mu.Lock()
			active := c.state == Active
			var full string
			if active {
				c.transcript.WriteString(text)
				full = c.transcript.String()
			}
			c.mu.Unlock()
			if active {
				c.metrics.TranscriptFragments.Add(ctx, 1)
				c.emit(func(o Observer) { o.OnTranscriptUpdate(full) })
			}
		}
	}
}

// Stop finalises the recording and returns the artifact. Calling Stop while a
// stop is already in progress (user or time cap) waits for it and returns the
// same result. If ctx ends first, Stop returns ctx.Err() and the stop keeps
// running in the background.
func (c *Controller) Stop(ctx context.Context) (audio.Artifact, error) {
	c.mu.Lock()
	switch c.state {
	case Idle, Requesting:
		st := c.state
		c.mu.Unlock()
		return audio.Artifact{}, fmt.Errorf("recorder: stop in state %s: %w", st, ErrInvalidState)
	case Active:
		c.state = Stopping
		c.mu.Unlock()
		go c.finishStop()
	default:
		c.mu.Unlock()
	}

	_, span := c.tracer.Start(ctx, "recorder.stop",
		trace.WithAttributes(attribute.String("recording.id", c.id)))
	defer span.End()
	return c.Wait(ctx)
}

// Wait blocks until the controller reaches a terminal state and returns the
// artifact, or [ErrCancelled] after Cancel, or the failure.
func (c *Controller) Wait(ctx context.Context) (audio.Artifact, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return audio.Artifact{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact, c.result
}

// finishStop runs the Stopping → terminal half of a stop. It is started
// exactly once, by whichever path moved the state to Stopping.
func (c *Controller) finishStop() {
	c.mu.Lock()
	enc := c.enc
	c.mu.Unlock()

	// No Write can run concurrently: onFrame only writes while Active.
	tail, flushErr := enc.Flush()
	if flushErr != nil {
		c.log.Warn("encoder flush failed", "err", flushErr)
	}

	c.mu.Lock()
	c.chunks = append(c.chunks, tail...)
	chunks := append([]audio.EncodedChunk(nil), c.chunks...)
	encErr := errors.Join(c.encErr, flushErr)
	c.mu.Unlock()

	c.teardown()

	art, err := enc.Assemble(chunks)
	if err != nil && encErr != nil {
		err = errors.Join(err, encErr)
	}

	c.mu.Lock()
	switch {
	case c.cancelled:
		c.state = Stopped
		c.result = ErrCancelled
	case err != nil:
		c.state = Failed
		c.reason = Unknown
		c.result = fmt.Errorf("recorder: assemble artifact: %w", err)
	default:
		c.state = Stopped
		c.artifact = art
	}
	state, reason, cancelled := c.state, c.reason, c.cancelled
	c.mu.Unlock()

	ctx := context.Background()
	switch {
	case cancelled:
		c.metrics.RecordRecording(ctx, "cancelled", 0)
		c.log.Info("recording cancelled")
		c.emitTerminal(func(o Observer) { o.OnCancelled() })
	case state == Failed:
		c.metrics.RecordRecording(ctx, "failed", 0)
		c.log.Error("recording failed", "reason", reason, "err", err)
		c.emitTerminal(func(o Observer) { o.OnError(reason) })
	default:
		c.metrics.RecordRecording(ctx, "completed", art.Duration.Seconds())
		c.log.Info("recording completed",
			"chunks", len(chunks),
			"duration", art.Duration,
			"bytes", len(art.Data),
		)
		c.emitTerminal(func(o Observer) { o.OnComplete(art) })
	}
	close(c.done)
}

// Cancel abandons the recording. The artifact is discarded and Wait returns
// [ErrCancelled]. Cancel is safe at any point, including while Start is
// waiting on the microphone or the transcription handshake, and is a no-op
// once the controller has ended.
func (c *Controller) Cancel() {
	c.mu.Lock()
	switch c.state {
	case Idle:
		c.state = Stopped
		c.cancelled = true
		c.result = ErrCancelled
		c.mu.Unlock()
		c.emitTerminal(func(o Observer) { o.OnCancelled() })
		close(c.done)
		return
	case Requesting, Active:
		c.state = Stopping
		c.cancelled = true
		if c.startCancel != nil {
			c.startCancel()
		}
		c.mu.Unlock()
	case Stopping:
		// An in-flight stop observes the flag; an in-flight failure wins.
		if !c.failing {
			c.cancelled = true
		}
		c.mu.Unlock()
		return
	default:
		c.mu.Unlock()
		return
	}

	c.teardown()

	c.mu.Lock()
	c.state = Stopped
	c.result = ErrCancelled
	c.mu.Unlock()

	c.metrics.RecordRecording(context.Background(), "cancelled", 0)
	c.log.Info("recording cancelled")
	c.emitTerminal(func(o Observer) { o.OnCancelled() })
	close(c.done)
}

// stillRequesting reports whether an async continuation of Start may still
// apply its result.
func (c *Controller) stillRequesting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Requesting
}

// adopt runs set under the lock if the session is still Requesting.
func (c *Controller) adopt(set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Requesting {
		return false
	}
	set()
	return true
}

// releaseLate releases a resource that resolved after cancellation.
func (c *Controller) releaseLate(what string, release func() error) {
	c.log.Debug("discarding late result after cancellation", "resource", what)
	c.safely(what, release)
}

// failNoTeardown ends a Requesting session that acquired nothing. It returns
// false when a concurrent Cancel already ended the session.
func (c *Controller) failNoTeardown(reason FailureReason, cause error) bool {
	c.mu.Lock()
	if c.state != Requesting {
		c.mu.Unlock()
		return false
	}
	c.state = Failed
	c.reason = reason
	c.result = fmt.Errorf("recorder: %s: %w", reason, cause)
	c.mu.Unlock()

	c.metrics.RecordRecording(context.Background(), "failed", 0)
	c.emitTerminal(func(o Observer) { o.OnError(reason) })
	close(c.done)
	return true
}

// failWithTeardown moves a Requesting or Active session to Failed and tears
// it down. It returns false when a concurrent Stop or Cancel already owns the
// ending.
func (c *Controller) failWithTeardown(reason FailureReason, cause error) bool {
	c.mu.Lock()
	if c.state != Requesting && c.state != Active {
		c.mu.Unlock()
		return false
	}
	c.state = Stopping
	c.failing = true
	c.mu.Unlock()

	c.teardown()

	c.mu.Lock()
	c.state = Failed
	c.reason = reason
	c.result = fmt.Errorf("recorder: %s: %w", reason, cause)
	c.mu.Unlock()

	c.metrics.RecordRecording(context.Background(), "failed", 0)
	c.emitTerminal(func(o Observer) { o.OnError(reason) })
	close(c.done)
	return true
}

// emit delivers a progress callback unless the terminal callback has already
// been delivered.
func (c *Controller) emit(f func(Observer)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.silenced {
		return
	}
	f(c.observer)
}

// emitTerminal delivers the terminal callback and silences the observer.
func (c *Controller) emitTerminal(f func(Observer)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.silenced {
		return
	}
	c.silenced = true
	f(c.observer)
}
