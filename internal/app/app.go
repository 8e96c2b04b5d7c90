// Package app wires the speakwell subsystems into one practice session.
//
// The App struct owns the flow of a single answer: Practice records the
// learner through a [recorder.Controller] with a terminal console attached,
// hands the finished artifact to the evaluator, reconciles the reported
// topic, persists a [history.Entry] and prints the report.
//
// For testing, inject mock providers through [Providers] and redirect the
// terminal with [WithInput] and [WithOutput].
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/speakwell/internal/activity"
	"github.com/MrWong99/speakwell/internal/clock"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/recorder"
	"github.com/MrWong99/speakwell/internal/visualize"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
)

// Providers holds one value per collaborator slot. Populated by the CLI via
// the config registry.
type Providers struct {
	// Capture is the microphone. Required.
	Capture capture.Device

	// Transcriber produces live captions. Nil records without captions.
	Transcriber transcribe.Provider

	// Evaluator scores the recording. Nil skips evaluation.
	Evaluator evaluate.Evaluator

	// History keeps finished sessions. Required.
	History history.Store
}

// App runs practice sessions against one configuration.
type App struct {
	cfg       *config.Config
	providers *Providers

	in      io.Reader
	out     io.Writer
	log     *slog.Logger
	metrics *observe.Metrics
	clk     clock.Clock

	recorderOpts []recorder.Option
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithInput sets where the stop key is read from. Defaults to os.Stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput sets where the console and report are written. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metric instruments handed to the recorder.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the clock used for timestamps and by the recorder.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithRecorderOptions appends options to every recorder the App creates.
// They are applied after the App's own options.
func WithRecorderOptions(opts ...recorder.Option) Option {
	return func(a *App) { a.recorderOpts = append(a.recorderOpts, opts...) }
}

// New creates an App. cfg must already carry defaults (see
// [config.ApplyDefaults]).
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Capture == nil {
		return nil, errors.New("app: a capture device is required")
	}
	if providers.History == nil {
		return nil, errors.New("app: a history store is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		in:        os.Stdin,
		out:       os.Stdout,
		log:       slog.Default(),
		clk:       clock.Real{},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a, nil
}

// PracticeRequest describes what the learner is asked to talk about.
type PracticeRequest struct {
	// Topic is the assigned prompt. May be empty when Candidates is set.
	Topic string

	// Candidates are the topics the learner may choose from.
	Candidates []string

	// Language is the practised language (BCP 47). Empty uses the first
	// configured transcription language.
	Language string

	StudentID string
	ClassID   string

	// SkipEvaluation records and stores the session without scoring it.
	SkipEvaluation bool
}

// Practice records one answer and returns the stored entry.
//
// Reading a line from the input stops the recording early; the configured
// maximum duration stops it otherwise. Cancelling ctx abandons the recording
// and Practice returns an error wrapping [recorder.ErrCancelled] without
// storing anything. A failed evaluation does not fail Practice: the entry is
// stored with EvalError set.
func (a *App) Practice(ctx context.Context, req PracticeRequest) (*history.Entry, error) {
	ctx, span := observe.StartSpan(ctx, "practice")
	defer span.End()

	language := req.Language
	if language == "" && len(a.cfg.Transcription.Languages) > 0 {
		language = a.cfg.Transcription.Languages[0]
	}

	out := &syncWriter{w: a.out}
	con := newConsole(out, a.cfg.Recorder.MaxDuration, a.cfg.Recorder.VisualizerEnabled())
	rec := recorder.New(a.providers.Capture, a.recorderOptions(con, out)...)
	log := observe.Logger(ctx, a.log).With("recording_id", rec.ID())
	span.SetAttributes(attribute.String("recording.id", rec.ID()))

	con.intro(req, language)

	stopCancel := context.AfterFunc(ctx, rec.Cancel)
	defer stopCancel()

	// Cancellation is delivered through rec.Cancel so that a late microphone
	// grant is released instead of being reported as a device failure.
	if err := rec.Start(context.WithoutCancel(ctx)); err != nil {
		span.RecordError(err)
		// A cancel that lands before Start leaves the controller Stopped, and
		// Start then reports an invalid state rather than the cancellation.
		if errors.Is(err, recorder.ErrCancelled) || rec.Snapshot().Cancelled {
			return nil, fmt.Errorf("app: practice: %w", recorder.ErrCancelled)
		}
		span.SetStatus(codes.Error, "start failed")
		return nil, fmt.Errorf("app: start recording: %w", err)
	}

	go a.awaitStop(rec, log)

	art, err := rec.Wait(context.WithoutCancel(ctx))
	if err != nil {
		if !errors.Is(err, recorder.ErrCancelled) {
			span.SetStatus(codes.Error, "recording failed")
		}
		return nil, fmt.Errorf("app: practice: %w", err)
	}
	snap := rec.Snapshot()

	entry := history.NewEntry(a.clk.Now())
	entry.Topic = req.Topic
	entry.Candidates = slices.Clone(req.Candidates)
	entry.Language = language
	entry.StudentID = req.StudentID
	entry.ClassID = req.ClassID
	entry.Transcript = snap.Transcript
	entry.AudioMIME = art.MIMEType
	entry.AudioDuration = art.Duration

	if a.cfg.History.KeepAudio {
		path, err := a.saveAudio(entry, art)
		if err != nil {
			log.Warn("could not keep recording", "err", err)
		} else {
			entry.AudioPath = path
		}
	}

	// A Ctrl+C during evaluation abandons the scoring but still stores the
	// recording.
	bg := context.WithoutCancel(ctx)
	if a.providers.Evaluator != nil && !req.SkipEvaluation {
		con.evaluating()
		res, err := a.evaluate(ctx, req, language, art, snap.Transcript)
		if err != nil {
			log.Warn("evaluation failed", "err", err)
			entry.EvalError = err.Error()
		} else {
			entry.Topic = reconcileTopic(req.Topic, req.Candidates, res)
			entry.Result = res
		}
	}

	if err := a.providers.History.Set(bg, entry); err != nil {
		span.RecordError(err)
		return &entry, fmt.Errorf("app: save history: %w", err)
	}
	log.Info("practice stored", "entry_id", entry.ID, "evaluated", entry.Result != nil)

	if err := WriteReport(a.out, entry); err != nil {
		return &entry, fmt.Errorf("app: print report: %w", err)
	}
	return &entry, nil
}

// recorderOptions builds the controller options for one recording.
// The transcription session always gets every configured language, since
// the learner may switch between them while answering.
func (a *App) recorderOptions(con *console, out io.Writer) []recorder.Option {
	rc := a.cfg.Recorder
	opts := []recorder.Option{
		recorder.WithObserver(con),
		recorder.WithLogger(a.log),
		recorder.WithMetrics(a.metrics),
		recorder.WithClock(a.clk),
		recorder.WithConfig(recorder.Config{
			MaxDuration:   rc.MaxDuration,
			Formats:       rc.Formats,
			ChunkInterval: rc.ChunkInterval,
			Silence: activity.Config{
				Threshold: rc.SilenceThreshold,
				Timeout:   rc.SilenceTimeout,
			},
			Languages:            slices.Clone(a.cfg.Transcription.Languages),
			VisualizerFPS:        rc.VisualizerFPS,
			RequireTranscription: a.cfg.Transcription.Required,
		}),
	}
	if a.providers.Transcriber != nil {
		opts = append(opts, recorder.WithTranscriber(a.providers.Transcriber))
	}
	if rc.VisualizerEnabled() {
		opts = append(opts, recorder.WithRenderer(visualize.NewTerminal(out, con.status)))
	}
	return append(opts, a.recorderOpts...)
}

// awaitStop stops rec when a line arrives on the input. It returns once rec
// has ended; a reader still blocked at that point is abandoned.
func (a *App) awaitStop(rec *recorder.Controller, log *slog.Logger) {
	line := make(chan struct{})
	go func() {
		if _, err := bufio.NewReader(a.in).ReadString('\n'); err == nil {
			close(line)
		}
	}()

	select {
	case <-line:
		if _, err := rec.Stop(context.Background()); err != nil && !errors.Is(err, recorder.ErrCancelled) {
			log.Debug("stop after enter", "err", err)
		}
	case <-rec.Done():
	}
}

func (a *App) evaluate(ctx context.Context, req PracticeRequest, language string, art audio.Artifact, transcript string) (*evaluate.Result, error) {
	if t := a.cfg.Evaluation.Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return a.providers.Evaluator.Evaluate(ctx, evaluate.Request{
		Audio:      art.Data,
		MIMEType:   art.MIMEType,
		Topic:      req.Topic,
		Candidates: req.Candidates,
		Language:   language,
		Transcript: transcript,
	})
}

// saveAudio writes the artifact next to the history, named after the entry.
func (a *App) saveAudio(e history.Entry, art audio.Artifact) (string, error) {
	dir := a.cfg.History.AudioDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(dir, e.ID.String()+art.Extension())
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// reconcileTopic picks the topic to store. An assigned topic always wins.
// Otherwise the evaluator's answer is mapped onto the closest candidate, and
// kept verbatim when none is close enough.
func reconcileTopic(assigned string, candidates []string, res *evaluate.Result) string {
	if assigned != "" {
		return assigned
	}
	if res.Topic == "" {
		return ""
	}
	if topic, _, ok := evaluate.MatchTopic(res.Topic, candidates); ok {
		res.Topic = topic
		return topic
	}
	return res.Topic
}
