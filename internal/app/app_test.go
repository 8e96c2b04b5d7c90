package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/recorder"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	capmock "github.com/MrWong99/speakwell/pkg/audio/capture/mock"
	"github.com/MrWong99/speakwell/pkg/audio/encode"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	evalmock "github.com/MrWong99/speakwell/pkg/provider/evaluate/mock"
	trmock "github.com/MrWong99/speakwell/pkg/provider/transcribe/mock"
)

const waitTimeout = 5 * time.Second

// ── helpers ──────────────────────────────────────────────────────────────────

// lockedBuffer is a bytes.Buffer safe for the concurrent writes of the
// console and the report.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	cfg    *config.Config
	stream *capmock.Stream
	dev    *capmock.Device
	sess   *trmock.Session
	tr     *trmock.Provider
	eval   *evalmock.Evaluator
	store  *history.MemStore
	out    *lockedBuffer
	stdin  *io.PipeWriter
	app    *app.App
}

func newFixture(t *testing.T, mutate func(f *fixture)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	off := false
	cfg.Recorder.Visualizer = &off
	cfg.Recorder.Formats = []string{encode.MIMEWAV}
	cfg.History.AudioDir = t.TempDir()

	stream := &capmock.Stream{Rate: 16000}
	sess := trmock.NewSession()
	f := &fixture{
		cfg:    cfg,
		stream: stream,
		dev:    &capmock.Device{Stream: stream},
		sess:   sess,
		tr:     &trmock.Provider{Session: sess},
		eval: &evalmock.Evaluator{Result: &evaluate.Result{
			Topic:   "favourite holidays",
			Scores:  evaluate.Scores{Fluency: 70, Vocabulary: 75, Grammar: 68, Coherence: 74, Relevance: 73},
			Overall: 72,
			Feedback: evaluate.Feedback{
				Fluency: "Steady pace.",
				Summary: "A clear answer with a few tense errors.",
			},
			Provider: "gemini",
		}},
		store: history.NewMemStore(),
		out:   &lockedBuffer{},
	}
	if mutate != nil {
		mutate(f)
	}

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	f.stdin = pw

	var evaluator evaluate.Evaluator
	if f.eval != nil {
		evaluator = f.eval
	}
	a, err := app.New(f.cfg, &app.Providers{
		Capture:     f.dev,
		Transcriber: f.tr,
		Evaluator:   evaluator,
		History:     f.store,
	},
		app.WithInput(pr),
		app.WithOutput(f.out),
		app.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		app.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	f.app = a
	return f
}

type practiceResult struct {
	entry *history.Entry
	err   error
}

func (f *fixture) practice(ctx context.Context, req app.PracticeRequest) <-chan practiceResult {
	done := make(chan practiceResult, 1)
	go func() {
		e, err := f.app.Practice(ctx, req)
		done <- practiceResult{e, err}
	}()
	return done
}

func frame() audio.Frame {
	s := make([]float32, 1600)
	for i := range s {
		s[i] = 0.1
	}
	return audio.Frame{Samples: s, SampleRate: 16000}
}

// speak waits until the recorder taps the stream, then feeds n 100 ms frames.
func (f *fixture) speak(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !f.stream.Emit(frame()) {
		if time.Now().After(deadline) {
			t.Fatal("recorder never started capturing")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for range n - 1 {
		f.stream.Emit(frame())
	}
}

func (f *fixture) waitOutput(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !strings.Contains(f.out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output never contained %q; got:\n%s", want, f.out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fixture) pressEnter(t *testing.T) {
	t.Helper()
	if _, err := f.stdin.Write([]byte("\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
}

func await(t *testing.T, done <-chan practiceResult) practiceResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("Practice did not return")
		return practiceResult{}
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestPractice_RecordEvaluateStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.cfg.History.KeepAudio = true })

	req := app.PracticeRequest{
		Candidates: []string{"My Favourite Holiday", "Technology at School"},
		StudentID:  "s-17",
		ClassID:    "9b",
	}
	done := f.practice(context.Background(), req)

	f.speak(t, 20)
	f.sess.Emit("I love summer holidays")
	f.waitOutput(t, "I love summer holidays")
	f.pressEnter(t)

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Practice: %v", r.err)
	}
	e := r.entry

	if e.Topic != "My Favourite Holiday" {
		t.Errorf("Topic = %q, want reconciled candidate", e.Topic)
	}
	if e.Result == nil || e.Result.Topic != "My Favourite Holiday" || e.Result.Overall != 72 {
		t.Errorf("Result = %+v", e.Result)
	}
	if !strings.Contains(e.Transcript, "I love summer holidays") {
		t.Errorf("Transcript = %q", e.Transcript)
	}
	if e.AudioMIME != encode.MIMEWAV || e.AudioDuration != 2*time.Second {
		t.Errorf("audio = %s / %v, want wav / 2s", e.AudioMIME, e.AudioDuration)
	}
	if e.Language != "en-US" || e.StudentID != "s-17" || e.ClassID != "9b" {
		t.Errorf("tags = %q %q %q", e.Language, e.StudentID, e.ClassID)
	}
	if _, err := os.Stat(e.AudioPath); err != nil {
		t.Errorf("kept audio: %v", err)
	}

	stored, err := f.store.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("stored entry: %v", err)
	}
	if stored.Topic != e.Topic {
		t.Errorf("stored topic = %q", stored.Topic)
	}

	if got := f.eval.CallCount(); got != 1 {
		t.Fatalf("Evaluate calls = %d, want 1", got)
	}
	sent := f.eval.Calls[0].Req
	if sent.MIMEType != encode.MIMEWAV || len(sent.Audio) == 0 || sent.Language != "en-US" {
		t.Errorf("evaluate request = %s, %d bytes, %s", sent.MIMEType, len(sent.Audio), sent.Language)
	}
	if !slices.Equal(sent.Candidates, req.Candidates) {
		t.Errorf("candidates = %v", sent.Candidates)
	}

	if calls := f.tr.OpenCalls; len(calls) != 1 || !slices.Equal(calls[0].Config.Languages, []string{"en-US", "de-DE"}) {
		t.Errorf("transcription open calls = %+v", calls)
	}
	out := f.out.String()
	for _, want := range []string{"Pick one topic", "Recording finished", "Score", "72/100", "A clear answer"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestPractice_AssignedTopicAndLanguage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	done := f.practice(context.Background(), app.PracticeRequest{Topic: "Technology at School", Language: "de-DE"})
	f.speak(t, 10)
	f.pressEnter(t)

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Practice: %v", r.err)
	}
	if r.entry.Topic != "Technology at School" {
		t.Errorf("Topic = %q, assigned topic must win", r.entry.Topic)
	}
	if r.entry.Language != "de-DE" {
		t.Errorf("Language = %q", r.entry.Language)
	}
	// The chosen language only steers evaluation; captions still accept
	// both configured languages.
	if calls := f.tr.OpenCalls; len(calls) != 1 || !slices.Equal(calls[0].Config.Languages, []string{"en-US", "de-DE"}) {
		t.Errorf("transcription languages = %+v, want both configured languages", calls)
	}
	if calls := f.eval.Calls; len(calls) != 1 || calls[0].Req.Language != "de-DE" {
		t.Errorf("evaluation requests = %+v, want language de-DE", calls)
	}
	if r.entry.AudioPath != "" {
		t.Errorf("AudioPath = %q without keep_audio", r.entry.AudioPath)
	}
}

func TestPractice_EvaluationFailureStillStores(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.eval.Err = errors.New("quota exceeded") })

	done := f.practice(context.Background(), app.PracticeRequest{Topic: "Sport"})
	f.speak(t, 10)
	f.pressEnter(t)

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Practice: %v", r.err)
	}
	if r.entry.Result != nil || !strings.Contains(r.entry.EvalError, "quota exceeded") {
		t.Errorf("entry = %+v", r.entry)
	}
	if _, err := f.store.Get(context.Background(), r.entry.ID); err != nil {
		t.Errorf("entry not stored: %v", err)
	}
	if !strings.Contains(f.out.String(), "Evaluation failed") {
		t.Error("report does not mention the failed evaluation")
	}
}

func TestPractice_SkipEvaluation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	done := f.practice(context.Background(), app.PracticeRequest{Topic: "Sport", SkipEvaluation: true})
	f.speak(t, 10)
	f.pressEnter(t)

	r := await(t, done)
	if r.err != nil {
		t.Fatalf("Practice: %v", r.err)
	}
	if f.eval.CallCount() != 0 {
		t.Errorf("Evaluate called %d times", f.eval.CallCount())
	}
	if !strings.Contains(f.out.String(), "Not evaluated.") {
		t.Error("report should say the entry was not evaluated")
	}
}

func TestPractice_CancelDiscardsRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := f.practice(ctx, app.PracticeRequest{Topic: "Sport"})
	f.speak(t, 5)
	cancel()

	r := await(t, done)
	if !errors.Is(r.err, recorder.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", r.err)
	}
	entries, err := f.store.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("stored %d entries after cancel", len(entries))
	}
	if !f.stream.Released() {
		t.Error("microphone not released")
	}
	if f.sess.Closes() == 0 {
		t.Error("transcription session not closed")
	}
	if f.eval.CallCount() != 0 {
		t.Error("cancelled recording was evaluated")
	}
}

func TestPractice_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.dev.AcquireErr = capture.ErrPermissionDenied })

	r := await(t, f.practice(context.Background(), app.PracticeRequest{Topic: "Sport"}))
	if !errors.Is(r.err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", r.err)
	}
	if f.tr.Calls() != 0 {
		t.Error("transcription opened without a microphone")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	tests := []struct {
		name string
		cfg  *config.Config
		p    *app.Providers
	}{
		{"nil config", nil, &app.Providers{Capture: &capmock.Device{}, History: history.NewMemStore()}},
		{"nil providers", cfg, nil},
		{"no capture", cfg, &app.Providers{History: history.NewMemStore()}},
		{"no history", cfg, &app.Providers{Capture: &capmock.Device{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(tc.cfg, tc.p); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
