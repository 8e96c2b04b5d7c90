package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	capmock "github.com/MrWong99/speakwell/pkg/audio/capture/mock"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	evalmock "github.com/MrWong99/speakwell/pkg/provider/evaluate/mock"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
	trmock "github.com/MrWong99/speakwell/pkg/provider/transcribe/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  log_level: debug
  log_format: json
  metrics_addr: ":9090"

recorder:
  max_duration: 2m
  chunk_interval: 500ms
  formats: ["audio/ogg;codecs=opus", "audio/wav"]
  silence_threshold: 0.01
  silence_timeout: 4s
  visualizer: false

capture:
  device: "USB Microphone"
  sample_rate: 48000

transcription:
  name: gemini-live
  api_key: gm-test
  model: gemini-2.0-flash-live-001
  languages: ["en-GB", "fr-FR"]
  required: true

evaluation:
  primary:
    name: gemini
    api_key: gm-test
    model: gemini-2.5-pro
    options:
      temperature: 0.1
  fallbacks:
    - name: openai
      api_key: sk-test
  timeout: 45s
  circuit_breaker:
    max_failures: 2
    reset_timeout: 30s

history:
  backend: file
  path: /tmp/speakwell/history.json
  keep_audio: true
`

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Recorder.MaxDuration != 2*time.Minute || cfg.Recorder.ChunkInterval != 500*time.Millisecond {
		t.Errorf("recorder durations = %v / %v", cfg.Recorder.MaxDuration, cfg.Recorder.ChunkInterval)
	}
	if cfg.Recorder.SilenceTimeout != 4*time.Second || cfg.Recorder.SilenceThreshold != 0.01 {
		t.Errorf("silence = %v / %v", cfg.Recorder.SilenceTimeout, cfg.Recorder.SilenceThreshold)
	}
	if cfg.Recorder.VisualizerEnabled() {
		t.Error("visualizer should be disabled")
	}
	if cfg.Capture.Provider != "portaudio" || cfg.Capture.Device != "USB Microphone" || cfg.Capture.FramesPerBuffer != 4096 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Transcription.Name != "gemini-live" || cfg.Transcription.APIKey != "gm-test" || !cfg.Transcription.Required {
		t.Errorf("transcription = %+v", cfg.Transcription)
	}
	if !slices.Equal(cfg.Transcription.Languages, []string{"en-GB", "fr-FR"}) {
		t.Errorf("languages = %v", cfg.Transcription.Languages)
	}
	if temp, ok := cfg.Evaluation.Primary.OptFloat("temperature"); !ok || temp != 0.1 {
		t.Errorf("temperature option = %v, %v", temp, ok)
	}
	if len(cfg.Evaluation.Fallbacks) != 1 || cfg.Evaluation.Fallbacks[0].Name != "openai" {
		t.Errorf("fallbacks = %+v", cfg.Evaluation.Fallbacks)
	}
	if cfg.Evaluation.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("circuit breaker = %+v", cfg.Evaluation.CircuitBreaker)
	}
	if cfg.History.AudioDir != "/tmp/speakwell/audio" || !cfg.History.KeepAudio {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Recorder.MaxDuration != 3*time.Minute {
		t.Errorf("max_duration = %v, want 3m", cfg.Recorder.MaxDuration)
	}
	if cfg.Recorder.SilenceTimeout != 5*time.Second || cfg.Recorder.SilenceThreshold != 0.008 {
		t.Errorf("silence defaults = %v / %v", cfg.Recorder.SilenceTimeout, cfg.Recorder.SilenceThreshold)
	}
	if !cfg.Recorder.VisualizerEnabled() {
		t.Error("visualizer should default to enabled")
	}
	if !slices.Equal(cfg.Transcription.Languages, []string{"en-US", "de-DE"}) {
		t.Errorf("languages = %v", cfg.Transcription.Languages)
	}
	if cfg.Evaluation.Primary.Name != "gemini" {
		t.Errorf("primary evaluator = %q, want gemini", cfg.Evaluation.Primary.Name)
	}
	if cfg.History.Backend != config.HistoryFile || !strings.HasSuffix(cfg.History.Path, "history.json") {
		t.Errorf("history = %+v", cfg.History)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("recorder:\n  max_seconds: 10\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(t.TempDir() + "/nope.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	checks := []struct {
		name string
		err  error
	}{
		{"capture", func() error { _, err := reg.CreateCapture(config.CaptureConfig{Provider: "x"}); return err }()},
		{"transcription", func() error { _, err := reg.CreateTranscription(config.ProviderEntry{Name: "x"}); return err }()},
		{"evaluation", func() error { _, err := reg.CreateEvaluator(config.ProviderEntry{Name: "x"}); return err }()},
		{"history", func() error { _, err := reg.CreateHistory(config.HistoryConfig{Backend: "x"}); return err }()},
	}
	for _, c := range checks {
		if !errors.Is(c.err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", c.name, c.err)
		}
	}
}

func TestRegistry_CreatesRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotCapture config.CaptureConfig
	reg.RegisterCapture("mock", func(c config.CaptureConfig) (capture.Device, error) {
		gotCapture = c
		return &capmock.Device{}, nil
	})
	reg.RegisterTranscription("mock", func(config.ProviderEntry) (transcribe.Provider, error) {
		return &trmock.Provider{}, nil
	})
	var gotEntry config.ProviderEntry
	reg.RegisterEvaluator("mock", func(e config.ProviderEntry) (evaluate.Evaluator, error) {
		gotEntry = e
		return &evalmock.Evaluator{}, nil
	})
	reg.RegisterHistory(config.HistoryMemory, func(config.HistoryConfig) (history.Store, error) {
		return history.NewMemStore(), nil
	})

	if _, err := reg.CreateCapture(config.CaptureConfig{Provider: "mock", Device: "mic"}); err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	if gotCapture.Device != "mic" {
		t.Errorf("capture factory got %+v", gotCapture)
	}
	if _, err := reg.CreateTranscription(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateTranscription: %v", err)
	}
	if _, err := reg.CreateEvaluator(config.ProviderEntry{Name: "mock", Model: "m1"}); err != nil {
		t.Fatalf("CreateEvaluator: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("evaluator factory got %+v", gotEntry)
	}
	s, err := reg.CreateHistory(config.HistoryConfig{Backend: config.HistoryMemory})
	if err != nil {
		t.Fatalf("CreateHistory: %v", err)
	}
	if _, err := s.List(context.Background(), history.Filter{}); err != nil {
		t.Fatalf("List: %v", err)
	}

	names := reg.Names()
	for _, kind := range []string{"capture", "transcription", "evaluation"} {
		if !slices.Equal(names[kind], []string{"mock"}) {
			t.Errorf("Names()[%s] = %v", kind, names[kind])
		}
	}
	if !slices.Equal(names["history"], []string{"memory"}) {
		t.Errorf("Names()[history] = %v", names["history"])
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterEvaluator("bad", func(config.ProviderEntry) (evaluate.Evaluator, error) { return nil, boom })

	if _, err := reg.CreateEvaluator(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
