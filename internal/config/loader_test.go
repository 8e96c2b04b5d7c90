package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/speakwell/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log settings",
			yaml: "server:\n  log_level: loud\n  log_format: xml\n",
			want: []string{"server.log_level", "server.log_format"},
		},
		{
			name: "recorder out of range",
			yaml: "recorder:\n  max_duration: 500ms\n  silence_threshold: 1.5\n  visualizer_fps: 500\n",
			want: []string{"recorder.max_duration", "recorder.silence_threshold", "recorder.visualizer_fps"},
		},
		{
			name: "no supported format",
			yaml: "recorder:\n  formats: [\"audio/webm\", \"audio/flac\"]\n",
			want: []string{"recorder.formats"},
		},
		{
			name: "duplicate evaluator",
			yaml: "evaluation:\n  primary:\n    name: gemini\n  fallbacks:\n    - name: gemini\n",
			want: []string{"duplicate"},
		},
		{
			name: "fallback without name",
			yaml: "evaluation:\n  primary:\n    name: gemini\n  fallbacks:\n    - model: x\n",
			want: []string{"evaluation.fallbacks[0].name is required"},
		},
		{
			name: "fallback without primary",
			yaml: "evaluation:\n  fallbacks:\n    - name: openai\n",
			want: []string{"requires evaluation.primary"},
		},
		{
			name: "unknown history backend",
			yaml: "history:\n  backend: s3\n",
			want: []string{"history.backend"},
		},
		{
			name: "negative capture values",
			yaml: "capture:\n  sample_rate: -1\n  frames_per_buffer: -2\n",
			want: []string{"capture.sample_rate", "capture.frames_per_buffer"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{History: config.HistoryConfig{Backend: config.HistoryPostgres}}
	config.ApplyDefaults(cfg)
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "history.postgres_dsn") {
		t.Fatalf("err = %v, want postgres_dsn error", err)
	}

	cfg.History.PostgresDSN = "postgres://localhost/speakwell"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate with DSN: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvGeminiAPIKey: "gm-env",
		config.EnvOpenAIAPIKey: "sk-env",
		config.EnvPostgresDSN:  "postgres://env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &config.Config{
		Transcription: config.TranscriptionConfig{ProviderEntry: config.ProviderEntry{Name: "gemini-live"}},
		Evaluation: config.EvaluationConfig{
			Primary:   config.ProviderEntry{Name: "gemini", APIKey: "gm-file"},
			Fallbacks: []config.ProviderEntry{{Name: "openai"}, {Name: "custom"}},
		},
	}
	config.ApplyEnv(cfg, lookup)

	if cfg.Transcription.APIKey != "gm-env" {
		t.Errorf("transcription key = %q, want from env", cfg.Transcription.APIKey)
	}
	if cfg.Evaluation.Primary.APIKey != "gm-file" {
		t.Errorf("primary key = %q, file value must win", cfg.Evaluation.Primary.APIKey)
	}
	if cfg.Evaluation.Fallbacks[0].APIKey != "sk-env" {
		t.Errorf("openai key = %q, want from env", cfg.Evaluation.Fallbacks[0].APIKey)
	}
	if cfg.Evaluation.Fallbacks[1].APIKey != "" {
		t.Errorf("unknown provider got key %q", cfg.Evaluation.Fallbacks[1].APIKey)
	}
	if cfg.History.PostgresDSN != "postgres://env" {
		t.Errorf("dsn = %q, want from env", cfg.History.PostgresDSN)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if cfg.Capture.Provider != "portaudio" || cfg.Transcription.Name != "gemini-live" {
		t.Fatalf("defaults = %+v / %+v", cfg.Capture, cfg.Transcription)
	}
	if cfg.History.AudioDir == "" {
		t.Fatal("audio dir not defaulted")
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"organization": "org-1", "retries": 3, "temperature": 0.5, "flag": true}}
	if got := e.OptString("organization"); got != "org-1" {
		t.Errorf("OptString = %q", got)
	}
	if got := e.OptString("retries"); got != "" {
		t.Errorf("OptString on int = %q, want empty", got)
	}
	if v, ok := e.OptFloat("retries"); !ok || v != 3 {
		t.Errorf("OptFloat(int) = %v, %v", v, ok)
	}
	if v, ok := e.OptFloat("temperature"); !ok || v != 0.5 {
		t.Errorf("OptFloat(float) = %v, %v", v, ok)
	}
	if _, ok := e.OptFloat("flag"); ok {
		t.Error("OptFloat(bool) should fail")
	}
	if got := (config.ProviderEntry{}).OptString("x"); got != "" {
		t.Errorf("OptString on nil map = %q", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Evaluation.Primary.Name; got != "gemini" {
		t.Errorf("primary evaluator = %q, want gemini", got)
	}
	if len(cfg.Evaluation.Fallbacks) != 1 || cfg.Evaluation.Fallbacks[0].Name != "openai" {
		t.Errorf("fallbacks = %+v, want one openai entry", cfg.Evaluation.Fallbacks)
	}
	if got := strings.Join(cfg.Transcription.Languages, ","); got != "en-US,de-DE" {
		t.Errorf("languages = %q", got)
	}
	if cfg.History.Path == "" {
		t.Error("history.path should be defaulted")
	}
}
