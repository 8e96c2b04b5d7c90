// Command speakwell records spoken practice answers and scores them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/speakwell/internal/cli"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/history"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/audio/capture"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	evalgemini "github.com/MrWong99/speakwell/pkg/provider/evaluate/gemini"
	evalopenai "github.com/MrWong99/speakwell/pkg/provider/evaluate/openai"
	"github.com/MrWong99/speakwell/pkg/provider/transcribe"
	trgemini "github.com/MrWong99/speakwell/pkg/provider/transcribe/gemini"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		fmt.Fprintf(os.Stderr, "speakwell: init telemetry: %v\n", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	root := cli.NewRootCmd(&cli.Dependencies{Registry: reg})
	root.Version = version
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			fmt.Fprintln(os.Stderr, "speakwell: microphone access was denied; allow it in your system settings and try again")
			return 1
		}
		fmt.Fprintf(os.Stderr, "speakwell: %v\n", err)
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in factories into reg. Factories
// run after the configuration is loaded, so secrets from the environment are
// already present in the entries.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("portaudio", func(c config.CaptureConfig) (capture.Device, error) {
		var opts []capture.Option
		if c.SampleRate > 0 {
			opts = append(opts, capture.WithSampleRate(c.SampleRate))
		}
		if c.FramesPerBuffer > 0 {
			opts = append(opts, capture.WithFramesPerBuffer(c.FramesPerBuffer))
		}
		if c.Device != "" {
			opts = append(opts, capture.WithDeviceName(c.Device))
		}
		return capture.NewPortAudio(opts...), nil
	})

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscription("gemini-live", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		if entry.APIKey == "" {
			return nil, fmt.Errorf("gemini-live: no api key (set transcription.api_key or %s)", config.EnvGeminiAPIKey)
		}
		opts := []trgemini.Option{trgemini.WithLogger(slog.Default())}
		if entry.Model != "" {
			opts = append(opts, trgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, trgemini.WithBaseURL(entry.BaseURL))
		}
		return trgemini.New(entry.APIKey, opts...), nil
	})

	// ── Evaluation ────────────────────────────────────────────────────────────

	reg.RegisterEvaluator("gemini", func(entry config.ProviderEntry) (evaluate.Evaluator, error) {
		var opts []evalgemini.Option
		if entry.Model != "" {
			opts = append(opts, evalgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, evalgemini.WithBaseURL(entry.BaseURL))
		}
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, evalgemini.WithTemperature(float32(t)))
		}
		if d := optDuration(entry, "timeout"); d > 0 {
			opts = append(opts, evalgemini.WithTimeout(d))
		}
		return evalgemini.New(context.Background(), entry.APIKey, opts...)
	})

	reg.RegisterEvaluator("openai", func(entry config.ProviderEntry) (evaluate.Evaluator, error) {
		var opts []evalopenai.Option
		if entry.Model != "" {
			opts = append(opts, evalopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, evalopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, evalopenai.WithOrganization(org))
		}
		if n, ok := entry.OptFloat("max_retries"); ok {
			opts = append(opts, evalopenai.WithMaxRetries(int(n)))
		}
		if d := optDuration(entry, "timeout"); d > 0 {
			opts = append(opts, evalopenai.WithTimeout(d))
		}
		return evalopenai.New(entry.APIKey, opts...)
	})

	// ── History ───────────────────────────────────────────────────────────────

	reg.RegisterHistory(config.HistoryFile, func(h config.HistoryConfig) (history.Store, error) {
		return history.OpenFileStore(h.Path)
	})

	reg.RegisterHistory(config.HistoryMemory, func(config.HistoryConfig) (history.Store, error) {
		return history.NewMemStore(), nil
	})

	reg.RegisterHistory(config.HistoryPostgres, func(h config.HistoryConfig) (history.Store, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return history.OpenPostgres(ctx, h.PostgresDSN)
	})
}

// optDuration parses a duration string such as "45s" from entry.Options.
func optDuration(entry config.ProviderEntry, key string) time.Duration {
	s := entry.OptString(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "provider", entry.Name, "key", key, "value", s)
		return 0
	}
	return d
}
