package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/speakwell/pkg/audio/encode"
)

// Environment variables that override secrets from the file.
const (
	EnvGeminiAPIKey = "SPEAKWELL_GEMINI_API_KEY"
	EnvOpenAIAPIKey = "SPEAKWELL_OPENAI_API_KEY"
	EnvPostgresDSN  = "SPEAKWELL_POSTGRES_DSN"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":       {"portaudio"},
	"transcription": {"gemini-live"},
	"evaluation":    {"gemini", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults and environment overrides applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists, with
// environment overrides applied. It is not validated: a missing API key is
// reported when the provider is built.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}

	r := &cfg.Recorder
	if r.MaxDuration == 0 {
		r.MaxDuration = 3 * time.Minute
	}
	if r.ChunkInterval == 0 {
		r.ChunkInterval = encode.DefaultChunkInterval
	}
	if len(r.Formats) == 0 {
		r.Formats = slices.Clone(encode.DefaultPreferences)
	}
	if r.SilenceThreshold == 0 {
		r.SilenceThreshold = 0.008
	}
	if r.SilenceTimeout == 0 {
		r.SilenceTimeout = 5 * time.Second
	}
	if r.VisualizerFPS == 0 {
		r.VisualizerFPS = 30
	}

	if cfg.Capture.Provider == "" {
		cfg.Capture.Provider = "portaudio"
	}
	if cfg.Capture.FramesPerBuffer == 0 {
		cfg.Capture.FramesPerBuffer = 4096
	}

	if cfg.Transcription.Name == "" {
		cfg.Transcription.Name = "gemini-live"
	}
	if len(cfg.Transcription.Languages) == 0 {
		cfg.Transcription.Languages = []string{"en-US", "de-DE"}
	}

	if cfg.Evaluation.Primary.Name == "" && len(cfg.Evaluation.Fallbacks) == 0 {
		cfg.Evaluation.Primary.Name = "gemini"
	}
	if cfg.Evaluation.Timeout == 0 {
		cfg.Evaluation.Timeout = 90 * time.Second
	}

	h := &cfg.History
	if h.Backend == "" {
		h.Backend = HistoryFile
	}
	if h.Backend == HistoryFile && h.Path == "" {
		h.Path = filepath.Join(dataDir(), "history.json")
	}
	if h.AudioDir == "" {
		base := dataDir()
		if h.Path != "" {
			base = filepath.Dir(h.Path)
		}
		h.AudioDir = filepath.Join(base, "audio")
	}
}

// ApplyEnv copies secrets from the environment into empty provider entries
// and the Postgres DSN. Values from the file win.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	keyFor := func(name string) string {
		var env string
		switch name {
		case "gemini", "gemini-live":
			env = EnvGeminiAPIKey
		case "openai":
			env = EnvOpenAIAPIKey
		default:
			return ""
		}
		v, _ := lookup(env)
		return v
	}
	fill := func(e *ProviderEntry) {
		if e.APIKey == "" {
			e.APIKey = keyFor(e.Name)
		}
	}

	fill(&cfg.Transcription.ProviderEntry)
	fill(&cfg.Evaluation.Primary)
	for i := range cfg.Evaluation.Fallbacks {
		fill(&cfg.Evaluation.Fallbacks[i])
	}
	if cfg.History.PostgresDSN == "" {
		if v, ok := lookup(EnvPostgresDSN); ok {
			cfg.History.PostgresDSN = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Recorder
	r := cfg.Recorder
	if r.MaxDuration < time.Second {
		errs = append(errs, fmt.Errorf("recorder.max_duration %v must be at least 1s", r.MaxDuration))
	}
	if r.ChunkInterval <= 0 {
		errs = append(errs, fmt.Errorf("recorder.chunk_interval %v must be positive", r.ChunkInterval))
	}
	if r.SilenceThreshold < 0 || r.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("recorder.silence_threshold %.4f is out of range [0, 1)", r.SilenceThreshold))
	}
	if r.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("recorder.silence_timeout %v must be positive", r.SilenceTimeout))
	}
	if r.VisualizerFPS < 0 || r.VisualizerFPS > 120 {
		errs = append(errs, fmt.Errorf("recorder.visualizer_fps %d is out of range [1, 120]", r.VisualizerFPS))
	}
	if len(r.Formats) > 0 && !slices.ContainsFunc(r.Formats, encode.Supported) {
		errs = append(errs, fmt.Errorf("recorder.formats %v contains no supported format; supported: %s, %s, %s",
			r.Formats, encode.MIMEOggOpus, encode.MIMEOgg, encode.MIMEWAV))
	}

	// Capture
	validateProviderName("capture", cfg.Capture.Provider)
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}

	// Transcription
	tr := cfg.Transcription
	validateProviderName("transcription", tr.Name)
	if tr.Required && tr.Name == "" {
		errs = append(errs, errors.New("transcription.required is set but transcription.name is empty"))
	}
	if len(tr.Languages) > 2 {
		slog.Warn("more than two transcription languages configured; recognition quality may suffer",
			"languages", tr.Languages)
	}

	// Evaluation
	seen := make(map[string]string)
	checkEval := func(prefix string, e ProviderEntry) {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			return
		}
		validateProviderName("evaluation", e.Name)
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, e.Name, prev))
		}
		seen[e.Name] = prefix
	}
	if cfg.Evaluation.Primary.Name != "" {
		checkEval("evaluation.primary", cfg.Evaluation.Primary)
	} else if len(cfg.Evaluation.Fallbacks) > 0 {
		errs = append(errs, errors.New("evaluation.fallbacks requires evaluation.primary"))
	}
	for i, fb := range cfg.Evaluation.Fallbacks {
		checkEval(fmt.Sprintf("evaluation.fallbacks[%d]", i), fb)
	}
	if cfg.Evaluation.Timeout < 0 {
		errs = append(errs, fmt.Errorf("evaluation.timeout %v must not be negative", cfg.Evaluation.Timeout))
	}
	cb := cfg.Evaluation.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("evaluation.circuit_breaker values must not be negative"))
	}

	// History
	h := cfg.History
	if h.Backend != "" && !h.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: file, memory, postgres", h.Backend))
	}
	if h.Backend == HistoryFile && h.Path == "" {
		errs = append(errs, errors.New("history.path is required for the file backend"))
	}
	if h.Backend == HistoryPostgres && h.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("history.postgres_dsn is required for the postgres backend (or set %s)", EnvPostgresDSN))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// dataDir returns the per-user data directory for speakwell.
func dataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "speakwell")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "speakwell")
	}
	return "speakwell-data"
}
