// Package observe provides application-wide observability primitives for
// speakwell: OpenTelemetry metrics, distributed tracing, structured logging,
// and the probe middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speakwell metrics.
const meterName = "github.com/MrWong99/speakwell"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Recorder ---

	// Recordings counts finished recordings. Use with attribute:
	//   attribute.String("outcome", "completed"|"cancelled"|"failed")
	Recordings metric.Int64Counter

	// RecordingDuration tracks the audio length of completed recordings.
	RecordingDuration metric.Float64Histogram

	// FramesProcessed counts raw capture frames published to the consumers.
	FramesProcessed metric.Int64Counter

	// FramesDropped counts frames a consumer refused. Use with attribute:
	//   attribute.String("consumer", ...)
	FramesDropped metric.Int64Counter

	// EncodedChunks counts chunks emitted by the encoder.
	EncodedChunks metric.Int64Counter

	// ActiveRecordings tracks the number of recordings currently capturing.
	ActiveRecordings metric.Int64UpDownCounter

	// --- Live transcription ---

	// TranscriptFragments counts live transcript fragments received.
	TranscriptFragments metric.Int64Counter

	// TranscriptionErrors counts transcription failures that were degraded
	// silently. Use with attribute:
	//   attribute.String("stage", "open"|"stream")
	TranscriptionErrors metric.Int64Counter

	// --- Evaluation ---

	// EvaluationDuration tracks scoring latency per provider.
	EvaluationDuration metric.Float64Histogram

	// BreakerTransitions counts evaluator circuit breaker state changes. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ProbeDuration tracks /healthz, /readyz and /metrics latency. Use with
	// attributes:
	//   attribute.String("path", ...), attribute.Int("status", ...)
	ProbeDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// evaluation calls.
var latencyBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// recordingBuckets covers practice answers up to the three-minute cap.
var recordingBuckets = []float64{
	5, 15, 30, 60, 90, 120, 150, 180,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Recorder.
	if met.Recordings, err = m.Int64Counter("speakwell.recordings",
		metric.WithDescription("Finished recordings by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("speakwell.recording.duration",
		metric.WithDescription("Audio length of completed recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("speakwell.frames.processed",
		metric.WithDescription("Capture frames published to recorder consumers."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("speakwell.frames.dropped",
		metric.WithDescription("Capture frames refused by a consumer."),
	); err != nil {
		return nil, err
	}
	if met.EncodedChunks, err = m.Int64Counter("speakwell.encoder.chunks",
		metric.WithDescription("Encoded chunks emitted."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("speakwell.active_recordings",
		metric.WithDescription("Number of recordings currently capturing."),
	); err != nil {
		return nil, err
	}

	// Live transcription.
	if met.TranscriptFragments, err = m.Int64Counter("speakwell.transcript.fragments",
		metric.WithDescription("Live transcript fragments received."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("speakwell.transcription.errors",
		metric.WithDescription("Live transcription failures by stage."),
	); err != nil {
		return nil, err
	}

	// Evaluation.
	if met.EvaluationDuration, err = m.Float64Histogram("speakwell.evaluation.duration",
		metric.WithDescription("Latency of recording evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("speakwell.evaluation.breaker.transitions",
		metric.WithDescription("Evaluator circuit breaker transitions by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("speakwell.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speakwell.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ProbeDuration, err = m.Float64Histogram("speakwell.probe.duration",
		metric.WithDescription("Probe endpoint latency by path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRecording records a finished recording with its outcome. The duration
// is only observed for completed recordings.
func (m *Metrics) RecordRecording(ctx context.Context, outcome string, seconds float64) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "completed" {
		m.RecordingDuration.Record(ctx, seconds)
	}
}

// RecordFrameDropped records a frame refused by consumer.
func (m *Metrics) RecordFrameDropped(ctx context.Context, consumer string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("consumer", consumer)))
}

// RecordTranscriptionError records a degraded transcription failure.
func (m *Metrics) RecordTranscriptionError(ctx context.Context, stage string) {
	m.TranscriptionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordEvaluation records evaluation latency for provider.
func (m *Metrics) RecordEvaluation(ctx context.Context, provider string, seconds float64) {
	m.EvaluationDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordBreakerTransition counts a breaker of provider entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
