package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"speakwell.recording.duration", m.RecordingDuration},
		{"speakwell.evaluation.duration", m.EvaluationDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumFor returns the counter value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: data point with %s=%s not found", name, key, value)
	return 0
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "evaluate", "ok")
	m.RecordProviderRequest(ctx, "gemini", "evaluate", "ok")
	m.RecordProviderRequest(ctx, "gemini", "evaluate", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speakwell.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
}

func TestRecordRecording(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecording(ctx, "completed", 42)
	m.RecordRecording(ctx, "cancelled", 3)
	m.RecordRecording(ctx, "completed", 180)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speakwell.recordings", "outcome", "completed"); got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
	if got := sumFor(t, rm, "speakwell.recordings", "outcome", "cancelled"); got != 1 {
		t.Errorf("cancelled = %d, want 1", got)
	}
	hist, ok := findMetric(rm, "speakwell.recording.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("recording duration histogram missing")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("duration samples = %d, want 2 (completed only)", got)
	}
}

func TestRecorderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDropped(ctx, "transcription")
	m.RecordFrameDropped(ctx, "transcription")
	m.RecordTranscriptionError(ctx, "open")
	m.RecordProviderError(ctx, "openai", "evaluate")
	m.RecordBreakerTransition(ctx, "gemini", "open")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "speakwell.frames.dropped", "consumer", "transcription"); got != 2 {
		t.Errorf("frames dropped = %d, want 2", got)
	}
	if got := sumFor(t, rm, "speakwell.transcription.errors", "stage", "open"); got != 1 {
		t.Errorf("transcription errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "speakwell.provider.errors", "provider", "openai"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "speakwell.evaluation.breaker.transitions", "state", "open"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "speakwell.active_recordings")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("active_recordings has no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("gauge value = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
