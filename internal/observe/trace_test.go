package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "practice")
	id := TraceID(ctx)
	span.End()

	if len(id) != 32 {
		t.Errorf("TraceID = %q, want 32 hex digits", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "practice" {
		t.Fatalf("spans = %v, want one named practice", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestTraceID_NoSpan(t *testing.T) {
	t.Parallel()
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("recording_id", "r-1")

	Logger(context.Background(), base).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without a span: %s", buf.String())
	}

	buf.Reset()
	ctx, span := StartSpan(context.Background(), "evaluate")
	defer span.End()
	Logger(ctx, base).Info("with span")

	out := buf.String()
	for _, want := range []string{"recording_id=r-1", "trace_id=" + TraceID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}
