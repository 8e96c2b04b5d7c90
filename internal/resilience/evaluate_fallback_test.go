package resilience

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
	evalmock "github.com/MrWong99/speakwell/pkg/provider/evaluate/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

var validRequest = evaluate.Request{Audio: []byte("RIFF"), MIMEType: "audio/wav", Topic: "Pets"}

func TestEvaluatorFallback_PrimarySuccess(t *testing.T) {
	primary := &evalmock.Evaluator{Result: &evaluate.Result{Topic: "Pets", Overall: 70}}
	secondary := &evalmock.Evaluator{Result: &evaluate.Result{Topic: "Pets", Overall: 10}}

	fb := NewEvaluatorFallback(primary, "gemini", FallbackConfig{}, testMetrics(t))
	fb.AddFallback("openai", secondary)

	res, err := fb.Evaluate(context.Background(), validRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Overall != 70 || res.Provider != "gemini" {
		t.Fatalf("result = %+v, want overall 70 from gemini", res)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls = %d/%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
	if primary.Calls[0].Req.Topic != "Pets" {
		t.Fatalf("request not forwarded: %+v", primary.Calls[0].Req)
	}
}

func TestEvaluatorFallback_Failover(t *testing.T) {
	primary := &evalmock.Evaluator{Err: evaluate.ErrUnsupportedAudio}
	secondary := &evalmock.Evaluator{Result: &evaluate.Result{Overall: 55}}

	fb := NewEvaluatorFallback(primary, "openai", FallbackConfig{}, testMetrics(t))
	fb.AddFallback("gemini", secondary)

	res, err := fb.Evaluate(context.Background(), validRequest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "gemini" {
		t.Fatalf("provider = %q, want gemini", res.Provider)
	}
	if got := fb.Providers(); len(got) != 2 || got[0] != "openai" {
		t.Fatalf("Providers() = %v", got)
	}
}

func TestEvaluatorFallback_AllFail(t *testing.T) {
	primary := &evalmock.Evaluator{Err: errors.New("quota exceeded")}
	secondary := &evalmock.Evaluator{Err: evaluate.ErrInvalidResult}

	fb := NewEvaluatorFallback(primary, "gemini", FallbackConfig{}, testMetrics(t))
	fb.AddFallback("openai", secondary)

	_, err := fb.Evaluate(context.Background(), validRequest)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, evaluate.ErrInvalidResult) {
		t.Fatalf("err = %v, want each backend's error wrapped", err)
	}
}

func TestEvaluatorFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &evalmock.Evaluator{Err: errTest}
	secondary := &evalmock.Evaluator{Result: &evaluate.Result{Overall: 60}}

	fb := NewEvaluatorFallback(primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	}, testMetrics(t))
	fb.AddFallback("openai", secondary)

	for i := 0; i < 3; i++ {
		if _, err := fb.Evaluate(context.Background(), validRequest); err != nil {
			t.Fatalf("evaluate %d: %v", i, err)
		}
	}
	if primary.CallCount() != 2 {
		t.Fatalf("primary called %d times, want 2 before its breaker opened", primary.CallCount())
	}
	if secondary.CallCount() != 3 {
		t.Fatalf("secondary called %d times, want 3", secondary.CallCount())
	}
}

func TestEvaluatorFallback_CountsBreakerTransitions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	var seen []State
	fb := NewEvaluatorFallback(&evalmock.Evaluator{Err: errTest}, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:   1,
			OnStateChange: func(_ string, _, to State) { seen = append(seen, to) },
		},
	}, m)
	_, _ = fb.Evaluate(context.Background(), validRequest)

	if len(seen) != 1 || seen[0] != StateOpen {
		t.Errorf("caller hook saw %v, want [open]", seen)
	}
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var count int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "speakwell.evaluation.breaker.transitions" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("state"); ok && v.AsString() == "open" {
					count += dp.Value
				}
			}
		}
	}
	if count != 1 {
		t.Errorf("open transitions counted = %d, want 1", count)
	}
}

func TestEvaluatorFallback_RejectsInvalidRequest(t *testing.T) {
	primary := &evalmock.Evaluator{}
	fb := NewEvaluatorFallback(primary, "gemini", FallbackConfig{}, testMetrics(t))

	_, err := fb.Evaluate(context.Background(), evaluate.Request{MIMEType: "audio/wav"})
	if !errors.Is(err, evaluate.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if primary.CallCount() != 0 {
		t.Fatal("backend called for an invalid request")
	}
}

func TestEvaluatorFallback_Ready(t *testing.T) {
	primary := &evalmock.Evaluator{Err: errTest}
	fb := NewEvaluatorFallback(primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	}, testMetrics(t))

	if err := fb.Ready(context.Background()); err != nil {
		t.Fatalf("Ready before failures: %v", err)
	}
	if _, err := fb.Evaluate(context.Background(), validRequest); err == nil {
		t.Fatal("expected failure")
	}
	if err := fb.Ready(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Ready = %v, want ErrCircuitOpen", err)
	}

	fb.AddFallback("openai", &evalmock.Evaluator{})
	if err := fb.Ready(context.Background()); err != nil {
		t.Fatalf("Ready with a closed fallback: %v", err)
	}
}
