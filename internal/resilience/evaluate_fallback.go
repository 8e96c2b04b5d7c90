package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// EvaluatorFallback is an [evaluate.Evaluator] that fails over between
// scoring backends. The name of the backend that answered is stored in
// [evaluate.Result.Provider].
type EvaluatorFallback struct {
	group   *FallbackGroup[evaluate.Evaluator]
	metrics *observe.Metrics
}

var _ evaluate.Evaluator = (*EvaluatorFallback)(nil)

// NewEvaluatorFallback returns a chain with primary tried first. Breaker
// transitions are counted in metrics; a nil metrics uses
// [observe.DefaultMetrics].
func NewEvaluatorFallback(primary evaluate.Evaluator, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *EvaluatorFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	user := cfg.CircuitBreaker.OnStateChange
	cfg.CircuitBreaker.OnStateChange = func(name string, from, to State) {
		metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if user != nil {
			user(name, from, to)
		}
	}
	return &EvaluatorFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback appends a backend tried after all earlier ones.
func (f *EvaluatorFallback) AddFallback(name string, e evaluate.Evaluator) {
	f.group.AddFallback(name, e)
}

// Providers returns the backend names in the order they are tried.
func (f *EvaluatorFallback) Providers() []string {
	return f.group.Names()
}

// Evaluate scores req with the first healthy backend. An invalid request is
// rejected before any backend is called.
func (f *EvaluatorFallback) Evaluate(ctx context.Context, req evaluate.Request) (*evaluate.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "evaluate")
	defer span.End()

	res, name, err := Try(f.group, func(provider string, e evaluate.Evaluator) (*evaluate.Result, error) {
		start := time.Now()
		r, err := e.Evaluate(ctx, req)
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, provider, "evaluate", "error")
			f.metrics.RecordProviderError(ctx, provider, "evaluate")
			return nil, err
		}
		f.metrics.RecordProviderRequest(ctx, provider, "evaluate", "ok")
		f.metrics.RecordEvaluation(ctx, provider, time.Since(start).Seconds())
		return r, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res.Provider = name
	return res, nil
}

// Ready fails with [ErrCircuitOpen] when every backend's breaker is open, so
// the next Evaluate would fail without calling anything.
func (f *EvaluatorFallback) Ready(context.Context) error {
	for _, name := range f.group.Names() {
		if f.group.Breaker(name).State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("evaluators %v: %w", f.group.Names(), ErrCircuitOpen)
}
