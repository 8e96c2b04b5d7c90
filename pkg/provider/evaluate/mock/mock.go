// Package mock provides a test double for the evaluate.Evaluator interface.
//
// Example:
//
//	e := &mock.Evaluator{Result: &evaluate.Result{Overall: 80}}
//	res, err := e.Evaluate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/speakwell/pkg/provider/evaluate"
)

// EvaluateCall records a single invocation of Evaluate.
type EvaluateCall struct {
	// Ctx is the context passed to Evaluate.
	Ctx context.Context
	// Req is the request passed to Evaluate.
	Req evaluate.Request
}

// Evaluator is a mock implementation of [evaluate.Evaluator].
type Evaluator struct {
	mu sync.Mutex

	// Result is returned by Evaluate when Err is nil. A copy is returned so
	// callers may mutate it.
	Result *evaluate.Result

	// Err, if non-nil, is returned by Evaluate.
	Err error

	// Calls records every invocation in order.
	Calls []EvaluateCall
}

var _ evaluate.Evaluator = (*Evaluator)(nil)

// Evaluate implements [evaluate.Evaluator].
func (e *Evaluator) Evaluate(ctx context.Context, req evaluate.Request) (*evaluate.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, EvaluateCall{Ctx: ctx, Req: req})
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Result == nil {
		return &evaluate.Result{}, nil
	}
	res := *e.Result
	return &res, nil
}

// CallCount returns the number of Evaluate invocations.
func (e *Evaluator) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}
