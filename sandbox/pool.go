package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/wishub/skillhub/skill"
)

// BoundedRunner wraps a Runner with a capped goroutine pool so a burst of
// invocations (a hybrid-mode workflow layer, a spike of concurrent
// requests) can't launch unbounded containers on one host.
type BoundedRunner struct {
	inner Runner
	pool  *ants.Pool
}

// NewBoundedRunner caps concurrent Execute calls against inner at size.
func NewBoundedRunner(inner Runner, size int) (*BoundedRunner, error) {
	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("creating sandbox pool: %w", err)
	}
	return &BoundedRunner{inner: inner, pool: pool}, nil
}

// Release frees the underlying goroutine pool.
func (r *BoundedRunner) Release() { r.pool.Release() }

type execOutcome struct {
	result RunResult
	err    error
}

// Execute implements Runner. It blocks until a pool slot is free, then
// delegates to the wrapped Runner.
func (r *BoundedRunner) Execute(
	ctx context.Context,
	skillID string,
	language skill.Language,
	codeBlob []byte,
	inputs map[string]any,
	timeout time.Duration,
) (RunResult, error) {
	done := make(chan execOutcome, 1)
	err := r.pool.Submit(func() {
		result, err := r.inner.Execute(ctx, skillID, language, codeBlob, inputs, timeout)
		done <- execOutcome{result: result, err: err}
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("submitting to sandbox pool: %w", err)
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}
