package memory

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/lumen/core"
)

// DefaultTaskTimeout bounds a detached consolidation run.
const DefaultTaskTimeout = 2 * time.Minute

// Task is a detached consolidation run. It outlives the request context that
// started it and is bounded only by its own timeout.
type Task struct {
	done   chan struct{}
	result core.ConsolidationResult
	err    error
}

// Start runs fn in a new goroutine on a context detached from ctx's
// cancellation (values are kept). onResult, if set, is invoked with a
// non-empty result before the task is marked done.
func Start(
	ctx context.Context,
	timeout time.Duration,
	fn func(ctx context.Context) (core.ConsolidationResult, error),
	onResult func(core.ConsolidationResult),
) *Task {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	t := &Task{done: make(chan struct{})}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	go func() {
		defer cancel()
		defer close(t.done)

		res, err := safeRun(runCtx, fn)
		t.result, t.err = res, err
		if err == nil && onResult != nil && !res.IsEmpty() {
			onResult(res)
		}
	}()

	return t
}

func safeRun(ctx context.Context, fn func(ctx context.Context) (core.ConsolidationResult, error)) (res core.ConsolidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consolidation panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Done is closed when the task finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) (core.ConsolidationResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return core.ConsolidationResult{}, ctx.Err()
	}
}
