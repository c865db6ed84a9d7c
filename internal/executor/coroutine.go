package executor

import (
	"aurorarest/internal/job"
	"context"
	"runtime"
)

// CoroutineExecutor adapts a blocking delegate to the handle-returning
// contract for callers written against cooperative scheduling.
//
// The delegate still blocks the calling goroutine for the whole call. The
// adapter only adds one yield point after the result is ready, so the
// scheduler gets a chance to run other goroutines before the caller resumes.
// Use the thread or process strategy to take calls off the caller's goroutine.
type CoroutineExecutor struct {
	*SyncExecutor
}

// NewCoroutine creates a coroutine adapter around d.
func NewCoroutine(d job.Delegate, metrics MetricsRecorder) *CoroutineExecutor {
	e := &CoroutineExecutor{SyncExecutor: &SyncExecutor{base: newBase(StrategyCoroutine, d, metrics)}}
	e.ops = ops{s: e}
	return e
}

func (e *CoroutineExecutor) submit(ctx context.Context, req job.Request) *Handle {
	if e.closed.Load() {
		return e.reject(ctx, req, msgClosed)
	}
	return awaitInline(func() *Handle { return e.run(ctx, req) })
}

// yield lets the scheduler run other goroutines.
var yield = runtime.Gosched

// awaitInline runs call to completion on the current goroutine, yielding
// before and after it. The call itself still blocks the goroutine.
func awaitInline(call func() *Handle) *Handle {
	yield()
	h := call()
	yield()
	return h
}

var _ Executor = (*CoroutineExecutor)(nil)
