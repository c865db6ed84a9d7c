package executor

import (
	"aurorarest/internal/job"
	"context"
	"time"
)

// SyncExecutor runs each call on the caller's goroutine and returns an
// already-resolved handle.
type SyncExecutor struct {
	ops
	base
}

// NewSync creates a synchronous executor.
func NewSync(d job.Delegate, metrics MetricsRecorder) *SyncExecutor {
	e := &SyncExecutor{base: newBase(StrategySync, d, metrics)}
	e.ops = ops{s: e}
	return e
}

func (e *SyncExecutor) submit(ctx context.Context, req job.Request) *Handle {
	if e.closed.Load() {
		return e.reject(ctx, req, msgClosed)
	}
	return e.run(ctx, req)
}

// run calls the delegate inline and resolves a fresh handle with the result.
func (e *SyncExecutor) run(ctx context.Context, req job.Request) *Handle {
	h := newHandle()
	e.begin(ctx)
	start := time.Now()
	res := job.Call(context.WithoutCancel(ctx), e.delegate, req)
	e.finish(ctx, h, req, start, res)
	return h
}

// Ready reports whether the delegate is ready.
func (e *SyncExecutor) Ready(ctx context.Context) error {
	return e.ready(ctx)
}

// Stats returns current executor statistics.
func (e *SyncExecutor) Stats() Stats {
	return e.stats()
}

// Close stops accepting calls. Calls already running finish on their own goroutines.
func (e *SyncExecutor) Close(ctx context.Context) error {
	e.closed.Store(true)
	return nil
}

var _ Executor = (*SyncExecutor)(nil)
