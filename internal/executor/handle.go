package executor

import (
	"aurorarest/internal/job"
	"context"
	"sync"
)

// Handle is the completion of one submitted operation.
// It is resolved exactly once; later resolutions are ignored.
type Handle struct {
	once sync.Once
	done chan struct{}
	res  job.Result
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func resolved(res job.Result) *Handle {
	h := newHandle()
	h.resolve(res)
	return h
}

// resolve stores res and wakes waiters. It reports whether this call resolved the handle.
func (h *Handle) resolve(res job.Result) bool {
	first := false
	h.once.Do(func() {
		h.res = res
		close(h.done)
		first = true
	})
	return first
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the result and true if the handle is resolved.
func (h *Handle) Result() (job.Result, bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return job.Result{}, false
	}
}

// Wait blocks until the handle is resolved or ctx is done.
// Giving up on ctx does not cancel the operation; it still runs to completion.
func (h *Handle) Wait(ctx context.Context) (job.Result, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return job.Result{}, ctx.Err()
	}
}
