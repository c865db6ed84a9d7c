package executor

import (
	"aurorarest/internal/job"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eapache/queue"
)

var (
	errQueueClosed    = errors.New(msgClosed)
	errQueueSaturated = errors.New(msgSaturated)
)

// call is a submission waiting for a worker.
type call struct {
	ctx      context.Context
	req      job.Request
	handle   *Handle
	enqueued time.Time
}

// fifo is the pending-call queue shared by a pool's workers.
// It grows without bound unless limit is positive.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	limit  int
	closed bool
}

func newFIFO(limit int) *fifo {
	f := &fifo{q: queue.New(), limit: limit}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push appends c, failing if the queue is closed or full.
func (f *fifo) push(c *call) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.q.Length(), errQueueClosed
	}
	if f.limit > 0 && f.q.Length() >= f.limit {
		return f.q.Length(), errQueueSaturated
	}
	f.q.Add(c)
	f.cond.Signal()
	return f.q.Length(), nil
}

// pop blocks until a call is available. It returns false once the queue is
// closed and drained.
func (f *fifo) pop() (*call, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.q.Length() == 0 {
		if f.closed {
			return nil, 0, false
		}
		f.cond.Wait()
	}
	c := f.q.Remove().(*call)
	return c, f.q.Length(), true
}

// close refuses further pushes and wakes every blocked pop.
func (f *fifo) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}
