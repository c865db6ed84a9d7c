package executor

import (
	"aurorarest/internal/job"
	"context"
	"errors"
	"sync"
	"time"
)

// ThreadPool runs calls on a fixed set of goroutines draining a shared FIFO.
// The delegate must be safe for concurrent use.
type ThreadPool struct {
	ops
	base

	queue   *fifo
	workers int
	wg      sync.WaitGroup
}

// NewThreadPool creates a pool and starts its workers.
func NewThreadPool(cfg Config, d job.Delegate, metrics MetricsRecorder) *ThreadPool {
	cfg = cfg.withDefaults()
	p := &ThreadPool{
		base:    newBase(StrategyThread, d, metrics),
		queue:   newFIFO(cfg.MaxPending),
		workers: cfg.MaxWorkers,
	}
	p.ops = ops{s: p}

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker()
	}

	p.logger.Info("Thread pool started", "workers", p.workers, "maxPending", cfg.MaxPending)
	return p
}

func (p *ThreadPool) submit(ctx context.Context, req job.Request) *Handle {
	return enqueue(ctx, &p.base, p.queue, req)
}

// enqueue hands req to a pool queue, resolving the handle immediately if the
// queue refuses it.
func enqueue(ctx context.Context, b *base, q *fifo, req job.Request) *Handle {
	h := newHandle()
	b.begin(ctx)
	depth, err := q.push(&call{
		ctx:      context.WithoutCancel(ctx),
		req:      req,
		handle:   h,
		enqueued: time.Now(),
	})
	if err != nil {
		b.withdraw(ctx)
		if errors.Is(err, errQueueSaturated) {
			return b.reject(ctx, req, msgSaturated, "too many calls pending, try again later")
		}
		return b.reject(ctx, req, msgClosed)
	}

	if b.metrics != nil {
		b.metrics.RecordExecutorQueueDepth(ctx, string(b.strategy), int64(depth))
	}
	return h
}

// worker runs queued calls until the queue is closed and drained.
func (p *ThreadPool) worker() {
	defer p.wg.Done()

	for {
		c, depth, ok := p.queue.pop()
		if !ok {
			return
		}
		if p.metrics != nil {
			p.metrics.RecordExecutorQueueDepth(c.ctx, string(p.strategy), int64(depth))
		}

		p.logger.Debug("Call dequeued", "op", c.req.Op, "key", c.req.Key(), "waited", time.Since(c.enqueued))

		start := time.Now()
		res := job.Call(c.ctx, p.delegate, c.req)
		p.finish(c.ctx, c.handle, c.req, start, res)
	}
}

// Ready reports whether the pool accepts calls and the delegate is ready.
func (p *ThreadPool) Ready(ctx context.Context) error {
	return p.ready(ctx)
}

// Stats returns current pool statistics.
func (p *ThreadPool) Stats() Stats {
	s := p.stats()
	s.Workers = p.workers
	s.QueueDepth = p.queue.len()
	return s
}

// Close stops accepting calls and waits for queued calls to finish.
func (p *ThreadPool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("Thread pool shutting down", "queued", p.queue.len())
	p.queue.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Thread pool shutdown complete",
			"completed", p.completed.Load(),
			"failed", p.failed.Load(),
		)
		return nil
	case <-ctx.Done():
		p.logger.Warn("Thread pool shutdown timed out", "remaining", p.queue.len())
		return ctx.Err()
	}
}

var _ Executor = (*ThreadPool)(nil)
