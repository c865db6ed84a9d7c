package executor

import (
	"aurorarest/internal/apperrors"
	"aurorarest/internal/job"
	"aurorarest/internal/worker"
	"aurorarest/pkg/backoff"
	"aurorarest/pkg/circuitbreaker"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ProcessPool runs calls in long-lived worker processes, one call in flight
// per process. Requests and results cross the process boundary as frames
// (see package worker), so anything in a Result that cannot be serialized
// turns into an error result.
//
// Each worker builds its own delegate. State a delegate keeps in memory is
// therefore private to one worker and never shared between calls served by
// different workers.
//
// A worker that dies is replaced on the next call it would have served.
// Replacements are spaced out after repeated crashes, and after repeated
// start failures the pool stops trying for a while and fails calls
// immediately instead of waiting.
type ProcessPool struct {
	ops
	base

	command []string
	env     []string
	queue   *fifo
	slots   []*slot
	pacer   *backoff.Pacer
	breaker *circuitbreaker.Breaker
	abort   chan struct{}
	wg      sync.WaitGroup
}

// slot is one worker position in the pool, owned by a single goroutine.
type slot struct {
	id   int
	mu   sync.Mutex
	proc *workerProcess // nil until (re)spawned
}

type workerProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewProcessPool starts cfg.MaxWorkers worker processes. Failing to start
// any of them is a configuration error.
func NewProcessPool(cfg Config, d job.Delegate, metrics MetricsRecorder) (*ProcessPool, error) {
	cfg = cfg.withDefaults()
	if len(cfg.WorkerCommand) == 0 {
		return nil, apperrors.Config("worker command", "cannot determine the worker executable")
	}

	p := &ProcessPool{
		base:    newBase(StrategyProcess, d, metrics),
		command: cfg.WorkerCommand,
		env:     append(os.Environ(), cfg.WorkerEnv...),
		queue:   newFIFO(cfg.MaxPending),
		pacer:   backoff.NewPacer(&cfg.RespawnBackoff),
		abort:   make(chan struct{}),
	}
	p.ops = ops{s: p}

	breakerCfg := cfg.RespawnBreaker
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		p.logger.Warn("Worker respawn breaker changed state", "from", from.String(), "to", to.String())
	}
	p.breaker = circuitbreaker.New(breakerCfg)

	for i := 0; i < cfg.MaxWorkers; i++ {
		proc, err := p.spawn()
		if err != nil {
			for _, s := range p.slots {
				s.discard()
			}
			return nil, apperrors.Config("worker command", fmt.Sprintf("cannot start %s: %v", p.command[0], err))
		}
		p.slots = append(p.slots, &slot{id: i, proc: proc})
	}

	p.wg.Add(len(p.slots))
	for _, s := range p.slots {
		go p.serve(s)
	}

	p.logger.Info("Process pool started", "workers", len(p.slots), "maxPending", cfg.MaxPending, "command", p.command[0])
	return p, nil
}

func (p *ProcessPool) submit(ctx context.Context, req job.Request) *Handle {
	return enqueue(ctx, &p.base, p.queue, req)
}

// serve feeds queued calls to one slot until the queue is closed and drained.
func (p *ProcessPool) serve(s *slot) {
	defer p.wg.Done()
	defer s.discard()

	for {
		c, depth, ok := p.queue.pop()
		if !ok {
			return
		}
		if p.metrics != nil {
			p.metrics.RecordExecutorQueueDepth(c.ctx, string(p.strategy), int64(depth))
		}
		p.logger.Debug("Call dequeued", "op", c.req.Op, "key", c.req.Key(), "worker", s.id, "waited", time.Since(c.enqueued))

		start := time.Now()
		res := p.dispatch(c.ctx, s, c.req)
		p.finish(c.ctx, c.handle, c.req, start, res)
	}
}

// dispatch runs req on the slot's worker, replacing the worker first if needed.
func (p *ProcessPool) dispatch(ctx context.Context, s *slot, req job.Request) job.Result {
	key := req.Key()

	proc, err := p.acquire(ctx, s)
	if err != nil {
		return job.Failure(key, "no worker process available", err.Error())
	}

	res, healthy := p.exchange(proc, req)
	if !healthy {
		reason := s.discard()
		p.pacer.Failure()
		p.logger.Warn("Worker process lost", "worker", s.id, "op", req.Op, "key", key, "reason", reason)
		res.Errors = append(res.Errors, reason)
		return res
	}

	p.pacer.Success()
	if res.Key == "" {
		res.Key = key
	}
	return res
}

// acquire returns the slot's worker, spawning a replacement if it died.
func (p *ProcessPool) acquire(ctx context.Context, s *slot) (*workerProcess, error) {
	if proc := s.current(); proc != nil {
		return proc, nil
	}

	if delay := p.pacer.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-p.abort:
			timer.Stop()
			return nil, errors.New(msgClosed)
		}
	}
	select {
	case <-p.abort:
		return nil, errors.New(msgClosed)
	default:
	}

	var proc *workerProcess
	err := p.breaker.Do(func() error {
		var err error
		proc, err = p.spawn()
		return err
	})
	if err != nil {
		p.logger.Error("Failed to replace worker process", "worker", s.id, "error", err)
		return nil, apperrors.Internal("executor.spawnWorker", err)
	}

	s.set(proc)
	p.restarts.Add(1)
	if p.metrics != nil {
		p.metrics.RecordExecutorWorkerRestart(ctx, string(p.strategy))
	}
	p.logger.Info("Worker process replaced", "worker", s.id, "pid", proc.cmd.Process.Pid)
	return proc, nil
}

// exchange sends one request and reads its response. healthy is false when
// the worker can no longer be trusted with another call.
func (p *ProcessPool) exchange(proc *workerProcess, req job.Request) (res job.Result, healthy bool) {
	key := req.Key()

	if err := worker.WriteFrame(proc.stdin, &worker.RequestFrame{Request: req}); err != nil {
		var encErr *worker.EncodeError
		if errors.As(err, &encErr) {
			return job.Failure(key, "request could not be serialized", encErr.Err.Error()), true
		}
		return job.Failure(key, "worker process exited unexpectedly"), false
	}

	var resp worker.ResponseFrame
	if err := worker.ReadFrame(proc.stdout, &resp); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return job.Failure(key, "worker process exited unexpectedly"), false
		}
		return job.Failure(key, "worker protocol error", err.Error()), false
	}

	if resp.ID != req.ID {
		return job.Failure(key, "worker protocol error",
			fmt.Sprintf("response %q does not match request %q", resp.ID, req.ID)), false
	}
	if resp.Err != "" {
		return job.Failure(key, resp.Err), true
	}
	return resp.Result, true
}

func (p *ProcessPool) spawn() (*workerProcess, error) {
	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Env = p.env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &workerProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

func (s *slot) current() *workerProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *slot) set(proc *workerProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = proc
}

// discard stops the slot's worker and reports how it ended.
// Closing stdin asks a healthy worker to exit; one that does not is killed.
func (s *slot) discard() string {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return ""
	}

	_ = proc.stdin.Close()
	exited := make(chan error, 1)
	go func() { exited <- proc.cmd.Wait() }()

	var err error
	select {
	case err = <-exited:
	case <-time.After(2 * time.Second):
		_ = proc.cmd.Process.Kill()
		err = <-exited
	}

	if err == nil {
		return "worker process exited"
	}
	return "worker process exited: " + err.Error()
}

// kill terminates the slot's worker without waiting for it.
func (s *slot) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		_ = s.proc.cmd.Process.Kill()
	}
}

// Ready reports whether the pool accepts calls and can keep workers running.
func (p *ProcessPool) Ready(ctx context.Context) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	if p.breaker.State() == circuitbreaker.Open {
		return apperrors.Unavailable("executor.ready", errors.New("worker processes keep failing to start"))
	}
	return nil
}

// Stats returns current pool statistics.
func (p *ProcessPool) Stats() Stats {
	s := p.stats()
	s.Workers = len(p.slots)
	s.QueueDepth = p.queue.len()
	return s
}

// Close stops accepting calls, waits for queued calls to finish and stops
// the workers. When ctx ends first, workers are killed and calls still
// queued fail.
func (p *ProcessPool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("Process pool shutting down", "queued", p.queue.len())
	p.queue.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Process pool shutdown complete",
			"completed", p.completed.Load(),
			"failed", p.failed.Load(),
			"restarts", p.restarts.Load(),
		)
		return nil
	case <-ctx.Done():
		p.logger.Warn("Process pool shutdown timed out, killing workers", "remaining", p.queue.len())
		close(p.abort)
		for _, s := range p.slots {
			s.kill()
		}
		<-done
		return ctx.Err()
	}
}

var _ Executor = (*ProcessPool)(nil)
