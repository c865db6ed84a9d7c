// Package executor runs job operations against a job.Delegate using one of
// several dispatch strategies.
//
// Every strategy offers the same six operations and hands back a *Handle
// that is resolved exactly once with a job.Result. Failures of any kind,
// whether reported by the scheduler, returned or panicked by the delegate,
// or caused by the strategy itself, arrive as Result.Errors; nothing is
// raised to the caller.
//
// Operations on the same job key are not serialized. Two concurrent
// submissions for one key may reach the scheduler in either order.
//
// Cancelling the context passed to an operation never aborts the delegate
// call. Callers that stop waiting simply stop waiting.
package executor

import (
	"aurorarest/internal/apperrors"
	"aurorarest/internal/job"
	"aurorarest/pkg/backoff"
	"aurorarest/pkg/circuitbreaker"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Executor runs job operations.
type Executor interface {
	List(ctx context.Context, cluster, role string) *Handle
	Create(ctx context.Context, cluster, role, environment, name string, jobspec []byte) *Handle
	Update(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle
	CancelUpdate(ctx context.Context, cluster, role, environment, name string, jobspec []byte) *Handle
	Restart(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle
	Delete(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle

	// Ready reports whether submissions are currently expected to succeed.
	Ready(ctx context.Context) error

	// Stats returns current executor statistics.
	Stats() Stats

	// Close stops accepting work and waits for queued work to finish.
	// The context deadline controls how long to wait.
	Close(ctx context.Context) error
}

// Strategy names a dispatch strategy.
type Strategy string

// Dispatch strategies
const (
	StrategySync      Strategy = "sync"
	StrategyCoroutine Strategy = "coroutine"
	StrategyThread    Strategy = "thread"
	StrategyProcess   Strategy = "process"
)

// Strategies lists every strategy.
var Strategies = []Strategy{StrategySync, StrategyCoroutine, StrategyThread, StrategyProcess}

// ParseStrategy converts a configuration value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == strings.ToLower(strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return "", apperrors.Config("concurrency", fmt.Sprintf("unknown strategy %q", s))
}

// Config selects and sizes a strategy.
type Config struct {
	Strategy   Strategy
	MaxWorkers int // pool size for thread and process strategies; 0 means runtime.NumCPU()
	MaxPending int // queued calls allowed before submissions are rejected; 0 means unbounded

	// WorkerCommand is the argv of a process-pool worker. It defaults to this
	// binary with the -worker flag.
	WorkerCommand []string
	WorkerEnv     []string // appended to this process's environment for workers

	RespawnBackoff backoff.Config        // pacing of worker respawns after a crash
	RespawnBreaker circuitbreaker.Config // stops respawning a worker that keeps failing to start
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.Strategy == StrategyProcess && len(c.WorkerCommand) == 0 {
		if exe, err := os.Executable(); err == nil {
			c.WorkerCommand = []string{exe, "-worker"}
		}
	}
	return c
}

func (c Config) validate() error {
	switch c.Strategy {
	case StrategySync, StrategyCoroutine, StrategyThread, StrategyProcess:
	default:
		return apperrors.Config("concurrency", fmt.Sprintf("unknown strategy %q", c.Strategy))
	}
	if c.MaxWorkers < 0 {
		return apperrors.Config("parallel", "must not be negative")
	}
	if c.MaxPending < 0 {
		return apperrors.Config("max_pending", "must not be negative")
	}
	return nil
}

// New creates the executor cfg selects. Configuration problems are
// apperrors.ErrConfig errors and should stop the service.
//
// For the process strategy, d is used only for readiness checks in this
// process; workers build their own delegate.
func New(cfg Config, d job.Delegate, metrics MetricsRecorder) (Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	switch cfg.Strategy {
	case StrategySync:
		return NewSync(d, metrics), nil
	case StrategyCoroutine:
		return NewCoroutine(d, metrics), nil
	case StrategyThread:
		return NewThreadPool(cfg, d, metrics), nil
	default:
		return NewProcessPool(cfg, d, metrics)
	}
}

// Stats holds executor statistics.
type Stats struct {
	Strategy   Strategy
	Workers    int   // pool size, 0 for inline strategies
	QueueDepth int   // calls waiting for a worker
	Submitted  int64 // calls accepted
	Completed  int64 // calls resolved after running
	Failed     int64 // completed calls whose result carries errors
	Rejected   int64 // calls refused because the executor was closed or saturated
	Restarts   int64 // worker processes replaced after a crash
}

// MetricsRecorder is an optional interface for recording executor metrics.
type MetricsRecorder interface {
	RecordExecutorOperation(ctx context.Context, strategy, op string, durationSeconds float64, failed bool)
	RecordExecutorInFlight(ctx context.Context, strategy string, delta int64)
	RecordExecutorQueueDepth(ctx context.Context, strategy string, depth int64)
	RecordExecutorRejected(ctx context.Context, strategy string)
	RecordExecutorWorkerRestart(ctx context.Context, strategy string)
}

// Messages of strategy-level failures.
const (
	msgClosed    = "executor is closed"
	msgSaturated = "executor saturated"
)

type readier interface {
	Ready(ctx context.Context) error
}

// submitter is the single entry point each strategy implements.
type submitter interface {
	submit(ctx context.Context, req job.Request) *Handle
}

// ops turns the six operations into Requests for a submitter.
type ops struct {
	s submitter
}

func (o ops) do(ctx context.Context, req job.Request) *Handle {
	req.ID = uuid.NewString()
	return o.s.submit(ctx, req)
}

func (o ops) List(ctx context.Context, cluster, role string) *Handle {
	return o.do(ctx, job.Request{Op: job.OpList, Cluster: cluster, Role: role})
}

func (o ops) Create(ctx context.Context, cluster, role, environment, name string, jobspec []byte) *Handle {
	return o.do(ctx, job.Request{Op: job.OpCreate, Cluster: cluster, Role: role, Environment: environment, Name: name, JobSpec: jobspec})
}

func (o ops) Update(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle {
	return o.do(ctx, job.Request{Op: job.OpUpdate, Cluster: cluster, Role: role, Environment: environment, Name: name, JobSpec: jobspec, Instances: instances})
}

func (o ops) CancelUpdate(ctx context.Context, cluster, role, environment, name string, jobspec []byte) *Handle {
	return o.do(ctx, job.Request{Op: job.OpCancelUpdate, Cluster: cluster, Role: role, Environment: environment, Name: name, JobSpec: jobspec})
}

func (o ops) Restart(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle {
	return o.do(ctx, job.Request{Op: job.OpRestart, Cluster: cluster, Role: role, Environment: environment, Name: name, JobSpec: jobspec, Instances: instances})
}

func (o ops) Delete(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) *Handle {
	return o.do(ctx, job.Request{Op: job.OpDelete, Cluster: cluster, Role: role, Environment: environment, Name: name, JobSpec: jobspec, Instances: instances})
}

// base holds what every strategy shares: counters, metrics and the closed flag.
type base struct {
	strategy Strategy
	delegate job.Delegate
	metrics  MetricsRecorder
	logger   *slog.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	restarts  atomic.Int64

	closed atomic.Bool
}

func newBase(strategy Strategy, d job.Delegate, metrics MetricsRecorder) base {
	return base{
		strategy: strategy,
		delegate: d,
		metrics:  metrics,
		logger:   slog.With("component", "executor", "strategy", string(strategy)),
	}
}

// begin counts an accepted call.
func (b *base) begin(ctx context.Context) {
	b.submitted.Add(1)
	if b.metrics != nil {
		b.metrics.RecordExecutorInFlight(ctx, string(b.strategy), 1)
	}
}

// withdraw undoes begin for a call the queue refused.
func (b *base) withdraw(ctx context.Context) {
	b.submitted.Add(-1)
	if b.metrics != nil {
		b.metrics.RecordExecutorInFlight(ctx, string(b.strategy), -1)
	}
}

// finish resolves h and records the outcome of a call accepted by begin.
func (b *base) finish(ctx context.Context, h *Handle, req job.Request, start time.Time, res job.Result) {
	if res.Key == "" {
		res.Key = req.Key()
	}
	if res.Failed() {
		res.Jobs = nil
		b.failed.Add(1)
	}
	b.completed.Add(1)
	h.resolve(res)

	if b.metrics != nil {
		b.metrics.RecordExecutorOperation(ctx, string(b.strategy), string(req.Op), time.Since(start).Seconds(), res.Failed())
		b.metrics.RecordExecutorInFlight(ctx, string(b.strategy), -1)
	}
}

// reject resolves a call that was never accepted.
func (b *base) reject(ctx context.Context, req job.Request, msgs ...string) *Handle {
	b.rejected.Add(1)
	if b.metrics != nil {
		b.metrics.RecordExecutorRejected(ctx, string(b.strategy))
	}
	b.logger.Warn("Call rejected", "op", req.Op, "key", req.Key(), "reason", msgs[0])
	return resolved(job.Failure(req.Key(), msgs...))
}

func (b *base) ready(ctx context.Context) error {
	if b.closed.Load() {
		return apperrors.Unavailable("executor.ready", fmt.Errorf("%s", msgClosed))
	}
	if r, ok := b.delegate.(readier); ok {
		if err := r.Ready(ctx); err != nil {
			return apperrors.Unavailable("delegate.ready", err)
		}
	}
	return nil
}

func (b *base) stats() Stats {
	return Stats{
		Strategy:  b.strategy,
		Submitted: b.submitted.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Rejected:  b.rejected.Load(),
		Restarts:  b.restarts.Load(),
	}
}
