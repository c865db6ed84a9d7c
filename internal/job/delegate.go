package job

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Delegate performs job operations against the aurora scheduler.
//
// Every method blocks until the scheduler (or the client it drives) has answered.
// Expected failures, such as the scheduler rejecting a job, are reported in
// Result.Errors. The error return is reserved for local failures that prevented
// the operation from being attempted at all.
//
// Delegates used with the thread strategy are invoked concurrently and must be
// safe for concurrent use.
type Delegate interface {
	List(ctx context.Context, cluster, role string) (Result, error)
	Create(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (Result, error)
	Update(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (Result, error)
	CancelUpdate(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (Result, error)
	Restart(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (Result, error)
	Delete(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (Result, error)
}

// Call dispatches req to the matching delegate method.
// Returned errors and panics are converted into a failed Result, so callers only
// ever inspect Result.Errors.
func Call(ctx context.Context, d Delegate, req Request) (res Result) {
	key := req.Key()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Delegate panicked",
				"op", req.Op,
				"key", key,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = Failure(key, "unexpected failure while executing "+string(req.Op), fmt.Sprint(r))
		}
	}()

	var err error
	switch req.Op {
	case OpList:
		res, err = d.List(ctx, req.Cluster, req.Role)
	case OpCreate:
		res, err = d.Create(ctx, req.Cluster, req.Role, req.Environment, req.Name, req.JobSpec)
	case OpUpdate:
		res, err = d.Update(ctx, req.Cluster, req.Role, req.Environment, req.Name, req.JobSpec, req.Instances)
	case OpCancelUpdate:
		res, err = d.CancelUpdate(ctx, req.Cluster, req.Role, req.Environment, req.Name, req.JobSpec)
	case OpRestart:
		res, err = d.Restart(ctx, req.Cluster, req.Role, req.Environment, req.Name, req.JobSpec, req.Instances)
	case OpDelete:
		res, err = d.Delete(ctx, req.Cluster, req.Role, req.Environment, req.Name, req.JobSpec, req.Instances)
	default:
		return Failure(key, fmt.Sprintf("unknown operation %q", req.Op))
	}

	if err != nil {
		return Failure(key, "unexpected failure while executing "+string(req.Op), err.Error())
	}
	return normalize(req.Op, key, res)
}

// normalize enforces the result invariant on whatever the delegate returned.
// Only list and delete may succeed without naming a job; the other
// operations always report the job they acted on.
func normalize(op Op, key string, res Result) Result {
	if res.Key == "" {
		res.Key = key
	}
	switch {
	case res.Failed():
		res.Jobs = nil
	case len(res.Jobs) == 0 && op != OpList && op != OpDelete:
		res.Jobs = []string{key}
	}
	return res
}
