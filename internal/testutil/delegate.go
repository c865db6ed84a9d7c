package testutil

import (
	"aurorarest/internal/job"
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Roles that make FakeDelegate misbehave. The behaviour is chosen from the
// request itself so that a fresh instance in a worker process acts the same
// as one in the test process.
const (
	RoleEmpty          = "empty"          // List and Delete succeed with no jobs
	RoleError          = "error"          // returns a local error
	RolePanic          = "panic"          // panics
	RoleCrash          = "crash"          // exits the process; only for worker processes
	RoleUnserializable = "unserializable" // puts a func in Result.Details
	RoleSleep          = "sleep"          // sleeps for the duration named by the environment
	RoleBlock          = "block"          // waits for Gate to be closed
	RolePID            = "pid"            // reports the serving process id in Details
)

// ErrFake is the local failure returned for RoleError.
var ErrFake = errors.New("fake local failure")

// FakeDelegate is a job.Delegate for executor tests.
type FakeDelegate struct {
	Calls atomic.Int64
	Gate  chan struct{}
}

// NewFakeDelegate creates a delegate whose Gate is shut until the test closes it.
func NewFakeDelegate() *FakeDelegate {
	return &FakeDelegate{Gate: make(chan struct{})}
}

func (f *FakeDelegate) behave(role, environment, key string, jobs []string) (job.Result, error) {
	f.Calls.Add(1)

	switch role {
	case RoleError:
		return job.Result{}, ErrFake
	case RolePanic:
		panic("fake delegate panic for " + key)
	case RoleCrash:
		os.Exit(3)
	case RoleUnserializable:
		return job.Result{Key: key, Jobs: jobs, Details: map[string]any{"callback": func() {}}}, nil
	case RoleSleep:
		d, err := time.ParseDuration(environment)
		if err != nil {
			return job.Result{}, fmt.Errorf("bad sleep duration %q: %w", environment, err)
		}
		time.Sleep(d)
	case RoleBlock:
		if f.Gate != nil {
			<-f.Gate
		}
	case RolePID:
		return job.Result{Key: key, Jobs: jobs, Details: map[string]any{"pid": os.Getpid()}}, nil
	}
	return job.Success(key, jobs...), nil
}

func (f *FakeDelegate) List(ctx context.Context, cluster, role string) (job.Result, error) {
	key := job.ListKey(cluster, role)
	if role == RoleEmpty {
		return f.behave(role, "", key, nil)
	}
	return f.behave(role, "", key, []string{key + "/prod/hello", key + "/devel/hello"})
}

func (f *FakeDelegate) Create(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return f.behave(role, environment, key, []string{key})
}

func (f *FakeDelegate) Update(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return f.behave(role, environment, key, []string{key})
}

func (f *FakeDelegate) CancelUpdate(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return f.behave(role, environment, key, []string{key})
}

func (f *FakeDelegate) Restart(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return f.behave(role, environment, key, []string{key})
}

func (f *FakeDelegate) Delete(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	if role == RoleEmpty {
		return f.behave(role, environment, key, nil)
	}
	return f.behave(role, environment, key, []string{key})
}
