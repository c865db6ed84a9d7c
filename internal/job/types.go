// Package job defines the aurora job model shared by the request layer, the
// executors and the delegates that talk to the scheduler.
package job

import (
	"fmt"
	"strings"
)

// Op identifies one of the six job-lifecycle operations.
type Op string

// Operation kinds
const (
	OpList         Op = "list"
	OpCreate       Op = "create"
	OpUpdate       Op = "update"
	OpCancelUpdate Op = "cancel_update"
	OpRestart      Op = "restart"
	OpDelete       Op = "delete"
)

// Ops lists every operation in a stable order.
var Ops = []Op{OpList, OpCreate, OpUpdate, OpCancelUpdate, OpRestart, OpDelete}

// ParseOp converts a wire name into an Op.
func ParseOp(s string) (Op, error) {
	for _, op := range Ops {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// Key addresses a single aurora job.
type Key struct {
	Cluster     string
	Role        string
	Environment string
	Name        string
}

// NewKey builds a Key from its parts.
func NewKey(cluster, role, environment, name string) Key {
	return Key{Cluster: cluster, Role: role, Environment: environment, Name: name}
}

// Path renders the key the way the aurora client expects it: cluster/role/env/name.
func (k Key) Path() string {
	return strings.Join([]string{k.Cluster, k.Role, k.Environment, k.Name}, "/")
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Path()
}

// ListKey is the cluster/role prefix used when listing jobs.
func ListKey(cluster, role string) string {
	return cluster + "/" + role
}

// Request is one operation with its arguments.
// JobSpec nil means no spec was provided. Instances nil or empty means all instances;
// entries are single indices or inclusive ranges ("3", "0-4") and are not interpreted here.
type Request struct {
	ID          string
	Op          Op
	Cluster     string
	Role        string
	Environment string
	Name        string
	JobSpec     []byte
	Instances   []string
}

// Key returns the job key the request addresses, in its wire form.
func (r Request) Key() string {
	if r.Op == OpList {
		return ListKey(r.Cluster, r.Role)
	}
	return NewKey(r.Cluster, r.Role, r.Environment, r.Name).Path()
}

// Result is the outcome of an operation.
//
// Exactly one of Jobs and Errors is meaningful: a successful call has no errors,
// a failed call has no jobs and at least one error message. List and Delete may
// succeed with no jobs when nothing matched; that is not a failure.
type Result struct {
	Key     string
	Jobs    []string
	Details map[string]any
	Errors  []string
}

// Failed reports whether the result carries errors.
func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// Success builds a successful result.
func Success(key string, jobs ...string) Result {
	return Result{Key: key, Jobs: jobs}
}

// Failure builds a failed result. An empty message list is replaced with a
// generic message so the result can never look successful.
func Failure(key string, msgs ...string) Result {
	if len(msgs) == 0 {
		msgs = []string{"operation failed"}
	}
	return Result{Key: key, Errors: msgs}
}
