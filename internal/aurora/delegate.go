// Package aurora implements job.Delegate by driving the aurora command-line
// client, either on this host or inside a one-shot container.
package aurora

import (
	"aurorarest/internal/job"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// SuccessMarker is the line fragment the client prints when the scheduler accepted a command.
const SuccessMarker = "Response from scheduler: OK"

// Failure messages reported to callers.
const (
	msgClientError   = "Error reported by aurora client:"
	msgListFailed    = "Exception when listing aurora jobs"
	msgNoConfigCause = "Can not create job configuration object because"
	msgNoConfig      = "Job configuration is missing (not provided)!"
)

// CommandDelegate performs job operations by running the aurora client.
// It holds no per-call state and is safe for concurrent use.
type CommandDelegate struct {
	runner Runner
	logger *slog.Logger
}

// NewCommandDelegate creates a delegate that runs the client through runner.
func NewCommandDelegate(runner Runner) *CommandDelegate {
	return &CommandDelegate{
		runner: runner,
		logger: slog.With("component", "aurora"),
	}
}

// Ready reports whether the client can be run.
func (d *CommandDelegate) Ready(ctx context.Context) error {
	return d.runner.Ready(ctx)
}

// List runs `list_jobs cluster/role`. Every non-blank stdout line is a job key.
func (d *CommandDelegate) List(ctx context.Context, cluster, role string) (job.Result, error) {
	key := job.ListKey(cluster, role)
	d.logger.Info("Listing jobs", "key", key)

	out, err := d.runner.Run(ctx, Invocation{Args: []string{"list_jobs", key}})
	if err != nil {
		return job.Result{}, err
	}

	if out.ExitCode != 0 {
		d.logger.Warn("Failed to list aurora jobs", "key", key, "exitCode", out.ExitCode)
		return job.Failure(key, msgListFailed, fmt.Sprintf("aurora client exited with status %d", out.ExitCode)), nil
	}

	jobs := splitLines(out.Stdout)
	if len(jobs) == 0 {
		d.logger.Info("No jobs found", "key", key)
	}
	return job.Result{Key: key, Jobs: jobs, Details: details(out)}, nil
}

// Create runs `create key specfile`. A spec is required.
func (d *CommandDelegate) Create(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	if len(jobspec) == 0 {
		d.logger.Warn("Job configuration is missing", "op", job.OpCreate, "key", key)
		return job.Failure(key, "Failed to create Aurora job", msgNoConfigCause, msgNoConfig), nil
	}
	return d.run(ctx, job.OpCreate, key, "create", nil, jobspec)
}

// Update runs `update [--shards=…] key specfile`. A spec is required.
func (d *CommandDelegate) Update(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	if len(jobspec) == 0 {
		d.logger.Warn("Job configuration is missing", "op", job.OpUpdate, "key", key)
		return job.Failure(key, "Failed to update Aurora job", msgNoConfigCause, msgNoConfig), nil
	}
	return d.run(ctx, job.OpUpdate, key, "update", shardFlags(instances), jobspec)
}

// CancelUpdate runs `cancel_update key [specfile]`.
func (d *CommandDelegate) CancelUpdate(ctx context.Context, cluster, role, environment, name string, jobspec []byte) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return d.run(ctx, job.OpCancelUpdate, key, "cancel_update", nil, jobspec)
}

// Restart runs `restart [--shards=…] key [specfile]`.
func (d *CommandDelegate) Restart(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	return d.run(ctx, job.OpRestart, key, "restart", shardFlags(instances), jobspec)
}

// Delete runs `kill --shards=… key [specfile]` when instances are given and
// `killall key [specfile]` otherwise.
func (d *CommandDelegate) Delete(ctx context.Context, cluster, role, environment, name string, jobspec []byte, instances []string) (job.Result, error) {
	key := job.NewKey(cluster, role, environment, name).Path()
	command := "killall"
	if len(instances) > 0 {
		command = "kill"
	}
	return d.run(ctx, job.OpDelete, key, command, shardFlags(instances), jobspec)
}

// run executes one mutating command and interprets its output.
func (d *CommandDelegate) run(ctx context.Context, op job.Op, key, command string, flags []string, jobspec []byte) (job.Result, error) {
	logger := d.logger.With("op", op, "key", key)
	logger.Info("Running aurora client", "command", command)

	args := append([]string{command}, flags...)
	args = append(args, key)

	var files []string
	if len(jobspec) > 0 {
		path, cleanup, err := writeJobSpec(logger, jobspec)
		if err != nil {
			return job.Result{}, err
		}
		defer cleanup()
		args = append(args, path)
		files = append(files, path)
	}

	out, err := d.runner.Run(ctx, Invocation{Args: args, Files: files})
	if err != nil {
		return job.Result{}, err
	}

	lines := splitLines(out.Combined)
	if out.ExitCode == 0 && succeeded(lines) {
		logger.Info("Aurora command successful")
		res := job.Success(key, key)
		res.Details = details(out)
		return res, nil
	}

	logger.Warn("Aurora command failed", "exitCode", out.ExitCode)
	for _, l := range lines {
		logger.Warn("> " + l)
	}
	res := job.Failure(key, append([]string{msgClientError}, lines...)...)
	res.Details = details(out)
	return res, nil
}

// writeJobSpec stores the spec in a temporary *.aurora file; the client only reads specs from files.
func writeJobSpec(logger *slog.Logger, jobspec []byte) (string, func(), error) {
	for i, l := range strings.Split(strings.TrimRight(string(jobspec), "\n"), "\n") {
		logger.Debug(fmt.Sprintf("  %3d: %s", i+1, l))
	}

	f, err := os.CreateTemp("", "jobspec-*.aurora")
	if err != nil {
		return "", nil, fmt.Errorf("create job spec file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.Write(jobspec); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write job spec file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write job spec file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func shardFlags(instances []string) []string {
	if len(instances) == 0 {
		return nil
	}
	return []string{"--shards=" + strings.Join(instances, ",")}
}

func succeeded(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(l, SuccessMarker) {
			return true
		}
	}
	return false
}

func details(out Output) map[string]any {
	return map[string]any{"exit_code": out.ExitCode}
}

func splitLines(b []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
