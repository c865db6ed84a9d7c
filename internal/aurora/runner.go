package aurora

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Invocation is one run of the aurora client.
type Invocation struct {
	Args []string
	// Files are host paths the client reads. Runners that isolate the client
	// must make them visible at the same path.
	Files []string
}

// Output is what the client produced.
// Combined interleaves stdout and stderr in arrival order.
type Output struct {
	Stdout   []byte
	Combined []byte
	ExitCode int
}

// Runner runs the aurora command-line client.
//
// A client that starts and exits non-zero is not an error: the exit code is
// reported in Output. The error return is for failures to run the client at all.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Output, error)
	Ready(ctx context.Context) error
}

// ExecRunner runs the client as a child process of this host.
type ExecRunner struct {
	Command string
}

// NewExecRunner creates a runner for the given client binary.
func NewExecRunner(command string) *ExecRunner {
	return &ExecRunner{Command: command}
}

// Run executes the client and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	var stdout bytes.Buffer
	combined := &lockedBuffer{}

	cmd := exec.CommandContext(ctx, r.Command, inv.Args...)
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = combined

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Combined: combined.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	default:
		return out, fmt.Errorf("run %s: %w", r.Command, err)
	}
}

// Ready checks that the client binary resolves.
func (r *ExecRunner) Ready(ctx context.Context) error {
	if _, err := exec.LookPath(r.Command); err != nil {
		return fmt.Errorf("aurora client not found: %w", err)
	}
	return nil
}

// lockedBuffer is written to by the stdout and stderr copy goroutines at once.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
