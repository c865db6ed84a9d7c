package aurora

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient writes an executable shell script standing in for the aurora client.
func fakeClient(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "aurora")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	cmd := fakeClient(t, `echo "out $1 $2"; echo "err" >&2; exit 0`)
	r := NewExecRunner(cmd)

	out, err := r.Run(context.Background(), Invocation{Args: []string{"list_jobs", "c/r"}})
	require.NoError(t, err)

	assert.Equal(t, "out list_jobs c/r\n", string(out.Stdout))
	assert.Contains(t, string(out.Combined), "out list_jobs c/r")
	assert.Contains(t, string(out.Combined), "err")
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecRunner_ExitCode(t *testing.T) {
	cmd := fakeClient(t, `echo "job not found"; exit 3`)
	r := NewExecRunner(cmd)

	out, err := r.Run(context.Background(), Invocation{Args: []string{"killall", "c/r/e/n"}})
	require.NoError(t, err)

	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "job not found\n", string(out.Combined))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(filepath.Join(t.TempDir(), "no-such-client"))

	_, err := r.Run(context.Background(), Invocation{Args: []string{"list_jobs", "c/r"}})
	require.Error(t, err)
	assert.Error(t, r.Ready(context.Background()))
}

func TestExecRunner_Ready(t *testing.T) {
	r := NewExecRunner(fakeClient(t, "exit 0"))
	assert.NoError(t, r.Ready(context.Background()))
}

func TestCommandDelegate_WithExecRunner(t *testing.T) {
	cmd := fakeClient(t, `cat "$3" >/dev/null || exit 9; echo "Response from scheduler: OK (message: job created)"`)
	d := NewCommandDelegate(NewExecRunner(cmd))

	res, err := d.Create(context.Background(), "west", "www-data", "prod", "hello", []byte("jobs = []\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"west/www-data/prod/hello"}, res.Jobs)
}

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemux(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(frame(1, "west/www-data/prod/hello\n"))
	stream.Write(frame(2, "warning: deprecated\n"))
	stream.Write(frame(1, ""))
	stream.Write(frame(1, "Response from scheduler: OK\n"))

	var stdout, combined bytes.Buffer
	require.NoError(t, demux(&stream, &stdout, &combined))

	assert.Equal(t, "west/www-data/prod/hello\nResponse from scheduler: OK\n", stdout.String())
	assert.Equal(t, "west/www-data/prod/hello\nwarning: deprecated\nResponse from scheduler: OK\n", combined.String())
}

func TestDemux_UnknownStream(t *testing.T) {
	var stdout, combined bytes.Buffer
	assert.Error(t, demux(bytes.NewReader(frame(9, "hello")), &stdout, &combined))
	assert.Empty(t, combined.String())
}
