package worker

import (
	"aurorarest/internal/job"
	"aurorarest/internal/testutil"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := RequestFrame{Request: job.Request{
		ID:          "req-1",
		Op:          job.OpUpdate,
		Cluster:     "west",
		Role:        "www-data",
		Environment: "prod",
		Name:        "hello",
		JobSpec:     []byte("spec"),
		Instances:   []string{"0-4", "7"},
	}}
	require.NoError(t, WriteFrame(&buf, &req))
	require.NoError(t, WriteFrame(&buf, &RequestFrame{Request: job.Request{ID: "req-2", Op: job.OpList}}))

	var got RequestFrame
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, req, got)

	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, "req-2", got.Request.ID)

	assert.ErrorIs(t, ReadFrame(&buf, &got), io.EOF)
}

func TestWriteFrame_UnencodableWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	resp := ResponseFrame{ID: "x", Result: job.Result{Details: map[string]any{"fn": func() {}}}}

	err := WriteFrame(&buf, &resp)

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Zero(t, buf.Len())
}

func TestReadFrame_TooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	var got RequestFrame
	err := ReadFrame(bytes.NewReader(header[:]), &got)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &RequestFrame{Request: job.Request{ID: "a"}}))
	data := buf.Bytes()[:buf.Len()-2]

	var got RequestFrame
	err := ReadFrame(bytes.NewReader(data), &got)
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF), "truncated payload must not look like a clean EOF")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func serve(t *testing.T, reqs ...job.Request) []ResponseFrame {
	t.Helper()
	var in, out bytes.Buffer
	for _, r := range reqs {
		require.NoError(t, WriteFrame(&in, &RequestFrame{Request: r}))
	}

	require.NoError(t, Serve(context.Background(), &in, &out, testutil.NewFakeDelegate()))

	var resps []ResponseFrame
	for {
		var resp ResponseFrame
		err := ReadFrame(&out, &resp)
		if errors.Is(err, io.EOF) {
			return resps
		}
		require.NoError(t, err)
		resps = append(resps, resp)
	}
}

func TestServe(t *testing.T) {
	resps := serve(t,
		job.Request{ID: "1", Op: job.OpCreate, Cluster: "c", Role: "r", Environment: "e", Name: "n", JobSpec: []byte("s")},
		job.Request{ID: "2", Op: job.OpList, Cluster: "c", Role: testutil.RoleEmpty},
	)
	require.Len(t, resps, 2)

	assert.Equal(t, "1", resps[0].ID)
	assert.Empty(t, resps[0].Err)
	assert.Equal(t, "c/r/e/n", resps[0].Result.Key)
	assert.Equal(t, []string{"c/r/e/n"}, resps[0].Result.Jobs)

	assert.Equal(t, "2", resps[1].ID)
	assert.Equal(t, "c/empty", resps[1].Result.Key)
	assert.Empty(t, resps[1].Result.Jobs)
	assert.False(t, resps[1].Result.Failed())
}

func TestServe_DelegateFailuresBecomeResults(t *testing.T) {
	resps := serve(t,
		job.Request{ID: "err", Op: job.OpCreate, Cluster: "c", Role: testutil.RoleError, Environment: "e", Name: "n"},
		job.Request{ID: "panic", Op: job.OpRestart, Cluster: "c", Role: testutil.RolePanic, Environment: "e", Name: "n"},
		job.Request{ID: "ok", Op: job.OpDelete, Cluster: "c", Role: "r", Environment: "e", Name: "n"},
	)
	require.Len(t, resps, 3)

	assert.True(t, resps[0].Result.Failed())
	assert.Empty(t, resps[0].Result.Jobs)
	assert.Equal(t, "c/error/e/n", resps[0].Result.Key)

	assert.True(t, resps[1].Result.Failed())
	assert.Empty(t, resps[1].Result.Jobs)

	assert.False(t, resps[2].Result.Failed(), "worker must keep serving after failures")
}

func TestServe_UnserializableResult(t *testing.T) {
	resps := serve(t,
		job.Request{ID: "bad", Op: job.OpCreate, Cluster: "c", Role: testutil.RoleUnserializable, Environment: "e", Name: "n", JobSpec: []byte("s")},
		job.Request{ID: "next", Op: job.OpList, Cluster: "c", Role: "r"},
	)
	require.Len(t, resps, 2)

	assert.Equal(t, "bad", resps[0].ID)
	assert.Contains(t, resps[0].Err, "could not be serialized")
	assert.Equal(t, "c/unserializable/e/n", resps[0].Result.Key)
	assert.Empty(t, resps[0].Result.Jobs)

	assert.Empty(t, resps[1].Err)
	assert.Len(t, resps[1].Result.Jobs, 2)
}

func TestServe_CorruptInput(t *testing.T) {
	in := bytes.NewReader([]byte{0, 0, 0, 3, 1, 2, 3})
	var out bytes.Buffer

	err := Serve(context.Background(), in, &out, testutil.NewFakeDelegate())
	assert.Error(t, err)
}

func TestServe_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var in, out bytes.Buffer
	require.NoError(t, WriteFrame(&in, &RequestFrame{Request: job.Request{ID: "1", Op: job.OpList}}))

	err := Serve(ctx, &in, &out, testutil.NewFakeDelegate())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}
