package worker

import (
	"aurorarest/internal/job"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Serve answers requests read from in until in is closed or ctx is done.
// Each request is handled to completion before the next is read, so a worker
// process never has more than one call in flight.
//
// A result that cannot be serialized is replaced by a response carrying only
// an error. Serve returns nil when in reaches EOF between frames.
func Serve(ctx context.Context, in io.Reader, out io.Writer, d job.Delegate) error {
	logger := slog.With("component", "worker")
	r := bufio.NewReader(in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req RequestFrame
		if err := ReadFrame(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("Input closed, worker exiting")
				return nil
			}
			return err
		}

		res := job.Call(ctx, d, req.Request)
		resp := ResponseFrame{ID: req.Request.ID, Result: res}

		err := WriteFrame(out, &resp)
		var encErr *EncodeError
		if errors.As(err, &encErr) {
			logger.Warn("Result could not be serialized",
				"id", req.Request.ID,
				"op", req.Request.Op,
				"key", res.Key,
				"error", encErr.Err,
			)
			err = WriteFrame(out, &ResponseFrame{
				ID:     req.Request.ID,
				Result: job.Result{Key: res.Key},
				Err:    fmt.Sprintf("result of %s could not be serialized: %v", req.Request.Op, encErr.Err),
			})
		}
		if err != nil {
			return err
		}
	}
}
