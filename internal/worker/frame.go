// Package worker implements the process boundary used by the process-pool
// executor: a length-prefixed gob frame codec and the serve loop a worker
// process runs over its stdin and stdout.
package worker

import (
	"aurorarest/internal/job"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize in either direction.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// RequestFrame carries one operation to a worker.
type RequestFrame struct {
	Request job.Request
}

// ResponseFrame carries the outcome of one operation back.
// Err is set when the worker could not produce a transferable Result.
type ResponseFrame struct {
	ID     string
	Result job.Result
	Err    string
}

// EncodeError reports a value that could not be serialized.
// Nothing has been written to the stream when it is returned.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "encode frame: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// WriteFrame encodes v and writes it as a single length-prefixed frame.
// Each frame uses its own encoder so type information never spans frames.
func WriteFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	buf.Write(make([]byte, 4))
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return &EncodeError{Err: err}
	}

	size := buf.Len() - 4
	if size > MaxFrameSize {
		return &EncodeError{Err: ErrFrameTooLarge}
	}

	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], uint32(size))
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and decodes it into v.
// It returns io.EOF only when the stream ends cleanly between frames.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", io.ErrUnexpectedEOF)
	}

	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
