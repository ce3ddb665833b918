package chunkstream

import (
	"errors"
	"io"
)

// errEOF is the internal end-of-stream sentinel BytePipe returns once fully
// drained. It is always io.EOF; the alias exists so BytePipe's call sites
// read as intent ("end of stream") rather than a bare stdlib constant.
var errEOF = io.EOF

// ErrInvalidArgument is returned for offset/length violations on ReadFull
// and ReadAvailable, and for the concurrent-reader/writer precondition
// violations on BytePipe. It never changes Encoder or BytePipe state — the
// call fails before any side effect, per spec.md §7.
var ErrInvalidArgument = errors.New("chunkstream: invalid argument")

// ErrUnexpectedEOF is returned by ReadFull (on both BytePipe and Encoder)
// when the stream closes before the requested number of bytes is available.
var ErrUnexpectedEOF = errors.New("chunkstream: unexpected end of stream")

// SignerError wraps a failure returned by a ChunkSigner. The encoder
// surfaces it verbatim and transitions to Failed; see spec.md §4.3, §7.
type SignerError struct {
	Cause error
}

func (e *SignerError) Error() string { return "chunkstream: signer: " + e.Cause.Error() }
func (e *SignerError) Unwrap() error { return e.Cause }

// UnderlyingStreamError wraps a failure from the wrapped stream or byte
// pipe. The encoder surfaces it verbatim and transitions to Failed.
type UnderlyingStreamError struct {
	Cause error
}

func (e *UnderlyingStreamError) Error() string {
	return "chunkstream: underlying stream: " + e.Cause.Error()
}
func (e *UnderlyingStreamError) Unwrap() error { return e.Cause }

// CancelledError wraps the cause of a task cancellation observed mid-read.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return "chunkstream: cancelled: " + e.Cause.Error() }
func (e *CancelledError) Unwrap() error { return e.Cause }
