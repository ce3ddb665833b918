// Package chunkstream implements the aws-chunked content encoding used for
// SigV4 streaming uploads: a byte pipe feeding a chunk-sized reader, a
// pluggable per-chunk signer, and an encoder that stitches the three into a
// single readable stream.
//
// See https://docs.aws.amazon.com/AmazonS3/latest/API/sigv4-streaming.html
// for the wire format this package produces. Decoding the format (the
// receive side) is handled by pkg/auth and pkg/server instead; this package
// only encodes.
package chunkstream

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosedPipe is returned by BytePipe operations performed after the pipe
// has been closed or cancelled, when no more specific cause is available.
var ErrClosedPipe = errors.New("chunkstream: byte pipe closed")

// ErrReaderInFlight is returned when a second Read-family call starts while
// one is already suspended. BytePipe allows at most one reader and one
// writer in flight at a time.
var ErrReaderInFlight = fmt.Errorf("chunkstream: concurrent reader on byte pipe: %w", ErrInvalidArgument)

// ErrWriterInFlight is the write-side counterpart of ErrReaderInFlight.
var ErrWriterInFlight = fmt.Errorf("chunkstream: concurrent writer on byte pipe: %w", ErrInvalidArgument)

// pipeState is the BytePipe state machine: Open -> ClosedForWrite ->
// ClosedForRead, with Cancelled reachable from Open or ClosedForWrite.
type pipeState int

const (
	pipeOpen pipeState = iota
	pipeClosedForWrite
	pipeClosedForRead
	pipeCancelled
)

// BytePipe is a single-producer/single-consumer in-memory byte pipe with
// backpressure, close, and cancellation semantics (component C1 of the
// aws-chunked encoder). It is the generalization of the pattern used
// elsewhere in this repo (pkg/accesslog guards a shared buffer with a
// mutex) extended with a condition variable so a reader can park until the
// writer supplies data or closes.
//
// A BytePipe is safe for exactly one concurrent reader and one concurrent
// writer; using two readers concurrently is a caller bug reported via
// ErrReaderInFlight. Write holds the pipe's lock for its whole call, so
// concurrent writers are serialised and never see ErrWriterInFlight.
type BytePipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []byte
	state pipeState
	cause error // set when state == pipeCancelled, or a close-with-error

	readerActive bool
	writerActive bool
}

// NewBytePipe returns an empty, open BytePipe.
func NewBytePipe() *BytePipe {
	p := &BytePipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write appends n bytes from src to the pipe, suspending while no reader has
// drained enough capacity. BytePipe is unbounded, so Write never actually
// blocks on capacity today, but the method keeps the suspension contract
// spec.md §4.1 requires so a future bounded implementation is a drop-in
// replacement.
func (p *BytePipe) Write(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writerActive {
		return 0, ErrWriterInFlight
	}

	if p.state == pipeCancelled {
		return 0, p.cause
	}
	if p.state != pipeOpen {
		return 0, fmt.Errorf("chunkstream: write after close: %w", ErrClosedPipe)
	}

	p.writerActive = true
	defer func() { p.writerActive = false }()

	p.buf = append(p.buf, src...)
	p.cond.Broadcast()
	return len(src), nil
}

// Close marks the write end complete. A reader suspended in Read observes
// end-of-stream once the buffered bytes are drained.
func (p *BytePipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == pipeCancelled {
		return p.cause
	}
	if p.state == pipeOpen {
		p.state = pipeClosedForWrite
	}
	p.cond.Broadcast()
	return nil
}

// Cancel terminates the pipe in both directions with cause. Pending and
// subsequent reads and writes fail with cause; cause overrides any normal
// closure already in effect.
func (p *BytePipe) Cancel(cause error) {
	if cause == nil {
		cause = ErrClosedPipe
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = pipeCancelled
	p.cause = cause
	p.cond.Broadcast()
}

// Read copies up to len(dst) bytes into dst, returning the number of bytes
// read. It returns (0, io.EOF) once the buffer is empty and the write end
// has been closed without a cause. It suspends only while the buffer is
// empty and the write end is still open.
func (p *BytePipe) Read(dst []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readerActive {
		return 0, ErrReaderInFlight
	}
	p.readerActive = true
	defer func() { p.readerActive = false }()

	for len(p.buf) == 0 && p.state == pipeOpen {
		p.cond.Wait()
	}

	if p.state == pipeCancelled {
		return 0, p.cause
	}

	if len(p.buf) == 0 {
		// state is ClosedForWrite (or already ClosedForRead) and drained.
		p.state = pipeClosedForRead
		return 0, errEOF
	}

	n := copy(dst, p.buf)
	p.buf = p.buf[n:]
	if len(p.buf) == 0 && p.state == pipeClosedForWrite {
		p.state = pipeClosedForRead
	}
	return n, nil
}

// ReadFull reads exactly len(dst) bytes into dst, or fails with
// ErrUnexpectedEOF if the pipe closes before satisfying the request.
func (p *BytePipe) ReadFull(dst []byte) error {
	total := 0
	for total < len(dst) {
		n, err := p.Read(dst[total:])
		total += n
		if err != nil {
			if errors.Is(err, errEOF) {
				return fmt.Errorf("chunkstream: %w: wanted %d bytes, got %d", ErrUnexpectedEOF, len(dst), total)
			}
			return err
		}
	}
	return nil
}

// ReadAvailable performs a non-suspending best-effort copy into
// dst[off:off+length]. It returns 0 if nothing is immediately available and
// the pipe is still open for write, or (0, io.EOF) once the pipe is closed
// and drained.
func (p *BytePipe) ReadAvailable(dst []byte, off, length int) (int, error) {
	if off < 0 || length < 0 || off+length > len(dst) {
		return 0, fmt.Errorf("chunkstream: %w: invalid offset/length for destination of size %d", ErrInvalidArgument, len(dst))
	}
	if length == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readerActive {
		return 0, ErrReaderInFlight
	}

	if p.state == pipeCancelled {
		return 0, p.cause
	}

	if len(p.buf) == 0 {
		if p.state != pipeOpen {
			p.state = pipeClosedForRead
			return 0, errEOF
		}
		return 0, nil
	}

	n := copy(dst[off:off+length], p.buf)
	p.buf = p.buf[n:]
	if len(p.buf) == 0 && p.state == pipeClosedForWrite {
		p.state = pipeClosedForRead
	}
	return n, nil
}

// IsClosedForWrite reports whether Close or Cancel has been called.
func (p *BytePipe) IsClosedForWrite() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != pipeOpen
}

// IsClosedForRead reports whether the buffer is empty and the write end is
// closed (normally or via cancellation).
func (p *BytePipe) IsClosedForRead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf) == 0 && p.state != pipeOpen
}

// AvailableForRead returns the number of bytes presently buffered.
func (p *BytePipe) AvailableForRead() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
