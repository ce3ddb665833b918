package chunkstream

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

const chunkSignaturePrefix = "chunk-signature="
const trailerSignatureHeader = "x-amz-trailer-signature:"

// encoderState mirrors spec.md §4.4's state machine: Streaming ->
// TerminalPending -> TrailersPending -> Draining -> Closed, with Failed
// reachable from any non-terminal state.
type encoderState int

const (
	stateStreaming encoderState = iota
	stateTerminalPending
	stateTrailersPending
	stateDraining
	stateClosed
	stateFailed
)

// Encoder orchestrates a chunkPuller (C2) and a ChunkSigner (C3) to emit
// the aws-chunked framing described in spec.md §3 as a readable byte stream
// (component C4). It takes exclusive ownership of the underlying stream it
// was constructed over; nothing else may read from that stream while an
// Encoder wraps it.
//
// An Encoder is one-shot: once it fails or closes, a retry must construct a
// fresh Encoder over a fresh underlying stream with the same seed
// signature, per spec.md §4.4's failure semantics. It is not safe for
// concurrent use — exactly one goroutine may drive its Read-family methods
// at a time, matching BytePipe's single-reader contract.
type Encoder struct {
	puller *chunkPuller
	signer ChunkSigner
	cfg    SigningConfig

	trailers []TrailerHeader

	prevSignature string
	staged        []byte
	state         encoderState
	err           error
}

func newEncoder(puller *chunkPuller, seedSignature string, signer ChunkSigner, cfg SigningConfig, trailers []TrailerHeader) *Encoder {
	return &Encoder{
		puller:        puller,
		signer:        signer,
		cfg:           cfg,
		trailers:      trailers,
		prevSignature: seedSignature,
		state:         stateStreaming,
	}
}

// NewEncoder constructs an Encoder over a pull-style source (anything
// implementing io.Reader: a file, a bytes.Reader, an HTTP request body),
// chaining from seedSignature, signing with signer under cfg, and
// optionally appending a trailing-headers frame. An empty trailers slice
// means "no trailer frame emitted", per spec.md §6.
func NewEncoder(src io.Reader, seedSignature string, signer ChunkSigner, cfg SigningConfig, trailers []TrailerHeader) *Encoder {
	return newEncoder(newReaderPuller(src), seedSignature, signer, cfg, trailers)
}

// NewEncoderFromBytePipe constructs an Encoder over a *BytePipe (component
// C1) directly, for callers driving the producer side themselves — e.g. a
// goroutine streaming bytes in from a network socket while another
// goroutine drives the Encoder's Read methods.
func NewEncoderFromBytePipe(src *BytePipe, seedSignature string, signer ChunkSigner, cfg SigningConfig, trailers []TrailerHeader) *Encoder {
	return newEncoder(newBytePipePuller(src), seedSignature, signer, cfg, trailers)
}

// IsClosedForRead reports whether every framed byte has been delivered.
func (e *Encoder) IsClosedForRead() bool {
	return e.state == stateClosed
}

// Read implements io.Reader, and is spec.md §4.4's read_remaining: it keeps
// pulling and framing chunks until p is full or the stream is exhausted, so
// a single call with a large enough p drains the whole encoded stream, not
// just the next staged frame. It suspends to pull and sign chunks on
// demand. Per spec.md's edge cases, a call with len(p) == 0 returns (0,
// nil) without pulling or suspending.
func (e *Encoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if e.state == stateFailed {
		return 0, e.err
	}
	if e.state == stateClosed {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		if len(e.staged) == 0 {
			if e.state == stateDraining {
				e.state = stateClosed
				break
			}
			if err := e.pullOne(); err != nil {
				return total, err
			}
			continue
		}
		n := copy(p[total:], e.staged)
		e.staged = e.staged[n:]
		total += n
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// ReadFull fills dst[off:off+length] with exactly length bytes, or fails
// with ErrUnexpectedEOF. off and length must satisfy 0 <= off, 0 <= length,
// and off+length <= len(dst); violations fail with ErrInvalidArgument
// before any read occurs. ReadFull(dst, 0, 0) succeeds even on a fully
// closed Encoder.
func (e *Encoder) ReadFull(dst []byte, off, length int) error {
	if off < 0 || length < 0 || off+length > len(dst) {
		return fmt.Errorf("chunkstream: %w: invalid offset/length for destination of size %d", ErrInvalidArgument, len(dst))
	}
	if length == 0 {
		return nil
	}
	if e.state == stateFailed {
		return e.err
	}

	total := 0
	for total < length {
		n, err := e.Read(dst[off+total : off+length])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("chunkstream: %w: wanted %d bytes, got %d", ErrUnexpectedEOF, length, total)
			}
			return err
		}
	}
	return nil
}

// ReadAvailable produces whatever is presently staged without pulling a new
// chunk if the staging buffer is non-empty; if it is empty, it pulls at
// most one chunk (possibly suspending) and then copies. It returns (0, nil)
// if length == 0, and (0, io.EOF) once the Encoder is closed for read.
func (e *Encoder) ReadAvailable(dst []byte, off, length int) (int, error) {
	if off < 0 || length < 0 || off+length > len(dst) {
		return 0, fmt.Errorf("chunkstream: %w: invalid offset/length for destination of size %d", ErrInvalidArgument, len(dst))
	}
	if length == 0 {
		return 0, nil
	}
	if e.state == stateFailed {
		return 0, e.err
	}
	if e.state == stateClosed {
		return 0, io.EOF
	}

	if len(e.staged) == 0 {
		if e.state == stateDraining {
			// Read already delivered every framed byte, the terminal
			// chunk included; nothing further is pulled.
			e.state = stateClosed
			return 0, io.EOF
		}
		if err := e.pullOne(); err != nil {
			return 0, err
		}
	}

	if len(e.staged) == 0 {
		// pullOne always stages a non-empty frame; this only guards the
		// copy below.
		return 0, io.EOF
	}

	n := copy(dst[off:off+length], e.staged)
	e.staged = e.staged[n:]
	if len(e.staged) == 0 && e.state == stateDraining {
		e.state = stateClosed
	}
	return n, nil
}

// pullOne performs one step of the staging algorithm: either frame the next
// data chunk, or (once the underlying stream is exhausted) frame the
// terminal chunk and, if configured, the trailer block.
func (e *Encoder) pullOne() error {
	body, ok, err := e.puller.nextChunk()
	if err != nil {
		return e.fail(&UnderlyingStreamError{Cause: err})
	}

	if ok {
		sig, err := e.signer.SignChunk(body, e.prevSignature, e.cfg)
		if err != nil {
			return e.fail(&SignerError{Cause: err})
		}
		e.prevSignature = sig
		e.staged = append(e.staged, frameChunk(body, sig)...)
		return nil
	}

	// Underlying stream exhausted: emit the terminal chunk.
	sigTerm, err := e.signer.SignChunk(nil, e.prevSignature, e.cfg)
	if err != nil {
		return e.fail(&SignerError{Cause: err})
	}
	e.prevSignature = sigTerm
	e.staged = append(e.staged, frameChunk(nil, sigTerm)...)
	e.state = stateTerminalPending

	if len(e.trailers) == 0 {
		e.state = stateDraining
		return nil
	}

	e.state = stateTrailersPending
	trailerBytes := serializeTrailers(e.trailers)
	sigTrailer, err := e.signer.SignTrailer(trailerBytes, sigTerm, e.cfg)
	if err != nil {
		return e.fail(&SignerError{Cause: err})
	}
	e.prevSignature = sigTrailer
	e.staged = append(e.staged, trailerBytes...)
	e.staged = append(e.staged, trailerSignatureHeader...)
	e.staged = append(e.staged, sigTrailer...)
	e.staged = append(e.staged, "\r\n\r\n"...)
	e.state = stateDraining
	return nil
}

func (e *Encoder) fail(err error) error {
	e.state = stateFailed
	e.err = err
	return err
}

// frameChunk renders "<hex-size>;chunk-signature=<sig>\r\n<body>\r\n", per
// spec.md §3's chunk-frame grammar: lowercase hex, no leading zeros except
// for the literal zero value.
func frameChunk(body []byte, signature string) []byte {
	hexSize := strconv.FormatInt(int64(len(body)), 16)

	out := make([]byte, 0, len(hexSize)+1+len(chunkSignaturePrefix)+len(signature)+2+len(body)+2)
	out = append(out, hexSize...)
	out = append(out, ';')
	out = append(out, chunkSignaturePrefix...)
	out = append(out, signature...)
	out = append(out, "\r\n"...)
	out = append(out, body...)
	out = append(out, "\r\n"...)
	return out
}
