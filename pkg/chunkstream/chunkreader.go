package chunkstream

import (
	"errors"
	"io"
)

// ChunkSize is the maximum body length of a single data chunk, per
// spec.md §3. The final data chunk may be shorter.
const ChunkSize = 65536

// source is the capability the chunk puller needs from whatever underlying
// stream it was constructed over: pull up to len(buf) bytes, reporting
// end-of-stream the same way io.Reader does. Both *BytePipe and a plain
// io.Reader satisfy this without adaptation; spec.md §9 calls this out
// explicitly ("channel as sum type vs. interface") and resolves it in favor
// of a capability interface plus two thin adapters.
type source interface {
	Read(p []byte) (int, error)
}

// chunkPuller pulls fixed-size spans from an underlying source, looping
// over short underlying reads so that a caller never sees a partial chunk
// except for the final, genuinely-short one (component C2). Grounded on the
// read-until-satisfied loop in pkg/server/chunked_reader.go's Read and
// other_examples' MaxIOFS AwsChunkedReader.readNextChunk, mirrored here for
// the encode direction: pulling raw bytes to frame, not parsing frames.
type chunkPuller struct {
	src  source
	done bool
}

func newChunkPuller(src source) *chunkPuller {
	return &chunkPuller{src: src}
}

// nextChunk returns up to ChunkSize bytes read from the underlying source.
// It returns (nil, false, nil) once the underlying source reports
// end-of-stream before producing any byte in this call. A non-nil error
// other than io.EOF is the underlying stream's own failure, propagated
// verbatim.
func (c *chunkPuller) nextChunk() ([]byte, bool, error) {
	if c.done {
		return nil, false, nil
	}

	buf := make([]byte, ChunkSize)
	total := 0
	for total < ChunkSize {
		n, err := c.src.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.done = true
				break
			}
			return nil, false, err
		}
		if n == 0 {
			// A conforming source never returns (0, nil); guard against one
			// that does so this loop cannot spin forever.
			return nil, false, io.ErrNoProgress
		}
	}

	if total == 0 {
		return nil, false, nil
	}
	return buf[:total], true, nil
}
